// Package main is the single entry point for ideate. One process hosts the
// per-session browser servers, the brainstorm orchestrator, and the MCP tool
// surface that agents call.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/brainstorm"
	"github.com/ideate/ideate/internal/browser"
	"github.com/ideate/ideate/internal/common/config"
	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/events"
	"github.com/ideate/ideate/internal/events/bus"
	"github.com/ideate/ideate/internal/mcpserver"
	"github.com/ideate/ideate/internal/probe"
	"github.com/ideate/ideate/internal/session"
	"github.com/ideate/ideate/internal/state"
	"github.com/ideate/ideate/internal/tracing"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting ideate...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	eventBus, stopBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer stopBus()
	subscribeLifecycleDigest(eventBus, log)

	// 5. Durable branch state store
	stateDir, err := cfg.State.ExpandedDir()
	if err != nil {
		log.Fatal("Failed to resolve state directory", zap.Error(err))
	}
	stateStore, err := state.NewStore(stateDir, log)
	if err != nil {
		log.Fatal("Failed to initialize state store", zap.Error(err))
	}
	log.Info("State store initialized", zap.String("dir", stateDir))

	// 6. Brainstorm archive (optional; a failed open only disables history)
	archiveStore := openArchive(cfg, log)
	if archiveStore != nil {
		defer func() { _ = archiveStore.Close() }()
		log.Info("Brainstorm archive initialized", zap.String("driver", cfg.Database.Driver))
	}

	// 7. Session store with the embedded browser UI
	var opener session.Opener
	if !cfg.Browser.Skip {
		opener = browser.NewLauncher(cfg.Browser.Command, log)
	}
	sessions := session.NewStore(session.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		SkipBrowser:   cfg.Browser.Skip,
		HeaderTimeout: cfg.Server.HeaderTimeoutDuration(),
		UI:            uiBundle,
	}, opener, eventBus, log)

	// 8. Brainstorm orchestrator
	templatesDir, err := cfg.State.ExpandedTemplatesDir()
	if err != nil {
		log.Fatal("Failed to resolve templates directory", zap.Error(err))
	}
	var archiver brainstorm.Archiver
	if archiveStore != nil {
		archiver = archiveStore
	}
	brainstorms := brainstorm.NewService(stateStore, sessions, probe.NewEngine(), archiver, eventBus, templatesDir, log)

	// 9. MCP tool surface
	var mcpCleanup func() error
	if cfg.MCP.Enabled {
		srv, cleanup, err := mcpserver.Provide(ctx, mcpserver.Config{Port: cfg.MCP.Port}, mcpserver.Services{
			Brainstorms: brainstorms,
			Sessions:    sessions,
			Archive:     archiveStore,
		}, log)
		if err != nil {
			log.Fatal("Failed to start MCP server", zap.Error(err))
		}
		mcpCleanup = cleanup
		log.Info("MCP tool surface ready",
			zap.String("sse", srv.SSEEndpoint()),
			zap.String("streamable_http", srv.StreamableHTTPEndpoint()))
	} else {
		log.Info("MCP server disabled by configuration")
	}

	log.Info("ideate is ready")

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down ideate...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if mcpCleanup != nil {
		if err := mcpCleanup(); err != nil {
			log.Error("MCP server shutdown error", zap.Error(err))
		}
	}

	sessions.Shutdown(shutdownCtx)

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("ideate stopped")
}

// subscribeLifecycleDigest logs one line per session and brainstorm
// lifecycle event, whichever bus backend is active.
func subscribeLifecycleDigest(eventBus bus.EventBus, log *logger.Logger) {
	for _, eventType := range []string{
		events.SessionStarted,
		events.SessionEnded,
		events.BrainstormCreated,
		events.BranchCompleted,
		events.BrainstormCompleted,
	} {
		subject := events.BuildSessionWildcardSubject(eventType)
		if _, err := eventBus.Subscribe(subject, func(_ context.Context, e *bus.Event) error {
			log.Info("Lifecycle event", zap.String("type", e.Type), digestField(e))
			return nil
		}); err != nil {
			log.Warn("Failed to subscribe to lifecycle events",
				zap.String("subject", subject), zap.Error(err))
		}
	}
}

func digestField(e *bus.Event) zap.Field {
	if id := e.StringData("session_id"); id != "" {
		return zap.String("session_id", id)
	}
	return zap.Skip()
}
