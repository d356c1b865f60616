// Package mcpserver exposes the brainstorm orchestrator and the session
// store as MCP tools over SSE and Streamable HTTP transports.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/logger"
)

// Config holds the MCP server configuration.
type Config struct {
	Port int // 0 picks an ephemeral port
}

// Server serves the tool surface over two transports on one port:
// - SSE (/sse) for Claude Desktop, Cursor, etc.
// - Streamable HTTP (/mcp) for Codex
type Server struct {
	cfg      Config
	services Services
	logger   *logger.Logger

	mu         sync.Mutex
	running    bool
	port       int
	httpSrv    *http.Server
	sse        *server.SSEServer
	streamable *server.StreamableHTTPServer
}

// New creates an MCP server over the given in-process services.
func New(cfg Config, services Services, log *logger.Logger) *Server {
	return &Server{
		cfg:      cfg,
		services: services,
		port:     cfg.Port,
		logger:   log.WithFields(zap.String("component", "mcp-server")),
	}
}

// buildMux wires one shared MCP core into both transport handlers.
func (s *Server) buildMux() *http.ServeMux {
	core := server.NewMCPServer(
		"ideate-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(core, s.services, s.logger)

	s.sse = server.NewSSEServer(core)
	s.streamable = server.NewStreamableHTTPServer(core,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sse.SSEHandler())
	mux.Handle("/message", s.sse.MessageHandler())
	mux.Handle("/mcp", s.streamable)
	return mux
}

// Start binds the port and begins serving both transports. Once it returns
// nil the listener is accepting connections and Port reports the bound port.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind MCP port %d: %w", s.cfg.Port, err)
	}
	s.port = ln.Addr().(*net.TCPAddr).Port

	s.httpSrv = &http.Server{Handler: s.buildMux()}
	s.running = true

	go func() {
		s.logger.Info("MCP server listening",
			zap.Int("port", s.port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return nil
}

// Stop drains the HTTP server, then tells both transports to drop their
// active MCP sessions.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpSrv, sse, streamable, running := s.httpSrv, s.sse, s.streamable, s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown MCP server: %w", err)
	}
	if err := sse.Shutdown(ctx); err != nil {
		s.logger.Warn("SSE transport shutdown", zap.Error(err))
	}
	if err := streamable.Shutdown(ctx); err != nil {
		s.logger.Warn("streamable HTTP transport shutdown", zap.Error(err))
	}
	return nil
}

// Port returns the bound listen port, useful when configured with port 0.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SSEEndpoint returns the URL for clients on the SSE transport
// (e.g., Claude Desktop, Cursor).
func (s *Server) SSEEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/sse", s.Port())
}

// StreamableHTTPEndpoint returns the URL for clients on the streamable HTTP
// transport (e.g., Codex).
func (s *Server) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/mcp", s.Port())
}
