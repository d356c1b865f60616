// Package integration provides end-to-end integration tests for the ideate
// service. These tests wire the real components together, start real session
// servers, and talk to them over WebSocket the way the browser page does.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ideate/ideate/internal/archive"
	"github.com/ideate/ideate/internal/brainstorm"
	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/db"
	"github.com/ideate/ideate/internal/db/dialect"
	"github.com/ideate/ideate/internal/events/bus"
	"github.com/ideate/ideate/internal/probe"
	"github.com/ideate/ideate/internal/session"
	"github.com/ideate/ideate/internal/state"
)

// TestStack holds the wired service: durable branch state, the live session
// store, the rules probe, a sqlite archive, and the brainstorm orchestrator.
type TestStack struct {
	State       *state.Store
	Sessions    *session.Store
	Archive     *archive.Store
	Brainstorms *brainstorm.Service
	EventBus    bus.EventBus
	Logger      *logger.Logger
}

// NewTestStack assembles the components the way cmd/ideate does, with browser
// launching disabled and all storage under the test's temp dir.
func NewTestStack(t *testing.T) *TestStack {
	t.Helper()

	// Initialize logger (quiet for tests)
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "console",
	})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)

	tmpDir := t.TempDir()
	stateStore, err := state.NewStore(filepath.Join(tmpDir, "state"), log)
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "archive.db")
	writer, err := db.OpenSQLite(dbPath)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(dbPath)
	require.NoError(t, err)
	pool := db.NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3))
	archiveStore, err := archive.NewStore(pool, log)
	require.NoError(t, err)

	sessions := session.NewStore(session.Config{
		SkipBrowser: true,
		UI:          []byte("<html><body>ideate</body></html>"),
	}, nil, eventBus, log)

	svc := brainstorm.NewService(stateStore, sessions, probe.NewEngine(), archiveStore,
		eventBus, filepath.Join(tmpDir, "templates"), log)

	return &TestStack{
		State:       stateStore,
		Sessions:    sessions,
		Archive:     archiveStore,
		Brainstorms: svc,
		EventBus:    eventBus,
		Logger:      log,
	}
}

// Close shuts down the stack
func (ts *TestStack) Close() {
	ts.Sessions.Shutdown(context.Background())
	if err := ts.Archive.Close(); err != nil {
		ts.Logger.WithError(err).Warn("failed to close archive")
	}
	ts.EventBus.Close()
}
