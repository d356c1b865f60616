package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/archive"
	"github.com/ideate/ideate/internal/common/config"
	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/db"
	"github.com/ideate/ideate/internal/db/dialect"
)

// openArchive opens the brainstorm archive for the configured database.
// A nil return means archiving is disabled; everything else runs without it.
func openArchive(cfg *config.Config, log *logger.Logger) *archive.Store {
	pool, err := openPool(cfg)
	if err != nil {
		log.Warn("Brainstorm archive disabled", zap.Error(err))
		return nil
	}

	store, err := archive.NewStore(pool, log)
	if err != nil {
		log.Warn("Brainstorm archive disabled", zap.Error(err))
		_ = pool.Close()
		return nil
	}
	return store
}

func openPool(cfg *config.Config) (*db.Pool, error) {
	if cfg.Database.Driver == "postgres" {
		raw, err := db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres archive: %w", err)
		}
		conn := sqlx.NewDb(raw, dialect.PGX)
		return db.NewPool(conn, conn), nil
	}

	path, err := cfg.Database.ExpandedPath()
	if err != nil {
		return nil, fmt.Errorf("resolve archive path: %w", err)
	}
	writer, err := db.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite archive: %w", err)
	}
	reader, err := db.OpenSQLiteReader(path)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open sqlite archive reader: %w", err)
	}
	return db.NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3)), nil
}
