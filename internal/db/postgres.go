package db

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Connection ceilings for the postgres archive. pgx pools internally, so
// these only bound how far it can grow.
const (
	pgDefaultMaxConns  = 25
	pgDefaultIdleConns = 5
)

// OpenPostgres connects through the pgx stdlib driver and verifies the
// connection with a ping. Zero limits fall back to the package defaults.
func OpenPostgres(dsn string, maxConns, minConns int) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if maxConns <= 0 {
		maxConns = pgDefaultMaxConns
	}
	if minConns <= 0 {
		minConns = pgDefaultIdleConns
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}
