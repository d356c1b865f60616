package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// sqliteBusyTimeout bounds how long a connection waits on a lock before
	// giving up with SQLITE_BUSY. Contention is rare here, but a history read
	// can overlap the end-of-brainstorm write.
	sqliteBusyTimeout = 5 * time.Second

	// sqliteReaderConns caps the read pool. The archive serves history and
	// search for one local user, so a handful of readers is plenty.
	sqliteReaderConns = 4
)

// OpenSQLite opens the archive database for writing. The pool is pinned to a
// single connection so writes serialize instead of tripping over the WAL
// one-writer rule.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	path, err := prepareSQLiteFile(dbPath)
	if err != nil {
		return nil, fmt.Errorf("prepare database file: %w", err)
	}

	conn, err := sql.Open("sqlite3", sqliteDSN(path, "rwc")+"&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// OpenSQLiteReader opens a read-only pool over the same file. WAL snapshots
// let these connections run while the writer commits.
func OpenSQLiteReader(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", sqliteDSN(absolutePath(dbPath), "ro"))
	if err != nil {
		return nil, fmt.Errorf("open read-only database: %w", err)
	}
	conn.SetMaxOpenConns(sqliteReaderConns)
	conn.SetMaxIdleConns(sqliteReaderConns)
	return conn, nil
}

// sqliteDSN assembles the connection string shared by both pools. Journal
// mode and synchronous level are database-wide, so only the writer sets them.
func sqliteDSN(path, mode string) string {
	return fmt.Sprintf("file:%s?_mode=%s&_foreign_keys=on&_busy_timeout=%d&_cache=shared",
		path, mode, int(sqliteBusyTimeout/time.Millisecond))
}

// prepareSQLiteFile resolves the path and makes sure the directory and file
// exist, so a first run against a fresh ~/.ideate needs no setup.
func prepareSQLiteFile(dbPath string) (string, error) {
	path := absolutePath(dbPath)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", err
	}
	return path, file.Close()
}

func absolutePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	if abs, err := filepath.Abs(dbPath); err == nil {
		return abs
	}
	return dbPath
}
