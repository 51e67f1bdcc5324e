// Package database opens the SQLite database shared by the run, usage
// and embedding stores. Both the cgo driver (mattn, "sqlite3") and the
// pure-Go driver (modernc, "sqlite") are registered.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Drivers that Open accepts.
const (
	DriverCGO  = "sqlite3"
	DriverPure = "sqlite"
)

// Open opens path with WAL journaling and a busy timeout. ":memory:"
// opens a private in-memory database limited to one connection.
func Open(driver, path string) (*sql.DB, error) {
	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return db, nil
}

func buildDSN(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		if path == ":memory:" {
			return path, nil
		}
		return path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverPure:
		if path == ":memory:" {
			return path, nil
		}
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (valid: %s, %s)", driver, DriverCGO, DriverPure)
	}
}
