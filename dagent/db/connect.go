package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLConfig holds configuration for libsql connections.
type LibSQLConfig struct {
	DSN          string // "file:/path/to.db" for embedded, libsql:// or https:// for remote
	AuthToken    string // remote only
	MaxOpenConns int
}

// ConnectToDB opens an embedded database file at path.
func ConnectToDB(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	return ConnectToDBWithConfig(ctx, &LibSQLConfig{DSN: "file:" + path, MaxOpenConns: 1}, logger)
}

// ConnectToDBWithConfig opens the configured database, applies pragmas and verifies connectivity.
func ConnectToDBWithConfig(ctx context.Context, config *LibSQLConfig, logger zerolog.Logger) (*sql.DB, error) {
	dsn := config.DSN
	embedded := strings.HasPrefix(dsn, "file:")

	if embedded {
		// Ensure database directory exists for embedded mode
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	} else if config.AuthToken != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid database dsn: %w", err)
		}
		q := u.Query()
		q.Set("authToken", config.AuthToken)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	logger.Info().Bool("embedded", embedded).Msg("Connecting to libsql")

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if embedded {
		if err := configurePragmas(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}

// configurePragmas applies embedded-mode PRAGMAs. Several of them return rows,
// so they are issued through QueryContext and drained.
func configurePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		name  string
		value string
	}{
		{"journal_mode", "WAL"},
		{"synchronous", "NORMAL"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "ON"},
	}

	for _, p := range pragmas {
		rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value))
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", p.name, err)
		}
		for rows.Next() {
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to set %s: %w", p.name, err)
		}
	}
	return nil
}
