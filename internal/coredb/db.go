// SPDX-License-Identifier: AGPL-3.0-or-later

// Package coredb holds the local SQLite tick journal: an audit trail of sync
// ticks and the rows they wrote. Dedup never consults it.
package coredb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flowd-org/runsync/internal/paths"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"

	defaultBusyTimeout       = 5 * time.Second
	defaultWalAutoCheckpoint = 1000
	defaultJournalMode       = "WAL"
	defaultSynchronous       = "NORMAL"

	defaultGlobalMaxBytes = 64 << 20 // 64 MiB
	defaultRetainTicks    = 1000
)

// Options controls how the journal DB is opened.
type Options struct {
	// DataDir is the directory holding runsync.db. Empty uses paths.DataDir.
	DataDir string
	// MaxBytes places an upper bound on total DB size. Zero uses defaults.
	MaxBytes int64
	// RetainTicks bounds how many ticks are kept. Zero uses defaults.
	RetainTicks int
}

// DB wraps the SQLite connection.
type DB struct {
	sql  *sql.DB
	opts Options
	path string
}

// Open initialises the journal DB with required pragmas and schema.
func Open(ctx context.Context, opts Options) (*DB, error) {
	dir := opts.DataDir
	if dir == "" {
		dir = paths.DataDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	dbPath := paths.JournalPath(dir)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", filepath.ToSlash(dbPath), int(defaultBusyTimeout/time.Millisecond))

	conn, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	resolvedOpts := opts
	resolvedOpts.DataDir = dir
	if resolvedOpts.MaxBytes <= 0 {
		resolvedOpts.MaxBytes = defaultGlobalMaxBytes
	}
	if resolvedOpts.RetainTicks <= 0 {
		resolvedOpts.RetainTicks = defaultRetainTicks
	}

	if err := configureConnection(ctx, conn, resolvedOpts); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := applyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{sql: conn, opts: resolvedOpts, path: dbPath}, nil
}

// Close shuts down the underlying SQLite connection.
func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	return db.sql.Close()
}

// Path returns the database file location.
func (db *DB) Path() string {
	if db == nil {
		return ""
	}
	return db.path
}

// Options returns the resolved options used when opening the DB.
func (db *DB) Options() Options {
	if db == nil {
		return Options{}
	}
	return db.opts
}

func configureConnection(ctx context.Context, conn *sql.DB, opts Options) error {
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	statements := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s;", defaultJournalMode),
		fmt.Sprintf("PRAGMA synchronous=%s;", defaultSynchronous),
		"PRAGMA foreign_keys=ON;",
		fmt.Sprintf("PRAGMA wal_autocheckpoint=%d;", defaultWalAutoCheckpoint),
	}

	var pageSize int64 = 4096
	if err := conn.QueryRowContext(ctx, "PRAGMA page_size;").Scan(&pageSize); err != nil {
		// default to 4 KiB if pragma unsupported
		pageSize = 4096
	}
	maxPages := opts.MaxBytes / pageSize
	if maxPages <= 0 {
		maxPages = defaultGlobalMaxBytes / 4096
	}
	statements = append(statements, fmt.Sprintf("PRAGMA max_page_count=%d;", maxPages))

	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute pragma %q: %w", stmt, err)
		}
	}
	return nil
}
