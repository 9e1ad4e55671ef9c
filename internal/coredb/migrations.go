// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

var baseMigrations = [...]string{
	`CREATE TABLE IF NOT EXISTS sync_ticks (
		tick_id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		database_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		status TEXT NOT NULL,
		fetched INTEGER NOT NULL DEFAULT 0,
		existing INTEGER NOT NULL DEFAULT 0,
		mapped INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		written INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sync_ticks_started ON sync_ticks(started_at);`,
	`CREATE TABLE IF NOT EXISTS sync_rows (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		tick_id TEXT NOT NULL REFERENCES sync_ticks(tick_id) ON DELETE CASCADE,
		run_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		ts INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sync_rows_tick ON sync_rows(tick_id);`,
	fmt.Sprintf(`PRAGMA user_version=%d;`, schemaVersion),
}

func applyMigrations(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range baseMigrations {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
