// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StorageStats captures high-level information about the journal DB.
type StorageStats struct {
	Driver        string `json:"driver"`
	OK            bool   `json:"ok"`
	BytesUsed     int64  `json:"bytes_used"`
	MaxBytes      int64  `json:"max_bytes"`
	Ticks         int64  `json:"ticks"`
	Rows          int64  `json:"rows"`
	SchemaVersion int64  `json:"schema_version"`
}

// CollectStorageStats inspects the backing SQLite database.
func CollectStorageStats(ctx context.Context, db *DB) (StorageStats, error) {
	if db == nil || db.sql == nil {
		return StorageStats{}, errors.New("coredb: database not initialised")
	}
	conn := db.sql
	stats := StorageStats{Driver: sqliteDriverName}

	pageSize, err := querySingleInt(ctx, conn, "PRAGMA page_size;")
	if err != nil {
		return stats, fmt.Errorf("coredb: lookup page_size: %w", err)
	}
	pageCount, err := querySingleInt(ctx, conn, "PRAGMA page_count;")
	if err != nil {
		return stats, fmt.Errorf("coredb: lookup page_count: %w", err)
	}
	maxPageCount, err := querySingleInt(ctx, conn, "PRAGMA max_page_count;")
	if err != nil {
		return stats, fmt.Errorf("coredb: lookup max_page_count: %w", err)
	}
	if stats.SchemaVersion, err = querySingleInt(ctx, conn, "PRAGMA user_version;"); err != nil {
		return stats, fmt.Errorf("coredb: lookup user_version: %w", err)
	}
	if stats.Ticks, err = querySingleInt(ctx, conn, "SELECT COUNT(*) FROM sync_ticks;"); err != nil {
		return stats, fmt.Errorf("coredb: count ticks: %w", err)
	}
	if stats.Rows, err = querySingleInt(ctx, conn, "SELECT COUNT(*) FROM sync_rows;"); err != nil {
		return stats, fmt.Errorf("coredb: count rows: %w", err)
	}

	stats.BytesUsed = pageCount * pageSize
	stats.MaxBytes = maxPageCount * pageSize
	if stats.MaxBytes <= 0 {
		stats.MaxBytes = db.opts.MaxBytes
	}
	stats.OK = stats.MaxBytes == 0 || stats.BytesUsed < stats.MaxBytes
	return stats, nil
}

func querySingleInt(ctx context.Context, conn *sql.DB, stmt string) (int64, error) {
	var out sql.NullInt64
	if err := conn.QueryRowContext(ctx, stmt).Scan(&out); err != nil {
		return 0, err
	}
	return out.Int64, nil
}
