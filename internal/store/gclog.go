package store

import (
	"fmt"
	"time"

	"github.com/opslayer/membank/internal/model"
)

// AppendGCRun writes one garbage-collection log row. Append-only.
func (db *DB) AppendGCRun(e *model.GCLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO gc_runs (run_id, policy, scanned, archived, deleted,
			archive_threshold, delete_threshold, dry_run, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Policy, e.Scanned, e.Archived, e.Deleted,
		e.ArchiveThreshold, e.DeleteThreshold, boolInt(e.DryRun),
		e.Duration.Milliseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append gc run: %w", err)
	}
	return nil
}

// RecentGCRuns returns the most recent GC log rows, newest first.
func (db *DB) RecentGCRuns(limit int) ([]model.GCLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT run_id, policy, scanned, archived, deleted,
			archive_threshold, delete_threshold, dry_run, duration_ms, created_at
		FROM gc_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent gc runs: %w", err)
	}
	defer rows.Close()

	var entries []model.GCLogEntry
	for rows.Next() {
		var (
			e          model.GCLogEntry
			dryRun     int
			durationMs int64
			createdAt  int64
		)
		if err := rows.Scan(&e.RunID, &e.Policy, &e.Scanned, &e.Archived, &e.Deleted,
			&e.ArchiveThreshold, &e.DeleteThreshold, &dryRun, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan gc run: %w", err)
		}
		e.DryRun = dryRun != 0
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
