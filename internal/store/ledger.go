package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opslayer/membank/internal/model"
)

// AppendEvent writes one trust ledger row. The ledger is append-only:
// nothing in this package updates or deletes trust_events.
func (db *DB) AppendEvent(ev *model.TrustEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	var deltas any
	if len(ev.Deltas) > 0 {
		b, err := json.Marshal(ev.Deltas)
		if err != nil {
			return fmt.Errorf("encode deltas: %w", err)
		}
		deltas = string(b)
	}

	result, err := db.Exec(`
		INSERT INTO trust_events (ref, kind, reason, trust_before, trust_after, deltas, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Ref, ev.Kind, ev.Reason, ev.TrustBefore, ev.TrustAfter, deltas, ev.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append trust event: %w", err)
	}

	id, _ := result.LastInsertId()
	ev.ID = id
	return nil
}

// EventsForRef returns the full trust history of a reference, oldest first.
func (db *DB) EventsForRef(ref string) ([]model.TrustEvent, error) {
	rows, err := db.Query(`
		SELECT id, ref, kind, reason, trust_before, trust_after, deltas, created_at
		FROM trust_events WHERE ref = ?
		ORDER BY id ASC
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("events for ref: %w", err)
	}
	defer rows.Close()

	var events []model.TrustEvent
	for rows.Next() {
		var (
			ev        model.TrustEvent
			reason    sql.NullString
			deltas    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.Ref, &ev.Kind, &reason, &ev.TrustBefore, &ev.TrustAfter, &deltas, &createdAt); err != nil {
			return nil, fmt.Errorf("scan trust event: %w", err)
		}
		ev.Reason = reason.String
		ev.CreatedAt = time.UnixMilli(createdAt)
		if deltas.Valid && deltas.String != "" {
			if err := json.Unmarshal([]byte(deltas.String), &ev.Deltas); err != nil {
				return nil, fmt.Errorf("decode deltas: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// HasEvents reports whether any ledger rows exist for a reference. Used as
// the existence witness for physically removed artifacts.
func (db *DB) HasEvents(ref string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM trust_events WHERE ref = ?`, ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}
	return n > 0, nil
}
