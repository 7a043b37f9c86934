package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opslayer/membank/internal/model"
)

const artifactCols = `ref, loop_id, component, category, payload, tags, domain, importance,
	provenance, consensus, governance, usage, trust, curve, half_life_ms,
	access_count, success_count, failure_count, last_access,
	compliant, violations, needs_review,
	created_at, updated_at, rescored_at, expires_at, archived, deleted`

// CreateArtifact inserts a new artifact and its tag index rows in one
// transaction. Mints a reference and stamps timestamps when unset, so
// pre-stamped artifacts (and backdated test fixtures) pass through as-is.
func (db *DB) CreateArtifact(a *model.Artifact) error {
	if a.Ref == "" {
		a.Ref = db.NewRef()
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.RescoredAt.IsZero() {
		a.RescoredAt = a.CreatedAt
	}

	tags, err := encodeStrings(a.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	violations, err := encodeStrings(a.Violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin create artifact: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO artifacts (`+artifactCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Ref, a.LoopID, a.Component, a.Category, string(a.Payload), tags, a.Domain, a.Importance,
		a.Provenance, a.Consensus, a.Governance, a.Usage, a.Trust, a.Curve, a.HalfLife.Milliseconds(),
		a.AccessCount, a.SuccessCount, a.FailureCount, msPtr(a.LastAccess),
		boolInt(a.Compliant), violations, boolInt(a.NeedsReview),
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(), a.RescoredAt.UnixMilli(),
		msPtr(a.ExpiresAt), boolInt(a.Archived), boolInt(a.Deleted))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("create artifact: %w", err)
	}

	for _, tag := range a.Tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO artifact_tags (ref, tag) VALUES (?, ?)`, a.Ref, tag); err != nil {
			tx.Rollback()
			return fmt.Errorf("index tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create artifact: %w", err)
	}
	return nil
}

// GetArtifact returns an artifact by reference, or nil if not found.
// Served read-through from the cache; callers get a private copy. Cache
// admission is asynchronous, so a reader racing a write may briefly see a
// stale copy — read-only surfaces tolerate that; read-modify-write paths
// must use GetArtifactForUpdate instead.
func (db *DB) GetArtifact(ref string) (*model.Artifact, error) {
	if v, ok := db.cache.Get(ref); ok {
		if a, ok := v.(model.Artifact); ok {
			out := a
			return &out, nil
		}
	}

	a, err := db.fetchArtifact(ref)
	if err != nil || a == nil {
		return a, err
	}

	db.cache.Set(ref, *a, 1)
	return a, nil
}

// GetArtifactForUpdate returns an artifact straight from SQLite, never the
// cache. A stale cached copy racing into the cache after a write would
// otherwise feed a serialized read-modify-write and lose prior updates.
func (db *DB) GetArtifactForUpdate(ref string) (*model.Artifact, error) {
	return db.fetchArtifact(ref)
}

func (db *DB) fetchArtifact(ref string) (*model.Artifact, error) {
	row := db.QueryRow(`SELECT `+artifactCols+` FROM artifacts WHERE ref = ?`, ref)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// Filter narrows a candidate selection. Zero values are ignored; flags
// widen the default exclusion of non-compliant / archived / deleted rows.
type Filter struct {
	Component string
	Category  model.Category
	LoopID    string
	Domain    string
	Tag       string

	IncludeNonCompliant bool
	IncludeArchived     bool
	IncludeDeleted      bool
}

// SelectCandidates returns the artifacts matching the filter. Every filter
// field maps to an indexed column (or the tag index), so a filtered select
// never scans the whole store. The returned slice is a point-in-time
// snapshot: concurrent GC cannot retract rows already selected.
func (db *DB) SelectCandidates(f Filter) ([]model.Artifact, error) {
	var (
		where []string
		args  []any
		join  string
	)

	if !f.IncludeDeleted {
		where = append(where, "a.deleted = 0")
	}
	if !f.IncludeArchived {
		where = append(where, "a.archived = 0")
	}
	if !f.IncludeNonCompliant {
		where = append(where, "a.compliant = 1")
	}
	if f.Component != "" {
		where = append(where, "a.component = ?")
		args = append(args, f.Component)
	}
	if f.Category != "" {
		where = append(where, "a.category = ?")
		args = append(args, f.Category)
	}
	if f.LoopID != "" {
		where = append(where, "a.loop_id = ?")
		args = append(args, f.LoopID)
	}
	if f.Domain != "" {
		where = append(where, "a.domain = ?")
		args = append(args, f.Domain)
	}
	if f.Tag != "" {
		join = "JOIN artifact_tags t ON t.ref = a.ref"
		where = append(where, "t.tag = ?")
		args = append(args, f.Tag)
	}

	query := "SELECT " + prefixCols("a") + " FROM artifacts a " + join
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

// UpdateTrustState persists the mutable trust state of an artifact:
// signals, composite, counters, and re-score timestamps.
func (db *DB) UpdateTrustState(a *model.Artifact) error {
	_, err := db.Exec(`
		UPDATE artifacts SET trust = ?, usage = ?, provenance = ?, consensus = ?, governance = ?,
			access_count = ?, success_count = ?, failure_count = ?, last_access = ?,
			updated_at = ?, rescored_at = ?
		WHERE ref = ?
	`, a.Trust, a.Usage, a.Provenance, a.Consensus, a.Governance,
		a.AccessCount, a.SuccessCount, a.FailureCount, msPtr(a.LastAccess),
		a.UpdatedAt.UnixMilli(), a.RescoredAt.UnixMilli(), a.Ref)
	if err != nil {
		return fmt.Errorf("update trust state: %w", err)
	}
	db.cache.Del(a.Ref)
	return nil
}

// MarkArchived flags an artifact archived.
func (db *DB) MarkArchived(ref string, now time.Time) error {
	if _, err := db.Exec(`UPDATE artifacts SET archived = 1, updated_at = ? WHERE ref = ?`,
		now.UnixMilli(), ref); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	db.cache.Del(ref)
	return nil
}

// MarkDeleted flags an artifact deleted. The row stays as a tombstone; the
// ledger and GC log are the durable record either way.
func (db *DB) MarkDeleted(ref string, now time.Time) error {
	if _, err := db.Exec(`UPDATE artifacts SET deleted = 1, updated_at = ? WHERE ref = ?`,
		now.UnixMilli(), ref); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	db.cache.Del(ref)
	return nil
}

// CountLive returns the number of artifacts that are neither archived nor
// deleted.
func (db *DB) CountLive() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM artifacts WHERE archived = 0 AND deleted = 0`).Scan(&n)
	return n, err
}

// Stats summarizes the store for operational surfaces.
type Stats struct {
	Total      int            `json:"total"`
	Live       int            `json:"live"`
	Archived   int            `json:"archived"`
	Deleted    int            `json:"deleted"`
	ByCategory map[string]int `json:"by_category"`
	AvgTrust   float64        `json:"avg_trust"`
}

// CollectStats gathers store-wide counts and the mean stored trust of live
// artifacts.
func (db *DB) CollectStats() (*Stats, error) {
	s := &Stats{ByCategory: make(map[string]int)}

	err := db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN archived = 0 AND deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(archived), 0),
			COALESCE(SUM(deleted), 0),
			COALESCE(AVG(CASE WHEN archived = 0 AND deleted = 0 THEN trust END), 0)
		FROM artifacts
	`).Scan(&s.Total, &s.Live, &s.Archived, &s.Deleted, &s.AvgTrust)
	if err != nil {
		return nil, fmt.Errorf("collect stats: %w", err)
	}

	rows, err := db.Query(`SELECT category, COUNT(*) FROM artifacts WHERE deleted = 0 GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("stats by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan category stat: %w", err)
		}
		s.ByCategory[cat] = n
	}
	return s, rows.Err()
}

func prefixCols(alias string) string {
	cols := strings.Split(artifactCols, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*model.Artifact, error) {
	var (
		a          model.Artifact
		payload    sql.NullString
		tags       sql.NullString
		domain     sql.NullString
		violations sql.NullString
		halfLifeMs int64
		lastAccess sql.NullInt64
		expiresAt  sql.NullInt64
		createdAt  int64
		updatedAt  int64
		rescoredAt int64
		compliant  int
		review     int
		archived   int
		deleted    int
	)

	err := row.Scan(&a.Ref, &a.LoopID, &a.Component, &a.Category, &payload, &tags, &domain, &a.Importance,
		&a.Provenance, &a.Consensus, &a.Governance, &a.Usage, &a.Trust, &a.Curve, &halfLifeMs,
		&a.AccessCount, &a.SuccessCount, &a.FailureCount, &lastAccess,
		&compliant, &violations, &review,
		&createdAt, &updatedAt, &rescoredAt, &expiresAt, &archived, &deleted)
	if err != nil {
		return nil, err
	}

	if payload.Valid && payload.String != "" {
		a.Payload = json.RawMessage(payload.String)
	}
	a.Domain = domain.String
	a.HalfLife = time.Duration(halfLifeMs) * time.Millisecond
	a.Compliant = compliant != 0
	a.NeedsReview = review != 0
	a.Archived = archived != 0
	a.Deleted = deleted != 0
	a.CreatedAt = time.UnixMilli(createdAt)
	a.UpdatedAt = time.UnixMilli(updatedAt)
	a.RescoredAt = time.UnixMilli(rescoredAt)
	if lastAccess.Valid {
		t := time.UnixMilli(lastAccess.Int64)
		a.LastAccess = &t
	}
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		a.ExpiresAt = &t
	}
	if err := decodeStrings(tags.String, &a.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := decodeStrings(violations.String, &a.Violations); err != nil {
		return nil, fmt.Errorf("decode violations: %w", err)
	}
	return &a, nil
}

func scanArtifacts(rows *sql.Rows) ([]model.Artifact, error) {
	var out []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func encodeStrings(s []string) (string, error) {
	if len(s) == 0 {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStrings(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
