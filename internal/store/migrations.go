package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "artifacts: trust-scored producer outputs",
		SQL: `
CREATE TABLE artifacts (
    ref            TEXT PRIMARY KEY,
    loop_id        TEXT NOT NULL,
    component      TEXT NOT NULL,
    category       TEXT NOT NULL CHECK (category IN ('reasoning', 'decision', 'observation', 'action', 'prediction', 'generation')),
    payload        TEXT,
    tags           TEXT,
    domain         TEXT,
    importance     REAL NOT NULL DEFAULT 0,

    -- Trust signals + derived composite
    provenance     REAL NOT NULL DEFAULT 0,
    consensus      REAL NOT NULL DEFAULT 0,
    governance     REAL NOT NULL DEFAULT 0,
    usage          REAL NOT NULL DEFAULT 0,
    trust          REAL NOT NULL DEFAULT 0,

    -- Decay configuration, fixed at creation
    curve          TEXT NOT NULL CHECK (curve IN ('hyperbolic', 'exponential', 'linear')),
    half_life_ms   INTEGER NOT NULL,

    -- Usage counters
    access_count   INTEGER NOT NULL DEFAULT 0,
    success_count  INTEGER NOT NULL DEFAULT 0,
    failure_count  INTEGER NOT NULL DEFAULT 0,
    last_access    INTEGER,

    -- Governance flags
    compliant      INTEGER NOT NULL DEFAULT 1,
    violations     TEXT,
    needs_review   INTEGER NOT NULL DEFAULT 0,

    -- Lifecycle
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    rescored_at    INTEGER NOT NULL,
    expires_at     INTEGER,
    archived       INTEGER NOT NULL DEFAULT 0,
    deleted        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_artifacts_component ON artifacts(component);
CREATE INDEX idx_artifacts_category  ON artifacts(category);
CREATE INDEX idx_artifacts_loop      ON artifacts(loop_id);
CREATE INDEX idx_artifacts_domain    ON artifacts(domain);
CREATE INDEX idx_artifacts_trust     ON artifacts(trust DESC);
CREATE INDEX idx_artifacts_created   ON artifacts(created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "artifact_tags: tag index for filtered retrieval",
		SQL: `
CREATE TABLE artifact_tags (
    ref  TEXT NOT NULL REFERENCES artifacts(ref) ON DELETE CASCADE,
    tag  TEXT NOT NULL,
    PRIMARY KEY (ref, tag)
);

CREATE INDEX idx_tags_tag ON artifact_tags(tag);
`,
	},
	{
		Version:     3,
		Description: "trust_events: append-only trust ledger",
		SQL: `
CREATE TABLE trust_events (
    id            INTEGER PRIMARY KEY,
    ref           TEXT NOT NULL,
    kind          TEXT NOT NULL CHECK (kind IN ('create', 'success', 'failure', 'decay-snapshot', 'gc-archive', 'gc-delete')),
    reason        TEXT,
    trust_before  REAL NOT NULL,
    trust_after   REAL NOT NULL,
    deltas        TEXT,
    created_at    INTEGER NOT NULL
);

CREATE INDEX idx_events_ref     ON trust_events(ref);
CREATE INDEX idx_events_created ON trust_events(created_at DESC);
`,
	},
	{
		Version:     4,
		Description: "gc_runs: garbage collection log",
		SQL: `
CREATE TABLE gc_runs (
    id                 INTEGER PRIMARY KEY,
    run_id             TEXT NOT NULL UNIQUE,
    policy             TEXT NOT NULL,
    scanned            INTEGER NOT NULL,
    archived           INTEGER NOT NULL,
    deleted            INTEGER NOT NULL,
    archive_threshold  REAL NOT NULL,
    delete_threshold   REAL NOT NULL,
    dry_run            INTEGER NOT NULL DEFAULT 0,
    duration_ms        INTEGER NOT NULL,
    created_at         INTEGER NOT NULL
);

CREATE INDEX idx_gc_runs_created ON gc_runs(created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
