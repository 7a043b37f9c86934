package model

import "time"

// EventKind labels a trust-affecting event.
type EventKind string

const (
	EventCreate        EventKind = "create"
	EventSuccess       EventKind = "success"
	EventFailure       EventKind = "failure"
	EventDecaySnapshot EventKind = "decay-snapshot"
	EventGCArchive     EventKind = "gc-archive"
	EventGCDelete      EventKind = "gc-delete"
)

// TrustEvent is one append-only ledger row. Never mutated or deleted.
type TrustEvent struct {
	ID          int64              `json:"id"`
	Ref         string             `json:"ref"`
	Kind        EventKind          `json:"kind"`
	Reason      string             `json:"reason,omitempty"`
	TrustBefore float64            `json:"trust_before"`
	TrustAfter  float64            `json:"trust_after"`
	Deltas      map[string]float64 `json:"deltas,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// GCPolicy configures one garbage-collection sweep.
type GCPolicy struct {
	Name             string        `json:"name"`
	ArchiveThreshold float64       `json:"archive_threshold"`
	DeleteThreshold  float64       `json:"delete_threshold"`
	MaxAge           time.Duration `json:"max_age,omitempty"`
	MaxArtifacts     int           `json:"max_artifacts,omitempty"`
	DryRun           bool          `json:"dry_run,omitempty"`
}

// GCLogEntry records one garbage-collection run. Append-only.
type GCLogEntry struct {
	RunID            string        `json:"run_id"`
	Policy           string        `json:"policy_name"`
	Scanned          int           `json:"scanned"`
	Archived         int           `json:"archived"`
	Deleted          int           `json:"deleted"`
	ArchiveThreshold float64       `json:"archive_threshold"`
	DeleteThreshold  float64       `json:"delete_threshold"`
	DryRun           bool          `json:"dry_run"`
	Duration         time.Duration `json:"duration"`
	CreatedAt        time.Time     `json:"timestamp"`
}
