package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/opslayer/membank/internal/model"
)

func sampleArtifact(ref string) *model.Artifact {
	return &model.Artifact{
		Ref:       ref,
		LoopID:    "loop-1",
		Component: "hunter",
		Category:  model.CategoryReasoning,
		Payload:   json.RawMessage(`{"finding":"open port"}`),
		Tags:      []string{"network", "recon"},
		Domain:    "infra",
		Trust:     0.77,
		Curve:     model.CurveHyperbolic,
		HalfLife:  7 * 24 * time.Hour,
		Compliant: true,
	}
}

func TestCreateAndGetArtifact(t *testing.T) {
	db := testDB(t)

	a := sampleArtifact("")
	if err := db.CreateArtifact(a); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	if a.Ref == "" {
		t.Fatal("expected minted reference")
	}
	if a.CreatedAt.IsZero() || !a.RescoredAt.Equal(a.CreatedAt) {
		t.Error("expected created_at stamped and rescored_at = created_at")
	}

	got, err := db.GetArtifact(a.Ref)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got == nil {
		t.Fatal("expected artifact, got nil")
	}
	if got.Component != "hunter" || got.Category != model.CategoryReasoning {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.HalfLife != 7*24*time.Hour {
		t.Errorf("half_life = %v, want 168h", got.HalfLife)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v, want 2 entries", got.Tags)
	}
	if string(got.Payload) != `{"finding":"open port"}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestGetArtifactMissing(t *testing.T) {
	db := testDB(t)

	got, err := db.GetArtifact("nope")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing ref")
	}
}

func TestGetArtifactReturnsCopy(t *testing.T) {
	db := testDB(t)

	a := sampleArtifact("")
	db.CreateArtifact(a)

	first, _ := db.GetArtifact(a.Ref)
	first.Trust = 0.01

	second, _ := db.GetArtifact(a.Ref)
	if second.Trust != 0.77 {
		t.Errorf("mutating a returned artifact leaked into later gets: trust = %f", second.Trust)
	}
}

func TestSelectCandidatesFilters(t *testing.T) {
	db := testDB(t)

	mk := func(component string, cat model.Category, domain string, tags ...string) {
		a := sampleArtifact("")
		a.Component = component
		a.Category = cat
		a.Domain = domain
		a.Tags = tags
		if err := db.CreateArtifact(a); err != nil {
			t.Fatalf("CreateArtifact: %v", err)
		}
	}

	mk("hunter", model.CategoryReasoning, "infra", "recon")
	mk("hunter", model.CategoryAction, "infra", "exploit")
	mk("planner", model.CategoryDecision, "app", "recon")

	got, err := db.SelectCandidates(Filter{Component: "hunter"})
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("component filter: %d candidates, want 2", len(got))
	}

	got, _ = db.SelectCandidates(Filter{Category: model.CategoryDecision})
	if len(got) != 1 {
		t.Errorf("category filter: %d candidates, want 1", len(got))
	}

	got, _ = db.SelectCandidates(Filter{Tag: "recon"})
	if len(got) != 2 {
		t.Errorf("tag filter: %d candidates, want 2", len(got))
	}

	got, _ = db.SelectCandidates(Filter{Domain: "app"})
	if len(got) != 1 {
		t.Errorf("domain filter: %d candidates, want 1", len(got))
	}

	got, _ = db.SelectCandidates(Filter{Component: "hunter", Tag: "exploit"})
	if len(got) != 1 {
		t.Errorf("combined filter: %d candidates, want 1", len(got))
	}
}

func TestSelectCandidatesExclusions(t *testing.T) {
	db := testDB(t)

	compliant := sampleArtifact("")
	db.CreateArtifact(compliant)

	flagged := sampleArtifact("")
	flagged.Compliant = false
	flagged.Violations = []string{"unsafe output"}
	db.CreateArtifact(flagged)

	archived := sampleArtifact("")
	db.CreateArtifact(archived)
	db.MarkArchived(archived.Ref, time.Now())

	deleted := sampleArtifact("")
	db.CreateArtifact(deleted)
	db.MarkDeleted(deleted.Ref, time.Now())

	got, _ := db.SelectCandidates(Filter{})
	if len(got) != 1 {
		t.Fatalf("default select: %d candidates, want 1 (compliant live only)", len(got))
	}
	if got[0].Ref != compliant.Ref {
		t.Errorf("default select returned %s, want %s", got[0].Ref, compliant.Ref)
	}

	got, _ = db.SelectCandidates(Filter{IncludeNonCompliant: true})
	if len(got) != 2 {
		t.Errorf("non-compliant opt-in: %d candidates, want 2", len(got))
	}

	got, _ = db.SelectCandidates(Filter{IncludeArchived: true})
	if len(got) != 2 {
		t.Errorf("archived opt-in: %d candidates, want 2", len(got))
	}

	// Deleted stays excluded even with both opt-ins.
	got, _ = db.SelectCandidates(Filter{IncludeNonCompliant: true, IncludeArchived: true})
	if len(got) != 3 {
		t.Errorf("all opt-ins: %d candidates, want 3", len(got))
	}
}

func TestUpdateTrustState(t *testing.T) {
	db := testDB(t)

	a := sampleArtifact("")
	db.CreateArtifact(a)

	now := time.Now()
	a.Trust = 0.82
	a.Usage = 0.3
	a.AccessCount = 3
	a.SuccessCount = 2
	a.FailureCount = 1
	a.LastAccess = &now
	a.UpdatedAt = now
	a.RescoredAt = now
	if err := db.UpdateTrustState(a); err != nil {
		t.Fatalf("UpdateTrustState: %v", err)
	}

	got, _ := db.GetArtifact(a.Ref)
	if got.Trust != 0.82 || got.AccessCount != 3 || got.SuccessCount != 2 || got.FailureCount != 1 {
		t.Errorf("state not persisted: %+v", got)
	}
	if got.LastAccess == nil {
		t.Error("last_access not persisted")
	}
}

func TestCountLive(t *testing.T) {
	db := testDB(t)

	a := sampleArtifact("")
	db.CreateArtifact(a)
	b := sampleArtifact("")
	db.CreateArtifact(b)
	db.MarkArchived(b.Ref, time.Now())

	n, err := db.CountLive()
	if err != nil {
		t.Fatalf("CountLive: %v", err)
	}
	if n != 1 {
		t.Errorf("live = %d, want 1", n)
	}
}

func TestCollectStats(t *testing.T) {
	db := testDB(t)

	a := sampleArtifact("")
	db.CreateArtifact(a)
	b := sampleArtifact("")
	b.Category = model.CategoryAction
	db.CreateArtifact(b)
	db.MarkDeleted(b.Ref, time.Now())

	s, err := db.CollectStats()
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if s.Total != 2 || s.Live != 1 || s.Deleted != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.ByCategory["reasoning"] != 1 {
		t.Errorf("by_category = %v", s.ByCategory)
	}
}

func TestGetArtifactForUpdateBypassesCache(t *testing.T) {
	db := testDB(t)

	a := sampleArtifact("")
	if err := db.CreateArtifact(a); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}

	// Populate the cache, then change the row behind it.
	if _, err := db.GetArtifact(a.Ref); err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if _, err := db.Exec(`UPDATE artifacts SET success_count = 9, trust = 0.11 WHERE ref = ?`, a.Ref); err != nil {
		t.Fatalf("update row: %v", err)
	}

	got, err := db.GetArtifactForUpdate(a.Ref)
	if err != nil {
		t.Fatalf("GetArtifactForUpdate: %v", err)
	}
	if got.SuccessCount != 9 || got.Trust != 0.11 {
		t.Errorf("got counters %d trust %f, want the durable row, not a cached copy", got.SuccessCount, got.Trust)
	}

	if got, err := db.GetArtifactForUpdate("ghost"); err != nil || got != nil {
		t.Errorf("missing ref: got %v, %v; want nil, nil", got, err)
	}
}
