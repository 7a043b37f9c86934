package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opslayer/membank/internal/scoring"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr() != "127.0.0.1:37911" {
		t.Errorf("addr = %s", cfg.ListenAddr())
	}
	if cfg.GC.DeleteThreshold >= cfg.GC.ArchiveThreshold {
		t.Error("default thresholds must not conflict")
	}
	if cfg.Snapshot.Interval() != 24*time.Hour {
		t.Errorf("snapshot interval = %v", cfg.Snapshot.Interval())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
server:
  port: 40400
database:
  path: /tmp/bank.db
gc:
  archive_threshold: 0.3
scoring:
  reputation:
    hunter: 0.85
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 40400 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("bind default lost: %s", cfg.Server.Bind)
	}
	if cfg.Database.Path != "/tmp/bank.db" {
		t.Errorf("db path = %s", cfg.Database.Path)
	}
	if cfg.GC.ArchiveThreshold != 0.3 {
		t.Errorf("archive threshold = %f", cfg.GC.ArchiveThreshold)
	}
	if cfg.GC.DeleteThreshold != 0.1 {
		t.Errorf("delete threshold default lost: %f", cfg.GC.DeleteThreshold)
	}
	if got := cfg.Scoring.Params().Reputation["hunter"]; got != 0.85 {
		t.Errorf("reputation override = %f", got)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("expected an error for an explicit missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MEMBANK_SERVER_PORT", "41000")

	cfg, err := Load(writeMinimalConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 41000 {
		t.Errorf("port = %d, want env override 41000", cfg.Server.Port)
	}
}

func writeMinimalConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("server:\n  bind: 0.0.0.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweepPolicy(t *testing.T) {
	cfg := Default()
	p := cfg.GC.SweepPolicy()
	if p.Name != "standard" {
		t.Errorf("name = %s", p.Name)
	}
	if p.MaxAge != 90*24*time.Hour {
		t.Errorf("max age = %v", p.MaxAge)
	}
}

func TestScoringZeroOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
scoring:
  violation_penalty: 0
  default_consensus: 0
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// An explicit zero is a tuning, not an unset field.
	p := cfg.Scoring.Params()
	if p.ViolationPenalty != 0 {
		t.Errorf("violation penalty = %f, want explicit 0", p.ViolationPenalty)
	}
	if p.DefaultConsensus != 0 {
		t.Errorf("default consensus = %f, want explicit 0", p.DefaultConsensus)
	}

	// Unset fields keep the stock constants.
	stock := Default().Scoring.Params()
	if stock.ViolationPenalty != scoring.DefaultParams().ViolationPenalty {
		t.Errorf("unset penalty = %f, want stock", stock.ViolationPenalty)
	}
}
