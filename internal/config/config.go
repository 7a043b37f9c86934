// Package config holds all membank configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opslayer/membank/internal/model"
	"github.com/opslayer/membank/internal/scoring"
)

// Config holds all membank configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	GC       GCConfig       `mapstructure:"gc"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ScoringConfig overrides the stock scoring constants. Pointer fields
// distinguish "not configured" from an explicit zero (a zero violation
// penalty is a legitimate tuning).
type ScoringConfig struct {
	DefaultConsensus  *float64           `mapstructure:"default_consensus"`
	DefaultReputation *float64           `mapstructure:"default_reputation"`
	ViolationPenalty  *float64           `mapstructure:"violation_penalty"`
	Reputation        map[string]float64 `mapstructure:"reputation"`
}

type SnapshotConfig struct {
	IntervalHours float64 `mapstructure:"interval_hours"`
}

type GCConfig struct {
	Policy           string  `mapstructure:"policy"`
	ArchiveThreshold float64 `mapstructure:"archive_threshold"`
	DeleteThreshold  float64 `mapstructure:"delete_threshold"`
	MaxAgeDays       int     `mapstructure:"max_age_days"`
	MaxArtifacts     int     `mapstructure:"max_artifacts"`
}

// Default returns a Config with sensible defaults. Scoring is left unset:
// nil overrides mean the stock scoring constants apply.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37911,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Snapshot: SnapshotConfig{
			IntervalHours: 24,
		},
		GC: GCConfig{
			Policy:           "standard",
			ArchiveThreshold: 0.2,
			DeleteThreshold:  0.1,
			MaxAgeDays:       90,
		},
	}
}

// Load reads configuration from the given file, or from
// ~/.membank/config.yml when path is empty. A missing config file is not an
// error: defaults apply, and MEMBANK_* environment variables override either
// way (MEMBANK_SERVER_PORT, MEMBANK_DATABASE_PATH, ...).
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		home, _ := os.UserHomeDir()
		v.AddConfigPath(home + "/.membank")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MEMBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	// A missing file on the search path is fine; an explicit path that
	// fails to read is not.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.bind", cfg.Server.Bind)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("snapshot.interval_hours", cfg.Snapshot.IntervalHours)
	v.SetDefault("gc.policy", cfg.GC.Policy)
	v.SetDefault("gc.archive_threshold", cfg.GC.ArchiveThreshold)
	v.SetDefault("gc.delete_threshold", cfg.GC.DeleteThreshold)
	v.SetDefault("gc.max_age_days", cfg.GC.MaxAgeDays)
	v.SetDefault("gc.max_artifacts", cfg.GC.MaxArtifacts)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Params folds the scoring overrides into the stock constants.
func (c ScoringConfig) Params() scoring.Params {
	p := scoring.DefaultParams()
	if c.DefaultConsensus != nil {
		p.DefaultConsensus = *c.DefaultConsensus
	}
	if c.DefaultReputation != nil {
		p.DefaultReputation = *c.DefaultReputation
	}
	if c.ViolationPenalty != nil {
		p.ViolationPenalty = *c.ViolationPenalty
	}
	if len(c.Reputation) > 0 {
		p.Reputation = c.Reputation
	}
	return p
}

// SweepPolicy returns the configured garbage-collection policy.
func (c GCConfig) SweepPolicy() model.GCPolicy {
	return model.GCPolicy{
		Name:             c.Policy,
		ArchiveThreshold: c.ArchiveThreshold,
		DeleteThreshold:  c.DeleteThreshold,
		MaxAge:           time.Duration(c.MaxAgeDays) * 24 * time.Hour,
		MaxArtifacts:     c.MaxArtifacts,
	}
}

// SnapshotInterval returns the decay-snapshot cadence.
func (c SnapshotConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours * float64(time.Hour))
}
