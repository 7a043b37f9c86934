// Package model defines the core memory bank data types.
package model

import (
	"encoding/json"
	"time"
)

// Category classifies a producer output.
type Category string

const (
	CategoryReasoning   Category = "reasoning"
	CategoryDecision    Category = "decision"
	CategoryObservation Category = "observation"
	CategoryAction      Category = "action"
	CategoryPrediction  Category = "prediction"
	CategoryGeneration  Category = "generation"
)

// ValidCategories are the allowed output categories.
var ValidCategories = map[Category]bool{
	CategoryReasoning:   true,
	CategoryDecision:    true,
	CategoryObservation: true,
	CategoryAction:      true,
	CategoryPrediction:  true,
	CategoryGeneration:  true,
}

// Curve selects the decay model applied to an artifact's trust over time.
type Curve string

const (
	CurveHyperbolic  Curve = "hyperbolic"
	CurveExponential Curve = "exponential"
	CurveLinear      Curve = "linear"
)

// ValidCurves are the allowed decay curves.
var ValidCurves = map[Curve]bool{
	CurveHyperbolic:  true,
	CurveExponential: true,
	CurveLinear:      true,
}

// Outcome is a consumer's judgement of an artifact after use.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Artifact is a single stored producer output with its trust state.
type Artifact struct {
	Ref        string          `json:"ref"`
	LoopID     string          `json:"loop_id"`
	Component  string          `json:"component"`
	Category   Category        `json:"category"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Domain     string          `json:"domain,omitempty"`
	Importance float64         `json:"importance"`

	// Trust signals, each in [0,1]. Trust is the derived composite.
	Provenance float64 `json:"provenance"`
	Consensus  float64 `json:"consensus"`
	Governance float64 `json:"governance"`
	Usage      float64 `json:"usage"`
	Trust      float64 `json:"trust"`

	// Decay configuration, fixed at creation.
	Curve    Curve         `json:"curve"`
	HalfLife time.Duration `json:"half_life"`

	AccessCount  int        `json:"access_count"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	LastAccess   *time.Time `json:"last_access,omitempty"`

	Compliant   bool     `json:"constitutional_compliance"`
	Violations  []string `json:"violations,omitempty"`
	NeedsReview bool     `json:"requires_manual_review"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// RescoredAt is the decay reference point: created_at at birth, advanced
	// whenever the composite trust is explicitly re-scored.
	RescoredAt time.Time  `json:"rescored_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Archived   bool       `json:"archived"`
	Deleted    bool       `json:"deleted"`
}

// DecayAge returns the elapsed time the decay curve applies over.
func (a *Artifact) DecayAge(now time.Time) time.Duration {
	age := now.Sub(a.RescoredAt)
	if age < 0 {
		return 0
	}
	return age
}

// Age returns the artifact's total age since creation.
func (a *Artifact) Age(now time.Time) time.Duration {
	age := now.Sub(a.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Expired reports whether the artifact is past its expiry, if one is set.
func (a *Artifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// ProducerOutput is the contract a producer submits to the bank.
// Payload is opaque to scoring and indexing.
type ProducerOutput struct {
	LoopID     string          `json:"loop_id"`
	Component  string          `json:"component"`
	Category   Category        `json:"category"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Domain     string          `json:"domain,omitempty"`
	Importance float64         `json:"importance,omitempty"`

	Confidence float64  `json:"producer_confidence"`
	Consensus  *float64 `json:"consensus_quality,omitempty"`

	// Compliant left nil means the producer made no claim and the
	// governance gate alone decides.
	Compliant  *bool    `json:"constitutional_compliance,omitempty"`
	Violations []string `json:"violations,omitempty"`

	// Optional decay override; zero values take the category defaults.
	Curve    Curve         `json:"curve,omitempty"`
	HalfLife time.Duration `json:"half_life,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty"`
}

// Ref identifies a stored artifact.
type Ref struct {
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a single ranked read result.
type Hit struct {
	Ref       string          `json:"reference"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Trust     float64         `json:"trust"`
	Rank      float64         `json:"rank"`
	Component string          `json:"component"`
	Category  Category        `json:"category"`
	CreatedAt time.Time       `json:"created_at"`
}

// Query narrows and shapes a read. Zero-value fields are ignored.
type Query struct {
	Component string
	Category  Category
	LoopID    string
	Domain    string
	Tag       string

	// MinTrust floors current (post-decay) trust.
	MinTrust float64
	K        int

	IncludeNonCompliant bool
	IncludeArchived     bool

	// RecencyWindow normalizes age for the rank's recency term.
	RecencyWindow time.Duration

	// Relevance supplies the externally computed query-match score per
	// candidate. Nil means relevance 0 for every candidate.
	Relevance func(*Artifact) float64
}
