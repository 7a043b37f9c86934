// Package scoring implements the trust formulas: initial blending of the
// four trust signals, usage-adjusted updates with diminishing returns, and
// the composite retrieval rank. Pure computation, no I/O.
package scoring

import (
	"github.com/opslayer/membank/internal/model"
)

// Signals are the four independent inputs blended into composite trust.
type Signals struct {
	Provenance float64 `json:"provenance"`
	Consensus  float64 `json:"consensus"`
	Governance float64 `json:"governance"`
	Usage      float64 `json:"usage"`
}

// Params holds the tunable scoring constants.
type Params struct {
	// Composite trust weights.
	ProvenanceWeight float64
	ConsensusWeight  float64
	GovernanceWeight float64
	UsageWeight      float64

	// Rank weights.
	TrustWeight      float64
	RelevanceWeight  float64
	RecencyWeight    float64
	ImportanceWeight float64

	// Governance penalty applied per violation, floored at 0.
	ViolationPenalty float64

	// Consensus fallback when the producer supplies no quality score.
	DefaultConsensus float64

	// Usage update constants.
	SuccessReward      float64
	FailurePenalty     float64
	ConsistencyBonus   float64
	ConsistencyRate    float64
	ConsistencyMinUses int

	// Per-component provenance reputation baselines in [0.70, 0.95].
	// Unknown components fall back to DefaultReputation.
	Reputation        map[string]float64
	DefaultReputation float64
}

// DefaultParams returns the stock scoring constants.
func DefaultParams() Params {
	return Params{
		ProvenanceWeight: 0.30,
		ConsensusWeight:  0.25,
		GovernanceWeight: 0.30,
		UsageWeight:      0.15,

		TrustWeight:      0.40,
		RelevanceWeight:  0.35,
		RecencyWeight:    0.15,
		ImportanceWeight: 0.10,

		ViolationPenalty: 0.15,
		DefaultConsensus: 0.5,

		SuccessReward:      0.05,
		FailurePenalty:     0.08,
		ConsistencyBonus:   0.02,
		ConsistencyRate:    0.80,
		ConsistencyMinUses: 5,

		DefaultReputation: 0.70,
	}
}

// ComponentReputation returns the provenance baseline for a component.
func (p Params) ComponentReputation(component string) float64 {
	if r, ok := p.Reputation[component]; ok {
		return clamp01(r)
	}
	return p.DefaultReputation
}

// InitialTrust computes the composite trust and retained signals for a
// brand-new artifact. Usage starts at 0 (no history yet).
func (p Params) InitialTrust(component string, confidence float64, consensus *float64, compliant bool, violations int) (float64, Signals) {
	s := Signals{
		Provenance: clamp01(p.ComponentReputation(component) * clamp01(confidence)),
		Consensus:  p.DefaultConsensus,
		Governance: 1.0,
		Usage:      0,
	}
	if consensus != nil {
		s.Consensus = clamp01(*consensus)
	}
	if !compliant {
		if violations < 1 {
			violations = 1
		}
		s.Governance = 1.0 - p.ViolationPenalty*float64(violations)
		if s.Governance < 0 {
			s.Governance = 0
		}
	}
	return p.Composite(s), s
}

// Composite blends the four signals into a single trust value in [0,1].
func (p Params) Composite(s Signals) float64 {
	trust := s.Provenance*p.ProvenanceWeight +
		s.Consensus*p.ConsensusWeight +
		s.Governance*p.GovernanceWeight +
		s.Usage*p.UsageWeight
	return clamp01(trust)
}

// UpdateOnUse computes the new trust after one judged use. current is the
// trust going in; successes/failures are the counters before this outcome.
// Returns the new trust and the applied delta (bonus included).
func (p Params) UpdateOnUse(current float64, successes, failures int, outcome model.Outcome) (float64, float64) {
	var delta float64
	switch outcome {
	case model.OutcomeFailure:
		delta = -p.FailurePenalty / (1 + float64(failures)*0.05)
		failures++
	default:
		delta = p.SuccessReward / (1 + float64(successes)*0.1)
		successes++
	}

	// Consistency bonus on a solid post-update track record.
	total := successes + failures
	if total >= p.ConsistencyMinUses {
		if float64(successes)/float64(total) > p.ConsistencyRate {
			delta += p.ConsistencyBonus
		}
	}

	next := clamp01(current + delta)
	return next, next - current
}

// UsageSignal recomputes the usage trust component from the counters, for
// re-blending into the composite on the next full rescoring.
func UsageSignal(accessCount, successes, failures int) float64 {
	rate := 0.0
	if judged := successes + failures; judged > 0 {
		rate = float64(successes) / float64(judged)
	}
	return clamp01(float64(accessCount)/20 + rate*0.5)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
