// Package bank implements the memory bank: the shared, trust-scored store
// that producers write into and consumers read ranked context back out of.
package bank

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opslayer/membank/internal/model"
	"github.com/opslayer/membank/internal/scoring"
	"github.com/opslayer/membank/internal/store"
)

const (
	defaultK             = 10
	defaultRecencyWindow = 7 * 24 * time.Hour
	snapshotEpsilon      = 0.001
)

// Bank orchestrates scoring, persistence, indexing, the trust ledger, and
// garbage collection. One bank is shared per process; tests construct their
// own instances.
type Bank struct {
	DB   *store.DB
	Gate Gate

	params        scoring.Params
	policy        CategoryPolicy
	locks         refLocks
	now           func() time.Time
	snapshotEvery time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	skipped       atomic.Int64
}

// New creates a Bank over the given store. A nil gate falls back to the
// pass-through StaticGate.
func New(db *store.DB, gate Gate) *Bank {
	if gate == nil {
		gate = StaticGate{}
	}
	return &Bank{
		DB:            db,
		Gate:          gate,
		params:        scoring.DefaultParams(),
		policy:        DefaultCategoryPolicy(),
		now:           time.Now,
		snapshotEvery: 24 * time.Hour,
		stopCh:        make(chan struct{}),
	}
}

// SetParams overrides the scoring constants.
func (b *Bank) SetParams(p scoring.Params) { b.params = p }

// SetCategoryPolicy overrides which categories require compliance.
func (b *Bank) SetCategoryPolicy(p CategoryPolicy) { b.policy = p }

// SetClock overrides the time source (tests).
func (b *Bank) SetClock(now func() time.Time) { b.now = now }

// SetSnapshotInterval overrides the decay-snapshot cadence.
func (b *Bank) SetSnapshotInterval(d time.Duration) { b.snapshotEvery = d }

// Skipped returns the number of candidates dropped from reads because they
// could not be scored.
func (b *Bank) Skipped() int64 { return b.skipped.Load() }

// Store validates a producer output, gates it, scores it, persists it, and
// appends a create event to the ledger. A non-compliant output in a
// category that requires compliance is still persisted for audit: the ref
// is returned together with an error wrapping ErrConstitutionalViolation.
func (b *Bank) Store(ctx context.Context, out *model.ProducerOutput) (*model.Ref, error) {
	if err := validateOutput(out); err != nil {
		return nil, err
	}

	verdict, err := b.Gate.Evaluate(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("governance gate: %w", err)
	}
	compliant := verdict.Compliant
	if out.Compliant != nil && !*out.Compliant {
		compliant = false
	}
	violations := mergeViolations(out.Violations, verdict.Violations)

	// Curve and half-life default independently: overriding one keeps the
	// category default for the other.
	defCurve, defHalfLife := scoring.DecayDefaults(out.Category)
	curve, halfLife := out.Curve, out.HalfLife
	if curve == "" {
		curve = defCurve
	}
	if halfLife <= 0 {
		halfLife = defHalfLife
	}

	trust, sig := b.params.InitialTrust(out.Component, out.Confidence, out.Consensus, compliant, len(violations))

	now := b.now()
	a := &model.Artifact{
		Ref:        b.DB.NewRef(),
		LoopID:     out.LoopID,
		Component:  out.Component,
		Category:   out.Category,
		Payload:    out.Payload,
		Tags:       out.Tags,
		Domain:     out.Domain,
		Importance: out.Importance,

		Provenance: sig.Provenance,
		Consensus:  sig.Consensus,
		Governance: sig.Governance,
		Usage:      sig.Usage,
		Trust:      trust,

		Curve:    curve,
		HalfLife: halfLife,

		Compliant:   compliant,
		Violations:  violations,
		NeedsReview: !compliant,

		CreatedAt:  now,
		UpdatedAt:  now,
		RescoredAt: now,
	}
	if out.TTL > 0 {
		exp := now.Add(out.TTL)
		a.ExpiresAt = &exp
	}

	if err := b.DB.CreateArtifact(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	b.audit(&model.TrustEvent{
		Ref:         a.Ref,
		Kind:        model.EventCreate,
		Reason:      "stored by " + a.Component,
		TrustBefore: 0,
		TrustAfter:  trust,
		Deltas: map[string]float64{
			"provenance": sig.Provenance,
			"consensus":  sig.Consensus,
			"governance": sig.Governance,
			"usage":      sig.Usage,
		},
		CreatedAt: now,
	})

	ref := &model.Ref{Reference: a.Ref, CreatedAt: now}
	if !compliant && b.policy.Requires(out.Category) {
		return ref, fmt.Errorf("category %s: %w", out.Category, ErrConstitutionalViolation)
	}
	return ref, nil
}

// Read returns the top-k candidates by rank after applying decay and the
// query's trust floor. The candidate set is a point-in-time snapshot; a
// concurrent GC archiving a selected candidate does not retract it.
// Candidates that cannot be scored are skipped, never a query failure.
func (b *Bank) Read(ctx context.Context, q model.Query) ([]model.Hit, error) {
	candidates, err := b.DB.SelectCandidates(store.Filter{
		Component:           q.Component,
		Category:            q.Category,
		LoopID:              q.LoopID,
		Domain:              q.Domain,
		Tag:                 q.Tag,
		IncludeNonCompliant: q.IncludeNonCompliant,
		IncludeArchived:     q.IncludeArchived,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	now := b.now()
	window := q.RecencyWindow
	if window <= 0 {
		window = defaultRecencyWindow
	}
	k := q.K
	if k <= 0 {
		k = defaultK
	}

	var ranked []scoring.Ranked
	for i := range candidates {
		a := &candidates[i]
		if !scorable(a) {
			b.skipped.Add(1)
			log.Printf("read: skipping unscorable artifact %s (curve=%q half_life=%v)", a.Ref, a.Curve, a.HalfLife)
			continue
		}

		trust := scoring.ApplyDecay(a.Trust, a.DecayAge(now), a.Curve, a.HalfLife)
		if trust < q.MinTrust {
			continue
		}

		relevance := 0.0
		if q.Relevance != nil {
			relevance = q.Relevance(a)
		}
		recency := scoring.Recency(a.Age(now), window)
		rank := b.params.Rank(trust, relevance, recency, a.Importance)

		ranked = append(ranked, scoring.Ranked{Artifact: a, Trust: trust, Rank: rank})
	}

	sort.Slice(ranked, func(i, j int) bool { return scoring.Less(ranked[i], ranked[j]) })
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	hits := make([]model.Hit, len(ranked))
	for i, r := range ranked {
		hits[i] = model.Hit{
			Ref:       r.Artifact.Ref,
			Payload:   r.Artifact.Payload,
			Trust:     r.Trust,
			Rank:      r.Rank,
			Component: r.Artifact.Component,
			Category:  r.Artifact.Category,
			CreatedAt: r.Artifact.CreatedAt,
		}
	}
	return hits, nil
}

// UpdateTrust applies one judged use to an artifact. Calls on the same ref
// serialize; calls on different refs run in parallel. The update is a
// re-score: decay accrued so far is folded in and the decay clock resets.
func (b *Bank) UpdateTrust(ctx context.Context, ref string, outcome model.Outcome, reason string) (float64, error) {
	if outcome != model.OutcomeSuccess && outcome != model.OutcomeFailure {
		return 0, fmt.Errorf("%w: unknown outcome %q", ErrValidation, outcome)
	}

	unlock := b.locks.lock(ref)
	defer unlock()

	// Never the cache: a stale copy here would overwrite prior updates.
	a, err := b.DB.GetArtifactForUpdate(ref)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if a == nil || a.Deleted {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	now := b.now()
	stored := a.Trust
	decayed := scoring.ApplyDecay(stored, a.DecayAge(now), a.Curve, a.HalfLife)
	next, delta := b.params.UpdateOnUse(decayed, a.SuccessCount, a.FailureCount, outcome)

	a.AccessCount++
	kind := model.EventSuccess
	if outcome == model.OutcomeFailure {
		a.FailureCount++
		kind = model.EventFailure
	} else {
		a.SuccessCount++
	}

	oldUsage := a.Usage
	a.Usage = scoring.UsageSignal(a.AccessCount, a.SuccessCount, a.FailureCount)
	a.Trust = next
	a.LastAccess = &now
	a.UpdatedAt = now
	a.RescoredAt = now

	if err := b.DB.UpdateTrustState(a); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	b.audit(&model.TrustEvent{
		Ref:         ref,
		Kind:        kind,
		Reason:      reason,
		TrustBefore: stored,
		TrustAfter:  next,
		Deltas: map[string]float64{
			"decay":   decayed - stored,
			"outcome": delta,
			"usage":   a.Usage - oldUsage,
		},
		CreatedAt: now,
	})

	return next, nil
}

// TrustHistory returns the ordered ledger for a reference. The ledger is
// the existence witness: physically removed artifacts still answer.
func (b *Bank) TrustHistory(ctx context.Context, ref string) ([]model.TrustEvent, error) {
	events, err := b.DB.EventsForRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if len(events) > 0 {
		return events, nil
	}

	a, err := b.DB.GetArtifact(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	// The artifact predates event logging. Data-integrity warning, not an
	// error.
	log.Printf("integrity: artifact %s exists but has no trust events", ref)
	return []model.TrustEvent{}, nil
}

// Get returns an artifact with its current decayed trust, regardless of
// lifecycle flags. Audit surface; normal retrieval goes through Read.
func (b *Bank) Get(ctx context.Context, ref string) (*model.Artifact, float64, error) {
	a, err := b.DB.GetArtifact(ref)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if a == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	trust := scoring.ApplyDecay(a.Trust, a.DecayAge(b.now()), a.Curve, a.HalfLife)
	return a, trust, nil
}

// audit appends a ledger event, best-effort. The artifact state is the
// source of truth; a failed ledger write degrades to a logged audit gap.
func (b *Bank) audit(ev *model.TrustEvent) {
	if err := b.DB.AppendEvent(ev); err != nil {
		log.Printf("audit gap: %s event for %s not recorded: %v", ev.Kind, ev.Ref, err)
	}
}

func scorable(a *model.Artifact) bool {
	return model.ValidCurves[a.Curve] && a.HalfLife > 0 && a.Trust >= 0 && a.Trust <= 1
}

func validateOutput(out *model.ProducerOutput) error {
	if out == nil {
		return fmt.Errorf("%w: nil output", ErrValidation)
	}
	if out.LoopID == "" {
		return fmt.Errorf("%w: loop_id required", ErrValidation)
	}
	if out.Component == "" {
		return fmt.Errorf("%w: component required", ErrValidation)
	}
	if !model.ValidCategories[out.Category] {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, out.Category)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return fmt.Errorf("%w: producer_confidence %f outside [0,1]", ErrValidation, out.Confidence)
	}
	if out.Consensus != nil && (*out.Consensus < 0 || *out.Consensus > 1) {
		return fmt.Errorf("%w: consensus_quality %f outside [0,1]", ErrValidation, *out.Consensus)
	}
	if out.Importance < 0 || out.Importance > 1 {
		return fmt.Errorf("%w: importance %f outside [0,1]", ErrValidation, out.Importance)
	}
	// Malformed decay configuration is a programming error caught here,
	// never later during decay application.
	if out.Curve != "" && !model.ValidCurves[out.Curve] {
		return fmt.Errorf("%w: unknown decay curve %q", ErrValidation, out.Curve)
	}
	if out.HalfLife < 0 {
		return fmt.Errorf("%w: negative half_life", ErrValidation)
	}
	if out.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", ErrValidation)
	}
	return nil
}

func mergeViolations(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
