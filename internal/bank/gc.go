package bank

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opslayer/membank/internal/model"
	"github.com/opslayer/membank/internal/scoring"
	"github.com/opslayer/membank/internal/store"
)

// storeFilterAllLive selects every live artifact, compliance aside.
// Maintenance sweeps cover flagged artifacts too: they decay like any other.
func storeFilterAllLive() store.Filter {
	return store.Filter{IncludeNonCompliant: true}
}

// GarbageCollect sweeps live artifacts under the given policy. Each
// artifact's archive/delete decision commits independently, so the sweep
// cancels cleanly between artifacts: a ctx cancellation stops scheduling
// further artifacts and returns the partial summary with ctx's error.
//
// Idempotent: archived and deleted artifacts are excluded from the next
// scan, so an immediate re-run with the same policy touches nothing.
func (b *Bank) GarbageCollect(ctx context.Context, policy model.GCPolicy) (*model.GCLogEntry, error) {
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	started := time.Now()
	now := b.now()

	candidates, err := b.DB.SelectCandidates(storeFilterAllLive())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	entry := &model.GCLogEntry{
		RunID:            uuid.NewString(),
		Policy:           policy.Name,
		ArchiveThreshold: policy.ArchiveThreshold,
		DeleteThreshold:  policy.DeleteThreshold,
		DryRun:           policy.DryRun,
		CreatedAt:        now,
	}

	var survivors []scoring.Ranked
	var scanErr error

scan:
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			scanErr = err
			break scan
		}

		a := &candidates[i]
		entry.Scanned++

		trust := scoring.ApplyDecay(a.Trust, a.DecayAge(now), a.Curve, a.HalfLife)
		age := a.Age(now)

		switch {
		case trust < policy.DeleteThreshold:
			reason := fmt.Sprintf("trust %.3f below delete threshold %.3f", trust, policy.DeleteThreshold)
			if b.collect(a, model.EventGCDelete, reason, trust, policy.DryRun, now) {
				entry.Deleted++
			}
		case trust < policy.ArchiveThreshold,
			policy.MaxAge > 0 && age > policy.MaxAge,
			a.Expired(now):
			reason := fmt.Sprintf("trust %.3f below archive threshold %.3f", trust, policy.ArchiveThreshold)
			if trust >= policy.ArchiveThreshold {
				reason = fmt.Sprintf("age %s beyond retention", age.Truncate(time.Second))
			}
			if b.collect(a, model.EventGCArchive, reason, trust, policy.DryRun, now) {
				entry.Archived++
			}
		default:
			// Trust-led eviction rank for the capacity pass: no relevance,
			// no recency, importance as stored.
			rank := b.params.Rank(trust, 0, 0, a.Importance)
			survivors = append(survivors, scoring.Ranked{Artifact: a, Trust: trust, Rank: rank})
		}
	}

	// Capacity cap: evict the lowest-ranked survivors beyond the limit.
	if scanErr == nil && policy.MaxArtifacts > 0 && len(survivors) > policy.MaxArtifacts {
		sort.Slice(survivors, func(i, j int) bool { return scoring.Less(survivors[i], survivors[j]) })
		for _, r := range survivors[policy.MaxArtifacts:] {
			if err := ctx.Err(); err != nil {
				scanErr = err
				break
			}
			reason := fmt.Sprintf("evicted beyond capacity %d (rank %.3f)", policy.MaxArtifacts, r.Rank)
			if b.collect(r.Artifact, model.EventGCArchive, reason, r.Trust, policy.DryRun, now) {
				entry.Archived++
			}
		}
	}

	entry.Duration = time.Since(started)
	if err := b.DB.AppendGCRun(entry); err != nil {
		log.Printf("audit gap: gc run %s not recorded: %v", entry.RunID, err)
	}
	return entry, scanErr
}

// collect applies one archive/delete decision. Dry runs count without
// mutating or emitting ledger events. Returns whether the decision took
// effect (or would have, under dry-run).
func (b *Bank) collect(a *model.Artifact, kind model.EventKind, reason string, trust float64, dryRun bool, now time.Time) bool {
	if dryRun {
		return true
	}

	var err error
	if kind == model.EventGCDelete {
		err = b.DB.MarkDeleted(a.Ref, now)
	} else {
		err = b.DB.MarkArchived(a.Ref, now)
	}
	if err != nil {
		log.Printf("gc: %s %s: %v", kind, a.Ref, err)
		return false
	}

	b.audit(&model.TrustEvent{
		Ref:         a.Ref,
		Kind:        kind,
		Reason:      reason,
		TrustBefore: a.Trust,
		TrustAfter:  trust,
		Deltas:      map[string]float64{"decay": trust - a.Trust},
		CreatedAt:   now,
	})
	return true
}

func validatePolicy(p model.GCPolicy) error {
	if p.DeleteThreshold > p.ArchiveThreshold {
		return fmt.Errorf("%w: delete threshold %.3f above archive threshold %.3f",
			ErrPolicyConflict, p.DeleteThreshold, p.ArchiveThreshold)
	}
	if p.ArchiveThreshold < 0 || p.ArchiveThreshold > 1 || p.DeleteThreshold < 0 || p.DeleteThreshold > 1 {
		return fmt.Errorf("%w: thresholds outside [0,1]", ErrPolicyConflict)
	}
	if p.MaxAge < 0 {
		return fmt.Errorf("%w: negative max age", ErrPolicyConflict)
	}
	if p.MaxArtifacts < 0 {
		return fmt.Errorf("%w: negative artifact cap", ErrPolicyConflict)
	}
	return nil
}
