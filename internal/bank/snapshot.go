package bank

import (
	"log"
	"time"

	"github.com/opslayer/membank/internal/model"
	"github.com/opslayer/membank/internal/scoring"
)

// Start runs a decay snapshot immediately and then on the configured
// interval. Decay is otherwise applied only at read time; the snapshot
// periodically folds it into the stored trust so the trust index and the
// ledger track reality.
func (b *Bank) Start() {
	if n, err := b.Snapshot(); err != nil {
		log.Printf("snapshot error: %v", err)
	} else if n > 0 {
		log.Printf("snapshot: rescored %d artifacts", n)
	}

	go func() {
		ticker := time.NewTicker(b.snapshotEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := b.Snapshot(); err != nil {
					log.Printf("snapshot error: %v", err)
				} else if n > 0 {
					log.Printf("snapshot: rescored %d artifacts", n)
				}
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the bank's background goroutines. Safe to call more
// than once.
func (b *Bank) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Snapshot persists the decayed composite for every live artifact whose
// trust has moved materially, appending a decay-snapshot event each time.
// Returns the number of artifacts rescored.
func (b *Bank) Snapshot() (int, error) {
	candidates, err := b.DB.SelectCandidates(storeFilterAllLive())
	if err != nil {
		return 0, err
	}

	rescored := 0
	for i := range candidates {
		ref := candidates[i].Ref
		if !scorable(&candidates[i]) {
			continue
		}

		unlock := b.locks.lock(ref)
		a, err := b.DB.GetArtifactForUpdate(ref)
		if err != nil || a == nil || a.Deleted {
			unlock()
			continue
		}

		now := b.now()
		decayed := scoring.ApplyDecay(a.Trust, a.DecayAge(now), a.Curve, a.HalfLife)
		if a.Trust-decayed < snapshotEpsilon {
			unlock()
			continue
		}

		stored := a.Trust
		a.Trust = decayed
		a.UpdatedAt = now
		a.RescoredAt = now
		if err := b.DB.UpdateTrustState(a); err != nil {
			unlock()
			log.Printf("snapshot: rescore %s: %v", ref, err)
			continue
		}
		unlock()

		b.audit(&model.TrustEvent{
			Ref:         ref,
			Kind:        model.EventDecaySnapshot,
			Reason:      "periodic decay snapshot",
			TrustBefore: stored,
			TrustAfter:  decayed,
			Deltas:      map[string]float64{"decay": decayed - stored},
			CreatedAt:   now,
		})
		rescored++
	}
	return rescored, nil
}
