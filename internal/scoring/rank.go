package scoring

import (
	"time"

	"github.com/opslayer/membank/internal/model"
)

// Rank blends trust, relevance, recency and importance into the retrieval
// score used to order read results.
func (p Params) Rank(trust, relevance, recency, importance float64) float64 {
	return clamp01(trust)*p.TrustWeight +
		clamp01(relevance)*p.RelevanceWeight +
		clamp01(recency)*p.RecencyWeight +
		clamp01(importance)*p.ImportanceWeight
}

// Recency maps an age onto [0,1]: 1 at age 0, 0 at or beyond the window.
func Recency(age, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	if age <= 0 {
		return 1
	}
	return clamp01(1 - float64(age)/float64(window))
}

// Ranked pairs an artifact with its computed scores for ordering.
type Ranked struct {
	Artifact *model.Artifact
	Trust    float64
	Rank     float64
}

// Less orders two ranked artifacts: rank desc, then trust desc, then
// created_at desc, then reference asc. Fully deterministic.
func Less(a, b Ranked) bool {
	if a.Rank != b.Rank {
		return a.Rank > b.Rank
	}
	if a.Trust != b.Trust {
		return a.Trust > b.Trust
	}
	if !a.Artifact.CreatedAt.Equal(b.Artifact.CreatedAt) {
		return a.Artifact.CreatedAt.After(b.Artifact.CreatedAt)
	}
	return a.Artifact.Ref < b.Artifact.Ref
}
