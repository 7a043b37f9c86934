package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opslayer/membank/internal/bank"
	"github.com/opslayer/membank/internal/model"
)

// storeRequest is the wire form of a producer output. Durations come in as
// hours so callers don't have to speak nanoseconds.
type storeRequest struct {
	LoopID     string          `json:"loop_id"`
	Component  string          `json:"component"`
	Category   string          `json:"category"`
	Payload    json.RawMessage `json:"payload"`
	Tags       []string        `json:"tags"`
	Domain     string          `json:"domain"`
	Importance float64         `json:"importance"`

	Confidence float64  `json:"producer_confidence"`
	Consensus  *float64 `json:"consensus_quality"`

	Compliant  *bool    `json:"constitutional_compliance"`
	Violations []string `json:"violations"`

	Curve         string  `json:"decay_curve"`
	HalfLifeHours float64 `json:"half_life_hours"`
	TTLHours      float64 `json:"ttl_hours"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	out := &model.ProducerOutput{
		LoopID:     req.LoopID,
		Component:  req.Component,
		Category:   model.Category(req.Category),
		Payload:    req.Payload,
		Tags:       req.Tags,
		Domain:     req.Domain,
		Importance: req.Importance,
		Confidence: req.Confidence,
		Consensus:  req.Consensus,
		Compliant:  req.Compliant,
		Violations: req.Violations,
		Curve:      model.Curve(req.Curve),
		HalfLife:   hours(req.HalfLifeHours),
		TTL:        hours(req.TTLHours),
	}

	ref, err := s.bank.Store(r.Context(), out)
	if err != nil {
		// A flagged artifact is still persisted; surface the ref so audit
		// tooling can chase it.
		if ref != nil && errors.Is(err, bank.ErrConstitutionalViolation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"ref":        ref.Reference,
				"created_at": ref.CreatedAt,
				"flagged":    true,
				"error":      err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ref":        ref.Reference,
		"created_at": ref.CreatedAt,
	})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	a, trust, err := s.bank.Get(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"artifact":      a,
		"current_trust": trust,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	var req struct {
		Outcome string `json:"outcome"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	trust, err := s.bank.UpdateTrust(r.Context(), ref, model.Outcome(req.Outcome), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ref":     ref,
		"outcome": req.Outcome,
		"trust":   trust,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	events, err := s.bank.TrustHistory(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    ref,
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()

	q := model.Query{
		Component:           qp.Get("component"),
		Category:            model.Category(qp.Get("category")),
		LoopID:              qp.Get("loop_id"),
		Domain:              qp.Get("domain"),
		Tag:                 qp.Get("tag"),
		MinTrust:            parseFloat(qp.Get("min_trust"), 0),
		K:                   parseInt(qp.Get("k"), 0),
		IncludeNonCompliant: qp.Get("include_non_compliant") == "true",
		IncludeArchived:     qp.Get("include_archived") == "true",
		RecencyWindow:       hours(parseFloat(qp.Get("window_hours"), 0)),
	}
	if q.Category != "" && !model.ValidCategories[q.Category] {
		http.Error(w, `{"error":"unknown category"}`, http.StatusBadRequest)
		return
	}

	// Relevance scoring is the caller's business; over HTTP the caller can
	// only assert a uniform relevance for whatever slice it filtered to.
	if rel := qp.Get("relevance"); rel != "" {
		v := parseFloat(rel, 0)
		q.Relevance = func(*model.Artifact) float64 { return v }
	}

	hits, err := s.bank.Read(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(hits),
		"hits":  hits,
	})
}

func (s *Server) handleGC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string  `json:"name"`
		ArchiveThreshold float64 `json:"archive_threshold"`
		DeleteThreshold  float64 `json:"delete_threshold"`
		MaxAgeHours      float64 `json:"max_age_hours"`
		MaxArtifacts     int     `json:"max_artifacts"`
		DryRun           bool    `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	entry, err := s.bank.GarbageCollect(r.Context(), model.GCPolicy{
		Name:             req.Name,
		ArchiveThreshold: req.ArchiveThreshold,
		DeleteThreshold:  req.DeleteThreshold,
		MaxAge:           hours(req.MaxAgeHours),
		MaxArtifacts:     req.MaxArtifacts,
		DryRun:           req.DryRun,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGCRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 0)

	runs, err := s.bank.DB.RecentGCRuns(limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(runs),
		"runs":  runs,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.bank.DB.CollectStats()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"artifacts":        stats,
		"skipped_unscored": s.bank.Skipped(),
	})
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
