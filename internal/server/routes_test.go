package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opslayer/membank/internal/bank"
	"github.com/opslayer/membank/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(bank.New(db, nil), "test")
}

func postJSON(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func storeArtifact(t *testing.T, srv *Server, body string) string {
	t.Helper()
	w := postJSON(t, srv, "/api/artifacts", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("store: status = %d, body: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	ref, _ := resp["ref"].(string)
	if ref == "" {
		t.Fatalf("store: no ref in response: %s", w.Body.String())
	}
	return ref
}

const sampleBody = `{
	"loop_id": "loop-1",
	"component": "hunter",
	"category": "reasoning",
	"payload": {"plan": "flank left"},
	"producer_confidence": 0.9,
	"consensus_quality": 0.8
}`

func TestHealth(t *testing.T) {
	srv := testServer(t)

	w := get(t, srv, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["db"] != true {
		t.Errorf("db = %v, want true", resp["db"])
	}
}

func TestStoreArtifact(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/artifacts", sampleBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["ref"] == "" {
		t.Error("expected a ref in the response")
	}
}

func TestStoreArtifactInvalid(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/artifacts", "not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = postJSON(t, srv, "/api/artifacts", `{"component":"c","category":"reasoning"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing loop_id: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = postJSON(t, srv, "/api/artifacts", `{"loop_id":"l","component":"c","category":"sorcery"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad category: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStoreArtifactFlagged(t *testing.T) {
	srv := testServer(t)

	body := `{
		"loop_id": "loop-1",
		"component": "rogue",
		"category": "decision",
		"producer_confidence": 0.9,
		"constitutional_compliance": false,
		"violations": ["unauthorized action"]
	}`
	w := postJSON(t, srv, "/api/artifacts", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["flagged"] != true {
		t.Errorf("flagged = %v, want true", resp["flagged"])
	}
	ref, _ := resp["ref"].(string)
	if ref == "" {
		t.Fatal("flagged response should still carry the ref")
	}

	// The flagged artifact is retrievable by ref for audit.
	w = get(t, srv, "/api/artifacts/"+ref)
	if w.Code != http.StatusOK {
		t.Errorf("get flagged: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestGetArtifact(t *testing.T) {
	srv := testServer(t)
	ref := storeArtifact(t, srv, sampleBody)

	w := get(t, srv, "/api/artifacts/"+ref)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		CurrentTrust float64        `json:"current_trust"`
		Artifact     map[string]any `json:"artifact"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.CurrentTrust <= 0 {
		t.Errorf("current_trust = %f, want > 0", resp.CurrentTrust)
	}
	if resp.Artifact["component"] != "hunter" {
		t.Errorf("component = %v, want hunter", resp.Artifact["component"])
	}
}

func TestGetArtifactNotFound(t *testing.T) {
	srv := testServer(t)

	w := get(t, srv, "/api/artifacts/ghost")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRead(t *testing.T) {
	srv := testServer(t)
	storeArtifact(t, srv, sampleBody)
	storeArtifact(t, srv, `{
		"loop_id": "loop-1",
		"component": "drone",
		"category": "observation",
		"producer_confidence": 0.5
	}`)

	w := get(t, srv, "/api/read?component=hunter")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Count int `json:"count"`
		Hits  []struct {
			Ref       string  `json:"reference"`
			Trust     float64 `json:"trust"`
			Rank      float64 `json:"rank"`
			Component string  `json:"component"`
		} `json:"hits"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1; body: %s", resp.Count, w.Body.String())
	}
	if resp.Hits[0].Component != "hunter" {
		t.Errorf("component = %s, want hunter", resp.Hits[0].Component)
	}
	if resp.Hits[0].Trust <= 0 || resp.Hits[0].Rank <= 0 {
		t.Errorf("trust/rank = %f/%f, want positive", resp.Hits[0].Trust, resp.Hits[0].Rank)
	}
}

func TestReadMinTrustFloor(t *testing.T) {
	srv := testServer(t)
	storeArtifact(t, srv, sampleBody)

	w := get(t, srv, "/api/read?component=hunter&min_trust=0.99")
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0 above the floor", resp.Count)
	}
}

func TestReadBadCategory(t *testing.T) {
	srv := testServer(t)

	w := get(t, srv, "/api/read?category=sorcery")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFeedback(t *testing.T) {
	srv := testServer(t)
	ref := storeArtifact(t, srv, sampleBody)

	w := postJSON(t, srv, "/api/artifacts/"+ref+"/feedback", `{"outcome":"success","reason":"plan worked"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["outcome"] != "success" {
		t.Errorf("outcome = %v", resp["outcome"])
	}
	trust, _ := resp["trust"].(float64)
	if trust <= 0 || trust > 1 {
		t.Errorf("trust = %f, want in (0,1]", trust)
	}
}

func TestFeedbackBadOutcome(t *testing.T) {
	srv := testServer(t)
	ref := storeArtifact(t, srv, sampleBody)

	w := postJSON(t, srv, "/api/artifacts/"+ref+"/feedback", `{"outcome":"shrug"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFeedbackNotFound(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/artifacts/ghost/feedback", `{"outcome":"success"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHistory(t *testing.T) {
	srv := testServer(t)
	ref := storeArtifact(t, srv, sampleBody)
	postJSON(t, srv, "/api/artifacts/"+ref+"/feedback", `{"outcome":"failure","reason":"backfired"}`)

	w := get(t, srv, "/api/artifacts/"+ref+"/history")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Count  int `json:"count"`
		Events []struct {
			Kind   string `json:"kind"`
			Reason string `json:"reason"`
		} `json:"events"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Fatalf("count = %d, want create+failure", resp.Count)
	}
	if resp.Events[0].Kind != "create" || resp.Events[1].Kind != "failure" {
		t.Errorf("kinds = %s, %s", resp.Events[0].Kind, resp.Events[1].Kind)
	}
	if resp.Events[1].Reason != "backfired" {
		t.Errorf("reason = %q", resp.Events[1].Reason)
	}
}

func TestHistoryNotFound(t *testing.T) {
	srv := testServer(t)

	w := get(t, srv, "/api/artifacts/ghost/history")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGCSweep(t *testing.T) {
	srv := testServer(t)
	storeArtifact(t, srv, sampleBody)

	w := postJSON(t, srv, "/api/gc", `{"name":"standard","archive_threshold":0.2,"delete_threshold":0.1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var entry struct {
		RunID   string `json:"run_id"`
		Scanned int    `json:"scanned"`
	}
	json.Unmarshal(w.Body.Bytes(), &entry)
	if entry.RunID == "" || entry.Scanned != 1 {
		t.Errorf("entry = %+v, want run_id and scanned 1", entry)
	}

	// The run shows up in the log.
	w = get(t, srv, "/api/gc/runs")
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("runs = %d, want 1", resp.Count)
	}
}

func TestGCPolicyConflict(t *testing.T) {
	srv := testServer(t)

	w := postJSON(t, srv, "/api/gc", `{"archive_threshold":0.1,"delete_threshold":0.5}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestStats(t *testing.T) {
	srv := testServer(t)
	for i := 0; i < 3; i++ {
		storeArtifact(t, srv, fmt.Sprintf(`{
			"loop_id": "loop-%d",
			"component": "hunter",
			"category": "reasoning",
			"producer_confidence": 0.9
		}`, i))
	}

	w := get(t, srv, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Artifacts struct {
			Total int `json:"total"`
			Live  int `json:"live"`
		} `json:"artifacts"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Artifacts.Total != 3 || resp.Artifacts.Live != 3 {
		t.Errorf("stats = %+v, want 3 total, 3 live", resp.Artifacts)
	}
}
