package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ambientlabs/halo/internal/engine"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.New(engine.Options{}, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return New(eng, "test")
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func dishesRules() []map[string]any {
	return []map[string]any{{
		"rule_id":    "dishes-1",
		"applies_to": []string{"commitment"},
		"condition":  `claim_text.contains("dishes")`,
		"weight":     2,
	}}
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v, want status ok, version test", body)
	}
}

func TestConstitutionEmpty(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/constitution", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Version int `json:"version"`
	}
	decode(t, rec, &body)
	if body.Version != 0 {
		t.Errorf("version = %d, want 0 before any publish", body.Version)
	}
}

func TestPublishConstitution(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/constitution", map[string]any{"rules": dishesRules()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var created struct {
		Version   int `json:"version"`
		RuleCount int `json:"rule_count"`
	}
	decode(t, rec, &created)
	if created.Version != 1 || created.RuleCount != 1 {
		t.Errorf("created = %+v, want version 1, rule_count 1", created)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/constitution", nil)
	var active struct {
		Version int `json:"version"`
	}
	decode(t, rec, &active)
	if active.Version != 1 {
		t.Errorf("active version = %d, want 1", active.Version)
	}
}

func TestPublishInvalidRule(t *testing.T) {
	s := testServer(t)

	cases := []struct {
		name  string
		rules []map[string]any
	}{
		{"bad cel", []map[string]any{{
			"rule_id": "r1", "applies_to": []string{"commitment"},
			"condition": "claim_text ~~ nope", "weight": 1,
		}}},
		{"zero weight", []map[string]any{{
			"rule_id": "r1", "applies_to": []string{"commitment"},
			"condition": "true", "weight": 0,
		}}},
		{"unknown claim type", []map[string]any{{
			"rule_id": "r1", "applies_to": []string{"gossip"},
			"condition": "true", "weight": 1,
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/constitution", map[string]any{"rules": tc.rules})
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestPublishEmptyRules(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/constitution", map[string]any{"rules": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessEndpoint(t *testing.T) {
	s := testServer(t)
	doJSON(t, s, http.MethodPost, "/api/constitution", map[string]any{"rules": dishesRules()})

	rec := doJSON(t, s, http.MethodPost, "/api/process", map[string]any{
		"now": "2026-03-01T01:00:00Z",
		"events": []map[string]any{{
			"id":   "ev-1",
			"timestamp":  "2026-03-01T00:00:00Z",
			"actor":      "A",
			"claim_text": "I will do the dishes",
			"claim_type": "commitment",
			"confidence": 0.9,
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var result engine.Result
	decode(t, rec, &result)
	if len(result.Receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(result.Receipts))
	}
	if result.Receipts[0].ConstitutionVersion != 1 {
		t.Errorf("constitution_version = %d, want 1", result.Receipts[0].ConstitutionVersion)
	}
	if len(result.Receipts[0].Findings) != 1 {
		t.Errorf("findings = %d, want 1", len(result.Receipts[0].Findings))
	}
	if result.VibeScore <= 0 {
		t.Errorf("vibe = %v, want positive", result.VibeScore)
	}
}

func TestProcessEpochTimestamps(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/process", map[string]any{
		"now": 1772330400,
		"events": []map[string]any{{
			"id":   "ev-1",
			"timestamp":  1772326800,
			"claim_type": "presence",
			"confidence": 1,
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var result engine.Result
	decode(t, rec, &result)
	if len(result.Receipts) != 1 || len(result.Errors) != 0 {
		t.Errorf("receipts/errors = %d/%d, want 1/0: %s", len(result.Receipts), len(result.Errors), rec.Body)
	}
}

func TestProcessCollectsEventErrors(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/process", map[string]any{
		"now": "2026-03-01T01:00:00Z",
		"events": []map[string]any{
			{"id": "", "timestamp": "2026-03-01T00:00:00Z", "claim_type": "tone", "confidence": 0.5},
			{"id": "ev-ok", "timestamp": "2026-03-01T00:00:00Z", "claim_type": "tone", "confidence": 0.5},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with per-event errors: %s", rec.Code, rec.Body)
	}
	var result engine.Result
	decode(t, rec, &result)
	if len(result.Errors) != 1 || len(result.Receipts) != 1 {
		t.Errorf("errors/receipts = %d/%d, want 1/1", len(result.Errors), len(result.Receipts))
	}
}

func TestProcessBadJSON(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/process", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReadEndpointsRejectBadNow(t *testing.T) {
	s := testServer(t)
	for _, path := range []string{"/api/ledger", "/api/memory", "/api/vibe", "/api/history", "/api/export"} {
		rec := doJSON(t, s, http.MethodGet, path+"?now=banana", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 for malformed now", path, rec.Code)
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/history?now=2026-03-01T00:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var body struct {
		Receipts []json.RawMessage `json:"receipts"`
	}
	decode(t, rec, &body)
	if len(body.Receipts) != 0 {
		t.Errorf("receipts = %d, want 0 without persistence", len(body.Receipts))
	}

	rec = doJSON(t, s, http.MethodGet, "/api/history?since=nonsense", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed since", rec.Code)
	}
}

func TestReadEndpoints(t *testing.T) {
	s := testServer(t)
	doJSON(t, s, http.MethodPost, "/api/constitution", map[string]any{"rules": dishesRules()})
	doJSON(t, s, http.MethodPost, "/api/process", map[string]any{
		"now": "2026-03-01T01:00:00Z",
		"events": []map[string]any{{
			"id": "ev-1", "timestamp": "2026-03-01T00:00:00Z",
			"actor": "A", "claim_text": "I will do the dishes",
			"claim_type": "commitment", "confidence": 0.9,
		}},
	})

	now := "?now=2026-03-01T02:00:00Z"

	rec := doJSON(t, s, http.MethodGet, "/api/ledger"+now, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger status = %d, want 200", rec.Code)
	}
	var ledgerBody struct {
		Snapshot []engine.EntrySnapshot `json:"ledger_snapshot"`
	}
	decode(t, rec, &ledgerBody)
	if len(ledgerBody.Snapshot) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(ledgerBody.Snapshot))
	}

	rec = doJSON(t, s, http.MethodGet, "/api/vibe"+now, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("vibe status = %d, want 200", rec.Code)
	}
	var vibe struct {
		Score float64 `json:"vibe_score"`
		Level string  `json:"level"`
	}
	decode(t, rec, &vibe)
	if vibe.Score <= 0 || vibe.Level != "low" {
		t.Errorf("vibe = %+v, want positive score at level low", vibe)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/memory"+now, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("memory status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/export"+now, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d, want 200", rec.Code)
	}
	var export engine.ExportPayload
	decode(t, rec, &export)
	if export.PrivacyStatement == "" {
		t.Error("export missing privacy statement")
	}
	if len(export.Ledger) != 1 {
		t.Errorf("export ledger entries = %d, want 1", len(export.Ledger))
	}
}
