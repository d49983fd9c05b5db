package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ambientlabs/halo/internal/constitution"
	"github.com/ambientlabs/halo/internal/ledger"
	"github.com/ambientlabs/halo/internal/perception"
)

func (s *Server) handleGetConstitution(w http.ResponseWriter, r *http.Request) {
	active := s.engine.Rules().Active()
	if active == nil {
		writeJSON(w, http.StatusOK, map[string]any{"version": 0, "rules": []constitution.Rule{}})
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handlePublishConstitution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules []constitution.Rule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Rules) == 0 {
		writeError(w, http.StatusBadRequest, "rules required")
		return
	}

	c, err := s.engine.Publish(req.Rules)
	if err != nil {
		var invalid *constitution.InvalidRuleError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"version":    c.Version,
		"rule_count": len(c.Rules),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []*perception.Event `json:"events"`
		Now    json.RawMessage     `json:"now,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	now := time.Now().UTC()
	if len(req.Now) > 0 {
		t, err := perception.ParseTimestamp(req.Now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid now: "+err.Error())
			return
		}
		if !t.IsZero() {
			now = t
		}
	}

	result, err := s.engine.Process(req.Events, now)
	if err != nil {
		// Only engine-level integrity faults reach here; per-event
		// failures come back inside the result.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	now, err := requestNow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	model, err := s.engine.ReadModel(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledger_snapshot": model.LedgerSnapshot})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	now, err := requestNow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	model, err := s.engine.ReadModel(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.MemorySnapshot)
}

func (s *Server) handleVibe(w http.ResponseWriter, r *http.Request) {
	now, err := requestNow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	model, err := s.engine.ReadModel(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vibe_score": model.VibeScore,
		"level":      ledger.VibeLevel(model.VibeScore),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	now, err := requestNow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since := now.Add(-30 * 24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = parseTimeParam(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	receipts, err := s.engine.History(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	now, err := requestNow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := s.engine.Export(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// requestNow reads an optional ?now= query parameter (RFC3339 or epoch
// seconds), defaulting to wall-clock time. Lets callers replay history
// and keeps handlers deterministic under test. A malformed value is an
// error, not a silent fallback: a typo'd replay query must not be
// answered as a live read.
func requestNow(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("now")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return parseTimeParam(raw)
}

func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := perception.ParseTimestamp(json.RawMessage(raw)); err == nil && !t.IsZero() {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time parameter %q", raw)
}
