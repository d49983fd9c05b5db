package perception

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClaimType classifies what a perception event asserts happened.
type ClaimType string

const (
	ClaimCommitment ClaimType = "commitment" // someone promised to do something
	ClaimCompletion ClaimType = "completion" // someone reports a task done
	ClaimTone       ClaimType = "tone"       // emotional register / tension signal
	ClaimPresence   ClaimType = "presence"   // someone was (or wasn't) there
	ClaimRequest    ClaimType = "request"    // someone asked for something
)

// KnownClaimTypes is the closed set of claim types the engine accepts.
var KnownClaimTypes = map[ClaimType]bool{
	ClaimCommitment: true,
	ClaimCompletion: true,
	ClaimTone:       true,
	ClaimPresence:   true,
	ClaimRequest:    true,
}

// Event is a structured claim about what happened, produced by the
// perception layer outside this engine. Immutable once produced.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	ClaimText    string    `json:"claim_text"`
	ClaimType    ClaimType `json:"claim_type"`
	Confidence   float64   `json:"confidence"`
	Counterparts []string  `json:"counterparts,omitempty"` // ids of related events, for relational rules

	// Tone events may carry an explicit tension reading.
	TensionLevel string   `json:"tension_level,omitempty"` // low | rising | high
	Signals      []string `json:"signals,omitempty"`
}

// Validate checks an event against the schema the engine requires.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s: missing timestamp", e.ID)
	}
	if !KnownClaimTypes[e.ClaimType] {
		return fmt.Errorf("event %s: unknown claim_type %q", e.ID, e.ClaimType)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("event %s: confidence %v outside [0,1]", e.ID, e.Confidence)
	}
	return nil
}

// UnmarshalJSON accepts timestamps as either RFC3339 strings or epoch
// seconds, since upstream producers emit both.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := struct {
		Timestamp json.RawMessage `json:"timestamp"`
		*alias
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Timestamp) == 0 {
		return nil
	}
	ts, err := ParseTimestamp(aux.Timestamp)
	if err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Timestamp = ts
	return nil
}

// ParseTimestamp parses a JSON timestamp value: an RFC3339 string or a
// numeric epoch (seconds, fractional allowed).
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", str, err)
		}
		return t.UTC(), nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	sec := int64(secs)
	nsec := int64((secs - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}
