package mediation

import (
	"time"

	"github.com/google/uuid"

	"github.com/ambientlabs/halo/internal/perception"
)

// Receipt is the immutable record of one event judged against one
// constitution version. Corrections are new events and new receipts;
// a receipt is never edited after composition.
type Receipt struct {
	ID                  string    `json:"receipt_id"`
	EventID             string    `json:"event_id"`
	Actor               string    `json:"actor"`
	ClaimText           string    `json:"claim_text"`
	ConstitutionVersion int       `json:"constitution_version"`
	Findings            []Finding `json:"findings"`
	CreatedAt           time.Time `json:"created_at"`
	Weight              float64   `json:"weight"`
}

// BaselineWeight is the salience of a receipt no rule fired on.
const BaselineWeight = 1.0

// ScoreFunc computes a receipt's initial salience from its findings.
type ScoreFunc func(findings []Finding) float64

// DefaultScore starts from the baseline and adds each finding's rule
// weight scaled by outcome: a violation counts full, an alignment half,
// an inconclusive a quarter. Violations matter more because they are
// what the household needs surfaced.
func DefaultScore(findings []Finding) float64 {
	w := BaselineWeight
	for _, f := range findings {
		switch f.Outcome {
		case Violated:
			w += f.RuleWeight
		case Aligned:
			w += 0.5 * f.RuleWeight
		case Inconclusive:
			w += 0.25 * f.RuleWeight
		}
	}
	return w
}

// Compose builds an immutable receipt for an event and its findings.
// CreatedAt is anchored to the event's own timestamp so the ledger
// window reflects when things happened, not when they were processed;
// events without a timestamp fall back to now. Pure apart from the id
// allocation.
func Compose(event *perception.Event, findings []Finding, version int, score ScoreFunc, now time.Time) *Receipt {
	if score == nil {
		score = DefaultScore
	}
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = now
	}
	if findings == nil {
		findings = []Finding{}
	}
	return &Receipt{
		ID:                  uuid.NewString(),
		EventID:             event.ID,
		Actor:               event.Actor,
		ClaimText:           event.ClaimText,
		ConstitutionVersion: version,
		Findings:            findings,
		CreatedAt:           createdAt.UTC(),
		Weight:              score(findings),
	}
}

// NetAlignment is the signed rule-weight balance of a receipt's
// findings: alignments add, violations subtract, inconclusives are
// neutral. Used by the vibe computation.
func (r *Receipt) NetAlignment() float64 {
	var net float64
	for _, f := range r.Findings {
		switch f.Outcome {
		case Aligned:
			net += f.RuleWeight
		case Violated:
			net -= f.RuleWeight
		}
	}
	return net
}
