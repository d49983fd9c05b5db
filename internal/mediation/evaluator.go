package mediation

import (
	"fmt"
	"sort"

	"github.com/ambientlabs/halo/internal/constitution"
	"github.com/ambientlabs/halo/internal/perception"
)

// Outcome is the result of judging one rule against one event.
type Outcome string

const (
	Aligned      Outcome = "aligned"
	Violated     Outcome = "violated"
	Inconclusive Outcome = "inconclusive"
)

// Finding records how one rule judged one event. Findings are never
// stored on their own; they live inside the receipt they belong to.
type Finding struct {
	RuleID     string   `json:"rule_id"`
	Outcome    Outcome  `json:"outcome"`
	RuleWeight float64  `json:"rule_weight"`
	Evidence   []string `json:"evidence"` // event ids backing the finding
}

// EvaluationError reports a rule condition that could not be evaluated
// against an event. A data integrity fault, not a normal outcome: "no
// rule matched" is an empty findings list, never an error.
type EvaluationError struct {
	EventID string
	RuleID  string
	Err     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate event %s against rule %s: %v", e.EventID, e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Evaluator matches events against a constitution's rules.
type Evaluator struct {
	// MinConfidence is the floor below which a matching rule is judged
	// inconclusive without running its condition.
	MinConfidence float64
}

// Evaluate judges one event against every applicable rule in the given
// constitution. Findings come back ordered by descending rule weight,
// then ascending rule id, so evaluation is deterministic. A nil
// constitution (nothing published yet) yields no findings.
func (ev *Evaluator) Evaluate(event *perception.Event, c *constitution.Constitution) ([]Finding, error) {
	if c == nil {
		return nil, nil
	}

	var findings []Finding
	input := constitution.EventInput(event)

	for i := range c.Rules {
		rule := &c.Rules[i]
		if !rule.AppliesToType(event.ClaimType) {
			continue
		}

		outcome := Inconclusive
		if event.Confidence >= ev.MinConfidence {
			ok, err := c.Eval(rule.ID, input)
			if err != nil {
				return nil, &EvaluationError{EventID: event.ID, RuleID: rule.ID, Err: err}
			}
			if ok {
				outcome = Aligned
			} else {
				outcome = Violated
			}
		}

		findings = append(findings, Finding{
			RuleID:     rule.ID,
			Outcome:    outcome,
			RuleWeight: rule.Weight,
			Evidence:   evidenceFor(event),
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].RuleWeight != findings[j].RuleWeight {
			return findings[i].RuleWeight > findings[j].RuleWeight
		}
		return findings[i].RuleID < findings[j].RuleID
	})
	return findings, nil
}

func evidenceFor(event *perception.Event) []string {
	evidence := []string{event.ID}
	return append(evidence, event.Counterparts...)
}
