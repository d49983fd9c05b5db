package constitution

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/ambientlabs/halo/internal/perception"
)

// Rule is one household rule. Condition is a CEL expression over the
// structured event fields (actor, claim_text, claim_type, confidence,
// timestamp, counterparts) that must evaluate to a boolean.
type Rule struct {
	ID        string                 `json:"rule_id"`
	AppliesTo []perception.ClaimType `json:"applies_to"`
	Condition string                 `json:"condition"`
	Weight    float64                `json:"weight"`
}

// AppliesToType reports whether the rule covers the given claim type.
func (r *Rule) AppliesToType(ct perception.ClaimType) bool {
	for _, t := range r.AppliesTo {
		if t == ct {
			return true
		}
	}
	return false
}

// Constitution is an immutable, versioned snapshot of the rule set.
// Receipts record the version they were judged against, so publishing a
// new constitution never rewrites history.
type Constitution struct {
	Version   int       `json:"version"`
	Rules     []Rule    `json:"rules"`
	CreatedAt time.Time `json:"created_at"`

	programs map[string]cel.Program
}

// InvalidRuleError reports a malformed rule rejected at publish time.
type InvalidRuleError struct {
	RuleID string
	Reason string
	Err    error
}

func (e *InvalidRuleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid rule %s: %s: %v", e.RuleID, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid rule %s: %s", e.RuleID, e.Reason)
}

func (e *InvalidRuleError) Unwrap() error { return e.Err }

// Eval runs the compiled condition of a rule against a structured event
// input. Returns an error for rules unknown to this snapshot or for
// runtime evaluation failures (type errors on dynamic input, cost limit).
func (c *Constitution) Eval(ruleID string, input map[string]any) (bool, error) {
	prg, ok := c.programs[ruleID]
	if !ok {
		return false, fmt.Errorf("rule %s not in constitution v%d", ruleID, c.Version)
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval rule %s: %w", ruleID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval rule %s: result is %T, want bool", ruleID, out.Value())
	}
	return b, nil
}

// EventInput builds the CEL activation map for an event.
func EventInput(ev *perception.Event) map[string]any {
	counterparts := ev.Counterparts
	if counterparts == nil {
		counterparts = []string{}
	}
	return map[string]any{
		"actor":        ev.Actor,
		"claim_text":   ev.ClaimText,
		"claim_type":   string(ev.ClaimType),
		"confidence":   ev.Confidence,
		"timestamp":    ev.Timestamp.Unix(),
		"counterparts": counterparts,
	}
}
