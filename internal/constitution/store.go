package constitution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/ambientlabs/halo/internal/perception"
)

// celCostLimit bounds condition evaluation so a pathological expression
// cannot stall a batch.
const celCostLimit = 10000

// Store holds every published constitution version. Versions are
// immutable once published; Publish is the only mutation path.
type Store struct {
	mu       sync.RWMutex
	env      *cel.Env
	versions []*Constitution
}

// NewStore creates a Store with the CEL environment for rule conditions.
func NewStore() (*Store, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.StringType),
		cel.Variable("claim_text", cel.StringType),
		cel.Variable("claim_type", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("counterparts", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	return &Store{env: env}, nil
}

// Active returns the most recently published constitution, or nil if
// nothing has been published yet.
func (s *Store) Active() *Constitution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return nil
	}
	return s.versions[len(s.versions)-1]
}

// Get returns a specific published version, or nil if unknown.
func (s *Store) Get(version int) *Constitution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.versions {
		if c.Version == version {
			return c
		}
	}
	return nil
}

// Versions returns the count of published versions.
func (s *Store) Versions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}

// Publish validates and compiles a rule set into a new immutable
// constitution version. On any invalid rule the whole set is rejected
// and nothing is applied. Existing receipts are unaffected.
func (s *Store) Publish(rules []Rule) (*Constitution, error) {
	compiled, err := s.compile(rules)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Constitution{
		Version:   len(s.versions) + 1,
		Rules:     append([]Rule(nil), rules...),
		CreatedAt: time.Now().UTC(),
		programs:  compiled,
	}
	s.versions = append(s.versions, c)
	return c, nil
}

// Restore re-publishes a persisted rule set at a given version, used
// when reloading state from the database at startup. Versions must be
// restored in ascending order before any new Publish.
func (s *Store) Restore(version int, rules []Rule, createdAt time.Time) error {
	compiled, err := s.compile(rules)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if version != len(s.versions)+1 {
		return fmt.Errorf("restore version %d out of order (have %d)", version, len(s.versions))
	}
	s.versions = append(s.versions, &Constitution{
		Version:   version,
		Rules:     append([]Rule(nil), rules...),
		CreatedAt: createdAt,
		programs:  compiled,
	})
	return nil
}

func (s *Store) compile(rules []Rule) (map[string]cel.Program, error) {
	compiled := make(map[string]cel.Program, len(rules))
	seen := make(map[string]bool, len(rules))

	for _, r := range rules {
		if r.ID == "" {
			return nil, &InvalidRuleError{RuleID: r.ID, Reason: "empty rule_id"}
		}
		if seen[r.ID] {
			return nil, &InvalidRuleError{RuleID: r.ID, Reason: "duplicate rule_id"}
		}
		seen[r.ID] = true

		if r.Weight <= 0 {
			return nil, &InvalidRuleError{RuleID: r.ID, Reason: fmt.Sprintf("non-positive weight %v", r.Weight)}
		}
		if len(r.AppliesTo) == 0 {
			return nil, &InvalidRuleError{RuleID: r.ID, Reason: "empty applies_to"}
		}
		for _, ct := range r.AppliesTo {
			if !perception.KnownClaimTypes[ct] {
				return nil, &InvalidRuleError{RuleID: r.ID, Reason: fmt.Sprintf("unknown claim_type %q", ct)}
			}
		}

		ast, issues := s.env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, &InvalidRuleError{RuleID: r.ID, Reason: "condition does not compile", Err: issues.Err()}
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, &InvalidRuleError{RuleID: r.ID, Reason: fmt.Sprintf("condition yields %s, want bool", ast.OutputType())}
		}

		prg, err := s.env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(celCostLimit),
		)
		if err != nil {
			return nil, &InvalidRuleError{RuleID: r.ID, Reason: "condition does not plan", Err: err}
		}
		compiled[r.ID] = prg
	}
	return compiled, nil
}
