package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ambientlabs/halo/internal/mediation"
)

// Summary is the compacted aggregate of receipts whose created_at fell
// inside one period. Open summaries accept merges; once closed they are
// immutable and carry a digest for long-term reference.
type Summary struct {
	PeriodStart        time.Time          `json:"period_start"`
	PeriodEnd          time.Time          `json:"period_end"`
	AggregatedFindings map[string]float64 `json:"aggregated_findings"`
	EntryCount         int                `json:"entry_count"`
	Closed             bool               `json:"closed"`
	Digest             string             `json:"digest,omitempty"`
}

// Memory holds period-bucketed summaries of receipts that left the
// ledger window. It implements Archiver: the ledger's eviction pass
// merges expiring receipts here before dropping them.
type Memory struct {
	mu        sync.RWMutex
	period    time.Duration
	buckets   map[int64]*Summary // key: period start, unix seconds
	closedCap int
}

// NewMemory creates a Memory with the given summary period (typically
// 24h) and a cap on retained closed summaries (0 = uncapped).
func NewMemory(period time.Duration, closedCap int) *Memory {
	return &Memory{
		period:    period,
		buckets:   make(map[int64]*Summary),
		closedCap: closedCap,
	}
}

// Period returns the summary period.
func (m *Memory) Period() time.Duration { return m.period }

// Archive merges a receipt's undecayed original weight into the summary
// bucket for the period containing its created_at. Each finding moves
// aggregated_findings[rule_id] by the receipt weight, signed by
// outcome: alignments add, violations subtract, inconclusives count
// only toward entry volume. Merging into a closed period is state
// corruption: eviction order guarantees receipts arrive before their
// period closes.
func (m *Memory) Archive(r *mediation.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := r.CreatedAt.Truncate(m.period)
	s, ok := m.buckets[start.Unix()]
	if !ok {
		s = &Summary{
			PeriodStart:        start,
			PeriodEnd:          start.Add(m.period),
			AggregatedFindings: make(map[string]float64),
		}
		m.buckets[start.Unix()] = s
	}
	if s.Closed {
		return &StateCorruptionError{
			Detail: fmt.Sprintf("receipt %s archived into closed period starting %s", r.ID, start.Format(time.RFC3339)),
		}
	}

	for _, f := range r.Findings {
		switch f.Outcome {
		case mediation.Aligned:
			s.AggregatedFindings[f.RuleID] += r.Weight
		case mediation.Violated:
			s.AggregatedFindings[f.RuleID] -= r.Weight
		}
	}
	s.EntryCount++
	return nil
}

// CloseBefore closes every period that ended at or before cutoff.
// Gaps between the earliest and latest known period are filled with
// empty closed summaries so the sequence stays contiguous. Closing is
// what freezes a summary and stamps its digest.
func (m *Memory) CloseBefore(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buckets) == 0 {
		return
	}

	first, last := m.span()
	for start := first; !start.After(last); start = start.Add(m.period) {
		s, ok := m.buckets[start.Unix()]
		if !ok {
			s = &Summary{
				PeriodStart:        start,
				PeriodEnd:          start.Add(m.period),
				AggregatedFindings: make(map[string]float64),
			}
			m.buckets[start.Unix()] = s
		}
		if !s.Closed && !s.PeriodEnd.After(cutoff) {
			s.Closed = true
			s.Digest = summaryDigest(s)
		}
	}

	m.enforceCap()
}

// ClosedAt reports whether the period containing t has already been
// closed. Receipts dated inside a closed period can never be merged,
// so callers use this to turn away late events before they enter the
// ledger.
func (m *Memory) ClosedAt(t time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.buckets[t.Truncate(m.period).Unix()]
	return ok && s.Closed
}

// Summaries returns every summary ascending by period start. Fresh
// copies: callers cannot mutate memory state through them.
func (m *Memory) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted()
}

// LastClosed returns up to n closed summaries, most recent last.
func (m *Memory) LastClosed(n int) []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var closed []Summary
	for _, s := range m.sorted() {
		if s.Closed {
			closed = append(closed, s)
		}
	}
	if n > 0 && len(closed) > n {
		closed = closed[len(closed)-n:]
	}
	return closed
}

// Restore loads a persisted summary, used at startup. Restored periods
// must not overlap existing ones.
func (m *Memory) Restore(s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.PeriodStart.Truncate(m.period).Unix()
	if !s.PeriodStart.Equal(s.PeriodStart.Truncate(m.period)) {
		return fmt.Errorf("restore summary: period start %s not aligned to %v", s.PeriodStart.Format(time.RFC3339), m.period)
	}
	if _, exists := m.buckets[key]; exists {
		return fmt.Errorf("restore summary: period starting %s already present", s.PeriodStart.Format(time.RFC3339))
	}
	cp := s
	cp.AggregatedFindings = make(map[string]float64, len(s.AggregatedFindings))
	for k, v := range s.AggregatedFindings {
		cp.AggregatedFindings[k] = v
	}
	m.buckets[key] = &cp
	return nil
}

// ValidateClosed checks the closed-summary invariants: sorted,
// non-overlapping, contiguous periods.
func (m *Memory) ValidateClosed() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var prev *Summary
	for _, s := range m.sorted() {
		if !s.Closed {
			continue
		}
		s := s
		if prev != nil && !prev.PeriodEnd.Equal(s.PeriodStart) {
			return &StateCorruptionError{
				Detail: fmt.Sprintf("closed periods not contiguous: %s then %s",
					prev.PeriodEnd.Format(time.RFC3339), s.PeriodStart.Format(time.RFC3339)),
			}
		}
		prev = &s
	}
	return nil
}

func (m *Memory) sorted() []Summary {
	out := make([]Summary, 0, len(m.buckets))
	for _, s := range m.buckets {
		cp := *s
		cp.AggregatedFindings = make(map[string]float64, len(s.AggregatedFindings))
		for k, v := range s.AggregatedFindings {
			cp.AggregatedFindings[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out
}

func (m *Memory) span() (first, last time.Time) {
	for key := range m.buckets {
		t := time.Unix(key, 0).UTC()
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	return first, last
}

func (m *Memory) enforceCap() {
	if m.closedCap <= 0 {
		return
	}
	var closed []int64
	for key, s := range m.buckets {
		if s.Closed {
			closed = append(closed, key)
		}
	}
	if len(closed) <= m.closedCap {
		return
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i] < closed[j] })
	for _, key := range closed[:len(closed)-m.closedCap] {
		delete(m.buckets, key)
	}
}

// summaryDigest is a short stable id for a frozen summary, in the
// spirit of content-addressed long-term memory.
func summaryDigest(s *Summary) string {
	// encoding/json sorts map keys, so the digest is stable.
	payload := struct {
		Start    int64              `json:"start"`
		End      int64              `json:"end"`
		Count    int                `json:"count"`
		Findings map[string]float64 `json:"findings"`
	}{s.PeriodStart.Unix(), s.PeriodEnd.Unix(), s.EntryCount, s.AggregatedFindings}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)[:12]
}
