package ledger

import (
	"math"
	"sort"
	"time"
)

// VibeParams tunes the vibe computation. The score itself is a pure
// function of ledger + memory state: no accumulator survives between
// calls, so recomputing on unchanged state is bit-identical.
type VibeParams struct {
	// RecentPeriods is how many of the most recent closed summaries
	// contribute long-term context.
	RecentPeriods int
	// MemoryWeight scales the long-term contribution against the live
	// ledger contribution.
	MemoryWeight float64
	// Scale is the squash factor: raw scores around ±Scale map near ±1.
	Scale float64
}

// DefaultVibeParams mirror the 30-day context window of the original
// retention policy: thirty daily summaries, weighted half as much as
// what happened inside the live window.
func DefaultVibeParams() VibeParams {
	return VibeParams{RecentPeriods: 30, MemoryWeight: 0.5, Scale: 10}
}

// VibeScore derives the current tension scalar in [-1, 1] from the
// decayed weights of active ledger entries and a recency-weighted
// combination of the last N closed memory summaries. Positive means
// the household is aligned; negative means violations dominate.
func VibeScore(now time.Time, l *Ledger, m *Memory, decay DecayFunc, params VibeParams) (float64, error) {
	if err := m.ValidateClosed(); err != nil {
		return 0, err
	}

	var raw float64

	// Live term: per-receipt signed alignment, faded by age.
	for _, e := range l.WindowView(now) {
		age := now.Sub(e.Receipt.CreatedAt)
		if age < 0 {
			age = 0
		}
		raw += decay(age) * e.Receipt.NetAlignment()
	}

	// Long-term term: closed summaries, most recent weighted highest
	// (geometric falloff per period of distance).
	closed := m.LastClosed(params.RecentPeriods)
	for i := len(closed) - 1; i >= 0; i-- {
		s := closed[i]
		recency := math.Pow(0.5, float64(len(closed)-1-i))
		raw += params.MemoryWeight * recency * summaryNet(&s)
	}

	scale := params.Scale
	if scale <= 0 {
		scale = 1
	}
	return math.Tanh(raw / scale), nil
}

// summaryNet sums a summary's signed aggregated findings in sorted rule
// order. Fixed iteration order keeps float addition, and therefore the
// vibe score, deterministic.
func summaryNet(s *Summary) float64 {
	keys := make([]string, 0, len(s.AggregatedFindings))
	for k := range s.AggregatedFindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var net float64
	for _, k := range keys {
		net += s.AggregatedFindings[k]
	}
	if s.EntryCount > 0 {
		net /= float64(s.EntryCount)
	}
	return net
}

// VibeLevel buckets a score into the coarse levels the notification
// layer understands.
func VibeLevel(score float64) string {
	switch {
	case score <= -0.5:
		return "high"
	case score < -0.1:
		return "rising"
	default:
		return "low"
	}
}
