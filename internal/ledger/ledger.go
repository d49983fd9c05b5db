package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ambientlabs/halo/internal/mediation"
)

// State tracks where an entry is in its lifetime.
type State string

const (
	// StateActive: inside the window, contributes decayed weight.
	StateActive State = "active"
	// StateExpiring: past the window boundary, waiting on a successful
	// memory merge. Retried on the next eviction pass if the merge fails.
	StateExpiring State = "expiring"
	// StateArchived is terminal; archived entries are removed from the
	// ledger the moment they reach it, so it never appears in views.
	StateArchived State = "archived"
)

// Entry is a receipt plus its ledger lifecycle state. The decayed
// weight is computed at read time, never stored.
type Entry struct {
	Receipt *mediation.Receipt
	State   State
}

// DuplicateReceiptError reports an append with an already-present
// receipt id. Policy: duplicates are rejected, not treated as
// idempotent no-ops — a colliding id means the caller re-submitted a
// receipt it already got an answer for, and silently swallowing that
// would hide the bug.
type DuplicateReceiptError struct {
	ReceiptID string
}

func (e *DuplicateReceiptError) Error() string {
	return fmt.Sprintf("duplicate receipt %s", e.ReceiptID)
}

// StateCorruptionError reports a broken ledger/memory invariant. Fatal:
// it means a prior bug, so it is surfaced and never retried.
type StateCorruptionError struct {
	Detail string
}

func (e *StateCorruptionError) Error() string {
	return "state corruption: " + e.Detail
}

// Archiver receives receipts leaving the window. Archive must be
// durable before it returns nil; a non-nil error leaves the entry
// expiring in the ledger for a later retry.
type Archiver interface {
	Archive(r *mediation.Receipt) error
}

// Ledger is the rolling time-windowed store of fact receipts.
// Append-only: entries leave only through eviction into the archiver.
// A single RWMutex serializes writers against snapshot readers, so a
// reader sees either the pre- or post-eviction state, never a partial
// transition.
type Ledger struct {
	mu         sync.RWMutex
	window     time.Duration
	maxEntries int

	byID    map[string]*Entry
	ordered []*Entry // ascending CreatedAt
}

// New creates a ledger with the given window and entry cap. A cap of 0
// means uncapped.
func New(window time.Duration, maxEntries int) *Ledger {
	return &Ledger{
		window:     window,
		maxEntries: maxEntries,
		byID:       make(map[string]*Entry),
	}
}

// Window returns the configured window duration.
func (l *Ledger) Window() time.Duration { return l.window }

// Append adds a receipt as an active entry, keeping created_at order.
func (l *Ledger) Append(r *mediation.Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[r.ID]; exists {
		return &DuplicateReceiptError{ReceiptID: r.ID}
	}

	e := &Entry{Receipt: r, State: StateActive}
	l.byID[r.ID] = e

	i := sort.Search(len(l.ordered), func(i int) bool {
		return l.ordered[i].Receipt.CreatedAt.After(r.CreatedAt)
	})
	l.ordered = append(l.ordered, nil)
	copy(l.ordered[i+1:], l.ordered[i:])
	l.ordered[i] = e
	return nil
}

// Len returns the number of entries currently held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ordered)
}

// WindowView returns the active entries with created_at inside
// [now-window, now], ascending. The returned slice is a fresh copy:
// callers can iterate, restart, or hold it without observing later
// mutations.
func (l *Ledger) WindowView(now time.Time) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := now.Add(-l.window)
	view := make([]Entry, 0, len(l.ordered))
	for _, e := range l.ordered {
		at := e.Receipt.CreatedAt
		if e.State != StateActive || at.Before(cutoff) || at.After(now) {
			continue
		}
		view = append(view, *e)
	}
	return view
}

// Evict transitions every entry older than the window to expiring,
// hands each to the archiver, and removes it only once the archive
// succeeds (two-phase: no entry is ever lost between ledger and memory
// on a mid-compaction failure). Entries left expiring by an earlier
// failed pass are retried. If the ledger is over its cap after the
// window pass, the oldest surplus entries are evicted the same way.
// Returns the number archived; the first archive error is returned
// after the pass completes.
func (l *Ledger) Evict(now time.Time, archiver Archiver) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)

	// Phase one: mark.
	expiring := 0
	for _, e := range l.ordered {
		if e.State == StateExpiring {
			expiring++
			continue
		}
		if e.Receipt.CreatedAt.Before(cutoff) {
			e.State = StateExpiring
			expiring++
		}
	}
	if l.maxEntries > 0 && len(l.ordered)-expiring > l.maxEntries {
		surplus := len(l.ordered) - expiring - l.maxEntries
		for _, e := range l.ordered {
			if surplus == 0 {
				break
			}
			if e.State == StateActive {
				e.State = StateExpiring
				surplus--
			}
		}
	}

	// Phase two: archive, then drop. Ordered walk keeps the handoff
	// deterministic and oldest-first.
	archived := 0
	var firstErr error
	kept := l.ordered[:0]
	for _, e := range l.ordered {
		if e.State != StateExpiring {
			kept = append(kept, e)
			continue
		}
		if err := archiver.Archive(e.Receipt); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("archive receipt %s: %w", e.Receipt.ID, err)
			}
			kept = append(kept, e) // stays expiring, retried next pass
			continue
		}
		e.State = StateArchived
		delete(l.byID, e.Receipt.ID)
		archived++
	}
	l.ordered = kept
	return archived, firstErr
}

// Snapshot returns every entry (any state) ascending, for diagnostics
// and the read model.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.ordered))
	for i, e := range l.ordered {
		out[i] = *e
	}
	return out
}
