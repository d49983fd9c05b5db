package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ambientlabs/halo/internal/mediation"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func receipt(id string, createdAt time.Time, weight float64) *mediation.Receipt {
	return &mediation.Receipt{
		ID:        id,
		EventID:   "ev-" + id,
		CreatedAt: createdAt,
		Weight:    weight,
		Findings: []mediation.Finding{
			{RuleID: "rule-1", Outcome: mediation.Aligned, RuleWeight: 1},
		},
	}
}

type archiveRecorder struct {
	archived []string
	fail     bool
}

func (a *archiveRecorder) Archive(r *mediation.Receipt) error {
	if a.fail {
		return fmt.Errorf("archive sink unavailable")
	}
	a.archived = append(a.archived, r.ID)
	return nil
}

func TestAppendAndWindowView(t *testing.T) {
	l := New(48*time.Hour, 0)
	now := t0.Add(48 * time.Hour)

	// Out of order appends; view must come back ascending.
	if err := l.Append(receipt("b", t0.Add(10*time.Hour), 1)); err != nil {
		t.Fatalf("Append b: %v", err)
	}
	if err := l.Append(receipt("a", t0.Add(2*time.Hour), 1)); err != nil {
		t.Fatalf("Append a: %v", err)
	}

	view := l.WindowView(now)
	if len(view) != 2 {
		t.Fatalf("view = %d entries, want 2", len(view))
	}
	if view[0].Receipt.ID != "a" || view[1].Receipt.ID != "b" {
		t.Errorf("view order = [%s %s], want [a b]", view[0].Receipt.ID, view[1].Receipt.ID)
	}
}

func TestAppendDuplicate(t *testing.T) {
	l := New(48*time.Hour, 0)
	r := receipt("dup", t0, 1)
	if err := l.Append(r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	err := l.Append(receipt("dup", t0.Add(time.Hour), 2))
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	var dup *DuplicateReceiptError
	if !errors.As(err, &dup) {
		t.Fatalf("error %v is not DuplicateReceiptError", err)
	}
	if dup.ReceiptID != "dup" {
		t.Errorf("ReceiptID = %q, want dup", dup.ReceiptID)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestWindowViewExcludesOldAndFuture(t *testing.T) {
	l := New(48*time.Hour, 0)
	now := t0.Add(50 * time.Hour)

	l.Append(receipt("old", t0, 1))                      // 50h old, outside
	l.Append(receipt("in", t0.Add(10*time.Hour), 1))     // 40h old, inside
	l.Append(receipt("future", t0.Add(60*time.Hour), 1)) // ahead of now

	view := l.WindowView(now)
	if len(view) != 1 || view[0].Receipt.ID != "in" {
		t.Fatalf("view = %+v, want only 'in'", view)
	}
}

func TestWindowViewRestartable(t *testing.T) {
	l := New(48*time.Hour, 0)
	l.Append(receipt("a", t0, 1))
	now := t0.Add(time.Hour)

	v1 := l.WindowView(now)
	v2 := l.WindowView(now)
	if len(v1) != 1 || len(v2) != 1 {
		t.Fatalf("views = %d/%d entries, want 1/1", len(v1), len(v2))
	}
	// Mutating a view must not leak into ledger state.
	v1[0].State = StateArchived
	if got := l.WindowView(now); len(got) != 1 {
		t.Error("ledger state changed through a view copy")
	}
}

func TestEvictExactlyOnce(t *testing.T) {
	l := New(48*time.Hour, 0)
	l.Append(receipt("old-1", t0, 1))
	l.Append(receipt("old-2", t0.Add(time.Hour), 1))
	l.Append(receipt("fresh", t0.Add(30*time.Hour), 1))

	sink := &archiveRecorder{}
	now := t0.Add(50 * time.Hour)

	archived, err := l.Evict(now, sink)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if archived != 2 {
		t.Errorf("archived = %d, want 2", archived)
	}
	if len(sink.archived) != 2 || sink.archived[0] != "old-1" || sink.archived[1] != "old-2" {
		t.Errorf("sink = %v, want [old-1 old-2]", sink.archived)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1 after eviction", l.Len())
	}

	// Second pass: nothing left to archive.
	archived, err = l.Evict(now, sink)
	if err != nil {
		t.Fatalf("Evict second pass: %v", err)
	}
	if archived != 0 || len(sink.archived) != 2 {
		t.Errorf("second pass archived %d (total %d), want 0 (total 2)", archived, len(sink.archived))
	}
}

func TestEvictRetriesFailedArchive(t *testing.T) {
	l := New(48*time.Hour, 0)
	l.Append(receipt("stuck", t0, 1))

	sink := &archiveRecorder{fail: true}
	now := t0.Add(50 * time.Hour)

	archived, err := l.Evict(now, sink)
	if err == nil {
		t.Fatal("expected error from failing archiver")
	}
	if archived != 0 {
		t.Errorf("archived = %d, want 0", archived)
	}
	// Entry must not be lost: still held, in expiring state.
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (entry kept for retry)", l.Len())
	}
	snap := l.Snapshot()
	if snap[0].State != StateExpiring {
		t.Errorf("state = %s, want expiring", snap[0].State)
	}
	// Expiring entries are out of the window view.
	if view := l.WindowView(now); len(view) != 0 {
		t.Errorf("view = %d entries, want 0", len(view))
	}

	// Next pass with a healthy sink completes the handoff.
	sink.fail = false
	archived, err = l.Evict(now, sink)
	if err != nil {
		t.Fatalf("Evict retry: %v", err)
	}
	if archived != 1 || l.Len() != 0 {
		t.Errorf("retry archived %d, len %d; want 1, 0", archived, l.Len())
	}
}

func TestEvictEnforcesCap(t *testing.T) {
	l := New(48*time.Hour, 2)
	now := t0.Add(10 * time.Hour)
	for i := 0; i < 4; i++ {
		l.Append(receipt(fmt.Sprintf("r%d", i), t0.Add(time.Duration(i)*time.Hour), 1))
	}

	sink := &archiveRecorder{}
	archived, err := l.Evict(now, sink)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if archived != 2 {
		t.Errorf("archived = %d, want 2 surplus entries", archived)
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want cap of 2", l.Len())
	}
	// Oldest went first.
	if sink.archived[0] != "r0" || sink.archived[1] != "r1" {
		t.Errorf("archived = %v, want oldest first", sink.archived)
	}
}
