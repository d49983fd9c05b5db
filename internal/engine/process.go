package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ambientlabs/halo/internal/ledger"
	"github.com/ambientlabs/halo/internal/mediation"
	"github.com/ambientlabs/halo/internal/perception"
)

// EventError is a per-event failure collected during a batch. The batch
// itself continues; only engine-level integrity faults abort it.
type EventError struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// EntrySnapshot is one ledger entry as exposed in the read model.
type EntrySnapshot struct {
	ReceiptID     string    `json:"receipt_id"`
	EventID       string    `json:"event_id"`
	CreatedAt     time.Time `json:"created_at"`
	Weight        float64   `json:"weight"`
	DecayedWeight float64   `json:"decayed_weight"`
	State         string    `json:"state"`
}

// MemorySnapshot is the long-term side of the read model.
type MemorySnapshot struct {
	Summaries   []ledger.Summary `json:"summaries"`
	VibeHistory []VibePoint      `json:"vibe_history"`
}

// Result is the combined read model returned by Process. Its shape is
// stable and JSON round-trippable; the export/UI layer serializes it
// as-is.
type Result struct {
	Receipts       []*mediation.Receipt `json:"receipts"`
	LedgerSnapshot []EntrySnapshot      `json:"ledger_snapshot"`
	MemorySnapshot MemorySnapshot       `json:"memory_snapshot"`
	VibeScore      float64              `json:"vibe_score"`
	Errors         []EventError         `json:"errors"`
}

// Process ingests a batch of perception events: each is validated,
// evaluated against the active constitution, composed into a receipt,
// and appended to the ledger, in submission order. Per-event failures
// are collected, never raised. Eviction runs once per batch, after all
// appends. The returned error is reserved for engine-level integrity
// faults (state corruption), which abort the batch.
func (e *Engine) Process(events []*perception.Event, now time.Time) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := &Result{
		Receipts: []*mediation.Receipt{},
		Errors:   []EventError{},
	}

	active := e.rules.Active()
	version := 0
	if active != nil {
		version = active.Version
	}

	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			res.Errors = append(res.Errors, EventError{EventID: ev.ID, Error: err.Error()})
			continue
		}
		// A receipt dated inside an already-closed period could never be
		// compacted, so the event is a per-event failure, not an append.
		if e.memory.ClosedAt(ev.Timestamp) {
			res.Errors = append(res.Errors, EventError{
				EventID: ev.ID,
				Error:   fmt.Sprintf("event %s: timestamp %s falls in a closed memory period", ev.ID, ev.Timestamp.Format(time.RFC3339)),
			})
			continue
		}

		findings, err := e.evaluator.Evaluate(ev, active)
		if err != nil {
			res.Errors = append(res.Errors, EventError{EventID: ev.ID, Error: err.Error()})
			continue
		}

		receipt := mediation.Compose(ev, findings, version, e.opts.Score, now)
		if err := e.ledger.Append(receipt); err != nil {
			res.Errors = append(res.Errors, EventError{EventID: ev.ID, Error: err.Error()})
			continue
		}
		res.Receipts = append(res.Receipts, receipt)
	}

	// One eviction pass per batch, observing every append above.
	archived, err := e.ledger.Evict(now, e.archiver())
	if err != nil {
		var corrupt *ledger.StateCorruptionError
		if errors.As(err, &corrupt) {
			return nil, err
		}
		// Non-fatal archive failure: entries stay expiring and will be
		// retried on the next pass.
		log.Printf("evict: %v", err)
	}
	if archived > 0 {
		log.Printf("evict: archived %d receipts", archived)
	}
	e.memory.CloseBefore(now.Add(-e.opts.Window))
	e.persistSummaries()

	score, err := ledger.VibeScore(now, e.ledger, e.memory, e.opts.Decay, e.opts.Vibe)
	if err != nil {
		return nil, err
	}
	e.recordVibe(events, now, score)

	res.VibeScore = score
	res.LedgerSnapshot = e.ledgerSnapshot(now)
	res.MemorySnapshot = e.memorySnapshot()
	return res, nil
}

// ReadModel returns the current combined state without ingesting
// anything. No eviction runs; the view reflects the last batch.
func (e *Engine) ReadModel(now time.Time) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	score, err := ledger.VibeScore(now, e.ledger, e.memory, e.opts.Decay, e.opts.Vibe)
	if err != nil {
		return nil, err
	}
	return &Result{
		Receipts:       []*mediation.Receipt{},
		LedgerSnapshot: e.ledgerSnapshot(now),
		MemorySnapshot: e.memorySnapshot(),
		VibeScore:      score,
		Errors:         []EventError{},
	}, nil
}

// archiver wires the two-phase eviction handoff: the memory merge is
// the phase that must succeed before the ledger drops an entry; the
// receipt archive row is best-effort durability on top.
func (e *Engine) archiver() ledger.Archiver {
	return archiveFunc(func(r *mediation.Receipt) error {
		if err := e.memory.Archive(r); err != nil {
			return err
		}
		if e.db != nil {
			if err := e.db.ArchiveReceipt(r); err != nil {
				log.Printf("persist receipt %s: %v", r.ID, err)
			}
		}
		return nil
	})
}

type archiveFunc func(r *mediation.Receipt) error

func (f archiveFunc) Archive(r *mediation.Receipt) error { return f(r) }

func (e *Engine) recordVibe(events []*perception.Event, now time.Time, score float64) {
	level, notify := perception.TensionLevel(events)
	if level == perception.TensionUnknown {
		// No explicit tone reading; derive the level from the score.
		level = ledger.VibeLevel(score)
	}

	point := VibePoint{Timestamp: now.UTC(), Score: score, Level: level, Notify: notify}
	e.history = append(e.history, point)
	e.pruneHistory(now)

	if e.db != nil {
		if err := e.db.AddVibePoint(point.Timestamp, point.Score, point.Level, point.Notify); err != nil {
			log.Printf("persist vibe point: %v", err)
		}
		if _, err := e.db.PruneVibePoints(now.Add(-e.opts.HistoryWindow)); err != nil {
			log.Printf("prune vibe points: %v", err)
		}
	}
}

// History returns receipts archived out of the live window with
// created_at at or after since, oldest first. Empty without a database.
func (e *Engine) History(since time.Time) ([]*mediation.Receipt, error) {
	if e.db == nil {
		return []*mediation.Receipt{}, nil
	}
	receipts, err := e.db.ArchivedReceipts(since)
	if err != nil {
		return nil, err
	}
	if receipts == nil {
		receipts = []*mediation.Receipt{}
	}
	return receipts, nil
}

func (e *Engine) persistSummaries() {
	if e.db == nil {
		return
	}
	for _, s := range e.memory.Summaries() {
		if err := e.db.UpsertSummary(s); err != nil {
			log.Printf("persist summary %s: %v", s.PeriodStart.Format(time.RFC3339), err)
		}
	}
}

func (e *Engine) ledgerSnapshot(now time.Time) []EntrySnapshot {
	entries := e.ledger.Snapshot()
	out := make([]EntrySnapshot, len(entries))
	for i, entry := range entries {
		out[i] = EntrySnapshot{
			ReceiptID:     entry.Receipt.ID,
			EventID:       entry.Receipt.EventID,
			CreatedAt:     entry.Receipt.CreatedAt,
			Weight:        entry.Receipt.Weight,
			DecayedWeight: entry.DecayedWeight(now, e.opts.Decay),
			State:         string(entry.State),
		}
	}
	return out
}

func (e *Engine) memorySnapshot() MemorySnapshot {
	history := make([]VibePoint, len(e.history))
	copy(history, e.history)
	summaries := e.memory.Summaries()
	if summaries == nil {
		summaries = []ledger.Summary{}
	}
	return MemorySnapshot{Summaries: summaries, VibeHistory: history}
}

// ExportPayload is the downloadable bundle: everything a household
// would take with them. Derived state only; no raw transcripts.
type ExportPayload struct {
	Ledger           []EntrySnapshot  `json:"ledger_48h"`
	VibeHistory      []VibePoint      `json:"vibe_history_30d"`
	Summaries        []ledger.Summary `json:"summaries_30d"`
	VibeScore        float64          `json:"vibe_score"`
	PrivacyStatement string           `json:"privacy_statement"`
}

// Export builds the export bundle from current state.
func (e *Engine) Export(now time.Time) (*ExportPayload, error) {
	model, err := e.ReadModel(now)
	if err != nil {
		return nil, err
	}
	return &ExportPayload{
		Ledger:           model.LedgerSnapshot,
		VibeHistory:      model.MemorySnapshot.VibeHistory,
		Summaries:        model.MemorySnapshot.Summaries,
		VibeScore:        model.VibeScore,
		PrivacyStatement: "Derived claims and receipts only. No raw audio, video, or identity data is stored.",
	}, nil
}

// String renders a short state description for logs.
func (e *Engine) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("engine(window=%s entries=%d summaries=%d)",
		e.opts.Window, e.ledger.Len(), len(e.memory.Summaries()))
}
