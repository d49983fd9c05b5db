package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ambientlabs/halo/internal/constitution"
	"github.com/ambientlabs/halo/internal/ledger"
	"github.com/ambientlabs/halo/internal/mediation"
	"github.com/ambientlabs/halo/internal/store"
)

// Options configure an Engine. Zero values fall back to the defaults
// below, which match the original retention policy: 48h ledger window,
// daily summaries, 30 days of long-term context.
type Options struct {
	Window        time.Duration
	MaxEntries    int
	SummaryPeriod time.Duration
	ClosedCap     int
	MinConfidence float64
	Decay         ledger.DecayFunc
	Score         mediation.ScoreFunc
	Vibe          ledger.VibeParams

	HistoryWindow time.Duration
	HistoryCap    int
}

func (o *Options) fill() {
	if o.Window == 0 {
		o.Window = 48 * time.Hour
	}
	if o.MaxEntries == 0 {
		o.MaxEntries = 200
	}
	if o.SummaryPeriod == 0 {
		o.SummaryPeriod = 24 * time.Hour
	}
	if o.ClosedCap == 0 {
		o.ClosedCap = 500
	}
	if o.MinConfidence == 0 {
		o.MinConfidence = 0.4
	}
	if o.Decay == nil {
		o.Decay = ledger.ExponentialDecay(24*time.Hour, 0.1)
	}
	if o.Score == nil {
		o.Score = mediation.DefaultScore
	}
	if o.Vibe == (ledger.VibeParams{}) {
		o.Vibe = ledger.DefaultVibeParams()
	}
	if o.HistoryWindow == 0 {
		o.HistoryWindow = 30 * 24 * time.Hour
	}
	if o.HistoryCap == 0 {
		o.HistoryCap = 2000
	}
}

// VibePoint is one observation of the household tension level.
type VibePoint struct {
	Timestamp time.Time `json:"ts_utc"`
	Score     float64   `json:"score"`
	Level     string    `json:"level"` // low | rising | high | unknown
	Notify    bool      `json:"notify"`
}

// Engine drives the mediation pipeline end to end: evaluate events
// against the active constitution, compose receipts, append to the
// ledger, compact the window into memory, and expose the combined read
// model. It is the only component external callers talk to. A single
// mutex serializes batches; all computation is in-memory.
type Engine struct {
	mu sync.Mutex

	opts      Options
	rules     *constitution.Store
	evaluator *mediation.Evaluator
	ledger    *ledger.Ledger
	memory    *ledger.Memory

	history []VibePoint

	db *store.DB // optional durability layer; nil in pure in-memory mode
}

// New creates an Engine. db may be nil; when set, published
// constitutions, closed summaries, archived receipts, and vibe points
// are persisted, and prior state is restored on startup.
func New(opts Options, db *store.DB) (*Engine, error) {
	opts.fill()

	rules, err := constitution.NewStore()
	if err != nil {
		return nil, fmt.Errorf("constitution store: %w", err)
	}

	e := &Engine{
		opts:      opts,
		rules:     rules,
		evaluator: &mediation.Evaluator{MinConfidence: opts.MinConfidence},
		ledger:    ledger.New(opts.Window, opts.MaxEntries),
		memory:    ledger.NewMemory(opts.SummaryPeriod, opts.ClosedCap),
		db:        db,
	}

	if db != nil {
		if err := e.restore(); err != nil {
			return nil, fmt.Errorf("restore state: %w", err)
		}
	}
	return e, nil
}

// Rules exposes the constitution store read side.
func (e *Engine) Rules() *constitution.Store { return e.rules }

// Publish validates and activates a new constitution version, and
// persists it when a database is configured. Publishing is the only
// external mutation path into the constitution store, and it never
// touches receipts already composed against older versions.
func (e *Engine) Publish(rules []constitution.Rule) (*constitution.Constitution, error) {
	c, err := e.rules.Publish(rules)
	if err != nil {
		return nil, err
	}
	if e.db != nil {
		if err := e.db.SaveConstitution(c.Version, c.Rules, c.CreatedAt); err != nil {
			log.Printf("persist constitution v%d: %v", c.Version, err)
		}
	}
	return c, nil
}

func (e *Engine) restore() error {
	versions, err := e.db.ListConstitutions()
	if err != nil {
		return fmt.Errorf("load constitutions: %w", err)
	}
	for _, v := range versions {
		if err := e.rules.Restore(v.Version, v.Rules, v.CreatedAt); err != nil {
			return fmt.Errorf("restore constitution v%d: %w", v.Version, err)
		}
	}

	summaries, err := e.db.LoadSummaries()
	if err != nil {
		return fmt.Errorf("load summaries: %w", err)
	}
	for _, s := range summaries {
		if err := e.memory.Restore(s); err != nil {
			return fmt.Errorf("restore summary: %w", err)
		}
	}

	history, err := e.db.VibeHistory(time.Now().Add(-e.opts.HistoryWindow))
	if err != nil {
		return fmt.Errorf("load vibe history: %w", err)
	}
	for _, p := range history {
		e.history = append(e.history, VibePoint{
			Timestamp: p.Timestamp,
			Score:     p.Score,
			Level:     p.Level,
			Notify:    p.Notify,
		})
	}

	if len(versions) > 0 || len(summaries) > 0 {
		log.Printf("restored %d constitution versions, %d summaries, %d vibe points",
			len(versions), len(summaries), len(history))
	}
	return nil
}

// pruneHistory drops vibe points older than the history window and
// enforces the cap, keeping the newest.
func (e *Engine) pruneHistory(now time.Time) {
	cutoff := now.Add(-e.opts.HistoryWindow)
	kept := e.history[:0]
	for _, p := range e.history {
		if !p.Timestamp.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	if e.opts.HistoryCap > 0 && len(kept) > e.opts.HistoryCap {
		kept = kept[len(kept)-e.opts.HistoryCap:]
	}
	e.history = kept
}
