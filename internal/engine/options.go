package engine

import (
	"fmt"
	"time"

	"github.com/ambientlabs/halo/internal/config"
	"github.com/ambientlabs/halo/internal/ledger"
)

// OptionsFromConfig maps the config file onto engine options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	decay, err := ledger.DecayCurve(cfg.Decay.Curve, cfg.DecayParam(), cfg.Decay.Floor)
	if err != nil {
		return Options{}, fmt.Errorf("decay config: %w", err)
	}
	return Options{
		Window:        cfg.Window(),
		MaxEntries:    cfg.Ledger.MaxEntries,
		SummaryPeriod: cfg.SummaryPeriod(),
		ClosedCap:     cfg.Ledger.ClosedSummaryCap,
		MinConfidence: cfg.Mediation.MinConfidence,
		Decay:         decay,
		Vibe: ledger.VibeParams{
			RecentPeriods: cfg.Vibe.RecentPeriods,
			MemoryWeight:  cfg.Vibe.MemoryWeight,
			Scale:         cfg.Vibe.Scale,
		},
		HistoryWindow: 30 * 24 * time.Hour,
	}, nil
}
