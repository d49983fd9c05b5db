package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr() != "127.0.0.1:38800" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:38800", cfg.ListenAddr())
	}
	if cfg.Window() != 48*time.Hour {
		t.Errorf("Window = %v, want 48h", cfg.Window())
	}
	if cfg.SummaryPeriod() != 24*time.Hour {
		t.Errorf("SummaryPeriod = %v, want 24h", cfg.SummaryPeriod())
	}
	if cfg.Decay.Curve != "exponential" || cfg.DecayParam() != 24*time.Hour {
		t.Errorf("decay = %s/%v, want exponential/24h", cfg.Decay.Curve, cfg.DecayParam())
	}
	if cfg.Vibe.RecentPeriods != 30 {
		t.Errorf("recent_periods = %d, want 30", cfg.Vibe.RecentPeriods)
	}
	if cfg.Mediation.MinConfidence != 0.4 {
		t.Errorf("min_confidence = %v, want 0.4", cfg.Mediation.MinConfidence)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 38800 {
		t.Errorf("port = %d, want default 38800", cfg.Server.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "halo.toml")
	content := `
[server]
bind = "0.0.0.0"
port = 9000

[ledger]
window_hours = 72

[decay]
curve = "linear"
param_hours = 48
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr() != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q, want 0.0.0.0:9000", cfg.ListenAddr())
	}
	if cfg.Window() != 72*time.Hour {
		t.Errorf("Window = %v, want 72h", cfg.Window())
	}
	if cfg.Decay.Curve != "linear" || cfg.DecayParam() != 48*time.Hour {
		t.Errorf("decay = %s/%v, want linear/48h", cfg.Decay.Curve, cfg.DecayParam())
	}
	// Sections absent from the file keep their defaults.
	if cfg.Ledger.MaxEntries != 200 {
		t.Errorf("max_entries = %d, want default 200", cfg.Ledger.MaxEntries)
	}
	if cfg.Vibe.Scale != 10 {
		t.Errorf("vibe scale = %v, want default 10", cfg.Vibe.Scale)
	}
}

func TestLoadBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[[[nope"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed toml")
	}
}
