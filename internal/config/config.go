package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all halo configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Decay     DecayConfig     `toml:"decay"`
	Vibe      VibeConfig      `toml:"vibe"`
	Mediation MediationConfig `toml:"mediation"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LedgerConfig struct {
	WindowHours        int `toml:"window_hours"`
	MaxEntries         int `toml:"max_entries"`
	SummaryPeriodHours int `toml:"summary_period_hours"`
	ClosedSummaryCap   int `toml:"closed_summary_cap"`
}

type DecayConfig struct {
	Curve      string  `toml:"curve"`       // "exponential", "linear", "step"
	ParamHours int     `toml:"param_hours"` // half-life, span, or step width
	Floor      float64 `toml:"floor"`       // exponential floor / step factor
}

type VibeConfig struct {
	RecentPeriods int     `toml:"recent_periods"`
	MemoryWeight  float64 `toml:"memory_weight"`
	Scale         float64 `toml:"scale"`
}

type MediationConfig struct {
	MinConfidence float64 `toml:"min_confidence"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38800,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Ledger: LedgerConfig{
			WindowHours:        48,
			MaxEntries:         200,
			SummaryPeriodHours: 24,
			ClosedSummaryCap:   500,
		},
		Decay: DecayConfig{
			Curve:      "exponential",
			ParamHours: 24,
			Floor:      0.1,
		},
		Vibe: VibeConfig{
			RecentPeriods: 30,
			MemoryWeight:  0.5,
			Scale:         10,
		},
		Mediation: MediationConfig{
			MinConfidence: 0.4,
		},
	}
}

// Load reads a TOML config file over the defaults. A missing file is
// not an error; callers get the defaults back.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Window returns the ledger window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Ledger.WindowHours) * time.Hour
}

// SummaryPeriod returns the summary bucket width as a duration.
func (c *Config) SummaryPeriod() time.Duration {
	return time.Duration(c.Ledger.SummaryPeriodHours) * time.Hour
}

// DecayParam returns the decay curve parameter as a duration.
func (c *Config) DecayParam() time.Duration {
	return time.Duration(c.Decay.ParamHours) * time.Hour
}
