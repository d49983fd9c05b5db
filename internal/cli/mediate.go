package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambientlabs/halo/internal/config"
	"github.com/ambientlabs/halo/internal/constitution"
	"github.com/ambientlabs/halo/internal/engine"
	"github.com/ambientlabs/halo/internal/perception"
)

var (
	mediateRulesPath  string
	mediateEventsPath string
)

var mediateCmd = &cobra.Command{
	Use:   "mediate",
	Short: "Run one mediation batch from JSON files and print the read model",
	Long: `Reads a rules file and an events file (or stdin for events),
runs the full pipeline in memory, and prints the resulting read model
as JSON. Useful for trying out a constitution without a server.`,
	RunE: runMediate,
}

func init() {
	mediateCmd.Flags().StringVar(&mediateRulesPath, "rules", "", "JSON file with the constitution rules")
	mediateCmd.Flags().StringVar(&mediateEventsPath, "events", "-", "JSON file with perception events ('-' for stdin)")
}

func runMediate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	eng, err := engine.New(opts, nil)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	if mediateRulesPath != "" {
		data, err := os.ReadFile(mediateRulesPath)
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}
		var rules []constitution.Rule
		if err := json.Unmarshal(data, &rules); err != nil {
			return fmt.Errorf("parse rules: %w", err)
		}
		if _, err := eng.Publish(rules); err != nil {
			return fmt.Errorf("publish rules: %w", err)
		}
	}

	var eventsData []byte
	if mediateEventsPath == "-" {
		eventsData, err = io.ReadAll(os.Stdin)
	} else {
		eventsData, err = os.ReadFile(mediateEventsPath)
	}
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	var events []*perception.Event
	if err := json.Unmarshal(eventsData, &events); err != nil {
		return fmt.Errorf("parse events: %w", err)
	}

	result, err := eng.Process(events, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(result)
}
