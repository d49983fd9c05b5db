package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambientlabs/halo/internal/config"
	"github.com/ambientlabs/halo/internal/engine"
	"github.com/ambientlabs/halo/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the JSON export bundle from persisted state",
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	eng, err := engine.New(opts, db)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	payload, err := eng.Export(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(payload)
}
