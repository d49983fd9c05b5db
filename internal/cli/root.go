package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "halo",
	Short: "Household mediation engine",
	Long:  "Halo turns structured perception events into rule-checked fact receipts, keeps a 48-hour ledger, and ages it into long-term memory with a running vibe score.",
}

var configPath string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mediateCmd)
	rootCmd.AddCommand(exportCmd)
}
