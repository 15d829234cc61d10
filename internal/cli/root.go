// Package cli implements the slicegate CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/slicegate/internal/config"
	"github.com/rcliao/slicegate/internal/store"
)

var (
	configPath string
	dbFlag     string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "slicegate",
	Short: "Admissibility kernel for conversational history slices",
	Long: "slicegate builds bounded, policy-conformant slices of conversational records\n" +
		"and issues signed admissibility tokens attesting to their provenance.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	RootCmd.PersistentFlags().StringVarP(&dbFlag, "db", "d", "", "Database path (overrides config and $SLICEGATE_DB)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbFlag != "" {
		cfg.DBPath = dbFlag
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.DBPath)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
