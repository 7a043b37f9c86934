// Package cli wires the membank commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opslayer/membank/internal/bank"
	"github.com/opslayer/membank/internal/config"
	"github.com/opslayer/membank/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "membank",
	Short: "Trust-scored shared memory for agent loops",
	Long:  "Membank is a shared memory bank for multi-agent loops: producers store scored artifacts, consumers read them back ranked by trust, and low-trust memories age out.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.membank/config.yml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(statsCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

// openBank opens the database and builds a bank for one-shot CLI commands.
func openBank() (*bank.Bank, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	dbPath := os.Getenv("MEMBANK_DB")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	b := bank.New(db, nil)
	b.SetParams(cfg.Scoring.Params())
	return b, func() { db.Close() }, nil
}
