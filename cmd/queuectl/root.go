package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/circuit/internal/config"
	"example.com/circuit/internal/store/sqlite"
)

type app struct {
	dbPath string
	store  *sqlite.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and edit a device's local circuit cache",
		Long:          "queuectl opens a host or companion SQLite cache to inspect the pending outbound queue and to import or export workout templates.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.dbPath == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				a.dbPath = cfg.DatabasePath
			}
			store, err := sqlite.Open(a.dbPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", a.dbPath, err)
			}
			a.store = store
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "path to the SQLite cache (defaults to DATABASE_PATH)")

	rootCmd.AddCommand(
		newQueueCmd(a),
		newTemplatesCmd(a),
	)
	return rootCmd
}
