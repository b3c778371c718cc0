package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"example.com/circuit/internal/reconcile"
	"example.com/circuit/internal/templates"
)

func newTemplatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Import or export workout templates as TOML",
	}
	cmd.AddCommand(
		newTemplatesImportCmd(a),
		newTemplatesExportCmd(a),
	)
	return cmd
}

func newTemplatesImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.toml>",
		Short: "Store templates from a TOML file and queue them for the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read template file: %w", err)
			}
			ts, err := templates.DecodeSeed(data)
			if err != nil {
				return err
			}

			now := time.Now()
			for _, t := range ts {
				t = templates.Stamp(t, now, uuid.NewString)
				if err := a.store.SaveTemplate(cmd.Context(), t); err != nil {
					return err
				}
				if err := reconcile.EnqueueTemplateUpsert(cmd.Context(), a.store, t); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%s)\n", t.Name, t.ID)
			}
			return nil
		},
	}
}

func newTemplatesExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print every cached template as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := a.store.ListTemplates(cmd.Context())
			if err != nil {
				return err
			}
			data, err := templates.EncodeSeed(ts)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
