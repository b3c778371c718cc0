package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"example.com/circuit/internal/outbox"
)

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the pending outbound queue",
	}
	cmd.AddCommand(
		newQueueListCmd(a),
		newQueuePurgeCmd(a),
	)
	return cmd
}

func parseDestination(value string) (outbox.Destination, error) {
	switch dest := outbox.Destination(value); dest {
	case outbox.DestinationPeer, outbox.DestinationRemote:
		return dest, nil
	default:
		return "", fmt.Errorf("unknown destination %q (want %s or %s)", value, outbox.DestinationPeer, outbox.DestinationRemote)
	}
}

func newQueueListCmd(a *app) *cobra.Command {
	var (
		dest  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending entries in delivery order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := parseDestination(dest)
			if err != nil {
				return err
			}
			entries, err := a.store.Peek(cmd.Context(), d, limit)
			if err != nil {
				return err
			}
			total, err := a.store.Len(cmd.Context(), d)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TYPE\tPAYLOAD\tENQUEUED\tATTEMPTS\tLAST ERROR")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.Type, e.PayloadID, e.EnqueuedAt.Format("2006-01-02 15:04:05"), e.Attempts, e.LastError)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d of %d pending for %s\n", len(entries), total, d)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", string(outbox.DestinationPeer), "queue destination (peer or remote)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to show")
	return cmd
}

func newQueuePurgeCmd(a *app) *cobra.Command {
	var (
		dest  string
		types []string
	)
	cmd := &cobra.Command{
		Use:   "purge <payload-id>",
		Short: "Drop pending entries about one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDestination(dest)
			if err != nil {
				return err
			}
			n, err := a.store.Purge(cmd.Context(), d, args[0], types...)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d entries for %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", string(outbox.DestinationPeer), "queue destination (peer or remote)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only purge these entry types")
	return cmd
}
