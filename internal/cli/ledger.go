package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Maintain the discovery ledger",
	}
	cmd.AddCommand(newLedgerPruneCmd())
	return cmd
}

func newLedgerPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete ledger entries and notification receipts older than a cutoff",
		Long: "Delete discovery records older than --older-than. A pruned file that is still present " +
			"on the remote side will be announced again on the next check.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				olderThan = settings.Dispatch.Retention.Duration
			}

			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			cutoff := time.Now().Add(-olderThan)
			entries, err := s.Prune(ctx, cutoff)
			if err != nil {
				return err
			}
			receipts, err := s.PruneReceipts(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d ledger entries and %d receipts older than %s\n",
				entries, receipts, cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().Duration("older-than", 0, "age cutoff, e.g. 2160h (default: dispatch.retention)")

	return cmd
}
