package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/riskinsure/fileretrieval/internal/export"
	"github.com/riskinsure/fileretrieval/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "export <executions|ledger>",
		Short:     "Export history as Parquet",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"executions", "ledger"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			since, _ := cmd.Flags().GetDuration("since")
			configuration, _ := cmd.Flags().GetString("configuration")
			if out == "" {
				out = args[0] + ".parquet"
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}

			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var rows int
			var write func(io.Writer) error
			switch args[0] {
			case "executions":
				execs, err := s.List(ctx, store.ExecutionFilter{ConfigurationID: configuration, Since: from})
				if err != nil {
					return err
				}
				rows = len(execs)
				write = func(w io.Writer) error { return export.Executions(w, execs) }
			case "ledger":
				files, err := s.ListDiscovered(ctx, store.LedgerFilter{ConfigurationID: configuration, Since: from})
				if err != nil {
					return err
				}
				rows = len(files)
				write = func(w io.Writer) error { return export.Ledger(w, files) }
			}

			if err := export.ToFile(out, write); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d %s rows to %s\n", rows, args[0], out)
			return nil
		},
	}

	cmd.Flags().String("out", "", "output file (default: <kind>.parquet)")
	cmd.Flags().Duration("since", 0, "only rows newer than this window, e.g. 720h")
	cmd.Flags().String("configuration", "", "filter by configuration (execution: id, ledger: client/id)")

	return cmd
}
