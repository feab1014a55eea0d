package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riskinsure/fileretrieval/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := store.Open(ctx, settings.Store.Driver, settings.Store.DSN)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			version, err := s.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store at schema version %d\n", s.Driver(), version)
			return nil
		},
	}
}
