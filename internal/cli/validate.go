package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riskinsure/fileretrieval/internal/catalog"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate all configurations",
		Long:  "Parse every <client>/<id>.toml under the configurations directory and check cron, timezone, protocol settings, patterns and definitions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			errs, err := catalog.ValidateAll(settings.ConfigurationsDir)
			if err != nil {
				return err
			}

			if len(errs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "All configurations validated successfully.")
				return nil
			}

			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "ERROR: %s\n", e)
			}
			return fmt.Errorf("validation found %d error(s)", len(errs))
		},
	}
}
