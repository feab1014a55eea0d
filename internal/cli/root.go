package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riskinsure/fileretrieval/internal/config"
	"github.com/riskinsure/fileretrieval/internal/logger"
	"github.com/riskinsure/fileretrieval/internal/store"
)

var (
	configPath string
	verbose    bool

	// Populated in PersistentPreRunE
	settings *config.Config
	log      *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fileretrieval",
		Short:         "Scheduled remote file discovery",
		Long:          "fileretrieval polls tenant-configured FTP, SFTP, HTTPS, Azure Blob and S3 locations on cron schedules and announces newly discovered files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading %s: %w", configPath, err)
			}
			settings = cfg

			l, err := logger.New(verbose || cfg.Development)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultFileName, "path to the service settings file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newTriggerCmd(),
		newValidateCmd(),
		newExecutionsCmd(),
		newLedgerCmd(),
		newExportCmd(),
		newMigrateCmd(),
		newInitCmd(),
	)

	return root
}

// openStore opens the configured store with migrations applied.
func openStore(ctx context.Context) (*store.Store, error) {
	return store.OpenMigrated(ctx, settings.Store.Driver, settings.Store.DSN)
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
