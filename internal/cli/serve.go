package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/riskinsure/fileretrieval/internal/serve"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, dispatcher and ops HTTP server",
		Long:  "Start the cron scheduler, consume ExecuteFileCheck commands from the bus and serve /healthz, /metrics and manual triggers until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := serve.Build(ctx, settings, log)
			if err != nil {
				return err
			}
			defer c.Close()

			return serve.NewServer(c).Start(ctx)
		},
	}
}
