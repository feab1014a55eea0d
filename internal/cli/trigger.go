package cli

import (
	"fmt"
	"io"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/dispatch"
	"github.com/riskinsure/fileretrieval/internal/rediscli"
	"github.com/riskinsure/fileretrieval/internal/serve"
)

func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <client> <configuration>",
		Short: "Request an immediate file check",
		Long: "Enqueue a manual ExecuteFileCheck for a running service. With --wait the check runs in this process " +
			"and the outcome is printed once it finishes.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetBool("wait")
			who, _ := cmd.Flags().GetString("user")
			if who == "" {
				who = currentUser()
			}

			ctx := cmd.Context()
			check := dispatch.ManualCommand(args[0], args[1], who, time.Now())
			w := cmd.OutOrStdout()

			if !wait {
				if settings.Bus.Kind != "redis" {
					return fmt.Errorf("bus.kind %q cannot reach a running service: use --wait or POST /configurations/%s/%s/trigger", settings.Bus.Kind, args[0], args[1])
				}
				client, err := rediscli.New(ctx, settings.Bus.RedisAddr)
				if err != nil {
					return err
				}
				defer client.Close()

				if err := dispatch.Enqueue(ctx, bus.NewRedisPublisher(client), check); err != nil {
					return fmt.Errorf("enqueueing trigger: %w", err)
				}
				fmt.Fprintf(w, "Accepted %s/%s (idempotency key %s)\n", args[0], args[1], check.IdempotencyKey)
				return nil
			}

			c, err := serve.Build(ctx, settings, log)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Worker.Run(ctx, check)
			if err != nil {
				return fmt.Errorf("file check failed: %w", err)
			}
			printOutcome(w, args[0], args[1], out)
			return nil
		},
	}

	cmd.Flags().String("user", "", "identity recorded as TriggeredBy (default: current OS user)")
	cmd.Flags().Bool("wait", false, "run the check in-process and wait for the outcome")

	return cmd
}

func printOutcome(w io.Writer, client, configuration string, out dispatch.Outcome) {
	if out.Skipped {
		fmt.Fprintf(w, "Skipped %s/%s: %s\n", client, configuration, out.SkipReason)
		return
	}
	fmt.Fprintf(w, "Execution %s: %s (discovered %d, dispatched %d)\n",
		out.ExecutionID, out.Status, out.DiscoveredCount, out.DispatchedCount)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
