package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/store"
)

func newExecutionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect execution history",
	}
	cmd.AddCommand(newExecutionsListCmd(), newExecutionsShowCmd())
	return cmd
}

func newExecutionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _ := cmd.Flags().GetString("client")
			configuration, _ := cmd.Flags().GetString("configuration")
			statusArg, _ := cmd.Flags().GetString("status")
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")

			status, err := parseStatus(statusArg)
			if err != nil {
				return err
			}
			filter := store.ExecutionFilter{
				ClientID:        client,
				ConfigurationID: configuration,
				Status:          status,
				Limit:           limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			execs, err := s.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no executions found")
				return nil
			}
			renderExecutions(cmd.OutOrStdout(), execs)
			return nil
		},
	}

	cmd.Flags().String("client", "", "filter by client id")
	cmd.Flags().String("configuration", "", "filter by configuration id")
	cmd.Flags().String("status", "", "filter by status (Running, Completed, CompletedWithErrors, Failed)")
	cmd.Flags().Duration("since", 0, "only executions started within this window, e.g. 24h")
	cmd.Flags().Int("limit", 50, "maximum rows")

	return cmd
}

func newExecutionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution and the files it discovered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			e, err := s.Get(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("execution %q not found", args[0])
			}
			if err != nil {
				return err
			}
			files, err := s.ListDiscovered(ctx, store.LedgerFilter{ExecutionID: e.ID})
			if err != nil {
				return err
			}
			renderExecution(cmd.OutOrStdout(), e, files)
			return nil
		},
	}
}

var executionHeader = table.Row{
	"Execution",
	"Configuration",
	"Scheduled",
	"Started",
	"Duration",
	"Status",
	"Discovered",
	"Dispatched",
	"Triggered By",
}

func renderExecutions(w io.Writer, execs []domain.Execution) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(executionHeader)
	for _, e := range execs {
		t.AppendRow(table.Row{
			e.ID,
			e.ClientID + "/" + e.ConfigurationID,
			e.ScheduledTime.Format(time.RFC3339),
			e.StartedAt.Format(time.RFC3339),
			duration(e),
			e.Status,
			e.DiscoveredCount,
			e.DispatchedCount,
			e.TriggeredBy,
		})
	}
	t.Render()
}

func renderExecution(w io.Writer, e domain.Execution, files []domain.DiscoveredFile) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Execution", e.ID},
		{"Configuration", e.ClientID + "/" + e.ConfigurationID},
		{"Status", e.Status},
		{"Scheduled", e.ScheduledTime.Format(time.RFC3339)},
		{"Started", e.StartedAt.Format(time.RFC3339)},
		{"Duration", duration(e)},
		{"Manual", e.IsManualTrigger},
		{"Triggered By", e.TriggeredBy},
		{"Discovered", e.DiscoveredCount},
		{"Dispatched", e.DispatchedCount},
		{"Failure", e.FailureReason},
	})
	t.Render()

	if len(files) == 0 {
		return
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleLight)
	ft.AppendHeader(table.Row{"File", "Size", "Last Modified", "Discovered"})
	for _, f := range files {
		ft.AppendRow(table.Row{f.FileURI, f.Size, f.LastModified.Format(time.RFC3339), f.DiscoveredAt.Format(time.RFC3339)})
	}
	ft.Render()
}

func duration(e domain.Execution) string {
	if e.CompletedAt == nil {
		return "-"
	}
	return e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
}

// parseStatus accepts a status name case-insensitively.
func parseStatus(s string) (domain.ExecutionStatus, error) {
	if s == "" {
		return "", nil
	}
	for _, st := range []domain.ExecutionStatus{
		domain.ExecutionStatusRunning,
		domain.ExecutionStatusCompleted,
		domain.ExecutionStatusCompletedWithErrors,
		domain.ExecutionStatusFailed,
	} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status %q (must be Running, Completed, CompletedWithErrors or Failed)", s)
}
