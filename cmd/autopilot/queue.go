package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/RezaEskandarii/autopilot/app"
	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/internal/store"
	"github.com/RezaEskandarii/autopilot/web"
	"github.com/spf13/cobra"
)

func queueCmd(root *rootOptions) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the action queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFlag, _ := cmd.Flags().GetString("status")
			page, _ := cmd.Flags().GetInt("page")

			status := state.ActionStatus(statusFlag)
			if status != "" && !status.IsValid() {
				return fmt.Errorf("unknown status %q, expected one of %v", statusFlag, state.AllStatuses)
			}
			return withStore(cmd, root, func(ctx context.Context, st store.StateStore) error {
				result, err := st.ListActions(ctx, page, web.PageSize, status)
				if err != nil {
					return fmt.Errorf("failed to list actions: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(result.Items) == 0 {
					fmt.Fprintln(out, "No actions found.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tWORKER\tTYPE\tSTATUS\tUPDATED")
				for _, a := range result.Items {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", a.ID, a.Worker, a.ActionType, a.Status, a.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "page %d/%d, %d actions\n", result.Page, result.TotalPages, result.TotalItems)
				return nil
			})
		},
	}
	listCmd.Flags().String("status", "", "Filter by status (queued, processing, done, failed)")
	listCmd.Flags().Int("page", 1, "Page number")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show action counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, root, func(ctx context.Context, st store.StateStore) error {
				counts, err := st.CountAllActionsGroupedByStatus(ctx)
				if err != nil {
					return fmt.Errorf("failed to count actions: %w", err)
				}
				return printCounts(cmd.OutOrStdout(), counts)
			})
		},
	}

	queueCmd.AddCommand(listCmd, statsCmd)
	return queueCmd
}

func withStore(cmd *cobra.Command, root *rootOptions, fn func(context.Context, store.StateStore) error) error {
	logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel, root.logJSON)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := app.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func printCounts(w io.Writer, counts map[state.ActionStatus]int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, status := range state.AllStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", status, counts[status])
	}
	return tw.Flush()
}
