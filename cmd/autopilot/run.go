package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/RezaEskandarii/autopilot/app"
	"github.com/spf13/cobra"
)

func runCmd(root *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel, root.logJSON)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root, logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				dryRun, _ := cmd.Flags().GetBool("dry-run")
				cfg.Scheduler.DryRun = dryRun
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			container, err := app.NewContainer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := container.Close(context.Background()); err != nil {
					logger.Error("shutdown", "error", err)
				}
			}()

			logger.Info("autopilot starting",
				"run_id", container.RunID,
				"config", root.configPath,
				"interval", cfg.Scheduler.Interval(),
				"dry_run", cfg.Scheduler.DryRun,
				"storage", cfg.Storage.Driver,
				"workers", len(container.Workers),
				"platforms", container.Platforms.Platforms(),
			)

			if once {
				container.RunOnce(ctx)
				return nil
			}
			if err := container.Run(ctx); err != nil {
				return err
			}
			logger.Info("autopilot stopped", "run_id", container.RunID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	cmd.Flags().Bool("dry-run", true, "Override scheduler.dry_run from the configuration")
	return cmd
}
