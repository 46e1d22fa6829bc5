package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/RezaEskandarii/autopilot/internal/message_broaker"
	"github.com/RezaEskandarii/autopilot/internal/tracer"
	"github.com/spf13/cobra"
)

func eventsCmd(root *rootOptions) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event log",
	}

	var (
		lines  int
		mirror bool
	)
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the last events of the log, or follow the broker mirror",
		Long: "Print the last events of the JSONL event log. With --mirror, consume the configured " +
			"event mirror queue instead and print records as they arrive; this takes them off the queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 0 {
				return fmt.Errorf("--lines must not be negative, got %d", lines)
			}
			logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel, root.logJSON)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !mirror {
				records, err := tracer.ReadEvents(cfg.Events.Path)
				if err != nil {
					return err
				}
				return printRecords(out, records[max(len(records)-lines, 0):])
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			broker, err := message_broaker.New(ctx, cfg.Events.Mirror)
			if err != nil {
				return fmt.Errorf("connect event mirror: %w", err)
			}
			if broker == nil {
				return errors.New("events.mirror.driver is none; nothing to follow")
			}
			defer broker.Close()

			logger.Info("following event mirror", "driver", cfg.Events.Mirror.Driver, "queue", cfg.Events.Mirror.Queue)
			return tailMirror(ctx, broker, cfg.Events.Mirror.Queue, out, 0)
		},
	}
	tailCmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of events to print from the log")
	tailCmd.Flags().BoolVar(&mirror, "mirror", false, "Follow the broker mirror instead of the log file")

	eventsCmd.AddCommand(tailCmd)
	return eventsCmd
}

// tailMirror prints mirrored records until ctx is done, the broker closes the stream, or
// limit records were printed (0 means no limit).
func tailMirror(ctx context.Context, broker message_broaker.MessageBroker, queue string, w io.Writer, limit int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, err := broker.Consume(ctx, queue)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(w, string(msg)); err != nil {
				return err
			}
			printed++
			if limit > 0 && printed >= limit {
				return nil
			}
		}
	}
}

func printRecords(w io.Writer, records []tracer.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
