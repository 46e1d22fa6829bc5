package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "autopilot",
		Short: "A local-first autonomous agent that runs workers on a fixed cadence",
		// main reports the error once; usage is only printed for flag errors.
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(queueCmd(opts))
	rootCmd.AddCommand(configCmd(opts))
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(eventsCmd(opts))
	return rootCmd
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// loadConfig reads the configuration and logs every value that was replaced by a default.
func loadConfig(opts *rootOptions, logger *slog.Logger) (*config.AgentConfig, error) {
	cfg, warnings, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if warnings.HasError() {
		for _, w := range warnings.Errors {
			logger.Warn("config", "issue", w.Error())
		}
	}
	return cfg, nil
}
