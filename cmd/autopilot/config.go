package main

import (
	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/spf13/cobra"
)

const redacted = "********"

func configCmd(root *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after defaults and clamping",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel, root.logJSON)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root, logger)
			if err != nil {
				return err
			}
			shown := redact(*cfg)
			out, err := config.Marshal(&shown)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	configCmd.AddCommand(showCmd)
	return configCmd
}

// redact blanks credentials so the output can be pasted into bug reports.
func redact(cfg config.AgentConfig) config.AgentConfig {
	if cfg.Storage.Postgres.ConnectionUrl != "" {
		cfg.Storage.Postgres.ConnectionUrl = redacted
	}
	if cfg.Events.Mirror.Redis.Password != "" {
		cfg.Events.Mirror.Redis.Password = redacted
	}
	if cfg.Events.Mirror.RabbitMQ.URL != "" {
		cfg.Events.Mirror.RabbitMQ.URL = redacted
	}
	if cfg.Status.TokenHash != "" {
		cfg.Status.TokenHash = redacted
	}
	return cfg
}
