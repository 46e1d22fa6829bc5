package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/RezaEskandarii/autopilot/custom_errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML (or JSON) configuration at path on top of Default().
//
// The second return value carries non-fatal warnings: every entry describes a value that
// was replaced by a safe default. A missing file is a warning, not an error. The error
// return is reserved for unreadable or structurally malformed files.
func Load(path string) (*AgentConfig, *custom_errors.ValidationError, error) {
	cfg := Default()
	warnings := &custom_errors.ValidationError{}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			warnings.Addf("config file %s not found, using defaults", path)
			return cfg, warnings, nil
		}
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := Parse(raw, cfg, warnings); err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, warnings, nil
}

// Parse decodes raw into cfg and normalizes the result. Values missing from raw keep
// whatever cfg already holds.
func Parse(raw []byte, cfg *AgentConfig, warnings *custom_errors.ValidationError) error {
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return err
		}
	}
	cfg.normalize(warnings)
	return nil
}

// UnmarshalYAML decodes the scheduler section leniently. Numbers may be written as YAML
// integers or numeric strings; anything else keeps the current value and records an issue.
func (s *SchedulerConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("scheduler: expected a mapping at line %d", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]
		switch key {
		case "interval_seconds":
			s.IntervalSeconds = s.lenientInt(key, value, s.IntervalSeconds)
		case "jitter_seconds":
			s.JitterSeconds = s.lenientInt(key, value, s.JitterSeconds)
		case "worker_timeout_seconds":
			s.WorkerTimeoutSeconds = s.lenientInt(key, value, s.WorkerTimeoutSeconds)
		case "breaker_failure_threshold":
			s.BreakerFailureThreshold = s.lenientInt(key, value, s.BreakerFailureThreshold)
		case "breaker_cooldown_cycles":
			s.BreakerCooldownCycles = s.lenientInt(key, value, s.BreakerCooldownCycles)
		case "dry_run":
			s.DryRun = s.lenientBool(key, value, s.DryRun)
		default:
			s.issues = append(s.issues, fmt.Errorf("scheduler.%s: unknown key ignored", key))
		}
	}
	return nil
}

func (s *SchedulerConfig) lenientInt(key string, node *yaml.Node, current int) int {
	if node.Kind == yaml.ScalarNode {
		text := strings.TrimSpace(node.Value)
		if n, err := strconv.Atoi(text); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int(f)
		}
	}
	s.issues = append(s.issues, fmt.Errorf("scheduler.%s: %q is not a number, using %d", key, node.Value, current))
	return current
}

func (s *SchedulerConfig) lenientBool(key string, node *yaml.Node, current bool) bool {
	if node.Kind == yaml.ScalarNode {
		switch strings.ToLower(strings.TrimSpace(node.Value)) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	}
	s.issues = append(s.issues, fmt.Errorf("scheduler.%s: %q is not a boolean, using %t", key, node.Value, current))
	return current
}

// normalize clamps out-of-range values to their defaults, recording a warning for each.
func (c *AgentConfig) normalize(warnings *custom_errors.ValidationError) {
	s := &c.Scheduler
	for _, issue := range s.issues {
		warnings.Add(issue)
	}
	s.issues = nil

	if s.IntervalSeconds <= 0 {
		warnings.Addf("scheduler.interval_seconds must be > 0, got %d; using %d", s.IntervalSeconds, DefaultIntervalSeconds)
		s.IntervalSeconds = DefaultIntervalSeconds
	}
	if s.JitterSeconds < 0 {
		warnings.Addf("scheduler.jitter_seconds must be >= 0, got %d; using %d", s.JitterSeconds, DefaultJitterSeconds)
		s.JitterSeconds = DefaultJitterSeconds
	}
	if s.WorkerTimeoutSeconds <= 0 {
		warnings.Addf("scheduler.worker_timeout_seconds must be > 0, got %d; using %d", s.WorkerTimeoutSeconds, DefaultWorkerTimeoutSeconds)
		s.WorkerTimeoutSeconds = DefaultWorkerTimeoutSeconds
	}
	if s.BreakerFailureThreshold < 1 {
		warnings.Addf("scheduler.breaker_failure_threshold must be >= 1, got %d; using %d", s.BreakerFailureThreshold, DefaultBreakerFailureThreshold)
		s.BreakerFailureThreshold = DefaultBreakerFailureThreshold
	}
	if s.BreakerCooldownCycles < 1 {
		warnings.Addf("scheduler.breaker_cooldown_cycles must be >= 1, got %d; using %d", s.BreakerCooldownCycles, DefaultBreakerCooldownCycles)
		s.BreakerCooldownCycles = DefaultBreakerCooldownCycles
	}

	if c.Workers.Terminal.BatchSize < 1 {
		warnings.Addf("workers.terminal.batch_size must be >= 1, got %d; using %d", c.Workers.Terminal.BatchSize, DefaultBatchSize)
		c.Workers.Terminal.BatchSize = DefaultBatchSize
	}
	if c.Workers.Browser.BatchSize < 1 {
		warnings.Addf("workers.browser.batch_size must be >= 1, got %d; using %d", c.Workers.Browser.BatchSize, DefaultBatchSize)
		c.Workers.Browser.BatchSize = DefaultBatchSize
	}
	if c.Workers.Terminal.SimulatedDelayMs < 0 {
		warnings.Addf("workers.terminal.simulated_delay_ms must be >= 0, got %d; using %d", c.Workers.Terminal.SimulatedDelayMs, DefaultSimulatedDelayMs)
		c.Workers.Terminal.SimulatedDelayMs = DefaultSimulatedDelayMs
	}
	if c.Workers.Browser.SimulatedDelayMs < 0 {
		warnings.Addf("workers.browser.simulated_delay_ms must be >= 0, got %d; using %d", c.Workers.Browser.SimulatedDelayMs, DefaultSimulatedDelayMs)
		c.Workers.Browser.SimulatedDelayMs = DefaultSimulatedDelayMs
	}

	kept := c.Workers.Terminal.Commands[:0]
	for i, argv := range c.Workers.Terminal.Commands {
		if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
			warnings.Addf("workers.terminal.commands[%d] is empty and was dropped", i)
			continue
		}
		kept = append(kept, argv)
	}
	c.Workers.Terminal.Commands = kept

	for name, p := range c.Platforms {
		if p.Schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			warnings.Addf("platforms.%s.schedule %q is invalid (%v); schedule gate disabled", name, p.Schedule, err)
			p.Schedule = ""
			c.Platforms[name] = p
		}
	}

	if c.Storage.Driver == Postgres && c.Storage.Postgres.ConnectionUrl == "" {
		warnings.Addf("storage.postgres.connection_url is empty; falling back to sqlite at %s", c.Storage.SQLite.Path)
		c.Storage.Driver = SQLite
	}
	if c.Storage.Driver == SQLite && c.Storage.SQLite.Path == "" {
		warnings.Addf("storage.sqlite.path is empty; using %s", DefaultSQLitePath)
		c.Storage.SQLite.Path = DefaultSQLitePath
	}
	if c.Events.Path == "" {
		warnings.Addf("events.path is empty; using %s", DefaultEventsPath)
		c.Events.Path = DefaultEventsPath
	}
	if c.Events.Mirror.Queue == "" {
		c.Events.Mirror.Queue = DefaultMirrorQueue
	}
	if c.Status.Enabled && c.Status.Port == 0 {
		warnings.Addf("status.port is 0; using %d", DefaultStatusPort)
		c.Status.Port = DefaultStatusPort
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none":
		c.Tracing.Exporter = "none"
	case "stdout":
		c.Tracing.Exporter = "stdout"
	default:
		warnings.Addf("tracing.exporter %q is not supported; tracing disabled", c.Tracing.Exporter)
		c.Tracing.Exporter = "none"
	}
}

// Marshal renders cfg as YAML, the same shape Load accepts.
func Marshal(cfg *AgentConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
