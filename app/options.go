package app

import (
	"database/sql"
	"io"

	"github.com/RezaEskandarii/autopilot/internal/message_broaker"
	"github.com/RezaEskandarii/autopilot/internal/platform"
	"github.com/RezaEskandarii/autopilot/internal/worker"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom DB instead of creating from config
	db               *sql.DB
	broker           message_broaker.MessageBroker
	workerRegistry   *worker.Registry
	platformRegistry *platform.Registry
	traceWriter      io.Writer
}

// WithDB injects a custom database connection. Useful for testing. The container takes
// ownership and closes it on Close.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithMessageBroker injects the event mirror instead of connecting the configured one.
func WithMessageBroker(broker message_broaker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

func WithWorkerRegistry(r *worker.Registry) ContainerOption {
	return func(c *containerConfig) {
		c.workerRegistry = r
	}
}

func WithPlatformRegistry(r *platform.Registry) ContainerOption {
	return func(c *containerConfig) {
		c.platformRegistry = r
	}
}

// WithTraceWriter sets where the stdout span exporter writes.
func WithTraceWriter(w io.Writer) ContainerOption {
	return func(c *containerConfig) {
		c.traceWriter = w
	}
}
