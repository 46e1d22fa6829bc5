package message_broaker

import (
	"context"
	"fmt"

	"github.com/RezaEskandarii/autopilot/types/config"
)

// MessageBroker carries copies of event records to an external queue.
type MessageBroker interface {
	Publish(queue string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}

// New connects the broker selected by cfg. It returns nil, nil when no mirror is configured.
func New(ctx context.Context, cfg config.MirrorConfig) (MessageBroker, error) {
	switch cfg.Driver {
	case config.NoMirror:
		return nil, nil
	case config.RabbitMQ:
		return NewRabbitMQ(cfg.RabbitMQ, cfg.Queue)
	case config.Redis:
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported event mirror driver %s", cfg.Driver)
	}
}
