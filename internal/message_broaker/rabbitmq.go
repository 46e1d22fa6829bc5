package message_broaker

import (
	"context"
	"fmt"
	"time"

	"github.com/RezaEskandarii/autopilot/types/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 2 * time.Second

// amqpChannel is the subset of *amqp.Channel the broker uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    amqpChannel
	exchange   string
	routingKey string
}

// NewRabbitMQ dials cfg.URL, declares a durable direct exchange and a durable queue bound
// to it. An empty routing key binds the queue under its own name.
func NewRabbitMQ(cfg config.RabbitMQConfig, queue string) (_ *RabbitMQ, err error) {
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = queue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() {
		if err != nil {
			ch.Close()
			conn.Close()
		}
	}()

	const durable, autoDelete, internal, exclusive, noWait = true, false, false, false, false
	if err = ch.ExchangeDeclare(cfg.Exchange, "direct", durable, autoDelete, internal, noWait, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq exchange %q: %w", cfg.Exchange, err)
	}
	if _, err = ch.QueueDeclare(queue, durable, autoDelete, exclusive, noWait, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq queue %q: %w", queue, err)
	}
	if err = ch.QueueBind(queue, routingKey, cfg.Exchange, noWait, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq bind %q: %w", queue, err)
	}

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: routingKey,
	}, nil
}

// Publish sends message through the configured exchange. The queue argument is unused:
// routing is fixed by the binding made at construction.
func (r *RabbitMQ) Publish(_ string, message []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	return r.channel.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         message,
	})
}

func (r *RabbitMQ) Consume(ctx context.Context, queue string) (<-chan []byte, error) {
	// auto-ack
	msgs, err := r.channel.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 1000)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Body:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return err
	}
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
