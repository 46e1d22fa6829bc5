package config

import (
	"fmt"
	"strings"
)

type StorageDriver int

const (
	SQLite StorageDriver = iota + 1
	Postgres
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	}
	return "unknown"
}

func (d StorageDriver) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *StorageDriver) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "sqlite", "sqlite3", "":
		*d = SQLite
	case "postgres", "postgresql":
		*d = Postgres
	default:
		return fmt.Errorf("unsupported storage driver: %q", string(text))
	}
	return nil
}

type MessageQueueDriver int

const (
	NoMirror MessageQueueDriver = iota
	RabbitMQ
	Redis
)

func (d MessageQueueDriver) String() string {
	switch d {
	case NoMirror:
		return "none"
	case RabbitMQ:
		return "rabbitmq"
	case Redis:
		return "redis"
	default:
		return "unknown"
	}
}

func (d MessageQueueDriver) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *MessageQueueDriver) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "none", "":
		*d = NoMirror
	case "rabbitmq", "amqp":
		*d = RabbitMQ
	case "redis":
		*d = Redis
	default:
		return fmt.Errorf("unsupported event mirror driver: %q", string(text))
	}
	return nil
}
