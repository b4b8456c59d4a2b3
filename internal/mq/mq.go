package mq

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetcrumb/accounts/config"
)

const (
	DriverRabbitMQ = "rabbitmq"
	DriverPubSub   = "pubsub"
)

// AttrContentType names the attribute carrying the payload media type.
const AttrContentType = "content-type"

const defaultContentType = "application/json"

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Open connects to the broker selected by cfg.Driver.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverRabbitMQ:
		backend, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return New(backend), nil
	case DriverPubSub:
		backend, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return New(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq driver %q", cfg.Driver)
	}
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}

func contentType(attrs map[string]string) string {
	if ct := strings.TrimSpace(attrs[AttrContentType]); ct != "" {
		return ct
	}
	return defaultContentType
}
