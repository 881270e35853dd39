// Package triggerbus implements a RabbitMQ-backed TriggerSource: trigger
// tags (on_startup_finished, on_vault_opened, on_command:<id>) are
// consumed off a durable AMQP queue and handed to a runtime's Trigger
// method, standing in for the out-of-scope command bus/UI that would
// otherwise notify the host of vault and command events across process
// boundaries.
package triggerbus

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xnote-app/plugin-runtime/pkg/plugin"
)

// Config describes the AMQP connection and queue naming for a Source.
type Config struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// Source is a trigger source backed by a RabbitMQ queue.
type Source struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewSource dials RabbitMQ and declares the configured queue.
func NewSource(cfg Config) (*Source, error) {
	if cfg.URL == "" {
		return nil, errors.New("triggerbus: amqp url cannot be empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "xnote.plugin.triggers"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("triggerbus: connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("triggerbus: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("triggerbus: declare queue: %w", err)
	}

	return &Source{conn: conn, ch: ch, queue: queue}, nil
}

// Run consumes trigger tags until ctx is cancelled, invoking onTrigger
// with the raw tag for each delivery and acknowledging it once onTrigger
// returns. onTrigger reports no outcome, so every delivery is acknowledged
// whatever the activation result; this Source only owns the transport.
func (s *Source) Run(ctx context.Context, onTrigger func(tag string)) error {
	deliveries, err := s.ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("triggerbus: consume queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("triggerbus: delivery channel closed")
			}
			onTrigger(string(msg.Body))
			_ = msg.Ack(false)
		}
	}
}

// Publish enqueues a trigger tag, used by tooling (or tests) that want to
// drive the bus directly instead of going through a real command source.
func (s *Source) Publish(ctx context.Context, tag plugin.ActivationEvent) error {
	return s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(tag),
	})
}

// Close releases the underlying channel and connection.
func (s *Source) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
