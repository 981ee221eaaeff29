// internal/notify/consumer.go
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer drains notification deliveries for a set of routing keys and
// fires the matching pending acknowledgement on the bridge.
type Consumer struct {
	ch     *amqp.Channel
	bridge *Bridge
	logger zerolog.Logger
}

func NewConsumer(ch *amqp.Channel, bridge *Bridge, logger zerolog.Logger) *Consumer {
	return &Consumer{ch: ch, bridge: bridge, logger: logger}
}

// Start binds an exclusive queue to the routing keys and consumes until
// ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, routingKeys ...string) error {
	q, err := c.ch.QueueDeclare(
		"",    // server-generated name
		false, // non-durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, key := range routingKeys {
		if err := c.ch.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue to %s: %w", key, err)
		}
	}

	msgs, err := c.ch.Consume(
		q.Name,
		"",    // consumer tag
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				c.handle(d)
			}
		}
	}()

	return nil
}

func (c *Consumer) handle(d amqp.Delivery) {
	c.logger.Info().
		Str("routing_key", d.RoutingKey).
		Str("body", string(d.Body)).
		Msg("notification received")

	id, err := uuid.Parse(d.CorrelationId)
	if err != nil {
		c.logger.Warn().
			Str("correlation_id", d.CorrelationId).
			Msg("delivery without usable correlation id")
		return
	}

	if !c.bridge.Ack(id) {
		c.logger.Debug().
			Str("correlation_id", d.CorrelationId).
			Msg("no waiter for acknowledgement")
	}
}
