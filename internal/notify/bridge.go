// internal/notify/bridge.go
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Publisher enqueues a payload onto the asynchronous channel. Publishing
// must not block on consumer availability.
type Publisher interface {
	Publish(ctx context.Context, routingKey, correlationID string, body []byte) error
}

// AckResult is the outcome of waiting for an acknowledgement.
type AckResult int

const (
	Acked AckResult = iota
	TimedOut
	Cancelled
)

func (r AckResult) String() string {
	switch r {
	case Acked:
		return "acked"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PendingAck is the in-flight handle for one published notification:
// sent, not yet confirmed processed.
type PendingAck struct {
	id   uuid.UUID
	done chan struct{}
}

func (p *PendingAck) CorrelationID() uuid.UUID { return p.id }

// Bridge publishes notification events and lets the publishing flow block
// until the consumer acknowledges that specific event. Correlation is by
// per-event id, so any number of flows can have notifications in flight
// without cross-talk or lost signals.
type Bridge struct {
	publisher Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	pending map[uuid.UUID]chan struct{}
}

func NewBridge(publisher Publisher, logger zerolog.Logger) *Bridge {
	return &Bridge{
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("libris/notify"),
		pending:   make(map[uuid.UUID]chan struct{}),
	}
}

// Publish enqueues body under routingKey and registers a pending
// acknowledgement for it. The returned handle is live until AwaitAck
// returns or the consumer acks it.
func (b *Bridge) Publish(ctx context.Context, routingKey, body string) (*PendingAck, error) {
	ctx, span := b.tracer.Start(ctx, "notify.publish",
		trace.WithAttributes(attribute.String("routing.key", routingKey)),
	)
	defer span.End()

	id := uuid.New()
	done := make(chan struct{})

	b.mu.Lock()
	b.pending[id] = done
	b.mu.Unlock()

	if err := b.publisher.Publish(ctx, routingKey, id.String(), []byte(body)); err != nil {
		b.discard(id)
		return nil, fmt.Errorf("publish notification: %w", err)
	}

	span.SetAttributes(attribute.String("correlation.id", id.String()))
	return &PendingAck{id: id, done: done}, nil
}

// AwaitAck blocks the calling flow until the consumer acknowledges the
// pending event, the timeout elapses, or ctx is cancelled. A timeout is a
// distinguished result, not an error. The pending entry is discarded on
// every exit path, so abandoned waits leave nothing behind.
func (b *Bridge) AwaitAck(ctx context.Context, pending *PendingAck, timeout time.Duration) AckResult {
	_, span := b.tracer.Start(ctx, "notify.await_ack",
		trace.WithAttributes(attribute.String("correlation.id", pending.id.String())),
	)
	defer span.End()
	defer b.discard(pending.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pending.done:
		span.SetAttributes(attribute.String("ack.result", Acked.String()))
		return Acked
	case <-timer.C:
		b.logger.Warn().
			Str("correlation_id", pending.id.String()).
			Dur("timeout", timeout).
			Msg("notification not acknowledged before deadline")
		span.SetAttributes(attribute.String("ack.result", TimedOut.String()))
		return TimedOut
	case <-ctx.Done():
		span.SetAttributes(attribute.String("ack.result", Cancelled.String()))
		return Cancelled
	}
}

// Ack fires the single-shot signal for one pending event. It reports
// whether a waiter was matched; duplicate or unknown ids are no-ops.
func (b *Bridge) Ack(id uuid.UUID) bool {
	b.mu.Lock()
	done, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	close(done)
	return true
}

func (b *Bridge) discard(id uuid.UUID) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
