package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	routingKey    string
	correlationID string
	body          string
}

func (p *capturingPublisher) Publish(_ context.Context, routingKey, correlationID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedEvent{routingKey, correlationID, string(body)})
	return nil
}

func (p *capturingPublisher) last() publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[len(p.published)-1]
}

func newTestBridge(pub Publisher) *Bridge {
	return NewBridge(pub, zerolog.Nop())
}

func TestAwaitAckResolvesWhenConsumerAcks(t *testing.T) {
	pub := &capturingPublisher{}
	b := newTestBridge(pub)

	pending, err := b.Publish(context.Background(), BookKey, "book registered")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Ack(pending.CorrelationID())
	}()

	result := b.AwaitAck(context.Background(), pending, time.Second)
	assert.Equal(t, Acked, result)

	got := pub.last()
	assert.Equal(t, BookKey, got.routingKey)
	assert.Equal(t, pending.CorrelationID().String(), got.correlationID)
	assert.Equal(t, "book registered", got.body)
}

func TestAwaitAckTimesOutWithoutConsumer(t *testing.T) {
	b := newTestBridge(&capturingPublisher{})

	pending, err := b.Publish(context.Background(), RentalKey, "rental created")
	require.NoError(t, err)

	start := time.Now()
	result := b.AwaitAck(context.Background(), pending, 20*time.Millisecond)
	assert.Equal(t, TimedOut, result)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// The orphaned pending entry is discarded, so a late ack matches nothing.
	assert.False(t, b.Ack(pending.CorrelationID()))
}

func TestAwaitAckObservesCancellation(t *testing.T) {
	b := newTestBridge(&capturingPublisher{})

	pending, err := b.Publish(context.Background(), RentalKey, "rental created")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	result := b.AwaitAck(ctx, pending, time.Minute)
	assert.Equal(t, Cancelled, result)
}

func TestConcurrentPendingAcksDoNotCrossTalk(t *testing.T) {
	b := newTestBridge(&capturingPublisher{})

	first, err := b.Publish(context.Background(), RentalKey, "first")
	require.NoError(t, err)
	second, err := b.Publish(context.Background(), ReservationKey, "second")
	require.NoError(t, err)

	// Ack only the second event; the first must still time out.
	require.True(t, b.Ack(second.CorrelationID()))

	assert.Equal(t, Acked, b.AwaitAck(context.Background(), second, time.Second))
	assert.Equal(t, TimedOut, b.AwaitAck(context.Background(), first, 20*time.Millisecond))
}

func TestAckIsSingleFire(t *testing.T) {
	b := newTestBridge(&capturingPublisher{})

	pending, err := b.Publish(context.Background(), BookKey, "once")
	require.NoError(t, err)

	assert.True(t, b.Ack(pending.CorrelationID()))
	assert.False(t, b.Ack(pending.CorrelationID()), "second ack must be a no-op")
	assert.False(t, b.Ack(uuid.New()), "unknown id must be a no-op")
}

func TestPublishFailureLeavesNothingPending(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("broker gone")}
	b := newTestBridge(pub)

	pending, err := b.Publish(context.Background(), BookKey, "doomed")
	assert.Error(t, err)
	assert.Nil(t, pending)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.pending)
}
