package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-backend/internal/shared/telemetry"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestMemoryAckRemovesMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewMemory()
	require.NoError(t, q.Publish(ctx, "inv-1"))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	d := receive(t, deliveries)
	assert.Equal(t, []byte("inv-1"), d.Body)
	assert.Equal(t, 1, d.ReceiveCount)

	require.NoError(t, d.Ack(ctx))
	assert.ErrorIs(t, d.Ack(ctx), ErrAlreadySettled)

	pending, inflight, dead, published := q.Stats()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, inflight)
	assert.Equal(t, 0, dead)
	assert.Equal(t, 1, published)
}

func TestMemoryRejectDeadLettersOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewMemory()
	require.NoError(t, q.Publish(ctx, "inv-1"))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	d := receive(t, deliveries)
	require.NoError(t, d.Reject(ctx))
	assert.ErrorIs(t, d.Reject(ctx), ErrAlreadySettled)

	dead, err := q.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "inv-1", dead[0].InvoiceID)

	select {
	case extra := <-deliveries:
		t.Fatalf("rejected message was redelivered: %s", extra.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryReplayReturnsDeadLetters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewMemory()
	require.NoError(t, q.Publish(ctx, "inv-1"))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, receive(t, deliveries).Reject(ctx))

	n, err := q.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d := receive(t, deliveries)
	assert.Equal(t, []byte("inv-1"), d.Body)
	assert.Equal(t, 2, d.ReceiveCount)
	require.NoError(t, d.Ack(ctx))

	dead, err := q.DeadLetters(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestMemoryConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewMemory()

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestMemoryCarriesRequestID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewMemory()
	require.NoError(t, q.Publish(telemetry.WithRequestID(ctx, "req-1"), "inv-1"))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	d := receive(t, deliveries)
	assert.Equal(t, "req-1", d.RequestID)
	require.NoError(t, d.Ack(ctx))
}
