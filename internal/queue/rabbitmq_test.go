package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"invoice-backend/internal/shared/telemetry"
)

type ackRecord struct {
	tag     uint64
	kind    string
	requeue bool
}

type fakeAcker struct {
	mu      sync.Mutex
	records []ackRecord
	nackErr error
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, kind: "ack"})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, kind: "nack", requeue: requeue})
	return a.nackErr
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, kind: "reject", requeue: requeue})
	return nil
}

func (a *fakeAcker) all() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

type declaredQueue struct {
	name    string
	durable bool
	args    amqp.Table
}

type binding struct {
	queue, key, exchange string
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     []declaredQueue
	bindings   []binding
	published  []amqp.Publishing
	publishKey []string
	prefetch   int
	deliveries chan amqp.Delivery
	dlq        []amqp.Delivery
	cancelled  []string
	closed     bool
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{exchanges: map[string]string{}, deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.queues = append(f.queues, declaredQueue{name: name, durable: durable, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.bindings = append(f.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.publishKey = append(f.publishKey, exchange+"|"+key)
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dlq) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.dlq[0]
	f.dlq = f.dlq[1:]
	return d, true, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQDeclareTopology(t *testing.T) {
	ch := newFakeChannel()
	r := newRabbitMQ(nil, ch)

	require.NoError(t, r.Declare())

	assert.Equal(t, amqp.ExchangeDirect, ch.exchanges[UploadExchange])
	assert.Equal(t, amqp.ExchangeDirect, ch.exchanges[DeadLetterExchange])
	require.Len(t, ch.queues, 2)
	assert.Equal(t, UploadQueue, ch.queues[0].name)
	assert.True(t, ch.queues[0].durable)
	assert.Equal(t, DeadLetterExchange, ch.queues[0].args["x-dead-letter-exchange"])
	assert.Equal(t, DeadLetterQueueName, ch.queues[0].args["x-dead-letter-routing-key"])
	assert.Equal(t, DeadLetterQueueName, ch.queues[1].name)
	assert.True(t, ch.queues[1].durable)
	assert.Equal(t, []binding{
		{queue: UploadQueue, key: UploadRoutingKey, exchange: UploadExchange},
		{queue: DeadLetterQueueName, key: DeadLetterQueueName, exchange: DeadLetterExchange},
	}, ch.bindings)
}

func TestRabbitMQPublishPersistentTextBody(t *testing.T) {
	ch := newFakeChannel()
	r := newRabbitMQ(nil, ch)

	require.NoError(t, r.Publish(context.Background(), "inv-1"))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, []byte("inv-1"), msg.Body)
	assert.Equal(t, "text/plain", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)
	assert.Equal(t, UploadExchange+"|"+UploadRoutingKey, ch.publishKey[0])
}

func TestRabbitMQConsumeAckAndReject(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := newFakeChannel()
	acker := &fakeAcker{}
	r := newRabbitMQ(nil, ch)

	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, MessageId: "m1", Body: []byte("inv-1")}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, MessageId: "m2", Body: []byte("inv-2")}

	out, err := r.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ch.prefetch)

	first := receive(t, out)
	assert.Equal(t, "m1", first.MessageID)
	require.NoError(t, first.Ack(ctx))

	second := receive(t, out)
	require.NoError(t, second.Reject(ctx))

	assert.Equal(t, []ackRecord{
		{tag: 1, kind: "ack"},
		{tag: 2, kind: "nack", requeue: false},
	}, acker.all())
}

func TestRabbitMQConsumeCancelsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := newFakeChannel()
	r := newRabbitMQ(nil, ch)

	out, err := r.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Len(t, ch.cancelled, 1)
}

func TestRabbitMQDeadLettersPeekAndRequeue(t *testing.T) {
	ch := newFakeChannel()
	acker := &fakeAcker{}
	ch.dlq = []amqp.Delivery{
		{Acknowledger: acker, DeliveryTag: 1, MessageId: "m1", Body: []byte("test-dlq-1")},
		{Acknowledger: acker, DeliveryTag: 2, MessageId: "m2", Body: []byte("inv-2")},
	}
	r := newRabbitMQ(nil, ch)

	dead, err := r.DeadLetters(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.Equal(t, "test-dlq-1", dead[0].InvoiceID)
	assert.Equal(t, []ackRecord{
		{tag: 1, kind: "nack", requeue: true},
		{tag: 2, kind: "nack", requeue: true},
	}, acker.all())
}

func TestRabbitMQReplayRepublishesAndAcks(t *testing.T) {
	ch := newFakeChannel()
	acker := &fakeAcker{}
	ch.dlq = []amqp.Delivery{
		{Acknowledger: acker, DeliveryTag: 1, MessageId: "m1", Body: []byte("inv-1")},
		{Acknowledger: acker, DeliveryTag: 2, MessageId: "m2", Body: []byte("inv-2")},
	}
	r := newRabbitMQ(nil, ch)

	n, err := r.Replay(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, ch.published, 1)
	assert.Equal(t, []byte("inv-1"), ch.published[0].Body)
	assert.Equal(t, []ackRecord{{tag: 1, kind: "ack"}}, acker.all())
	assert.Len(t, ch.dlq, 1)
}

func TestRabbitMQCarriesRequestIDAsCorrelationID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := newFakeChannel()
	r := newRabbitMQ(nil, ch)

	require.NoError(t, r.Publish(telemetry.WithRequestID(ctx, "req-1"), "inv-1"))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "req-1", ch.published[0].CorrelationId)

	ch.deliveries <- amqp.Delivery{Acknowledger: &fakeAcker{}, DeliveryTag: 1, CorrelationId: "req-1", Body: []byte("inv-1")}
	out, err := r.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1", receive(t, out).RequestID)
}

func TestRabbitMQConsumeEndsWhenBrokerClosesDeliveries(t *testing.T) {
	ch := newFakeChannel()
	r := newRabbitMQ(nil, ch)

	out, err := r.Consume(context.Background())
	require.NoError(t, err)
	close(ch.deliveries)

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery stream stayed open")
	}
}

func TestRabbitMQReplayRequeuesWhenPublishFails(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	telemetry.SetLogger(zap.New(core))
	t.Cleanup(func() { telemetry.SetLogger(nil) })

	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	acker := &fakeAcker{nackErr: errors.New("connection lost")}
	ch.dlq = []amqp.Delivery{{Acknowledger: acker, DeliveryTag: 1, MessageId: "m1", Body: []byte("inv-1")}}
	r := newRabbitMQ(nil, ch)

	n, err := r.Replay(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []ackRecord{{tag: 1, kind: "nack", requeue: true}}, acker.all())

	failed := logs.FilterMessage("queue.rabbitmq.requeue_failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "m1", failed[0].ContextMap()["message_id"])
}

func TestRabbitMQCloseClosesChannel(t *testing.T) {
	ch := newFakeChannel()
	r := newRabbitMQ(nil, ch)

	require.NoError(t, r.Close())
	assert.True(t, ch.closed)
}
