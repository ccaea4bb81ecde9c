package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"invoice-backend/internal/shared/telemetry"
)

// Broker topology for invoice uploads.
const (
	UploadExchange      = "invoice.upload.exchange"
	UploadQueue         = "invoice.upload.queue"
	UploadRoutingKey    = ""
	DeadLetterExchange  = "invoice.upload.dead-letter-exchange"
	DeadLetterQueueName = "invoice.upload.dead-letter-queue"
)

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// RabbitMQ is the broker-backed upload queue. Rejected deliveries are
// dead-lettered by the broker through the queue's x-dead-letter-exchange.
type RabbitMQ struct {
	conn *amqp.Connection
	ch   amqpChannel
	now  func() time.Time
}

// DialRabbitMQ connects to the broker, opens a channel and declares the topology.
func DialRabbitMQ(url string) (*RabbitMQ, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	r := newRabbitMQ(conn, ch)
	if err := r.Declare(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func newRabbitMQ(conn *amqp.Connection, ch amqpChannel) *RabbitMQ {
	return &RabbitMQ{conn: conn, ch: ch, now: time.Now}
}

// Declare creates the exchanges and queues if they do not exist yet.
func (r *RabbitMQ) Declare() error {
	if err := r.ch.ExchangeDeclare(UploadExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", UploadExchange, err)
	}
	if err := r.ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DeadLetterExchange, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterQueueName,
	}
	if _, err := r.ch.QueueDeclare(UploadQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", UploadQueue, err)
	}
	if err := r.ch.QueueBind(UploadQueue, UploadRoutingKey, UploadExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", UploadQueue, err)
	}

	if _, err := r.ch.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueueName, err)
	}
	if err := r.ch.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", DeadLetterQueueName, err)
	}
	return nil
}

// Publish implements Publisher with a persistent text/plain message.
func (r *RabbitMQ) Publish(ctx context.Context, invoiceID string) error {
	return r.publishBody(ctx, Encode(invoiceID), telemetry.RequestID(ctx))
}

func (r *RabbitMQ) publishBody(ctx context.Context, body []byte, correlationID string) error {
	err := r.ch.PublishWithContext(ctx, UploadExchange, UploadRoutingKey, false, false, amqp.Publishing{
		ContentType:   "text/plain",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: correlationID,
		Timestamp:     r.now().UTC(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// Consume implements Consumer with manual acknowledgements and a prefetch of one.
func (r *RabbitMQ) Consume(ctx context.Context) (<-chan Delivery, error) {
	if err := r.ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("rabbitmq qos: %w", err)
	}
	tag := "invoice-upload-" + uuid.NewString()
	deliveries, err := r.ch.Consume(UploadQueue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consume: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				r.cancel(tag)
				return
			case d, ok := <-deliveries:
				if !ok {
					telemetry.Warn("queue.rabbitmq.deliveries_closed", map[string]any{"consumer": tag})
					return
				}
				select {
				case out <- toDelivery(d):
				case <-ctx.Done():
					// never handed to the worker, so return it to the main queue
					if err := d.Nack(false, true); err != nil {
						telemetry.Error("queue.rabbitmq.requeue_failed", map[string]any{"message_id": d.MessageId, "error": err})
					}
					r.cancel(tag)
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQ) cancel(tag string) {
	if err := r.ch.Cancel(tag, false); err != nil {
		telemetry.Warn("queue.rabbitmq.cancel_failed", map[string]any{"consumer": tag, "error": err})
	}
}

func toDelivery(d amqp.Delivery) Delivery {
	receives := 1
	if d.Redelivered {
		receives = 2
	}
	return Delivery{
		Body:         d.Body,
		MessageID:    d.MessageId,
		ReceiveCount: receives,
		RequestID:    d.CorrelationId,
		ack:          func(context.Context) error { return d.Ack(false) },
		reject:       func(context.Context) error { return d.Nack(false, false) },
	}
}

// DeadLetters implements DeadLetterQueue. Messages are fetched and requeued
// so the dead-letter queue is left as it was.
func (r *RabbitMQ) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	var (
		out     []DeadLetter
		fetched []amqp.Delivery
	)
	defer func() {
		for _, d := range fetched {
			if err := d.Nack(false, true); err != nil {
				telemetry.Error("queue.rabbitmq.requeue_failed", map[string]any{"message_id": d.MessageId, "error": err})
			}
		}
	}()

	for limit <= 0 || len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, ok, err := r.ch.Get(DeadLetterQueueName, false)
		if err != nil {
			return out, fmt.Errorf("rabbitmq get: %w", err)
		}
		if !ok {
			break
		}
		fetched = append(fetched, d)
		out = append(out, newDeadLetter(d.MessageId, d.Body))
	}
	return out, nil
}

// Replay implements DeadLetterQueue by republishing dead letters to the upload exchange.
func (r *RabbitMQ) Replay(ctx context.Context, limit int) (int, error) {
	replayed := 0
	for limit <= 0 || replayed < limit {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		d, ok, err := r.ch.Get(DeadLetterQueueName, false)
		if err != nil {
			return replayed, fmt.Errorf("rabbitmq get: %w", err)
		}
		if !ok {
			break
		}
		if err := r.publishBody(ctx, d.Body, d.CorrelationId); err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				telemetry.Error("queue.rabbitmq.requeue_failed", map[string]any{"message_id": d.MessageId, "error": nackErr})
			}
			return replayed, err
		}
		if err := d.Ack(false); err != nil {
			return replayed, fmt.Errorf("rabbitmq ack: %w", err)
		}
		replayed++
		telemetry.Info("queue.dead_letter.replayed", map[string]any{"message_id": d.MessageId, "body": string(d.Body)})
	}
	return replayed, nil
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() error {
	var errs []error
	if r.ch != nil {
		errs = append(errs, r.ch.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}

var (
	_ Publisher       = (*RabbitMQ)(nil)
	_ Consumer        = (*RabbitMQ)(nil)
	_ DeadLetterQueue = (*RabbitMQ)(nil)
)
