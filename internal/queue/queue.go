package queue

import (
	"context"
	"errors"
)

// ErrAlreadySettled is returned when a delivery is acknowledged or rejected twice.
var ErrAlreadySettled = errors.New("delivery already settled")

// Publisher sends invoice ids to the upload queue.
type Publisher interface {
	Publish(ctx context.Context, invoiceID string) error
}

// Consumer streams deliveries from the upload queue until ctx is cancelled.
// The returned channel is closed once the consumer has stopped.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// DeadLetter is a message parked on the dead-letter channel.
type DeadLetter struct {
	MessageID string
	Body      string
	InvoiceID string
}

// DeadLetterQueue exposes the dead-letter channel for inspection and manual replay.
// Nothing replays dead letters automatically.
type DeadLetterQueue interface {
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	Replay(ctx context.Context, limit int) (int, error)
}

// Delivery is a single received message. Exactly one of Ack or Reject should be called.
type Delivery struct {
	Body         []byte
	MessageID    string
	ReceiveCount int
	// RequestID correlates the message with the HTTP request that published it.
	RequestID string

	ack    func(ctx context.Context) error
	reject func(ctx context.Context) error
}

// NewDelivery builds a Delivery from backend callbacks.
func NewDelivery(body []byte, messageID string, ack, reject func(ctx context.Context) error) Delivery {
	return Delivery{Body: body, MessageID: messageID, ack: ack, reject: reject}
}

// Ack confirms the message was processed and removes it from the queue.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Reject refuses the message without requeueing it, routing it to the dead-letter channel.
func (d Delivery) Reject(ctx context.Context) error {
	if d.reject == nil {
		return nil
	}
	return d.reject(ctx)
}

func newDeadLetter(messageID string, body []byte) DeadLetter {
	dl := DeadLetter{MessageID: messageID, Body: string(body)}
	if msg, err := Decode(body); err == nil {
		dl.InvoiceID = msg.InvoiceID
	}
	return dl
}
