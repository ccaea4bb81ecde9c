package queue

import (
	"context"
	"strconv"
	"sync"

	"invoice-backend/internal/shared/telemetry"
)

type memMessage struct {
	id        string
	body      []byte
	requestID string
	receives  int
}

// Memory is an in-process queue with a dead-letter list. It is used in
// development mode, where the API runs the upload worker in-process, and in tests.
type Memory struct {
	mu        sync.Mutex
	pending   []memMessage
	inflight  map[string]memMessage
	dead      []memMessage
	notify    chan struct{}
	seq       int
	published int
}

// NewMemory constructs an empty Memory queue.
func NewMemory() *Memory {
	return &Memory{
		inflight: make(map[string]memMessage),
		notify:   make(chan struct{}, 1),
	}
}

// Publish implements Publisher.
func (m *Memory) Publish(ctx context.Context, invoiceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.enqueue(Encode(invoiceID), telemetry.RequestID(ctx))
	return nil
}

// PublishRaw enqueues an arbitrary body.
func (m *Memory) PublishRaw(body []byte) {
	m.enqueue(body, "")
}

func (m *Memory) enqueue(body []byte, requestID string) {
	m.mu.Lock()
	m.seq++
	m.published++
	m.pending = append(m.pending, memMessage{id: "mem-" + strconv.Itoa(m.seq), body: body, requestID: requestID})
	m.mu.Unlock()
	m.wake()
}

// Consume implements Consumer. Several consumers may share one Memory queue.
func (m *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			msg, ok := m.next()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-m.notify:
					continue
				}
			}

			d := Delivery{
				Body:         msg.body,
				MessageID:    msg.id,
				ReceiveCount: msg.receives,
				RequestID:    msg.requestID,
				ack:          func(context.Context) error { return m.settle(msg.id, false) },
				reject:       func(context.Context) error { return m.settle(msg.id, true) },
			}
			select {
			case out <- d:
			case <-ctx.Done():
				m.requeue(msg.id)
				return
			}
		}
	}()
	return out, nil
}

// DeadLetters implements DeadLetterQueue.
func (m *Memory) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, 0, n)
	for _, msg := range m.dead[:n] {
		out = append(out, newDeadLetter(msg.id, msg.body))
	}
	return out, nil
}

// Replay implements DeadLetterQueue by moving dead letters back to the main queue.
func (m *Memory) Replay(ctx context.Context, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	n := len(m.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	moved := m.dead[:n]
	m.dead = append([]memMessage(nil), m.dead[n:]...)
	m.pending = append(m.pending, moved...)
	m.mu.Unlock()
	if n > 0 {
		m.wake()
	}
	return n, nil
}

// Stats reports queue depths and the number of published messages.
func (m *Memory) Stats() (pending, inflight, dead, published int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.inflight), len(m.dead), m.published
}

func (m *Memory) next() (memMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return memMessage{}, false
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	msg.receives++
	m.inflight[msg.id] = msg
	if len(m.pending) > 0 {
		// leave a token for other consumers
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	return msg, true
}

func (m *Memory) settle(id string, dead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.inflight[id]
	if !ok {
		return ErrAlreadySettled
	}
	delete(m.inflight, id)
	if dead {
		m.dead = append(m.dead, msg)
	}
	return nil
}

func (m *Memory) requeue(id string) {
	m.mu.Lock()
	msg, ok := m.inflight[id]
	if ok {
		delete(m.inflight, id)
		m.pending = append([]memMessage{msg}, m.pending...)
	}
	m.mu.Unlock()
	if ok {
		m.wake()
	}
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

var (
	_ Publisher       = (*Memory)(nil)
	_ Consumer        = (*Memory)(nil)
	_ DeadLetterQueue = (*Memory)(nil)
)
