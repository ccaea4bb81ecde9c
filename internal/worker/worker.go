// Package worker runs the upload consumer loop that moves staged invoice
// documents to the blob store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"invoice-backend/internal/invoices"
	"invoice-backend/internal/queue"
	"invoice-backend/internal/shared/metrics"
	"invoice-backend/internal/shared/telemetry"
)

// ErrConsumerClosed is returned by Run when the delivery stream ends while the
// worker is still expected to consume, e.g. after the broker connection drops.
var ErrConsumerClosed = errors.New("consumer closed unexpectedly")

// Uploader performs the idempotent upload step for one invoice.
type Uploader interface {
	UploadToBlobStore(ctx context.Context, invoiceID string) (invoices.Invoice, error)
}

// UploadWorker consumes invoice ids and uploads their documents, one message at a time.
type UploadWorker struct {
	consumer       queue.Consumer
	uploader       Uploader
	name           string
	messageTimeout time.Duration
}

// Option configures an UploadWorker.
type Option func(*UploadWorker)

// WithName labels the worker in logs.
func WithName(name string) Option {
	return func(w *UploadWorker) { w.name = name }
}

// WithMessageTimeout bounds the time spent on a single message.
func WithMessageTimeout(d time.Duration) Option {
	return func(w *UploadWorker) { w.messageTimeout = d }
}

// New constructs an UploadWorker.
func New(consumer queue.Consumer, uploader Uploader, opts ...Option) *UploadWorker {
	w := &UploadWorker{consumer: consumer, uploader: uploader, name: "upload-worker"}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes until ctx is cancelled. A message that is already being
// processed when ctx is cancelled is finished and settled before Run returns.
func (w *UploadWorker) Run(ctx context.Context) error {
	deliveries, err := w.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	telemetry.Info("worker.started", map[string]any{"worker": w.name})

	for d := range deliveries {
		w.handle(ctx, d)
	}

	if ctx.Err() == nil {
		telemetry.Error("worker.consumer.closed", map[string]any{"worker": w.name})
		return ErrConsumerClosed
	}
	telemetry.Info("worker.stopped", map[string]any{"worker": w.name})
	return nil
}

func (w *UploadWorker) handle(ctx context.Context, d queue.Delivery) {
	metrics.IncUploadJobsReceived()
	start := time.Now()

	// Shutdown must not abort an in-flight upload.
	jobCtx := context.WithoutCancel(ctx)
	if w.messageTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, w.messageTimeout)
		defer cancel()
	}

	jobCtx = telemetry.WithRequestID(jobCtx, d.RequestID)

	fields := telemetry.Fields(jobCtx, map[string]any{
		"worker":        w.name,
		"message_id":    d.MessageID,
		"receive_count": d.ReceiveCount,
	})

	msg, err := queue.Decode(d.Body)
	if err != nil {
		fields["body_len"] = len(d.Body)
		fields["error"] = err
		telemetry.Error("worker.upload.decode_failed", fields)
		w.reject(jobCtx, d, fields)
		return
	}
	fields["invoice_id"] = msg.InvoiceID
	telemetry.Info("worker.upload.received", fields)

	inv, err := w.uploader.UploadToBlobStore(jobCtx, msg.InvoiceID)
	if err != nil {
		fields["error"] = err
		fields["simulated"] = errors.Is(err, invoices.ErrSimulatedFailure)
		telemetry.Error("worker.upload.failed", fields)
		w.reject(jobCtx, d, fields)
		return
	}

	if err := d.Ack(jobCtx); err != nil {
		fields["error"] = err
		telemetry.Error("worker.upload.ack_failed", fields)
		return
	}

	metrics.IncUploadJobsCompleted()
	metrics.ObserveUploadDuration(time.Since(start))
	fields["blob_key"] = inv.BlobKey
	fields["duration_ms"] = time.Since(start).Milliseconds()
	telemetry.Info("worker.upload.completed", fields)
}

func (w *UploadWorker) reject(ctx context.Context, d queue.Delivery, fields map[string]any) {
	if err := d.Reject(ctx); err != nil {
		fields["error"] = err
		telemetry.Error("worker.upload.reject_failed", fields)
		return
	}
	metrics.IncUploadJobsDeadLettered()
	telemetry.Warn("worker.upload.dead_lettered", fields)
}

// RunAll runs workers concurrently and waits for all of them to stop. The
// first worker to fail stops the others.
func RunAll(ctx context.Context, workers ...*UploadWorker) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range workers {
		wg.Add(1)
		go func(w *UploadWorker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", w.name, err))
				mu.Unlock()
				cancel()
			}
		}(w)
	}
	wg.Wait()
	return errors.Join(errs...)
}
