package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector exported by this service.
	Registry = prometheus.NewRegistry()

	invoicesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoices_created_total",
		Help: "Total invoices created",
	})
	uploadJobsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoice_upload_jobs_received_total",
		Help: "Total upload messages received by workers",
	})
	uploadJobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoice_upload_jobs_completed_total",
		Help: "Total upload messages acknowledged",
	})
	uploadJobsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoice_upload_jobs_dead_lettered_total",
		Help: "Total upload messages rejected to the dead-letter channel",
	})
	uploadsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoice_uploads_skipped_total",
		Help: "Total upload requests for invoices that were already uploaded",
	})
	uploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "invoice_upload_duration_ms",
		Help:    "Upload duration in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})
)

func init() {
	Registry.MustRegister(
		invoicesCreated,
		uploadJobsReceived,
		uploadJobsCompleted,
		uploadJobsDeadLettered,
		uploadsSkipped,
		uploadDuration,
	)
}

// IncInvoicesCreated increments the created counter.
func IncInvoicesCreated() { invoicesCreated.Inc() }

// IncUploadJobsReceived increments the received counter.
func IncUploadJobsReceived() { uploadJobsReceived.Inc() }

// IncUploadJobsCompleted increments the completed counter.
func IncUploadJobsCompleted() { uploadJobsCompleted.Inc() }

// IncUploadJobsDeadLettered increments the dead-lettered counter.
func IncUploadJobsDeadLettered() { uploadJobsDeadLettered.Inc() }

// IncUploadsSkipped increments the idempotent no-op counter.
func IncUploadsSkipped() { uploadsSkipped.Inc() }

// ObserveUploadDuration records how long an upload took.
func ObserveUploadDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	uploadDuration.Observe(float64(d) / float64(time.Millisecond))
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
