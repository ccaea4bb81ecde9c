package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"invoice-backend/internal/invoices"
	"invoice-backend/internal/queue"
	"invoice-backend/internal/render"
	"invoice-backend/internal/services/health"
	"invoice-backend/internal/shared/auth"
	"invoice-backend/internal/shared/config"
	"invoice-backend/internal/shared/server"
	"invoice-backend/internal/shared/storage/blob"
	localstore "invoice-backend/internal/shared/storage/blob/local"
	s3store "invoice-backend/internal/shared/storage/blob/s3"
	"invoice-backend/internal/shared/storage/db"
	"invoice-backend/internal/shared/storage/staging"
	"invoice-backend/internal/shared/telemetry"
	"invoice-backend/internal/worker"
)

// Queue is the full upload queue surface used by the binaries.
type Queue interface {
	queue.Publisher
	queue.Consumer
	queue.DeadLetterQueue
}

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	Store           blob.Store
	Staging         *staging.Area
	Queue           Queue
	InvoicesRepo    invoices.Repo
	InvoicesService *invoices.Service
	InvoicesHandler *invoices.Handler
	Verifier        *auth.Verifier

	closers []func() error
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.BlobStoreType) == "" {
		cfg.BlobStoreType = "local"
	}
	if strings.TrimSpace(cfg.QueueBackend) == "" {
		cfg.QueueBackend = "memory"
	}
	ctx := context.Background()
	app := &App{Config: cfg}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sqlDB != nil {
		app.DB = sqlDB
		app.closers = append(app.closers, sqlDB.Close)
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	q, err := buildQueue(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Queue = q
	if closer, ok := q.(interface{ Close() error }); ok {
		app.closers = append(app.closers, closer.Close)
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Verifier = verifier

	buildServices(app)

	checks := map[string]health.Pinger{}
	if app.DB != nil {
		checks["database"] = app.DB
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		Verifier:        app.Verifier,
		Health:          health.NewService(checks),
		InvoicesHandler: app.InvoicesHandler,
	})

	return app, nil
}

// Workers builds the configured number of upload workers sharing the app's queue.
func (a *App) Workers() []*worker.UploadWorker {
	n := a.Config.WorkerConcurrency
	if n < 1 {
		n = 1
	}
	out := make([]*worker.UploadWorker, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, worker.New(a.Queue, a.InvoicesService,
			worker.WithName(fmt.Sprintf("upload-worker-%d", i+1)),
			worker.WithMessageTimeout(a.Config.WorkerMessageTimeout),
		))
	}
	return out
}

// RunsWorkersInProcess reports whether the API must host the upload workers itself.
// The in-memory queue is not shared across processes.
func (a *App) RunsWorkersInProcess() bool {
	return a.Config.QueueBackend == "memory"
}

// Close releases connections held by the app.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.database.memory", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, errors.New("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.database.memory", map[string]any{"reason": "connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.BlobStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:       cfg.AWSRegion,
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Encryption:   cfg.S3Encryption,
			KMSKeyID:     cfg.SSEKMSKeyID,
		})
	default:
		return localstore.New(cfg.LocalBlobDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (Queue, error) {
	switch cfg.QueueBackend {
	case "rabbitmq":
		return queue.DialRabbitMQ(cfg.RabbitMQURL)
	case "sqs":
		return queue.NewSQS(ctx, queue.SQSOptions{
			Region:            cfg.AWSRegion,
			QueueURL:          cfg.SQSQueueURL,
			DeadLetterURL:     cfg.SQSDeadLetterURL,
			VisibilitySeconds: int32(cfg.WorkerMessageTimeout.Seconds()) + 30,
		})
	default:
		if !isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.queue.memory", map[string]any{"env": cfg.Env})
		}
		return queue.NewMemory(), nil
	}
}

func buildVerifier(cfg config.Config) (*auth.Verifier, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		if cfg.Env == "production" {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		return nil, nil
	}
	return auth.NewVerifier(cfg.JWTSecret)
}

func buildServices(app *App) {
	var repo invoices.Repo
	if app.DB != nil {
		repo = &invoices.PGRepo{DB: app.DB}
	} else {
		repo = invoices.NewMemoryRepo()
	}

	var faults invoices.FaultInjector = invoices.NoFaults{}
	if app.Config.FaultInjection {
		faults = invoices.NewMarkerFaults()
		telemetry.Warn("bootstrap.fault_injection.enabled", map[string]any{
			"invoice_prefix":  invoices.DefaultInvoiceMarker,
			"customer_prefix": invoices.DefaultCustomerMarker,
		})
	}

	app.Staging = staging.New(app.Config.StagingDir)
	app.InvoicesRepo = repo
	app.InvoicesService = &invoices.Service{
		Repo:            repo,
		Store:           app.Store,
		Staging:         app.Staging,
		Renderer:        render.NewPDFRenderer(),
		Queue:           app.Queue,
		Faults:          faults,
		MaxContentBytes: app.Config.MaxContentBytes,
	}
	app.InvoicesHandler = invoices.NewHandler(app.InvoicesService)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
