package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Env                  string
	Port                 string
	CORSAllowOrigin      []string
	DatabaseURL          string
	StagingDir           string
	BlobStoreType        string
	LocalBlobDir         string
	AWSRegion            string
	S3Bucket             string
	S3Prefix             string
	S3Endpoint           string
	S3UsePathStyle       bool
	S3AccessKey          string
	S3SecretKey          string
	S3Encryption         string
	SSEKMSKeyID          string
	QueueBackend         string
	RabbitMQURL          string
	SQSQueueURL          string
	SQSDeadLetterURL     string
	WorkerConcurrency    int
	WorkerMessageTimeout time.Duration
	ShutdownTimeout      time.Duration
	MaxContentSize       string
	MaxContentBytes      int64
	FaultInjection       bool
	JWTSecret            string
	RateLimitRPS         float64
	RateLimitBurst       int
	LogLevel             string
}

var defaults = map[string]any{
	"env":                    "dev",
	"port":                   "8080",
	"cors_allow_origins":     "http://localhost:5173",
	"staging_dir":            "./data/staging",
	"blob_store":             "local",
	"local_blob_dir":         "./data/blobs",
	"queue_backend":          "memory",
	"worker_concurrency":     1,
	"worker_message_timeout": "2m",
	"shutdown_timeout":       "30s",
	"max_content_size":       "1MB",
	"fault_injection":        false,
	"rate_limit_rps":         5,
	"rate_limit_burst":       20,
	"log_level":              "info",
}

// Load reads configuration from environment variables (and optional .env files) with sensible defaults.
func Load() Config {
	cfg, err := LoadFrom(newViper(".env", "cmd/.env"))
	if err != nil {
		log.Printf("config: %v; using MAX_CONTENT_SIZE=%s", err, defaults["max_content_size"])
	}
	return cfg
}

// LoadFrom builds a Config from a prepared viper instance.
func LoadFrom(v *viper.Viper) (Config, error) {
	env := normalizeEnv(v.GetString("env"))
	dbURL := strings.TrimSpace(v.GetString("database_url"))
	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	cfg := Config{
		Env:                  env,
		Port:                 v.GetString("port"),
		CORSAllowOrigin:      splitAndTrim(v.GetString("cors_allow_origins")),
		DatabaseURL:          dbURL,
		StagingDir:           v.GetString("staging_dir"),
		BlobStoreType:        normalizeStoreType(v.GetString("blob_store")),
		LocalBlobDir:         v.GetString("local_blob_dir"),
		AWSRegion:            v.GetString("aws_region"),
		S3Bucket:             v.GetString("s3_bucket"),
		S3Prefix:             v.GetString("s3_prefix"),
		S3Endpoint:           v.GetString("s3_endpoint"),
		S3UsePathStyle:       v.GetBool("s3_use_path_style"),
		S3AccessKey:          v.GetString("s3_access_key"),
		S3SecretKey:          v.GetString("s3_secret_key"),
		S3Encryption:         v.GetString("s3_sse"),
		SSEKMSKeyID:          v.GetString("sse_kms_key_id"),
		QueueBackend:         normalizeQueueBackend(v.GetString("queue_backend")),
		RabbitMQURL:          v.GetString("rabbitmq_url"),
		SQSQueueURL:          v.GetString("sqs_queue_url"),
		SQSDeadLetterURL:     v.GetString("sqs_dlq_url"),
		WorkerConcurrency:    v.GetInt("worker_concurrency"),
		WorkerMessageTimeout: v.GetDuration("worker_message_timeout"),
		ShutdownTimeout:      v.GetDuration("shutdown_timeout"),
		MaxContentSize:       v.GetString("max_content_size"),
		FaultInjection:       v.GetBool("fault_injection"),
		JWTSecret:            v.GetString("jwt_secret"),
		RateLimitRPS:         v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:       v.GetInt("rate_limit_burst"),
		LogLevel:             v.GetString("log_level"),
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	size, err := units.FromHumanSize(cfg.MaxContentSize)
	if err == nil && size <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		// the limit always stays in force
		cfg.MaxContentSize = defaults["max_content_size"].(string)
		cfg.MaxContentBytes, _ = units.FromHumanSize(cfg.MaxContentSize)
		return cfg, fmt.Errorf("invalid MAX_CONTENT_SIZE %q: %w", v.GetString("max_content_size"), err)
	}
	cfg.MaxContentBytes = size

	return cfg, nil
}

// newViper prepares a viper instance with defaults, best-effort env files and env overrides.
func newViper(envFiles ...string) *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, path := range envFiles {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		// Missing files are fine for local development.
		_ = v.MergeInConfig()
	}
	v.AutomaticEnv()
	return v
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rabbitmq", "amqp":
		return "rabbitmq"
	case "sqs":
		return "sqs"
	default:
		return "memory"
	}
}
