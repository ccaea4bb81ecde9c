package main

// Inspect and replay dead-lettered upload messages:
//   go run ./cmd/dlq list -n 20
//   go run ./cmd/dlq replay -n 5

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"invoice-backend/internal/bootstrap"
	"invoice-backend/internal/queue"
	"invoice-backend/internal/shared/config"
	"invoice-backend/internal/shared/telemetry"
)

const usage = "usage: dlq <list|replay> [-n limit]"

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel)
	defer telemetry.Sync()

	if cfg.QueueBackend == "memory" {
		fmt.Fprintln(os.Stderr, "QUEUE_BACKEND=memory has no shared dead-letter queue; configure rabbitmq or sqs")
		os.Exit(2)
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap build: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, os.Args[1:], app.Queue, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, dlq queue.DeadLetterQueue, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("n", 10, "maximum number of messages")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%s: %w", usage, err)
	}
	if *limit < 1 {
		return errors.New("-n must be positive")
	}

	switch args[0] {
	case "list":
		letters, err := dlq.DeadLetters(ctx, *limit)
		if err != nil {
			return err
		}
		for _, l := range letters {
			fmt.Fprintf(out, "%s\t%s\n", l.MessageID, l.InvoiceID)
		}
		fmt.Fprintf(out, "%d dead-lettered message(s)\n", len(letters))
		return nil
	case "replay":
		n, err := dlq.Replay(ctx, *limit)
		if err != nil {
			return fmt.Errorf("replayed %d before failure: %w", n, err)
		}
		telemetry.Info("dlq.replayed", map[string]any{"count": n})
		fmt.Fprintf(out, "replayed %d message(s)\n", n)
		return nil
	default:
		return errors.New(usage)
	}
}
