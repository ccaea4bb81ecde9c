package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"invoice-backend/internal/shared/telemetry"
)

const (
	defaultSQSWaitSeconds       = 20
	defaultSQSVisibilitySeconds = 300

	requestIDAttribute = "RequestId"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSOptions configures the SQS backend.
type SQSOptions struct {
	Region            string
	QueueURL          string
	DeadLetterURL     string
	VisibilitySeconds int32
}

// SQS is the AWS-backed upload queue. The main queue must carry a redrive
// policy with maxReceiveCount=1 so a rejected message moves to the
// dead-letter queue instead of being retried.
type SQS struct {
	client            sqsAPI
	queueURL          string
	deadLetterURL     string
	waitSeconds       int32
	visibilitySeconds int32
	retryDelay        time.Duration
}

// NewSQS builds an SQS queue using the default AWS credential chain.
func NewSQS(ctx context.Context, opts SQSOptions) (*SQS, error) {
	if opts.QueueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSQSWithClient(sqs.NewFromConfig(cfg), opts), nil
}

func newSQSWithClient(client sqsAPI, opts SQSOptions) *SQS {
	visibility := opts.VisibilitySeconds
	if visibility <= 0 {
		visibility = defaultSQSVisibilitySeconds
	}
	return &SQS{
		client:            client,
		queueURL:          opts.QueueURL,
		deadLetterURL:     opts.DeadLetterURL,
		waitSeconds:       defaultSQSWaitSeconds,
		visibilitySeconds: visibility,
		retryDelay:        time.Second,
	}
}

// Publish implements Publisher.
func (s *SQS) Publish(ctx context.Context, invoiceID string) error {
	return s.send(ctx, s.queueURL, Encode(invoiceID), telemetry.RequestID(ctx))
}

func (s *SQS) send(ctx context.Context, queueURL string, body []byte, requestID string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	}
	if requestID != "" {
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			requestIDAttribute: {DataType: aws.String("String"), StringValue: aws.String(requestID)},
		}
	}
	_, err := s.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Consume implements Consumer. Messages are received one at a time with long polling.
func (s *SQS) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              aws.String(s.queueURL),
				MaxNumberOfMessages:   1,
				WaitTimeSeconds:       s.waitSeconds,
				VisibilityTimeout:     s.visibilitySeconds,
				AttributeNames:        []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
				MessageAttributeNames: []string{requestIDAttribute},
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				telemetry.Error("queue.sqs.receive_failed", map[string]any{"queue_url": s.queueURL, "error": err})
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retryDelay):
				}
				continue
			}

			for _, msg := range resp.Messages {
				select {
				case out <- s.toDelivery(msg):
				case <-ctx.Done():
					// visibility is restored without counting as a rejection
					s.release(context.WithoutCancel(ctx), msg)
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *SQS) toDelivery(msg sqstypes.Message) Delivery {
	receipt := aws.ToString(msg.ReceiptHandle)
	return Delivery{
		Body:         []byte(aws.ToString(msg.Body)),
		MessageID:    aws.ToString(msg.MessageId),
		ReceiveCount: receiveCount(msg),
		RequestID:    requestIDOf(msg),
		ack: func(ctx context.Context) error {
			if receipt == "" {
				return errors.New("missing receipt handle")
			}
			_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(s.queueURL),
				ReceiptHandle: aws.String(receipt),
			})
			if err != nil {
				return fmt.Errorf("sqs delete message: %w", err)
			}
			return nil
		},
		reject: func(ctx context.Context) error {
			if receipt == "" {
				return errors.New("missing receipt handle")
			}
			// Visible again immediately; the redrive policy moves it to the DLQ on the next receive.
			_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(s.queueURL),
				ReceiptHandle:     aws.String(receipt),
				VisibilityTimeout: 0,
			})
			if err != nil {
				return fmt.Errorf("sqs change visibility: %w", err)
			}
			return nil
		},
	}
}

func (s *SQS) release(ctx context.Context, msg sqstypes.Message) {
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: 0,
	})
	if err != nil {
		telemetry.Warn("queue.sqs.release_failed", map[string]any{"message_id": aws.ToString(msg.MessageId), "error": err})
	}
}

// DeadLetters implements DeadLetterQueue. Peeked messages become visible again right away.
func (s *SQS) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if s.deadLetterURL == "" {
		return nil, errors.New("sqs dead-letter queue url is not configured")
	}
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.deadLetterURL),
		MaxNumberOfMessages: int32(limit),
		VisibilityTimeout:   0,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		out = append(out, newDeadLetter(aws.ToString(msg.MessageId), []byte(aws.ToString(msg.Body))))
	}
	return out, nil
}

// Replay implements DeadLetterQueue by sending dead letters back to the main queue.
func (s *SQS) Replay(ctx context.Context, limit int) (int, error) {
	if s.deadLetterURL == "" {
		return 0, errors.New("sqs dead-letter queue url is not configured")
	}
	replayed := 0
	for limit <= 0 || replayed < limit {
		batch := int32(10)
		if limit > 0 && limit-replayed < 10 {
			batch = int32(limit - replayed)
		}
		resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(s.deadLetterURL),
			MaxNumberOfMessages:   batch,
			VisibilityTimeout:     30,
			MessageAttributeNames: []string{requestIDAttribute},
		})
		if err != nil {
			return replayed, fmt.Errorf("sqs receive dead letters: %w", err)
		}
		if len(resp.Messages) == 0 {
			break
		}
		for _, msg := range resp.Messages {
			if err := s.send(ctx, s.queueURL, []byte(aws.ToString(msg.Body)), requestIDOf(msg)); err != nil {
				return replayed, err
			}
			if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(s.deadLetterURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				return replayed, fmt.Errorf("sqs delete dead letter: %w", err)
			}
			replayed++
			telemetry.Info("queue.dead_letter.replayed", map[string]any{"message_id": aws.ToString(msg.MessageId), "body": aws.ToString(msg.Body)})
		}
	}
	return replayed, nil
}

func requestIDOf(msg sqstypes.Message) string {
	attr, ok := msg.MessageAttributes[requestIDAttribute]
	if !ok {
		return ""
	}
	return aws.ToString(attr.StringValue)
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	parsed, err := strconv.Atoi(msg.Attributes["ApproximateReceiveCount"])
	if err != nil {
		return 0
	}
	return parsed
}

var (
	_ Publisher       = (*SQS)(nil)
	_ Consumer        = (*SQS)(nil)
	_ DeadLetterQueue = (*SQS)(nil)
)
