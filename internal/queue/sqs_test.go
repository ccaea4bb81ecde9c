package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-backend/internal/shared/telemetry"
)

type fakeSQS struct {
	mu         sync.Mutex
	sent       map[string][]string
	inbox      map[string][]sqstypes.Message
	deleted    []string
	visibility []string
	requestIDs []string
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{sent: map[string][]string{}, inbox: map[string][]sqstypes.Message{}}
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := aws.ToString(params.QueueUrl)
	f.sent[url] = append(f.sent[url], aws.ToString(params.MessageBody))
	f.requestIDs = append(f.requestIDs, aws.ToString(params.MessageAttributes[requestIDAttribute].StringValue))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	url := aws.ToString(params.QueueUrl)
	msgs := f.inbox[url]
	n := int(params.MaxNumberOfMessages)
	if n > len(msgs) {
		n = len(msgs)
	}
	batch := msgs[:n]
	f.inbox[url] = msgs[n:]
	f.mu.Unlock()

	if len(batch) == 0 && params.WaitTimeSeconds > 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.QueueUrl)+"|"+aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = append(f.visibility, aws.ToString(params.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func sqsMessage(id, receipt, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(body),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func TestSQSPublishSendsRawID(t *testing.T) {
	client := newFakeSQS()
	q := newSQSWithClient(client, SQSOptions{QueueURL: "main"})

	require.NoError(t, q.Publish(context.Background(), "inv-1"))
	assert.Equal(t, []string{"inv-1"}, client.sent["main"])
}

func TestSQSAckDeletesAndRejectResetsVisibility(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newFakeSQS()
	client.inbox["main"] = []sqstypes.Message{
		sqsMessage("m1", "r1", "inv-1"),
		sqsMessage("m2", "r2", "inv-2"),
	}
	q := newSQSWithClient(client, SQSOptions{QueueURL: "main"})

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	first := receive(t, out)
	assert.Equal(t, "m1", first.MessageID)
	assert.Equal(t, 1, first.ReceiveCount)
	require.NoError(t, first.Ack(ctx))

	second := receive(t, out)
	require.NoError(t, second.Reject(ctx))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"main|r1"}, client.deleted)
	assert.Equal(t, []string{"r2"}, client.visibility)
}

func TestSQSConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := newSQSWithClient(newFakeSQS(), SQSOptions{QueueURL: "main"})

	out, err := q.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestSQSReplayMovesDeadLetters(t *testing.T) {
	client := newFakeSQS()
	client.inbox["dlq"] = []sqstypes.Message{
		sqsMessage("m1", "r1", "inv-1"),
		sqsMessage("m2", "r2", "inv-2"),
	}
	q := newSQSWithClient(client, SQSOptions{QueueURL: "main", DeadLetterURL: "dlq"})

	n, err := q.Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"inv-1", "inv-2"}, client.sent["main"])
	assert.Equal(t, []string{"dlq|r1", "dlq|r2"}, client.deleted)
}

func TestSQSCarriesRequestID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newFakeSQS()
	q := newSQSWithClient(client, SQSOptions{QueueURL: "main"})

	require.NoError(t, q.Publish(telemetry.WithRequestID(ctx, "req-1"), "inv-1"))
	require.NoError(t, q.Publish(ctx, "inv-2"))
	assert.Equal(t, []string{"req-1", ""}, client.requestIDs)

	msg := sqsMessage("m1", "r1", "inv-1")
	msg.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
		requestIDAttribute: {DataType: aws.String("String"), StringValue: aws.String("req-1")},
	}
	client.inbox["main"] = []sqstypes.Message{msg}

	out, err := q.Consume(ctx)
	require.NoError(t, err)
	d := receive(t, out)
	assert.Equal(t, "req-1", d.RequestID)
}

func TestSQSDeadLettersRequiresURL(t *testing.T) {
	q := newSQSWithClient(newFakeSQS(), SQSOptions{QueueURL: "main"})

	_, err := q.DeadLetters(context.Background(), 5)
	assert.Error(t, err)
}

func TestSQSDeadLettersDecodesIDs(t *testing.T) {
	client := newFakeSQS()
	client.inbox["dlq"] = []sqstypes.Message{sqsMessage("m1", "r1", `{"invoiceId":"inv-9"}`)}
	q := newSQSWithClient(client, SQSOptions{QueueURL: "main", DeadLetterURL: "dlq"})

	dead, err := q.DeadLetters(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "inv-9", dead[0].InvoiceID)
}
