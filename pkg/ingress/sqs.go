package ingress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v5"
)

// SQSAPI is the subset of the SQS client the ingress uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// SQSQueue implements Queue over an SQS queue URL with short-polling
// semantics. Transient queue errors are retried with backoff inside
// the adapter.
type SQSQueue struct {
	client SQSAPI
	url    string
}

// NewSQSQueue creates a queue adapter for the given queue URL.
func NewSQSQueue(client SQSAPI, url string) *SQSQueue {
	return &SQSQueue{client: client, url: url}
}

// Receive implements Queue. WaitTimeSeconds is zero: an empty queue
// returns promptly so receivers can join the barrier.
func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max > 10 {
		max = 10
	}
	out, err := backoff.Retry(ctx, func() (*sqs.ReceiveMessageOutput, error) {
		return q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.url),
			MaxNumberOfMessages: int32(max),
			WaitTimeSeconds:     0,
		})
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
		})
	}
	return msgs, nil
}

// DeleteBatch implements Queue.
func (q *SQSQueue) DeleteBatch(ctx context.Context, handles []string) error {
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(handles))
	for i, h := range handles {
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: aws.String(h),
		})
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.url),
			Entries:  entries,
		})
		if err != nil {
			return struct{}{}, err
		}
		if len(out.Failed) > 0 {
			return struct{}{}, fmt.Errorf("%d deletions failed", len(out.Failed))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		return fmt.Errorf("sqs delete batch: %w", err)
	}
	return nil
}
