package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"
)

const (
	// getChunk is DynamoDB's BatchGetItem limit.
	getChunk = 100

	// writeChunk is DynamoDB's BatchWriteItem limit.
	writeChunk = 25
)

// DynamoAPI is the subset of the DynamoDB client the sink uses.
type DynamoAPI interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements Store over one DynamoDB table with the
// composite (PK, SK) schema. Transient store errors are retried with
// backoff; unprocessed keys and items are re-driven until drained.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore creates a store adapter for the given table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// GetMetadata implements Store. Keys are read in chunks of 100, and
// partial batches are retried until no unprocessed keys remain.
func (d *DynamoStore) GetMetadata(ctx context.Context, keys []Key) ([]Metadata, error) {
	var items []Metadata

	pending := make([]map[string]ddbtypes.AttributeValue, 0, len(keys))
	for _, k := range keys {
		pending = append(pending, map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: k.PK},
			"SK": &ddbtypes.AttributeValueMemberS{Value: k.SK},
		})
	}

	for len(pending) > 0 {
		chunk := pending
		if len(chunk) > getChunk {
			chunk = chunk[:getChunk]
		}
		rest := pending[len(chunk):]

		out, err := backoff.Retry(ctx, func() (*dynamodb.BatchGetItemOutput, error) {
			return d.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]ddbtypes.KeysAndAttributes{
					d.table: {Keys: chunk},
				},
			})
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(time.Minute))
		if err != nil {
			return nil, fmt.Errorf("batch get: %w", err)
		}

		for _, raw := range out.Responses[d.table] {
			var md Metadata
			if err := attributevalue.UnmarshalMap(raw, &md); err != nil {
				return nil, fmt.Errorf("unmarshal metadata row: %w", err)
			}
			items = append(items, md)
		}

		pending = rest
		if un, ok := out.UnprocessedKeys[d.table]; ok && len(un.Keys) > 0 {
			pending = append(pending, un.Keys...)
		}
	}
	return items, nil
}

// Write implements Store. Rows are written in chunks of 25;
// unprocessed items are re-driven with backoff.
func (d *DynamoStore) Write(ctx context.Context, rows []Row) error {
	requests := make([]ddbtypes.WriteRequest, 0, len(rows))
	for _, row := range rows {
		item, err := attributevalue.MarshalMap(row.Item)
		if err != nil {
			return fmt.Errorf("marshal row %s/%s: %w", row.Key.PK, row.Key.SK, err)
		}
		requests = append(requests, ddbtypes.WriteRequest{
			PutRequest: &ddbtypes.PutRequest{Item: item},
		})
	}

	pending := requests
	for len(pending) > 0 {
		chunk := pending
		if len(chunk) > writeChunk {
			chunk = chunk[:writeChunk]
		}
		rest := pending[len(chunk):]

		out, err := backoff.Retry(ctx, func() (*dynamodb.BatchWriteItemOutput, error) {
			return d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]ddbtypes.WriteRequest{
					d.table: chunk,
				},
			})
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(time.Minute))
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}

		pending = rest
		if un, ok := out.UnprocessedItems[d.table]; ok && len(un) > 0 {
			pending = append(pending, un...)
		}
	}
	return nil
}
