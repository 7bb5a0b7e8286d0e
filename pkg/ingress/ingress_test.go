package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

// fakeQueue is an in-memory Queue for tests.
type fakeQueue struct {
	mu      sync.Mutex
	pending []Message
	deleted [][]string
}

func newFakeQueue(n int) *fakeQueue {
	q := &fakeQueue{}
	for i := 0; i < n; i++ {
		body, _ := json.Marshal(map[string]any{
			"id":               fmt.Sprintf("doc-%d", i),
			"concat_embedding": [][]float32{{1, 0, 0}},
		})
		q.pending = append(q.pending, Message{
			ReceiptHandle: fmt.Sprintf("rh-%d", i),
			Body:          body,
		})
	}
	return q
}

func (q *fakeQueue) Receive(_ context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > len(q.pending) {
		max = len(q.pending)
	}
	out := q.pending[:max]
	q.pending = q.pending[max:]
	return out, nil
}

func (q *fakeQueue) DeleteBatch(_ context.Context, handles []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, handles)
	return nil
}

func body(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestFill_StopsAtBatchSize(t *testing.T) {
	q := newFakeQueue(100)
	in := New(q, Config{BatchSize: 40, ReceiverThreads: 8, PerReceiverBatch: 10}, nil)

	got := in.Fill(context.Background())
	if got < 40 {
		t.Fatalf("expected at least a full batch buffered, got %d", got)
	}
	// Receivers race on the last slots; the overshoot is bounded by one
	// poll per receiver.
	if got > 40+8*10 {
		t.Fatalf("buffered %d messages, far beyond the batch size", got)
	}
}

func TestFill_DrainsShortQueue(t *testing.T) {
	q := newFakeQueue(7)
	in := New(q, Config{BatchSize: 500, ReceiverThreads: 4, PerReceiverBatch: 10}, nil)

	if got := in.Fill(context.Background()); got != 7 {
		t.Fatalf("expected 7 buffered, got %d", got)
	}
	if in.Ready() {
		t.Error("7 of 500 must not be a full batch")
	}

	// A second round accumulates on top of the buffer.
	q.mu.Lock()
	q.pending = newFakeQueue(3).pending
	q.mu.Unlock()
	if got := in.Fill(context.Background()); got != 10 {
		t.Fatalf("expected 10 buffered after second round, got %d", got)
	}
}

func TestTake_DrainsBuffer(t *testing.T) {
	q := newFakeQueue(5)
	in := New(q, Config{BatchSize: 5, ReceiverThreads: 2, PerReceiverBatch: 10}, nil)
	in.Fill(context.Background())

	msgs := in.Take()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if in.Ready() || len(in.Take()) != 0 {
		t.Error("buffer must be empty after Take")
	}
}

func TestParse_SkipsMalformed(t *testing.T) {
	in := New(nil, Config{EmbeddingDim: 3}, nil)
	msgs := []Message{
		{Body: []byte("{not json")},
		{Body: body(t, map[string]any{"concat_embedding": [][]float32{{1, 2, 3}}})},             // no id
		{Body: body(t, map[string]any{"id": "x"})},                                              // no embedding
		{Body: body(t, map[string]any{"id": "ok", "concat_embedding": [][]float32{{1, 2, 3}}})}, // good
	}

	docs, payloads := in.Parse(msgs)
	if len(docs) != 1 || docs[0].ID != "ok" {
		t.Fatalf("expected only the well-formed document, got %v", docs)
	}
	if _, ok := payloads["ok"]; !ok {
		t.Error("payload map must carry the accepted document")
	}
}

func TestParse_SkipsDimensionMismatch(t *testing.T) {
	in := New(nil, Config{EmbeddingDim: 3}, nil)
	msgs := []Message{
		{Body: body(t, map[string]any{"id": "short", "concat_embedding": [][]float32{{1, 2}}})},
		{Body: body(t, map[string]any{"id": "ok", "concat_embedding": [][]float32{{1, 2, 3}}})},
	}

	docs, _ := in.Parse(msgs)
	if len(docs) != 1 || docs[0].ID != "ok" {
		t.Fatalf("expected dimension mismatch to be skipped, got %v", docs)
	}
}

func TestParse_DeduplicatesKeepingFirst(t *testing.T) {
	in := New(nil, Config{EmbeddingDim: 2}, nil)
	msgs := []Message{
		{Body: body(t, map[string]any{"id": "d", "title": "first", "concat_embedding": [][]float32{{1, 0}}})},
		{Body: body(t, map[string]any{"id": "d", "title": "second", "concat_embedding": [][]float32{{0, 1}}})},
	}

	docs, payloads := in.Parse(msgs)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document after dedup, got %d", len(docs))
	}
	if docs[0].Embedding[0] != 1 {
		t.Error("dedup must keep the first occurrence")
	}
	if payloads["d"].Title != "first" {
		t.Errorf("payload must come from the first occurrence, got %q", payloads["d"].Title)
	}
}

func TestParse_ForwardsPayload(t *testing.T) {
	in := New(nil, Config{EmbeddingDim: 2}, nil)
	msgs := []Message{
		{Body: body(t, map[string]any{
			"id":               "a",
			"concat_embedding": [][]float32{{1, 0}},
			"title":            "Quarterly results",
			"organizations_fd": []string{"ACME"},
			"publication_date": "2024-03-01",
		})},
	}

	_, payloads := in.Parse(msgs)
	p := payloads["a"]
	if p == nil || p.Title != "Quarterly results" || len(p.Organizations) != 1 || p.PublicationDate != "2024-03-01" {
		t.Fatalf("payload fields not forwarded: %+v", p)
	}
}

func TestAck_DeletesInChunksOfTen(t *testing.T) {
	q := newFakeQueue(0)
	in := New(q, Config{BatchSize: 25}, nil)

	msgs := make([]Message, 25)
	for i := range msgs {
		msgs[i] = Message{ReceiptHandle: fmt.Sprintf("rh-%d", i)}
	}
	if err := in.Ack(context.Background(), msgs); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	if len(q.deleted) != 3 {
		t.Fatalf("expected 3 delete batches, got %d", len(q.deleted))
	}
	total := 0
	for _, batch := range q.deleted {
		if len(batch) > 10 {
			t.Errorf("delete batch exceeds 10 handles: %d", len(batch))
		}
		total += len(batch)
	}
	if total != 25 {
		t.Errorf("expected 25 deletions, got %d", total)
	}
}
