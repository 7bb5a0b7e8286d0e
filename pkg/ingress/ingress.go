package ingress

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/newswire-labs/clusterstream/pkg/metrics"
	"github.com/newswire-labs/clusterstream/pkg/types"
)

// deleteChunk is the queue's batch-deletion limit.
const deleteChunk = 10

// Config holds the batching parameters for queue consumption.
type Config struct {
	// BatchSize is the number of messages per clustering step.
	BatchSize int

	// ReceiverThreads is the fan-out width of one Fill round.
	ReceiverThreads int

	// PerReceiverBatch caps messages per poll, at most 10.
	PerReceiverBatch int

	// EmbeddingDim is the required dimension; mismatching documents
	// are skipped.
	EmbeddingDim int
}

// DefaultConfig returns the production ingress parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:        500,
		ReceiverThreads:  50,
		PerReceiverBatch: 10,
	}
}

// Ingress accumulates raw messages across fan-out rounds until a full
// batch is buffered. The buffer is only read between rounds, after all
// receivers have joined.
type Ingress struct {
	q   Queue
	cfg Config
	m   *metrics.Metrics

	mu       sync.Mutex
	buffered []Message
}

// New creates an ingress over the given queue. metrics may be nil.
func New(q Queue, cfg Config, m *metrics.Metrics) *Ingress {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.ReceiverThreads <= 0 {
		cfg.ReceiverThreads = 50
	}
	if cfg.PerReceiverBatch <= 0 || cfg.PerReceiverBatch > 10 {
		cfg.PerReceiverBatch = 10
	}
	return &Ingress{q: q, cfg: cfg, m: m}
}

// Fill runs one fan-out round: ReceiverThreads receivers short-poll
// the queue concurrently until the buffer reaches BatchSize or the
// queue runs dry, then join. Returns the buffered count.
func (in *Ingress) Fill(ctx context.Context) int {
	var total atomic.Int64
	total.Store(int64(len(in.buffered)))

	var wg sync.WaitGroup
	for t := 0; t < in.cfg.ReceiverThreads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				have := int(total.Load())
				if have >= in.cfg.BatchSize {
					return
				}
				want := in.cfg.BatchSize - have
				if want > in.cfg.PerReceiverBatch {
					want = in.cfg.PerReceiverBatch
				}

				msgs, err := in.q.Receive(ctx, want)
				if err != nil {
					log.Warn().Err(err).Msg("receive failed, receiver giving up for this round")
					return
				}
				if len(msgs) == 0 {
					return
				}

				in.mu.Lock()
				in.buffered = append(in.buffered, msgs...)
				in.mu.Unlock()
				total.Add(int64(len(msgs)))
			}
		}()
	}
	wg.Wait()

	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.buffered)
}

// Ready reports whether a full batch is buffered.
func (in *Ingress) Ready() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.buffered) >= in.cfg.BatchSize
}

// Take drains the buffer. Only called between fan-out rounds, never
// while receivers are running.
func (in *Ingress) Take() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	msgs := in.buffered
	in.buffered = nil
	return msgs
}

// queueMessage is the JSON wire format. The single-element outer list
// around the embedding is historical and required.
type queueMessage struct {
	ID              string      `json:"id"`
	ConcatEmbedding [][]float32 `json:"concat_embedding"`
	Title           string      `json:"title"`
	Summary         string      `json:"summary"`
	Text            string      `json:"text"`
	Organizations   []string    `json:"organizations_fd"`
	Locations       []string    `json:"locations_fd"`
	PublicationDate string      `json:"publication_date"`
}

// Parse converts raw messages into documents, in arrival order.
// Malformed messages and dimension mismatches are skipped with a
// warning and are not returned. They stay in the taken batch, so Ack
// deletes them along with the rest; they are not left on the queue.
// Duplicate ids within the batch keep the first occurrence. The
// returned map carries the article payloads for the sink.
func (in *Ingress) Parse(msgs []Message) ([]types.Document, map[string]*types.Article) {
	docs := make([]types.Document, 0, len(msgs))
	payloads := make(map[string]*types.Article, len(msgs))
	seen := make(map[string]bool, len(msgs))

	for _, msg := range msgs {
		var qm queueMessage
		if err := json.Unmarshal(msg.Body, &qm); err != nil {
			log.Warn().Err(err).Msg("skipping malformed message")
			in.count(metrics.ResultMalformed)
			continue
		}
		if qm.ID == "" || len(qm.ConcatEmbedding) == 0 || len(qm.ConcatEmbedding[0]) == 0 {
			log.Warn().Str("id", qm.ID).Msg("skipping message without id or embedding")
			in.count(metrics.ResultMalformed)
			continue
		}

		if seen[qm.ID] {
			in.count(metrics.ResultDuplicate)
			continue
		}

		embedding := qm.ConcatEmbedding[0]
		if in.cfg.EmbeddingDim > 0 && len(embedding) != in.cfg.EmbeddingDim {
			log.Warn().
				Str("id", qm.ID).
				Int("dim", len(embedding)).
				Int("want", in.cfg.EmbeddingDim).
				Msg("skipping document with wrong embedding dimension")
			in.count(metrics.ResultDimensionMismatch)
			continue
		}

		seen[qm.ID] = true
		article := &types.Article{
			ID:              qm.ID,
			Title:           qm.Title,
			Summary:         qm.Summary,
			Text:            qm.Text,
			Organizations:   qm.Organizations,
			Locations:       qm.Locations,
			PublicationDate: qm.PublicationDate,
		}
		docs = append(docs, types.Document{
			ID:        qm.ID,
			Embedding: embedding,
			Article:   article,
		})
		payloads[qm.ID] = article
		in.count(metrics.ResultAccepted)
	}
	return docs, payloads
}

// Ack deletes consumed messages from the queue in chunks of ten.
// Called only after the sink accepted the step's output.
func (in *Ingress) Ack(ctx context.Context, msgs []Message) error {
	for start := 0; start < len(msgs); start += deleteChunk {
		end := start + deleteChunk
		if end > len(msgs) {
			end = len(msgs)
		}
		handles := make([]string, 0, end-start)
		for _, m := range msgs[start:end] {
			handles = append(handles, m.ReceiptHandle)
		}
		if err := in.q.DeleteBatch(ctx, handles); err != nil {
			return err
		}
	}
	log.Debug().Int("count", len(msgs)).Msg("deleted consumed messages")
	return nil
}

func (in *Ingress) count(result string) {
	if in.m != nil {
		in.m.DocumentsIngested.WithLabelValues(result).Inc()
	}
}
