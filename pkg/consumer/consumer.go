// Package consumer owns the main loop: fan-out ingest, clustering
// step, sink publish, message acknowledgement, and checkpoint cadence.
// Steps never overlap, and checkpoints run between steps only.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newswire-labs/clusterstream/pkg/checkpoint"
	"github.com/newswire-labs/clusterstream/pkg/cluster"
	"github.com/newswire-labs/clusterstream/pkg/config"
	"github.com/newswire-labs/clusterstream/pkg/ingress"
	"github.com/newswire-labs/clusterstream/pkg/metrics"
	"github.com/newswire-labs/clusterstream/pkg/pool"
	"github.com/newswire-labs/clusterstream/pkg/sink"
	"github.com/newswire-labs/clusterstream/pkg/telemetry"
)

// idleWait is how long the loop sleeps when the queue cannot yet fill
// a batch.
const idleWait = 250 * time.Millisecond

// Consumer wires the pipeline together around the pool it owns.
type Consumer struct {
	cfg    *config.Config
	in     *ingress.Ingress
	snk    *sink.Sink
	ckpt   *checkpoint.Checkpointer
	m      *metrics.Metrics
	tracer *telemetry.Provider

	pool      *pool.Store
	clusterer *cluster.Clusterer

	batches   int
	lastSaved int
}

// New assembles a consumer. metrics and tracer may be nil.
func New(cfg *config.Config, in *ingress.Ingress, snk *sink.Sink, ckpt *checkpoint.Checkpointer, m *metrics.Metrics, tracer *telemetry.Provider) *Consumer {
	if tracer == nil {
		tracer = noopTracer()
	}
	return &Consumer{cfg: cfg, in: in, snk: snk, ckpt: ckpt, m: m, tracer: tracer}
}

func noopTracer() *telemetry.Provider {
	p, _ := telemetry.Init(context.Background(), telemetry.Config{Enabled: false})
	return p
}

// Run executes the consumer until ctx is cancelled. On shutdown the
// in-flight step finishes, a final checkpoint is written, and Run
// returns nil. A corrupt checkpoint or a pool invariant violation is
// returned as a fatal error.
func (c *Consumer) Run(ctx context.Context) error {
	st, err := c.ckpt.Load(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		st = pool.New(c.cfg.Clustering.EmbeddingDim)
	} else if st.Dim() != c.cfg.Clustering.EmbeddingDim {
		return errors.Join(checkpoint.ErrCorrupt,
			errors.New("checkpoint dimension differs from configured embedding_dim"))
	}
	c.pool = st
	c.clusterer = cluster.New(cluster.Config{
		Eps:             c.cfg.Clustering.Eps,
		MinSamples:      c.cfg.Clustering.MinSamples,
		SparseThreshold: c.cfg.Clustering.SparseThreshold,
		BlockSize:       c.cfg.Clustering.BlockSize,
		CentroidPolicy:  c.cfg.Clustering.CentroidPolicy,
	}, st, c.m)
	if c.m != nil {
		c.m.RecordPool(st.Size(), st.ClusterCount())
	}

	// One warm-up fan-out round before entering the loop.
	c.fill(ctx)

	for {
		if ctx.Err() != nil {
			break
		}

		c.fillAndMaybeCheckpoint(ctx)

		if !c.in.Ready() {
			select {
			case <-ctx.Done():
			case <-time.After(idleWait):
			}
			continue
		}

		if err := c.processBatch(ctx); err != nil {
			if errors.Is(err, pool.ErrInvariantViolated) {
				log.Error().Err(err).Msg("pool invariant violated, dumping state")
				log.Error().Msg(c.pool.Dump(50))
			}
			return err
		}
	}

	log.Info().Msg("shutdown requested, writing final checkpoint")
	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.ckpt.Save(saveCtx, c.pool); err != nil {
		log.Error().Err(err).Msg("final checkpoint failed")
	}
	return nil
}

// fillAndMaybeCheckpoint runs one fan-out round, concurrently with a
// checkpoint when one is due. Both join before the next step starts.
func (c *Consumer) fillAndMaybeCheckpoint(ctx context.Context) {
	due := c.batches%c.cfg.Checkpoint.Every == 0 && c.batches != c.lastSaved

	done := make(chan struct{})
	if due {
		go func() {
			defer close(done)
			ckptCtx, span := c.tracer.StartCheckpoint(ctx, c.pool.Size())
			if err := c.ckpt.Save(ckptCtx, c.pool); err != nil {
				log.Error().Err(err).Msg("checkpoint failed, will retry next interval")
				telemetry.RecordError(span, err)
			} else {
				c.lastSaved = c.batches
			}
			span.End()
		}()
	} else {
		close(done)
	}

	c.fill(ctx)
	<-done
}

func (c *Consumer) fill(ctx context.Context) {
	fillCtx, span := c.tracer.StartIngest(ctx, c.cfg.Ingress.ReceiverThreads)
	defer span.End()
	start := time.Now()
	buffered := c.in.Fill(fillCtx)
	if c.m != nil {
		c.m.ObserveStage("ingest", time.Since(start))
	}
	log.Debug().Int("buffered", buffered).Msg("fan-out round complete")
}

func (c *Consumer) processBatch(ctx context.Context) error {
	msgs := c.in.Take()
	docs, payloads := c.in.Parse(msgs)

	stepCtx, span := c.tracer.StartStep(ctx, len(docs), c.pool.Size())
	start := time.Now()
	res, err := c.clusterer.Step(stepCtx, docs)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		return err
	}
	telemetry.RecordStepResult(span, c.pool.Size(), len(res.NewEntries), len(res.UpdatedClusters))
	span.End()

	sinkCtx, sinkSpan := c.tracer.StartSink(ctx, len(res.NewEntries), len(res.UpdatedClusters))
	sinkErr := c.snk.Publish(sinkCtx, res.NewEntries, res.UpdatedClusters, payloads)
	if sinkErr != nil {
		// The pool already absorbed the batch. Leaving the messages on
		// the queue re-delivers them; the sink's upserts absorb the
		// duplicate writes on retry.
		telemetry.RecordError(sinkSpan, sinkErr)
		sinkSpan.End()
		log.Error().Err(sinkErr).Msg("sink publish failed, messages left on queue")
		return nil
	}
	sinkSpan.End()

	if err := c.in.Ack(ctx, msgs); err != nil {
		log.Error().Err(err).Msg("message deletion failed, duplicates expected on redelivery")
	}

	c.batches++
	if c.m != nil {
		c.m.BatchesProcessed.Inc()
		c.m.ObserveStage("batch", time.Since(start))
	}

	total := 0
	c.pool.Each(func(_ string, members []string, _ []float32, _ bool) {
		total += len(members)
	})
	log.Info().
		Int("batch", len(docs)).
		Int("pool_size", c.pool.Size()).
		Int("clusters", c.pool.ClusterCount()).
		Int("singletons", c.pool.Size()-c.pool.ClusterCount()).
		Int("stories_clustered", total).
		Dur("took", time.Since(start)).
		Msg("batch processed")
	return nil
}
