package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newswire-labs/clusterstream/pkg/metrics"
	"github.com/newswire-labs/clusterstream/pkg/pool"
)

// ObjectStore is the blob storage the checkpointer writes through.
type ObjectStore interface {
	// Get fetches the blob under key. ok is false when no blob exists.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Put writes the blob under key, replacing any previous version.
	Put(ctx context.Context, key string, data []byte) error
}

// Checkpointer snapshots the pool to a fixed key in an object store.
type Checkpointer struct {
	store ObjectStore
	key   string
	m     *metrics.Metrics
}

// New creates a checkpointer. metrics may be nil.
func New(store ObjectStore, key string, m *metrics.Metrics) *Checkpointer {
	return &Checkpointer{store: store, key: key, m: m}
}

// Save serializes the pool and writes it under the configured key.
func (c *Checkpointer) Save(ctx context.Context, st *pool.Store) error {
	start := time.Now()
	blob := Encode(st)
	if err := c.store.Put(ctx, c.key, blob); err != nil {
		return fmt.Errorf("checkpoint save: %w", err)
	}

	if c.m != nil {
		c.m.CheckpointSeconds.Observe(time.Since(start).Seconds())
		c.m.CheckpointBytes.Set(float64(len(blob)))
	}
	log.Info().
		Str("key", c.key).
		Int("pool_size", st.Size()).
		Int("bytes", len(blob)).
		Dur("took", time.Since(start)).
		Msg("checkpoint saved")
	return nil
}

// Load fetches and decodes the latest checkpoint. A missing blob is a
// cold start and returns (nil, nil); a blob that fails to decode
// returns an error wrapping ErrCorrupt, which callers treat as fatal.
func (c *Checkpointer) Load(ctx context.Context) (*pool.Store, error) {
	blob, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("checkpoint load: %w", err)
	}
	if !ok {
		log.Info().Str("key", c.key).Msg("no checkpoint found, starting cold")
		return nil, nil
	}

	st, err := Decode(blob)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("key", c.key).
		Int("pool_size", st.Size()).
		Int("clusters", st.ClusterCount()).
		Int("singletons", st.Size()-st.ClusterCount()).
		Msg("restored pool from checkpoint")
	return st, nil
}
