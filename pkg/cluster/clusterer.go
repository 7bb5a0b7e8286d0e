// Package cluster implements the incremental merge step: it wraps
// DBSCAN over the batch-updated distance matrix and translates label
// groups into merge actions against the pool.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newswire-labs/clusterstream/pkg/kernel"
	vecmath "github.com/newswire-labs/clusterstream/pkg/math"
	"github.com/newswire-labs/clusterstream/pkg/metrics"
	"github.com/newswire-labs/clusterstream/pkg/pool"
	"github.com/newswire-labs/clusterstream/pkg/types"
)

// Centroid update policies.
const (
	PolicyBatchMean    = "batch_mean"
	PolicySizeWeighted = "size_weighted"
)

// Config holds the clustering parameters for a consumer instance.
type Config struct {
	// Eps is the DBSCAN neighborhood radius in cosine distance.
	Eps float64

	// MinSamples is the DBSCAN core minimum, counting the point itself.
	MinSamples int

	// SparseThreshold is the pool size above which the working matrix
	// switches to sparse CSR; the same bound gates the parallel row
	// sort inside assembly.
	SparseThreshold int

	// BlockSize is the tile width of the distance kernel.
	BlockSize int

	// CentroidPolicy is PolicyBatchMean or PolicySizeWeighted.
	CentroidPolicy string
}

// DefaultConfig returns the production clustering parameters.
func DefaultConfig() Config {
	return Config{
		Eps:             0.10,
		MinSamples:      2,
		SparseThreshold: 15000,
		BlockSize:       120,
		CentroidPolicy:  PolicyBatchMean,
	}
}

// Result is the outcome of one step: fresh singletons and the clusters
// that absorbed members this batch.
type Result struct {
	NewEntries      []types.NewEntry
	UpdatedClusters []types.ClusterUpdate

	// Absorbed counts singleton slots merged away this step.
	Absorbed int

	// BridgedSkipped counts existing clusters that shared a label group
	// with a survivor but were left untouched.
	BridgedSkipped int
}

// Clusterer drives the per-batch merge step against a pool it borrows
// from the main loop.
type Clusterer struct {
	cfg  Config
	pool *pool.Store
	m    *metrics.Metrics
}

// New creates a clusterer over the given pool. metrics may be nil.
func New(cfg Config, p *pool.Store, m *metrics.Metrics) *Clusterer {
	if cfg.Eps <= 0 {
		cfg.Eps = 0.10
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 2
	}
	if cfg.SparseThreshold <= 0 {
		cfg.SparseThreshold = 15000
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 120
	}
	if cfg.CentroidPolicy == "" {
		cfg.CentroidPolicy = PolicyBatchMean
	}
	return &Clusterer{cfg: cfg, pool: p, m: m}
}

// Pool returns the pool the clusterer operates on.
func (c *Clusterer) Pool() *pool.Store { return c.pool }

// Step runs one full clustering pass for a batch of documents:
// dedup, append, distance update, DBSCAN, merge resolution, and
// compaction. The returned result references stable cluster ids only;
// no pool index survives the internal compaction.
func (c *Clusterer) Step(ctx context.Context, batch []types.Document) (*Result, error) {
	res := &Result{}
	docs := dedupBatch(batch)
	if len(docs) == 0 {
		return res, nil
	}

	oldSize := c.pool.Size()

	_, _, err := c.pool.AppendSingletons(docs)
	if err != nil {
		return nil, err
	}
	poolSize := c.pool.Size()

	newVecs := make([][]float32, len(docs))
	for i, d := range docs {
		newVecs[i] = d.Embedding
	}

	distStart := time.Now()
	block, err := kernel.BatchDistances(newVecs, c.pool.Centroids(), c.pool.Dim(), c.cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("distance update: %w", err)
	}

	var dm kernel.DistanceMatrix
	if oldSize > 0 && poolSize > c.cfg.SparseThreshold {
		csr, err := kernel.AssembleSparse(block, oldSize, c.cfg.SparseThreshold)
		if err != nil {
			return nil, fmt.Errorf("sparse assembly: %w", err)
		}
		dm = csr
	} else {
		dm = kernel.NewDenseView(block, oldSize)
	}
	c.observe("distances", time.Since(distStart))

	fitStart := time.Now()
	labels := DBSCAN(dm, c.cfg.Eps, c.cfg.MinSamples)
	c.observe("dbscan", time.Since(fitStart))

	mergeStart := time.Now()
	groups := groupLabels(labels)

	removed := make([]int, 0)
	for _, indices := range groups {
		if len(indices) < 2 {
			continue
		}
		survivor := indices[0]

		var absorbed []int
		var addedIDs []string
		for _, i := range indices[1:] {
			if c.pool.IsCluster(i) {
				res.BridgedSkipped++
				continue
			}
			absorbed = append(absorbed, i)
			addedIDs = append(addedIDs, c.pool.Members(i)[0])
		}

		// Record against the stable id before any index moves.
		res.UpdatedClusters = append(res.UpdatedClusters, types.ClusterUpdate{
			ClusterID:    c.pool.ClusterID(survivor),
			AddedMembers: addedIDs,
		})

		centroid := c.mergedCentroid(indices)
		if err := c.pool.Merge(survivor, absorbed, addedIDs, centroid); err != nil {
			return nil, err
		}

		removed = append(removed, absorbed...)
		res.Absorbed += len(absorbed)
	}

	if err := c.pool.Compact(removed); err != nil {
		return nil, err
	}

	for i := oldSize; i < c.pool.Size(); i++ {
		if c.pool.IsCluster(i) {
			continue
		}
		members := make([]string, len(c.pool.Members(i)))
		copy(members, c.pool.Members(i))
		res.NewEntries = append(res.NewEntries, types.NewEntry{
			ClusterID: c.pool.ClusterID(i),
			Members:   members,
		})
	}
	c.observe("merge", time.Since(mergeStart))

	if err := c.pool.Validate(); err != nil {
		return nil, err
	}

	if c.m != nil {
		c.m.MergesTotal.Add(float64(res.Absorbed))
		c.m.BridgedSkipped.Add(float64(res.BridgedSkipped))
		c.m.RecordPool(c.pool.Size(), c.pool.ClusterCount())
	}
	log.Debug().
		Int("batch", len(docs)).
		Int("pool_size", c.pool.Size()).
		Int("clusters", c.pool.ClusterCount()).
		Int("absorbed", res.Absorbed).
		Int("new_entries", len(res.NewEntries)).
		Int("bridged_skipped", res.BridgedSkipped).
		Msg("step complete")

	return res, nil
}

// mergedCentroid recomputes the survivor centroid from every slot in
// the label group, existing clusters included: the centroid drifts
// toward the current local density while the identity stays put.
func (c *Clusterer) mergedCentroid(indices []int) []float32 {
	vectors := make([][]float32, len(indices))
	for k, i := range indices {
		vectors[k] = c.pool.Centroid(i)
	}

	centroid := make([]float32, c.pool.Dim())
	if c.cfg.CentroidPolicy == PolicySizeWeighted {
		weights := make([]float64, len(indices))
		for k, i := range indices {
			weights[k] = float64(len(c.pool.Members(i)))
		}
		vecmath.WeightedMeanVector(centroid, vectors, weights)
	} else {
		vecmath.MeanVector(centroid, vectors)
	}
	return centroid
}

func (c *Clusterer) observe(stage string, d time.Duration) {
	if c.m != nil {
		c.m.ObserveStage(stage, d)
	}
}

// dedupBatch drops duplicate document ids, keeping the first
// occurrence in arrival order.
func dedupBatch(batch []types.Document) []types.Document {
	seen := make(map[string]bool, len(batch))
	out := make([]types.Document, 0, len(batch))
	for _, d := range batch {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

// groupLabels collects slot indices per non-noise label, ascending
// within each group, ordered by label id (which is also discovery
// order, so a group's first index is its oldest slot).
func groupLabels(labels []int) [][]int {
	max := -1
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	if max < 0 {
		return nil
	}
	groups := make([][]int, max+1)
	for i, l := range labels {
		if l == Noise {
			continue
		}
		groups[l] = append(groups[l], i)
	}
	return groups
}
