// Package pool holds the in-memory cluster pool: parallel arrays of
// centroid embeddings, membership lists, and cluster flags for every
// slot the consumer has ever kept. The pool is owned by the main loop;
// nothing else mutates it.
package pool

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/newswire-labs/clusterstream/pkg/types"
)

// ErrInvariantViolated signals internal pool corruption. It is fatal:
// an inconsistent pool silently corrupts every future clustering
// decision.
var ErrInvariantViolated = errors.New("pool: invariant violated")

// Store is the pool of cluster and singleton slots. The parallel
// arrays (ids, members, centroids, cluster flags) always have equal
// length; slot order is stable except across
// Compact, which invalidates all externally held indices.
type Store struct {
	dim          int
	ids          []string
	members      [][]string
	centroids    [][]float32
	isCluster    []bool
	clusterCount int
}

// New creates an empty pool for embeddings of the given dimension.
func New(dim int) *Store {
	return &Store{dim: dim}
}

// Restore rebuilds a pool from checkpointed state. The inputs are
// adopted, not copied. Returns an error wrapping ErrInvariantViolated
// when the restored state is internally inconsistent.
func Restore(dim int, ids []string, members [][]string, centroids [][]float32, isCluster []bool) (*Store, error) {
	st := &Store{
		dim:       dim,
		ids:       ids,
		members:   members,
		centroids: centroids,
		isCluster: isCluster,
	}
	for _, c := range isCluster {
		if c {
			st.clusterCount++
		}
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

// Size returns the number of slots.
func (s *Store) Size() int { return len(s.ids) }

// Dim returns the embedding dimension.
func (s *Store) Dim() int { return s.dim }

// ClusterCount returns the number of slots that have ever flipped to
// cluster status.
func (s *Store) ClusterCount() int { return s.clusterCount }

// ClusterID returns the stable identifier of slot i.
func (s *Store) ClusterID(i int) string { return s.ids[i] }

// Members returns the member ids of slot i. The slice is shared; the
// caller must not mutate it.
func (s *Store) Members(i int) []string { return s.members[i] }

// IsCluster reports whether slot i has ever held two or more members.
func (s *Store) IsCluster(i int) bool { return s.isCluster[i] }

// Centroid returns the centroid of slot i. Shared; do not mutate.
func (s *Store) Centroid(i int) []float32 { return s.centroids[i] }

// Centroids returns the centroid array. Shared; do not mutate.
func (s *Store) Centroids() [][]float32 { return s.centroids }

// AppendSingletons pushes one fresh slot per document, each with a
// newly generated cluster id, the document as sole member, and the
// document's embedding as centroid. Returns the half-open index range
// of the new slots.
func (s *Store) AppendSingletons(docs []types.Document) (start, end int, err error) {
	start = len(s.ids)
	for _, doc := range docs {
		if len(doc.Embedding) != s.dim {
			return start, start, fmt.Errorf("%w: document %s has dim %d, pool wants %d",
				ErrInvariantViolated, doc.ID, len(doc.Embedding), s.dim)
		}
	}
	for _, doc := range docs {
		s.ids = append(s.ids, uuid.NewString())
		s.members = append(s.members, []string{doc.ID})
		s.centroids = append(s.centroids, doc.Embedding)
		s.isCluster = append(s.isCluster, false)
	}
	return start, len(s.ids), nil
}

// Merge extends the survivor slot with newMembers, replaces its
// centroid, and flips it to cluster status, incrementing the cluster
// count on the first flip. The absorbed slots keep their members until
// Compact removes them; absorbed must not contain the survivor.
func (s *Store) Merge(survivor int, absorbed []int, newMembers []string, centroid []float32) error {
	if survivor < 0 || survivor >= len(s.ids) {
		return fmt.Errorf("%w: merge survivor %d out of range [0, %d)", ErrInvariantViolated, survivor, len(s.ids))
	}
	for _, i := range absorbed {
		if i < 0 || i >= len(s.ids) {
			return fmt.Errorf("%w: merge absorbs %d out of range [0, %d)", ErrInvariantViolated, i, len(s.ids))
		}
		if i == survivor {
			return fmt.Errorf("%w: merge absorbs its own survivor %d", ErrInvariantViolated, survivor)
		}
	}
	if len(centroid) != s.dim {
		return fmt.Errorf("%w: merge centroid has dim %d, pool wants %d", ErrInvariantViolated, len(centroid), s.dim)
	}

	s.members[survivor] = append(s.members[survivor], newMembers...)
	s.centroids[survivor] = centroid
	if !s.isCluster[survivor] {
		s.isCluster[survivor] = true
		s.clusterCount++
	}
	return nil
}

// Compact removes the given slot indices in a single pass, preserving
// the relative order of survivors. Every index held by the caller is
// invalid after this call.
func (s *Store) Compact(removed []int) error {
	if len(removed) == 0 {
		return nil
	}
	drop := make(map[int]bool, len(removed))
	for _, i := range removed {
		if i < 0 || i >= len(s.ids) {
			return fmt.Errorf("%w: compact index %d out of range [0, %d)", ErrInvariantViolated, i, len(s.ids))
		}
		drop[i] = true
	}

	w := 0
	for r := 0; r < len(s.ids); r++ {
		if drop[r] {
			if s.isCluster[r] {
				s.clusterCount--
			}
			continue
		}
		s.ids[w] = s.ids[r]
		s.members[w] = s.members[r]
		s.centroids[w] = s.centroids[r]
		s.isCluster[w] = s.isCluster[r]
		w++
	}
	s.ids = s.ids[:w]
	s.members = s.members[:w]
	s.centroids = s.centroids[:w]
	s.isCluster = s.isCluster[:w]
	return nil
}

// Each calls fn for every slot in order. Used by the checkpointer.
func (s *Store) Each(fn func(id string, members []string, centroid []float32, isCluster bool)) {
	for i := range s.ids {
		fn(s.ids[i], s.members[i], s.centroids[i], s.isCluster[i])
	}
}

// Validate checks the pool invariants: equal array lengths, uniform
// centroid dimensionality, unique cluster ids, non-empty membership
// per slot, is_cluster consistent with membership size, and global
// member-id uniqueness. Intended to run at step boundaries, where a
// violation is a bug, not a data problem.
func (s *Store) Validate() error {
	n := len(s.ids)
	if len(s.members) != n || len(s.centroids) != n || len(s.isCluster) != n {
		return fmt.Errorf("%w: parallel arrays diverge: ids=%d members=%d centroids=%d flags=%d",
			ErrInvariantViolated, n, len(s.members), len(s.centroids), len(s.isCluster))
	}

	seenIDs := make(map[string]int, n)
	seenMembers := make(map[string]int)
	for i := 0; i < n; i++ {
		if prev, ok := seenIDs[s.ids[i]]; ok {
			return fmt.Errorf("%w: cluster id %s appears at slots %d and %d", ErrInvariantViolated, s.ids[i], prev, i)
		}
		seenIDs[s.ids[i]] = i

		if len(s.members[i]) == 0 {
			return fmt.Errorf("%w: slot %d has no members", ErrInvariantViolated, i)
		}
		if len(s.members[i]) >= 2 && !s.isCluster[i] {
			return fmt.Errorf("%w: slot %d has %d members but is not flagged as cluster", ErrInvariantViolated, i, len(s.members[i]))
		}
		if len(s.centroids[i]) != s.dim {
			return fmt.Errorf("%w: slot %d centroid has dim %d, want %d", ErrInvariantViolated, i, len(s.centroids[i]), s.dim)
		}

		for _, m := range s.members[i] {
			if prev, ok := seenMembers[m]; ok {
				return fmt.Errorf("%w: member %s appears in slots %d and %d", ErrInvariantViolated, m, prev, i)
			}
			seenMembers[m] = i
		}
	}
	return nil
}

// Dump returns a compact human-readable description of the pool for
// the diagnostic emitted when an invariant trips.
func (s *Store) Dump(maxSlots int) string {
	n := len(s.ids)
	shown := n
	if maxSlots > 0 && shown > maxSlots {
		shown = maxSlots
	}
	out := fmt.Sprintf("pool size=%d clusters=%d dim=%d\n", n, s.clusterCount, s.dim)
	for i := 0; i < shown; i++ {
		members := s.members[i]
		preview := members
		if len(preview) > 5 {
			preview = preview[:5]
		}
		out += fmt.Sprintf("  [%d] id=%s cluster=%t members=%d %v\n", i, s.ids[i], s.isCluster[i], len(members), preview)
	}
	if shown < n {
		out += fmt.Sprintf("  ... %d more slots\n", n-shown)
	}
	return out
}
