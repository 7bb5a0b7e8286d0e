package cluster

import (
	"context"
	"math"
	"testing"

	"github.com/newswire-labs/clusterstream/pkg/pool"
	"github.com/newswire-labs/clusterstream/pkg/types"
)

func doc(id string, v ...float32) types.Document {
	return types.Document{ID: id, Embedding: v}
}

// angled returns a 3D unit vector at the given cosine distance from
// [1, 0, 0].
func angled(dist float64) []float32 {
	theta := math.Acos(1 - dist)
	return []float32{float32(math.Cos(theta)), float32(math.Sin(theta)), 0}
}

func newClusterer(t *testing.T) (*Clusterer, *pool.Store) {
	t.Helper()
	p := pool.New(3)
	return New(DefaultConfig(), p, nil), p
}

func step(t *testing.T, c *Clusterer, docs ...types.Document) *Result {
	t.Helper()
	res, err := c.Step(context.Background(), docs)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	return res
}

func TestStep_TrivialSingletons(t *testing.T) {
	c, p := newClusterer(t)

	// Pairwise distances all well above eps.
	res := step(t, c,
		doc("a", 1, 0, 0),
		doc("b", 0, 1, 0),
		doc("c", 0, 0, 1),
	)

	if p.Size() != 3 {
		t.Fatalf("expected pool size 3, got %d", p.Size())
	}
	if len(res.UpdatedClusters) != 0 {
		t.Errorf("expected no updated clusters, got %v", res.UpdatedClusters)
	}
	if len(res.NewEntries) != 3 {
		t.Fatalf("expected 3 new entries, got %d", len(res.NewEntries))
	}
	for _, e := range res.NewEntries {
		if len(e.Members) != 1 {
			t.Errorf("new entry %s should have 1 member, got %v", e.ClusterID, e.Members)
		}
	}
}

func TestStep_PairwiseMerge(t *testing.T) {
	c, p := newClusterer(t)

	res := step(t, c,
		doc("A", 1, 0, 0),
		doc("B", 1, 0, 0),
	)

	if p.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", p.Size())
	}
	if !p.IsCluster(0) {
		t.Error("surviving slot should be a cluster")
	}
	if got := p.Members(0); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("expected members [A B], got %v", got)
	}
	if len(res.UpdatedClusters) != 1 {
		t.Fatalf("expected 1 update, got %d", len(res.UpdatedClusters))
	}
	u := res.UpdatedClusters[0]
	if u.ClusterID != p.ClusterID(0) {
		t.Error("update must reference the survivor's id")
	}
	if len(u.AddedMembers) != 1 || u.AddedMembers[0] != "B" {
		t.Errorf("expected added members [B], got %v", u.AddedMembers)
	}
	if len(res.NewEntries) != 0 {
		t.Errorf("expected no new entries, got %v", res.NewEntries)
	}
}

func TestStep_GrowingCluster(t *testing.T) {
	c, p := newClusterer(t)
	step(t, c, doc("A", 1, 0, 0), doc("B", 1, 0, 0))
	clusterID := p.ClusterID(0)
	before := append([]float32(nil), p.Centroid(0)...)

	res := step(t, c, doc("C", 1, 0, 0))

	if p.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", p.Size())
	}
	if got := p.Members(0); len(got) != 3 || got[2] != "C" {
		t.Errorf("expected members [A B C], got %v", got)
	}
	if len(res.UpdatedClusters) != 1 || res.UpdatedClusters[0].ClusterID != clusterID {
		t.Fatalf("expected update for %s, got %v", clusterID, res.UpdatedClusters)
	}
	if got := res.UpdatedClusters[0].AddedMembers; len(got) != 1 || got[0] != "C" {
		t.Errorf("expected added members [C], got %v", got)
	}
	for i := range before {
		if math.Abs(float64(before[i]-p.Centroid(0)[i])) > 1e-6 {
			t.Fatal("centroid must be unchanged when all members are identical")
		}
	}
}

func TestStep_ClusterDoesNotAbsorbCluster(t *testing.T) {
	// Two pre-existing clusters at distance 0.05, below eps.
	p, err := pool.Restore(3,
		[]string{"c1", "c2"},
		[][]string{{"a1", "a2"}, {"b1", "b2"}},
		[][]float32{angled(0), angled(0.05)},
		[]bool{true, true},
	)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	c := New(DefaultConfig(), p, nil)

	// X sits between the two centroids, within eps of both.
	res := step(t, c, doc("X", angled(0.025)...))

	if p.Size() != 2 {
		t.Fatalf("expected pool size 2, got %d", p.Size())
	}
	if len(res.UpdatedClusters) != 1 {
		t.Fatalf("expected exactly one update, got %v", res.UpdatedClusters)
	}
	u := res.UpdatedClusters[0]
	if u.ClusterID != "c1" {
		t.Errorf("lowest-index survivor must win, got %s", u.ClusterID)
	}
	if len(u.AddedMembers) != 1 || u.AddedMembers[0] != "X" {
		t.Errorf("expected added members [X], got %v", u.AddedMembers)
	}

	// c2 is untouched and the skip is surfaced.
	if got := p.Members(1); len(got) != 2 {
		t.Errorf("bridged cluster must keep its members, got %v", got)
	}
	if res.BridgedSkipped != 1 {
		t.Errorf("expected 1 bridged cluster skipped, got %d", res.BridgedSkipped)
	}
}

func TestStep_DedupWithinBatch(t *testing.T) {
	c, p := newClusterer(t)
	res := step(t, c,
		doc("D", 1, 0, 0),
		doc("D", 1, 0, 0),
	)

	if p.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", p.Size())
	}
	if p.IsCluster(0) {
		t.Error("duplicate ids must collapse to one singleton, not a cluster")
	}
	if len(res.NewEntries) != 1 {
		t.Errorf("expected 1 new entry, got %d", len(res.NewEntries))
	}
}

func TestStep_EmptyBatch(t *testing.T) {
	c, p := newClusterer(t)
	res := step(t, c)
	if p.Size() != 0 || len(res.NewEntries) != 0 || len(res.UpdatedClusters) != 0 {
		t.Error("empty batch must be a no-op")
	}
}

func TestStep_PoolSizeArithmetic(t *testing.T) {
	c, p := newClusterer(t)

	// 5 docs, two identical pairs and one lone singleton, plus one
	// in-batch duplicate id.
	res := step(t, c,
		doc("a", 1, 0, 0),
		doc("b", 1, 0, 0),
		doc("c", 0, 1, 0),
		doc("d", 0, 1, 0),
		doc("e", 0, 0, 1),
		doc("a", 1, 0, 0),
	)

	deduped := 5
	if got := p.Size(); got != deduped-res.Absorbed {
		t.Errorf("pool size %d != dedup(B)=%d - absorbed=%d", got, deduped, res.Absorbed)
	}
	if res.Absorbed != 2 {
		t.Errorf("expected 2 absorbed singletons, got %d", res.Absorbed)
	}
	if p.ClusterCount() != 2 {
		t.Errorf("expected 2 clusters, got %d", p.ClusterCount())
	}
	if len(res.NewEntries) != 1 {
		t.Errorf("expected 1 new entry, got %d", len(res.NewEntries))
	}
}

func TestStep_CentroidIsBatchMean(t *testing.T) {
	c, p := newClusterer(t)
	va := angled(0)
	vb := angled(0.16)
	step(t, c, doc("a", va...), doc("b", vb...))
	if p.Size() != 2 {
		t.Fatal("docs beyond eps must not merge")
	}

	// A bridging doc near both pulls them into one group; the new
	// centroid is the mean over every index in the group.
	vx := angled(0.08)
	res := step(t, c, doc("x", vx...))
	if p.Size() != 1 {
		t.Fatalf("expected bridged pool of size 1, got %d", p.Size())
	}
	if res.Absorbed != 2 {
		t.Fatalf("expected 2 absorbed, got %d", res.Absorbed)
	}

	got := p.Centroid(0)
	for i := range got {
		want := (va[i] + vb[i] + vx[i]) / 3
		if math.Abs(float64(got[i]-want)) > 1e-5 {
			t.Fatalf("expected batch-mean centroid, got %v at dim %d (want %f)", got, i, want)
		}
	}
}

func TestStep_SizeWeightedPolicy(t *testing.T) {
	p, err := pool.Restore(3,
		[]string{"c1"},
		[][]string{{"a1", "a2", "a3"}},
		[][]float32{{1, 0, 0}},
		[]bool{true},
	)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	cfg := DefaultConfig()
	cfg.CentroidPolicy = PolicySizeWeighted
	cfg.Eps = 0.2
	c := New(cfg, p, nil)

	step(t, c, doc("x", angled(0.1)...))

	// Weighted mean: 3 parts old centroid, 1 part new doc.
	v := angled(0.1)
	want := []float32{(3*1 + v[0]) / 4, (3*0 + v[1]) / 4, 0}
	got := p.Centroid(0)
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("expected size-weighted centroid %v, got %v", want, got)
		}
	}
}

func TestStep_SparseMatchesDense(t *testing.T) {
	// Same scenario twice: once on the dense path, once forced sparse.
	run := func(threshold int) (*pool.Store, *Result) {
		p := pool.New(3)
		cfg := DefaultConfig()
		cfg.SparseThreshold = threshold
		c := New(cfg, p, nil)
		step(t, c, doc("a", 1, 0, 0), doc("b", 0, 1, 0), doc("c", 0, 0, 1))
		res := step(t, c,
			doc("a2", 1, 0, 0),
			doc("b2", 0, 1, 0),
			doc("z", angled(0.5)...),
		)
		return p, res
	}

	densePool, denseRes := run(15000)
	sparsePool, sparseRes := run(1)

	if densePool.Size() != sparsePool.Size() {
		t.Fatalf("pool size diverges: dense=%d sparse=%d", densePool.Size(), sparsePool.Size())
	}
	if denseRes.Absorbed != sparseRes.Absorbed {
		t.Fatalf("absorbed diverges: dense=%d sparse=%d", denseRes.Absorbed, sparseRes.Absorbed)
	}
	if len(denseRes.UpdatedClusters) != len(sparseRes.UpdatedClusters) {
		t.Fatalf("updates diverge: dense=%d sparse=%d", len(denseRes.UpdatedClusters), len(sparseRes.UpdatedClusters))
	}
	if densePool.ClusterCount() != sparsePool.ClusterCount() {
		t.Fatal("cluster counts diverge between dense and sparse paths")
	}
}

func TestDBSCAN_NoiseStaysNoise(t *testing.T) {
	c, p := newClusterer(t)
	res := step(t, c,
		doc("a", 1, 0, 0),
		doc("b", 1, 0, 0),
		doc("lonely", 0, 0, 1),
	)
	if p.Size() != 2 {
		t.Fatalf("expected pool size 2, got %d", p.Size())
	}
	if len(res.NewEntries) != 1 || res.NewEntries[0].Members[0] != "lonely" {
		t.Errorf("noise point must stay a singleton, got %v", res.NewEntries)
	}
}
