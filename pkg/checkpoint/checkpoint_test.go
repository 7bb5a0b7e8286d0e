package checkpoint

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/newswire-labs/clusterstream/pkg/cluster"
	"github.com/newswire-labs/clusterstream/pkg/pool"
	"github.com/newswire-labs/clusterstream/pkg/types"
)

// memStore is an in-memory ObjectStore for tests.
type memStore struct {
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := m.blobs[key]
	return b, ok, nil
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.blobs[key] = data
	return nil
}

func samplePool(t *testing.T) *pool.Store {
	t.Helper()
	st, err := pool.Restore(3,
		[]string{"c1", "c2", "c3"},
		[][]string{{"a", "b", "c"}, {"d"}, {"e", "f"}},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.5, 0.5, 0.25}},
		[]bool{true, false, true},
	)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	return st
}

func TestCodec_RoundTrip(t *testing.T) {
	st := samplePool(t)

	decoded, err := Decode(Encode(st))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Size() != st.Size() || decoded.Dim() != st.Dim() || decoded.ClusterCount() != st.ClusterCount() {
		t.Fatalf("shape diverges after round trip: size=%d dim=%d clusters=%d",
			decoded.Size(), decoded.Dim(), decoded.ClusterCount())
	}
	for i := 0; i < st.Size(); i++ {
		if decoded.ClusterID(i) != st.ClusterID(i) {
			t.Errorf("slot %d id diverges: %s vs %s", i, decoded.ClusterID(i), st.ClusterID(i))
		}
		if !reflect.DeepEqual(decoded.Members(i), st.Members(i)) {
			t.Errorf("slot %d members diverge: %v vs %v", i, decoded.Members(i), st.Members(i))
		}
		if !reflect.DeepEqual(decoded.Centroid(i), st.Centroid(i)) {
			t.Errorf("slot %d centroid diverges", i)
		}
		if decoded.IsCluster(i) != st.IsCluster(i) {
			t.Errorf("slot %d cluster flag diverges", i)
		}
	}
}

func TestCodec_RoundTrip_EmptyPool(t *testing.T) {
	decoded, err := Decode(Encode(pool.New(8)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Size() != 0 || decoded.Dim() != 8 {
		t.Errorf("expected empty pool of dim 8, got size=%d dim=%d", decoded.Size(), decoded.Dim())
	}
}

func TestDecode_Truncated(t *testing.T) {
	blob := Encode(samplePool(t))
	for _, cut := range []int{0, 3, 11, len(blob) / 2, len(blob) - 1} {
		if _, err := Decode(blob[:cut]); !errors.Is(err, ErrCorrupt) {
			t.Errorf("truncation at %d should be corrupt, got %v", cut, err)
		}
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	blob := append(Encode(samplePool(t)), 0xFF)
	if _, err := Decode(blob); !errors.Is(err, ErrCorrupt) {
		t.Errorf("trailing bytes should be corrupt, got %v", err)
	}
}

func TestDecode_UnknownVersion(t *testing.T) {
	blob := Encode(samplePool(t))
	blob[0] = 99
	if _, err := Decode(blob); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unknown version should be corrupt, got %v", err)
	}
}

func TestLoad_ColdStart(t *testing.T) {
	ckpt := New(newMemStore(), "pool", nil)
	st, err := ckpt.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st != nil {
		t.Error("missing blob must yield a nil pool")
	}
}

func TestSaveLoad(t *testing.T) {
	store := newMemStore()
	ckpt := New(store, "pool", nil)

	if err := ckpt.Save(context.Background(), samplePool(t)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	st, err := ckpt.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st == nil || st.Size() != 3 {
		t.Fatalf("expected restored pool of size 3, got %v", st)
	}
}

func TestLoad_CorruptIsFatal(t *testing.T) {
	store := newMemStore()
	store.blobs["pool"] = []byte{1, 2, 3}
	ckpt := New(store, "pool", nil)

	if _, err := ckpt.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

// Resuming from a checkpoint and feeding a document identical to an
// existing cluster member must behave exactly like the uninterrupted
// run.
func TestResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()

	// First process: A and B merge into one cluster.
	p1 := pool.New(3)
	c1 := cluster.New(cluster.DefaultConfig(), p1, nil)
	_, err := c1.Step(ctx, []types.Document{
		{ID: "A", Embedding: []float32{1, 0, 0}},
		{ID: "B", Embedding: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	clusterID := p1.ClusterID(0)

	store := newMemStore()
	ckpt := New(store, "pool", nil)
	if err := ckpt.Save(ctx, p1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Fresh process: load and continue.
	p2, err := New(store, "pool", nil).Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c2 := cluster.New(cluster.DefaultConfig(), p2, nil)
	res, err := c2.Step(ctx, []types.Document{
		{ID: "C", Embedding: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Step after restore failed: %v", err)
	}

	if p2.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", p2.Size())
	}
	if got := p2.Members(0); len(got) != 3 || got[2] != "C" {
		t.Errorf("expected members [A B C], got %v", got)
	}
	if len(res.UpdatedClusters) != 1 || res.UpdatedClusters[0].ClusterID != clusterID {
		t.Errorf("expected update for restored cluster %s, got %v", clusterID, res.UpdatedClusters)
	}
}
