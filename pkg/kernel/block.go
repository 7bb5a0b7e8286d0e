// Package kernel implements the dense and sparse cosine-distance
// machinery behind each clustering step: a tiled batch kernel producing
// half-precision distance blocks, and symmetric sparse CSR assembly of
// the pool-wide matrix for density clustering.
package kernel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"

	vecmath "github.com/newswire-labs/clusterstream/pkg/math"
)

// ErrDimensionMismatch reports an embedding whose length differs from
// the configured dimension.
var ErrDimensionMismatch = errors.New("kernel: embedding dimension mismatch")

// Block is an M x P cosine-distance block stored in half precision.
// Row i holds the distances from the i-th new centroid to every
// centroid in the pool.
type Block struct {
	rows, cols int
	data       []float16.Float16
}

// Rows returns the number of new centroids in the block.
func (b *Block) Rows() int { return b.rows }

// Cols returns the pool size the block was computed against.
func (b *Block) Cols() int { return b.cols }

// At returns the distance at (i, j), promoted to float32.
func (b *Block) At(i, j int) float32 {
	return b.data[i*b.cols+j].Float32()
}

func (b *Block) set(i, j int, v float32) {
	b.data[i*b.cols+j] = float16.Fromfloat32(v)
}

// BatchDistances computes the M x P cosine-distance block between the
// new centroids and the full pool (which already contains the new
// rows). Both sides are L2-normalized; similarities are computed in
// tiles of blockSize pool rows to bound peak memory, converted to
// distances, clipped to [0, 1], and stored as float16.
//
// Zero-norm vectors normalize to the zero vector and therefore come
// out at distance 1 from everything.
func BatchDistances(newVecs, pool [][]float32, dim, blockSize int) (*Block, error) {
	m := len(newVecs)
	p := len(pool)
	if m == 0 || p == 0 {
		return &Block{rows: m, cols: p}, nil
	}
	if blockSize <= 0 {
		blockSize = 120
	}

	for i, v := range newVecs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: new vector %d has dim %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	for i, v := range pool {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: pool vector %d has dim %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	normNew := normalizedDense(newVecs, dim)
	normPool := normalizedDense(pool, dim)

	block := &Block{
		rows: m,
		cols: p,
		data: make([]float16.Float16, m*p),
	}

	// Tiles cover disjoint column ranges, so workers write without
	// overlap.
	type tile struct{ start, end int }
	tiles := make(chan tile)
	var wg sync.WaitGroup

	workers := runtime.NumCPU()
	if workers > (p+blockSize-1)/blockSize {
		workers = (p + blockSize - 1) / blockSize
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tiles {
				width := t.end - t.start
				sub := normPool.Slice(t.start, t.end, 0, dim).(*mat.Dense)

				var sim mat.Dense
				sim.Mul(normNew, sub.T())

				for i := 0; i < m; i++ {
					for j := 0; j < width; j++ {
						d := 1 - float32(sim.At(i, j))
						if d < 0 {
							d = 0
						} else if d > 1 {
							d = 1
						}
						block.set(i, t.start+j, d)
					}
				}
			}
		}()
	}

	for start := 0; start < p; start += blockSize {
		end := start + blockSize
		if end > p {
			end = p
		}
		tiles <- tile{start, end}
	}
	close(tiles)
	wg.Wait()

	return block, nil
}

// normalizedDense packs vectors into a row-major dense matrix with
// unit-normalized rows. Zero-norm rows stay zero.
func normalizedDense(vecs [][]float32, dim int) *mat.Dense {
	data := make([]float64, len(vecs)*dim)
	for i, v := range vecs {
		row := vecmath.NormalizedCopy(v)
		off := i * dim
		for j, x := range row {
			data[off+j] = float64(x)
		}
	}
	return mat.NewDense(len(vecs), dim, data)
}
