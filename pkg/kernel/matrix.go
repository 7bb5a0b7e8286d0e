package kernel

// DistanceMatrix is the clustering-facing view of the pool-wide
// distance matrix. Entries that are not stored are treated as infinite
// for neighborhood purposes: only distances incident to the current
// batch's new rows exist, which is exactly the set of neighborhoods
// DBSCAN needs to re-examine.
type DistanceMatrix interface {
	// Size returns the side length of the (conceptually square) matrix.
	Size() int

	// EachWithin calls fn(j) for every stored neighbor j != i of row i
	// whose distance is at most eps.
	EachWithin(i int, eps float32, fn func(j int))
}

// DenseView adapts a distance block directly as the working matrix
// while the pool is small. Row i of the full matrix is synthesized
// from the block: new rows read their own block row, prior rows read
// the transposed column, and prior-to-prior entries are absent.
type DenseView struct {
	block  *Block
	priors int
}

// NewDenseView wraps a block computed against a pool with nPriors
// pre-existing rows.
func NewDenseView(block *Block, nPriors int) *DenseView {
	return &DenseView{block: block, priors: nPriors}
}

// Size returns the pool size the block was computed against.
func (d *DenseView) Size() int { return d.block.Cols() }

// At returns the distance between rows i and j, or ok=false when the
// entry is absent (both rows predate the block).
func (d *DenseView) At(i, j int) (float32, bool) {
	switch {
	case i >= d.priors:
		return d.block.At(i-d.priors, j), true
	case j >= d.priors:
		return d.block.At(j-d.priors, i), true
	case i == j:
		return 0, true
	default:
		return 0, false
	}
}

// EachWithin implements DistanceMatrix.
func (d *DenseView) EachWithin(i int, eps float32, fn func(j int)) {
	m := d.block.Rows()
	if i >= d.priors {
		r := i - d.priors
		for j := 0; j < d.block.Cols(); j++ {
			if j == i {
				continue
			}
			if d.block.At(r, j) <= eps {
				fn(j)
			}
		}
		return
	}
	for k := 0; k < m; k++ {
		if d.block.At(k, i) <= eps {
			fn(d.priors + k)
		}
	}
}
