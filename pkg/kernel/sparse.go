package kernel

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/james-bowman/sparse"
)

// CSRMatrix is the sparse symmetric form of the pool-wide distance
// matrix. Only entries incident to the batch's new rows are stored;
// prior-to-prior distances are absent and treated as infinite.
type CSRMatrix struct {
	n       int
	indptr  []int
	indices []int
	data    []float32

	mat *sparse.CSR
}

// Size implements DistanceMatrix.
func (c *CSRMatrix) Size() int { return c.n }

// NNZ returns the number of stored entries.
func (c *CSRMatrix) NNZ() int { return len(c.data) }

// EachWithin implements DistanceMatrix. Stored entries include exact
// zeros (identical centroids), which are neighbors at any eps.
func (c *CSRMatrix) EachWithin(i int, eps float32, fn func(j int)) {
	for k := c.indptr[i]; k < c.indptr[i+1]; k++ {
		if c.indices[k] == i {
			continue
		}
		if c.data[k] <= eps {
			fn(c.indices[k])
		}
	}
}

// Matrix returns the assembled matrix as a gonum-compatible CSR.
func (c *CSRMatrix) Matrix() *sparse.CSR {
	return c.mat
}

// AssembleSparse lifts an M x P distance block into the P x P sparse
// symmetric matrix used for density clustering. The last M rows carry
// the block verbatim; the first nPriors rows carry only the transpose
// of the new columns. Each row is sorted by ascending column index,
// with a work-stealing parallel sort once nPriors reaches
// parallelSortAt.
func AssembleSparse(block *Block, nPriors, parallelSortAt int) (*CSRMatrix, error) {
	m := block.Rows()
	p := block.Cols()
	if nPriors+m != p {
		return nil, fmt.Errorf("kernel: block shape %dx%d inconsistent with %d priors", m, p, nPriors)
	}

	nnz := nPriors*m + m*p
	indptr := make([]int, p+1)
	indices := make([]int, 0, nnz)
	data := make([]float32, 0, nnz)

	// Prior rows: transpose of the new rows only.
	for i := 0; i < nPriors; i++ {
		for k := 0; k < m; k++ {
			indices = append(indices, nPriors+k)
			data = append(data, block.At(k, i))
		}
		indptr[i+1] = len(indices)
	}

	// New rows: the full block row, including new-to-new distances and
	// the zero diagonal.
	for k := 0; k < m; k++ {
		for j := 0; j < p; j++ {
			indices = append(indices, j)
			data = append(data, block.At(k, j))
		}
		indptr[nPriors+k+1] = len(indices)
	}

	sortRows(p, indptr, indices, data, parallelSortAt > 0 && nPriors >= parallelSortAt)

	f64 := make([]float64, len(data))
	for i, v := range data {
		f64[i] = float64(v)
	}
	ia := make([]int, len(indptr))
	copy(ia, indptr)
	ja := make([]int, len(indices))
	copy(ja, indices)

	return &CSRMatrix{
		n:       p,
		indptr:  indptr,
		indices: indices,
		data:    data,
		mat:     sparse.NewCSR(p, p, ia, ja, f64),
	}, nil
}

// sortRows orders every row of the CSR by ascending column index.
// Rows are independent, so the parallel path hands row indices to a
// shared work queue drained by one worker per CPU.
func sortRows(n int, indptr, indices []int, data []float32, parallel bool) {
	if !parallel {
		for i := 0; i < n; i++ {
			sortRow(indices[indptr[i]:indptr[i+1]], data[indptr[i]:indptr[i+1]])
		}
		return
	}

	rows := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < runtime.NumCPU(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				sortRow(indices[indptr[i]:indptr[i+1]], data[indptr[i]:indptr[i+1]])
			}
		}()
	}
	for i := 0; i < n; i++ {
		rows <- i
	}
	close(rows)
	wg.Wait()
}

func sortRow(cols []int, vals []float32) {
	if sort.IntsAreSorted(cols) {
		return
	}
	sort.Stable(&rowSorter{cols: cols, vals: vals})
}

type rowSorter struct {
	cols []int
	vals []float32
}

func (r *rowSorter) Len() int           { return len(r.cols) }
func (r *rowSorter) Less(i, j int) bool { return r.cols[i] < r.cols[j] }
func (r *rowSorter) Swap(i, j int) {
	r.cols[i], r.cols[j] = r.cols[j], r.cols[i]
	r.vals[i], r.vals[j] = r.vals[j], r.vals[i]
}
