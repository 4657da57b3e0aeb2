package utils

import (
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/james-bowman/sparse/blas"
	"gonum.org/v1/gonum/mat"
)

type DOK struct {
	M        *sparse.DOK
	readOnly bool
	name     string
}

func NewDOK(nr, nc int) (R DOK) {
	R = DOK{
		sparse.NewDOK(nr, nc),
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m DOK) Dims() (r, c int)    { return m.M.Dims() }
func (m DOK) At(i, j int) float64 { return m.M.At(i, j) }
func (m DOK) T() mat.Matrix       { return m.M.T() }

func (m DOK) SetReadOnly(name string) DOK {
	m.readOnly = true
	m.name = name
	return m
}

func (m DOK) Set(i, j int, val float64) {
	m.checkWritable()
	m.M.Set(i, j, val)
}

// Add accumulates val into entry (i,j), the usual finite volume assembly step
func (m DOK) Add(i, j int, val float64) {
	m.checkWritable()
	m.M.Set(i, j, m.M.At(i, j)+val)
}

func (m DOK) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

// ToCSR compresses the matrix, with column indices sorted within each row
func (m DOK) ToCSR() CSR {
	c := CSR{
		M:        m.M.ToCSR(),
		readOnly: m.readOnly,
		name:     m.name,
	}
	c.sortRows()
	return c
}

type CSR struct {
	M        *sparse.CSR
	readOnly bool
	name     string
}

// NewCSR wraps compressed row arrays without copying them
func NewCSR(nr, nc int, indptr, ind []int, data []float64) (R CSR) {
	R = CSR{
		sparse.NewCSR(nr, nc, indptr, ind, data),
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
	R.sortRows()
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m CSR) Dims() (r, c int)              { return m.M.Dims() }
func (m CSR) At(i, j int) float64           { return m.M.At(i, j) }
func (m CSR) T() mat.Matrix                 { return m.M.T() }
func (m CSR) RawMatrix() *blas.SparseMatrix { return m.M.RawMatrix() }
func (m CSR) Data() []float64 {
	return m.RawMatrix().Data
}
func (m CSR) NNZ() int     { return m.M.NNZ() }
func (m CSR) Name() string { return m.name }

func (m CSR) SetReadOnly(name string) CSR {
	m.readOnly = true
	m.name = name
	return m
}

// Row returns the column indices and values of row i, aliasing storage
func (m CSR) Row(i int) (ind []int, vals []float64) {
	raw := m.RawMatrix()
	b, e := raw.Indptr[i], raw.Indptr[i+1]
	return raw.Ind[b:e], raw.Data[b:e]
}

// Diagonal returns a copy of the main diagonal, zero where unstored
func (m CSR) Diagonal() (d []float64) {
	var (
		nr, nc = m.Dims()
	)
	d = make([]float64, Min(nr, nc))
	for i := range d {
		ind, vals := m.Row(i)
		for jj, j := range ind {
			if j == i {
				d[i] += vals[jj]
			}
		}
	}
	return
}

// MulVec computes y = A*x, splitting rows over a PartitionMap when the
// matrix is large enough to benefit
func (m CSR) MulVec(x, y []float64) {
	var (
		nr, nc = m.Dims()
		raw    = m.RawMatrix()
	)
	if len(x) < nc || len(y) < nr {
		panic(fmt.Errorf("dimension mismatch: matrix %dx%d, len(x) = %d, len(y) = %d",
			nr, nc, len(x), len(y)))
	}
	rowProduct := func(_, rMin, rMax int) {
		for i := rMin; i < rMax; i++ {
			var sum float64
			for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
				sum += raw.Data[jj] * x[raw.Ind[jj]]
			}
			y[i] = sum
		}
	}
	if nr < ThreadMinSize {
		rowProduct(0, 0, nr)
		return
	}
	NewLoopPartition(nr).ParallelFor(rowProduct)
}

func (m CSR) sortRows() {
	var (
		raw   = m.RawMatrix()
		nr, _ = m.Dims()
	)
	for i := 0; i < nr; i++ {
		b, e := raw.Indptr[i], raw.Indptr[i+1]
		sort.Sort(rowSorter{ind: raw.Ind[b:e], data: raw.Data[b:e]})
	}
}

type rowSorter struct {
	ind  []int
	data []float64
}

func (r rowSorter) Len() int           { return len(r.ind) }
func (r rowSorter) Less(i, j int) bool { return r.ind[i] < r.ind[j] }
func (r rowSorter) Swap(i, j int) {
	r.ind[i], r.ind[j] = r.ind[j], r.ind[i]
	r.data[i], r.data[j] = r.data[j], r.data[i]
}

// Transpose returns A^T as a new compressed row matrix
func (m CSR) Transpose() CSR {
	var (
		raw    = m.RawMatrix()
		nr, nc = m.Dims()
		nnz    = raw.Indptr[nr]
		indptr = make([]int, nc+1)
		ind    = make([]int, nnz)
		data   = make([]float64, nnz)
	)
	for _, j := range raw.Ind[:nnz] {
		indptr[j+1]++
	}
	for j := 0; j < nc; j++ {
		indptr[j+1] += indptr[j]
	}
	next := append([]int{}, indptr[:nc]...)
	for i := 0; i < nr; i++ {
		for jj := raw.Indptr[i]; jj < raw.Indptr[i+1]; jj++ {
			j := raw.Ind[jj]
			ind[next[j]] = i
			data[next[j]] = raw.Data[jj]
			next[j]++
		}
	}
	return NewCSR(nc, nr, indptr, ind, data)
}

// MulCSR returns the sparse product A*B, accumulating each row of the
// result in a dense scratch row
func MulCSR(a, b CSR) CSR {
	var (
		ar, ac = a.Dims()
		br, bc = b.Dims()
		araw   = a.RawMatrix()
		braw   = b.RawMatrix()
		marker = make([]int, bc)
		accum  = make([]float64, bc)
		indptr = make([]int, ar+1)
		ind    []int
		data   []float64
	)
	if ac != br {
		panic(fmt.Errorf("dimension mismatch: %dx%d times %dx%d", ar, ac, br, bc))
	}
	for j := range marker {
		marker[j] = -1
	}
	for i := 0; i < ar; i++ {
		rowStart := len(ind)
		for kk := araw.Indptr[i]; kk < araw.Indptr[i+1]; kk++ {
			k, aik := araw.Ind[kk], araw.Data[kk]
			for jj := braw.Indptr[k]; jj < braw.Indptr[k+1]; jj++ {
				j := braw.Ind[jj]
				if marker[j] < rowStart {
					marker[j] = len(ind)
					ind = append(ind, j)
					accum[j] = 0
				}
				accum[j] += aik * braw.Data[jj]
			}
		}
		for _, j := range ind[rowStart:] {
			data = append(data, accum[j])
		}
		indptr[i+1] = len(ind)
	}
	return NewCSR(ar, bc, indptr, ind, data)
}
