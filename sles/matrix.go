package sles

import (
	"fmt"

	"github.com/notargets/gosles/rangeset"
	"github.com/notargets/gosles/utils"
)

// Matrix is an assembled operator working in gather space
type Matrix interface {
	NRows() int
	NCols() int
	TypeName() string
	// VectorMultiply computes y = A*x
	VectorMultiply(x, y []float64)
}

// NativeMatrix exposes the storage an external solver library works on
type NativeMatrix interface {
	Matrix
	Native() any
}

const CSRTypeName = "CSR"

// CSRMatrix is a compressed row matrix with NGather rows and NScatter
// columns of the range set it was assembled for
type CSRMatrix struct {
	A utils.CSR
}

func NewCSRMatrix(a utils.CSR) *CSRMatrix {
	return &CSRMatrix{A: a}
}

func NewCSRMatrixFromDOK(dok utils.DOK) *CSRMatrix {
	return &CSRMatrix{A: dok.ToCSR()}
}

func (m *CSRMatrix) NRows() int {
	nr, _ := m.A.Dims()
	return nr
}

func (m *CSRMatrix) NCols() int {
	_, nc := m.A.Dims()
	return nc
}

func (m *CSRMatrix) TypeName() string { return CSRTypeName }
func (m *CSRMatrix) Native() any      { return m.A }

func (m *CSRMatrix) VectorMultiply(x, y []float64) {
	m.A.MulVec(x, y)
}

// MatVecGS computes out = M*vec with vec and out in scatter layout: vec is
// gathered into a work array, multiplied, and the owned rows are scattered
// back to every position holding them. vec is left unchanged. Collective
// when the range set has an interface.
func MatVecGS(rs *rangeset.RangeSet, m Matrix, vec, out []float64) {
	if rs == nil {
		m.VectorMultiply(vec, out)
		return
	}
	var (
		ns = rs.NScatter()
		ng = rs.NGather()
	)
	if m.NRows() != ng || m.NCols() != ns {
		panic(fmt.Errorf("matrix %s is %dx%d, range set needs %dx%d",
			m.TypeName(), m.NRows(), m.NCols(), ng, ns))
	}
	work := make([]float64, ns)
	rs.Gather(vec[:ns], work)
	m.VectorMultiply(work, out[:ng])
	rs.Scatter(out[:ns], out[:ns])
}
