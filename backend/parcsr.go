package backend

import (
	"fmt"

	"github.com/notargets/gosles/utils"
)

// ParCSRTypeName is the matrix type name a Context expects
const ParCSRTypeName = "HYPRE_PARCSR"

// ParCSR is the library's native matrix. In Float32 precision the stored
// coefficients are rounded to single precision on construction.
type ParCSR struct {
	A         utils.CSR
	Precision Precision
}

func NewParCSR(a utils.CSR, prec Precision) (m *ParCSR) {
	if prec == Float32 {
		var (
			raw    = a.RawMatrix()
			nr, nc = a.Dims()
			indptr = append([]int{}, raw.Indptr...)
			ind    = append([]int{}, raw.Ind...)
			data   = make([]float64, len(raw.Data))
		)
		for i, v := range raw.Data {
			data[i] = float64(float32(v))
		}
		a = utils.NewCSR(nr, nc, indptr, ind, data)
	}
	return &ParCSR{A: a, Precision: prec}
}

func (m *ParCSR) NRows() int {
	nr, _ := m.A.Dims()
	return nr
}

func (m *ParCSR) NCols() int {
	_, nc := m.A.Dims()
	return nc
}

func (m *ParCSR) TypeName() string { return ParCSRTypeName }
func (m *ParCSR) Native() any      { return m }

func (m *ParCSR) VectorMultiply(x, y []float64) { m.A.MulVec(x, y) }

// ParVector is a native vector of the library's width. Values are
// converted on the way in and out when the width is not float64.
type ParVector struct {
	Precision Precision
	data64    []float64
	data32    []float32
}

func NewParVector(n int, prec Precision) (v *ParVector) {
	v = &ParVector{Precision: prec}
	if prec == Float32 {
		v.data32 = make([]float32, n)
	} else {
		v.data64 = make([]float64, n)
	}
	return
}

func (v *ParVector) Len() int {
	if v.Precision == Float32 {
		return len(v.data32)
	}
	return len(v.data64)
}

// SetValues copies src into the vector
func (v *ParVector) SetValues(src []float64) {
	if len(src) != v.Len() {
		panic(fmt.Errorf("vector length mismatch: %d values for a vector of %d", len(src), v.Len()))
	}
	if v.Precision == Float32 {
		for i, x := range src {
			v.data32[i] = float32(x)
		}
		return
	}
	copy(v.data64, src)
}

// GetValues copies the vector into dst
func (v *ParVector) GetValues(dst []float64) {
	if len(dst) != v.Len() {
		panic(fmt.Errorf("vector length mismatch: %d values for a vector of %d", len(dst), v.Len()))
	}
	if v.Precision == Float32 {
		for i, x := range v.data32 {
			dst[i] = float64(x)
		}
		return
	}
	copy(dst, v.data64)
}

// Values returns a float64 working copy
func (v *ParVector) Values() (x []float64) {
	x = make([]float64, v.Len())
	v.GetValues(x)
	return
}
