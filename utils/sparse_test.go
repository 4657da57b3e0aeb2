package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func laplacian1D(n int) CSR {
	dok := NewDOK(n, n)
	for i := 0; i < n; i++ {
		dok.Add(i, i, 2)
		if i > 0 {
			dok.Add(i, i-1, -1)
		}
		if i < n-1 {
			dok.Add(i, i+1, -1)
		}
	}
	return dok.ToCSR()
}

func TestCSRMulVec(t *testing.T) {
	for _, n := range []int{5, 1000} {
		A := laplacian1D(n)
		assert.Equal(t, 3*n-2, A.NNZ())
		x := make([]float64, n)
		y := make([]float64, n)
		for i := range x {
			x[i] = float64(i)
		}
		A.MulVec(x, y)
		// Interior rows of a Laplacian annihilate linear functions
		for i := 1; i < n-1; i++ {
			assert.InDelta(t, 0., y[i], 1.e-12)
		}
		assert.InDelta(t, -1., y[0], 1.e-12)
		assert.InDelta(t, float64(n), y[n-1], 1.e-12)
	}
}

func TestCSRRowsSorted(t *testing.T) {
	A := laplacian1D(50)
	for i := 0; i < 50; i++ {
		ind, _ := A.Row(i)
		for jj := 1; jj < len(ind); jj++ {
			assert.Less(t, ind[jj-1], ind[jj])
		}
	}
	d := A.Diagonal()
	for _, v := range d {
		assert.Equal(t, 2., v)
	}
}

func TestDOKReadOnly(t *testing.T) {
	dok := NewDOK(2, 2).SetReadOnly("frozen")
	assert.Panics(t, func() { dok.Set(0, 0, 1) })
}

func TestCSRProducts(t *testing.T) {
	var (
		A   = laplacian1D(7)
		dok = NewDOK(7, 3)
	)
	for i := 0; i < 7; i++ {
		dok.Set(i, i/3, 1)
		if i > 0 {
			dok.Set(i, (i-1)/3, 0.5)
		}
	}
	P := dok.ToCSR()
	Pt := P.Transpose()
	nr, nc := Pt.Dims()
	assert.Equal(t, 3, nr)
	assert.Equal(t, 7, nc)
	assert.True(t, mat.Equal(Pt, P.T()))

	var ref, ref2 mat.Dense
	ref.Mul(A, P)
	AP := MulCSR(A, P)
	assert.True(t, mat.EqualApprox(&ref, AP, 1.e-14))
	ref2.Mul(P.T(), &ref)
	Ac := MulCSR(Pt, AP)
	assert.True(t, mat.EqualApprox(&ref2, Ac, 1.e-14))
	// Galerkin products of a symmetric matrix stay symmetric
	assert.True(t, mat.EqualApprox(Ac, Ac.T(), 1.e-14))
	assert.Panics(t, func() { MulCSR(P, P) })
}
