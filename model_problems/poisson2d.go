package model_problems

import (
	"github.com/notargets/gosles/utils"
)

// Poisson2D assembles the 5 point Laplacian on an n x n grid with zero
// Dirichlet boundaries, scaled to integer coefficients
func Poisson2D(n int) utils.CSR {
	var (
		N   = n * n
		dok = utils.NewDOK(N, N)
	)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			row := i + n*j
			dok.Set(row, row, 4)
			if i > 0 {
				dok.Set(row, row-1, -1)
			}
			if i < n-1 {
				dok.Set(row, row+1, -1)
			}
			if j > 0 {
				dok.Set(row, row-n, -1)
			}
			if j < n-1 {
				dok.Set(row, row+n, -1)
			}
		}
	}
	return dok.ToCSR()
}

// PoissonRHS is a unit source
func PoissonRHS(n int) (b []float64) {
	b = make([]float64, n*n)
	for i := range b {
		b[i] = 1
	}
	return
}
