package backend

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gosles/utils"
)

// parasails is a sparse approximate inverse M ~ A^-1 with the sparsity
// pattern of A. Each column of M minimizes ||A m_j - e_j|| over that pattern
// by a small dense least squares solve; columns are independent and computed
// concurrently. With symmetric set, the preconditioner applies (M + M^T)/2.
type parasails struct {
	base
	symmetric bool
	m, mt     utils.CSR
}

func newParaSails(role Role, policy ExecutionPolicy) *parasails {
	return &parasails{base: newBase(ParaSails, role, policy), symmetric: true}
}

// SetSymmetric selects the symmetrized application for SPD problems
func (m *parasails) SetSymmetric(sym bool) { m.symmetric = sym }

func (m *parasails) Setup(a *ParCSR) (err error) {
	m.a = a
	var (
		n    = a.NRows()
		at   = a.A.Transpose()
		cols = make([][]float64, n)
		pats = make([][]int, n)
		errs = make([]error, n)
	)
	utils.NewLoopPartition(n).ParallelFor(func(_, jMin, jMax int) {
		for j := jMin; j < jMax; j++ {
			pats[j], cols[j], errs[j] = spaiColumn(at, j)
		}
	})
	for j, e := range errs {
		if e != nil {
			return fmt.Errorf("backend: ParaSails column %d: %w", j, e)
		}
	}
	// Rows of M^T are the columns of M
	var (
		indptr = make([]int, n+1)
		ind    []int
		data   []float64
	)
	for j := 0; j < n; j++ {
		ind = append(ind, pats[j]...)
		data = append(data, cols[j]...)
		indptr[j+1] = len(ind)
	}
	m.mt = utils.NewCSR(n, n, indptr, ind, data)
	m.m = m.mt.Transpose()
	return
}

// spaiColumn computes column j of the approximate inverse from A^T
func spaiColumn(at utils.CSR, j int) (J []int, mj []float64, err error) {
	J, _ = at.Row(j)
	if len(J) == 0 {
		return
	}
	J = append([]int{}, J...)
	var (
		rowOf = make(map[int]int)
		I     []int
	)
	for _, k := range J {
		rows, _ := at.Row(k)
		for _, i := range rows {
			if _, ok := rowOf[i]; !ok {
				rowOf[i] = len(I)
				I = append(I, i)
			}
		}
	}
	var (
		aHat = mat.NewDense(len(I), len(J), nil)
		eHat = mat.NewVecDense(len(I), nil)
		sol  mat.VecDense
	)
	for kk, k := range J {
		rows, vals := at.Row(k)
		for ii, i := range rows {
			aHat.Set(rowOf[i], kk, vals[ii])
		}
	}
	if p, ok := rowOf[j]; ok {
		eHat.SetVec(p, 1)
	}
	if err = sol.SolveVec(aHat, eHat); err != nil {
		if _, ill := err.(mat.Condition); !ill {
			return
		}
		err = nil
	}
	mj = append([]float64{}, sol.RawVector().Data...)
	return
}

func (m *parasails) Solve(*ParCSR, *ParVector, *ParVector) error { return errPreconditionerOnly }

func (m *parasails) Precondition(r, z []float64) {
	m.m.MulVec(r, z)
	if !m.symmetric {
		return
	}
	zt := make([]float64, len(z))
	m.mt.MulVec(r, zt)
	for i := range z {
		z[i] = 0.5 * (z[i] + zt[i])
	}
}

func (m *parasails) Destroy() {
	m.base.Destroy()
	m.m, m.mt = utils.CSR{}, utils.CSR{}
}
