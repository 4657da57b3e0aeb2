package backend

import (
	"errors"
	"fmt"

	"github.com/notargets/gosles/utils"
)

var errPreconditionerOnly = errors.New("backend: method only runs as a preconditioner")

// iluFactor holds an ILU(0) factorization in the sparsity pattern of A, with
// the unit lower factor below the diagonal and the upper factor on and above
// it
type iluFactor struct {
	indptr, ind []int
	lu          []float64
	diag        []int // Position of the diagonal entry of each row
}

func newILUFactor(A utils.CSR) (f *iluFactor) {
	var (
		raw = A.RawMatrix()
		n   = len(raw.Indptr) - 1
	)
	f = &iluFactor{
		indptr: raw.Indptr,
		ind:    raw.Ind,
		lu:     append([]float64{}, raw.Data[:raw.Indptr[n]]...),
		diag:   make([]int, n),
	}
	for i := 0; i < n; i++ {
		f.diag[i] = -1
		for jj := f.indptr[i]; jj < f.indptr[i+1]; jj++ {
			if f.ind[jj] == i {
				f.diag[i] = jj
			}
		}
	}
	return
}

// factor eliminates rows [lo, hi) ignoring couplings outside the block
func (f *iluFactor) factor(lo, hi int) (err error) {
	marker := make(map[int]int)
	for i := lo; i < hi; i++ {
		if f.diag[i] < 0 {
			return fmt.Errorf("backend: no diagonal entry for ILU(0) in row %d", i)
		}
		for kk := f.indptr[i]; kk < f.indptr[i+1]; kk++ {
			marker[f.ind[kk]] = kk
		}
		for kk := f.indptr[i]; kk < f.diag[i]; kk++ {
			k := f.ind[kk]
			if k < lo {
				continue
			}
			f.lu[kk] /= f.lu[f.diag[k]]
			for jj := f.diag[k] + 1; jj < f.indptr[k+1]; jj++ {
				j := f.ind[jj]
				if j >= hi {
					break
				}
				if p, ok := marker[j]; ok {
					f.lu[p] -= f.lu[kk] * f.lu[jj]
				}
			}
		}
		for kk := f.indptr[i]; kk < f.indptr[i+1]; kk++ {
			delete(marker, f.ind[kk])
		}
		if f.lu[f.diag[i]] == 0 {
			return fmt.Errorf("backend: zero pivot in ILU(0) at row %d", i)
		}
	}
	return
}

// apply solves L U z = r over rows [lo, hi)
func (f *iluFactor) apply(r, z []float64, lo, hi int) {
	for i := lo; i < hi; i++ {
		sum := r[i]
		for jj := f.indptr[i]; jj < f.diag[i]; jj++ {
			if j := f.ind[jj]; j >= lo {
				sum -= f.lu[jj] * z[j]
			}
		}
		z[i] = sum
	}
	for i := hi - 1; i >= lo; i-- {
		sum := z[i]
		for jj := f.diag[i] + 1; jj < f.indptr[i+1]; jj++ {
			if j := f.ind[jj]; j < hi {
				sum -= f.lu[jj] * z[j]
			}
		}
		z[i] = sum / f.lu[f.diag[i]]
	}
}

// ilu is ILU(0), as a preconditioner or as a smoother iterated to
// convergence
type ilu struct {
	base
	f *iluFactor
}

func newILU(role Role, policy ExecutionPolicy) *ilu {
	return &ilu{base: newBase(ILU, role, policy)}
}

// SetRelativeTolerance sets the stopping ratio ||r|| / ||b||
func (m *ilu) SetRelativeTolerance(rel float64) { m.tol = rel }

func (m *ilu) Setup(a *ParCSR) error {
	m.a = a
	m.f = newILUFactor(a.A)
	return m.f.factor(0, a.NRows())
}

func (m *ilu) Solve(a *ParCSR, b, x *ParVector) error {
	return m.solve(a, b, x, m.iterate)
}

func (m *ilu) Precondition(r, z []float64) { m.f.apply(r, z, 0, len(r)) }

func (m *ilu) iterate(b, x []float64) (nIter int, rnorm float64, err error) {
	var (
		n      = len(b)
		r      = make([]float64, n)
		dx     = make([]float64, n)
		target = m.tol * norm2(b)
	)
	rnorm = residual(m.a, b, x, r)
	for nIter < m.maxIter && rnorm > target {
		m.f.apply(r, dx, 0, n)
		utils.Axpy(1, dx, x)
		nIter++
		rnorm = residual(m.a, b, x, r)
	}
	return
}

func (m *ilu) Destroy() {
	m.base.Destroy()
	m.f = nil
}

// euclid is block Jacobi ILU(0): each row bucket of a PartitionMap is
// factored and applied independently and concurrently
type euclid struct {
	base
	f  *iluFactor
	pm *utils.PartitionMap
}

func newEuclid(role Role, policy ExecutionPolicy) *euclid {
	return &euclid{base: newBase(Euclid, role, policy)}
}

func (m *euclid) Setup(a *ParCSR) (err error) {
	m.a = a
	m.f = newILUFactor(a.A)
	m.pm = utils.NewLoopPartition(a.NRows())
	errs := make([]error, m.pm.ParallelDegree)
	m.pm.ParallelFor(func(bucket, kMin, kMax int) {
		errs[bucket] = m.f.factor(kMin, kMax)
	})
	return errors.Join(errs...)
}

func (m *euclid) Solve(*ParCSR, *ParVector, *ParVector) error { return errPreconditionerOnly }

func (m *euclid) Precondition(r, z []float64) {
	m.pm.ParallelFor(func(_, kMin, kMax int) {
		m.f.apply(r, z, kMin, kMax)
	})
}

func (m *euclid) Destroy() {
	m.base.Destroy()
	m.f, m.pm = nil, nil
}
