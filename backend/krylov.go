package backend

import (
	"github.com/notargets/gosles/utils"
)

// monitorFunc is called after each iteration; returning false stops the
// iteration early
type monitorFunc func(k int, rnorm float64) bool

// pcgIterate is the preconditioned conjugate gradient for symmetric positive
// definite systems, stopping when the residual norm reaches tol
func pcgIterate(a *ParCSR, pc func(r, z []float64), b, x []float64,
	tol float64, maxIter int, monitor monitorFunc) (nIter int, rnorm float64, err error) {
	var (
		n = len(b)
		r = make([]float64, n)
		z = make([]float64, n)
		p = make([]float64, n)
		q = make([]float64, n)
	)
	if rnorm = residual(a, b, x, r); rnorm <= tol {
		return
	}
	pc(r, z)
	rz := utils.Dot(r, z)
	copy(p, z)
	for nIter < maxIter {
		a.A.MulVec(p, q)
		pq := utils.Dot(p, q)
		if badDivisor(pq) {
			return nIter, rnorm, ErrBreakdown
		}
		alpha := rz / pq
		utils.Axpy(alpha, p, x)
		utils.Axpy(-alpha, q, r)
		nIter++
		if rnorm = norm2(r); rnorm <= tol {
			break
		}
		if monitor != nil && !monitor(nIter, rnorm) {
			break
		}
		pc(r, z)
		rzNew := utils.Dot(r, z)
		if badDivisor(rz) {
			return nIter, rnorm, ErrBreakdown
		}
		beta := rzNew / rz
		rz = rzNew
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}
	return
}

// bicgstabIterate is right preconditioned BiCGSTAB
func bicgstabIterate(a *ParCSR, pc func(r, z []float64), b, x []float64,
	tol float64, maxIter int) (nIter int, rnorm float64, err error) {
	var (
		n    = len(b)
		r    = make([]float64, n)
		rHat = make([]float64, n)
		p    = make([]float64, n)
		v    = make([]float64, n)
		pHat = make([]float64, n)
		s    = make([]float64, n)
		sHat = make([]float64, n)
		t    = make([]float64, n)

		rho, alpha, omega = 1., 1., 1.
	)
	if rnorm = residual(a, b, x, r); rnorm <= tol {
		return
	}
	copy(rHat, r)
	for nIter < maxIter {
		rhoNew := utils.Dot(rHat, r)
		if badDivisor(rhoNew) || badDivisor(omega) {
			return nIter, rnorm, ErrBreakdown
		}
		beta := (rhoNew / rho) * (alpha / omega)
		rho = rhoNew
		for i := range p {
			p[i] = r[i] + beta*(p[i]-omega*v[i])
		}
		pc(p, pHat)
		a.A.MulVec(pHat, v)
		rv := utils.Dot(rHat, v)
		if badDivisor(rv) {
			return nIter, rnorm, ErrBreakdown
		}
		alpha = rho / rv
		copy(s, r)
		utils.Axpy(-alpha, v, s)
		nIter++
		if snorm := norm2(s); snorm <= tol {
			utils.Axpy(alpha, pHat, x)
			copy(r, s)
			rnorm = snorm
			break
		}
		pc(s, sHat)
		a.A.MulVec(sHat, t)
		tt, ts := utils.DotXXXY(t, s)
		if badDivisor(tt) {
			return nIter, rnorm, ErrBreakdown
		}
		omega = ts / tt
		utils.Axpy(alpha, pHat, x)
		utils.Axpy(omega, sHat, x)
		copy(r, s)
		utils.Axpy(-omega, t, r)
		if rnorm = norm2(r); rnorm <= tol {
			break
		}
	}
	return
}

type pcg struct {
	base
}

func newPCG(role Role, policy ExecutionPolicy) *pcg {
	return &pcg{base: newBase(PCG, role, policy)}
}

func (m *pcg) SetTolerance(abs float64)        { m.tol = abs }
func (m *pcg) SetPreconditioner(p Method) bool { return m.attach(p) }
func (m *pcg) Setup(a *ParCSR) error           { return m.setupBase(a) }

func (m *pcg) Solve(a *ParCSR, b, x *ParVector) error {
	return m.solve(a, b, x, m.iterate)
}

func (m *pcg) Precondition(r, z []float64) { precondition(r, z, m.iterate) }

func (m *pcg) iterate(b, x []float64) (int, float64, error) {
	return pcgIterate(m.a, m.applyPC, b, x, m.tol, m.maxIter, nil)
}

type bicgstab struct {
	base
}

func newBiCGSTAB(role Role, policy ExecutionPolicy) *bicgstab {
	return &bicgstab{base: newBase(BiCGSTAB, role, policy)}
}

func (m *bicgstab) SetTolerance(abs float64)        { m.tol = abs }
func (m *bicgstab) SetPreconditioner(p Method) bool { return m.attach(p) }
func (m *bicgstab) Setup(a *ParCSR) error           { return m.setupBase(a) }

func (m *bicgstab) Solve(a *ParCSR, b, x *ParVector) error {
	return m.solve(a, b, x, m.iterate)
}

func (m *bicgstab) Precondition(r, z []float64) { precondition(r, z, m.iterate) }

func (m *bicgstab) iterate(b, x []float64) (int, float64, error) {
	return bicgstabIterate(m.a, m.applyPC, b, x, m.tol, m.maxIter)
}
