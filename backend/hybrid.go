package backend

import (
	"math"
)

const (
	// HybridConvergenceRate is the mean residual reduction per iteration
	// above which the diagonally scaled phase gives up
	HybridConvergenceRate = 0.9
	hybridDSMaxIter       = 1000
	hybridMinDSIter       = 5
)

// rateMonitor estimates the convergence factor of the diagonal phase. The
// CG residual norm is not monotone and often grows during the first
// iterations, so the mean reduction is measured from the largest residual
// seen so far, and only once hybridMinDSIter iterations separate the two.
type rateMonitor struct {
	rate  float64
	peak  float64
	peakK int
}

func newRateMonitor(rate, r0 float64) *rateMonitor {
	return &rateMonitor{rate: rate, peak: r0}
}

// slow reports whether the residual of iteration k shows a mean reduction
// per iteration above the rate
func (rm *rateMonitor) slow(k int, rnorm float64) bool {
	if rnorm >= rm.peak {
		rm.peak, rm.peakK = rnorm, k
		return false
	}
	span := k - rm.peakK
	return span >= hybridMinDSIter && math.Pow(rnorm/rm.peak, 1/float64(span)) > rm.rate
}

// hybrid starts with diagonally scaled PCG, which is cheap to set up, and
// switches to multigrid preconditioned PCG when the diagonal phase converges
// too slowly. The multigrid is only built when the switch happens. An
// attached preconditioner replaces the built in multigrid.
type hybrid struct {
	base
	rate      float64
	dsMaxIter int
	fallback  *amg
	nDS       int // Iterations of the last solve spent in the diagonal phase
}

func newHybrid(role Role, policy ExecutionPolicy) *hybrid {
	return &hybrid{
		base:      newBase(Hybrid, role, policy),
		rate:      HybridConvergenceRate,
		dsMaxIter: hybridDSMaxIter,
	}
}

func (m *hybrid) SetTolerance(abs float64)        { m.tol = abs }
func (m *hybrid) SetPreconditioner(p Method) bool { return m.attach(p) }

func (m *hybrid) Setup(a *ParCSR) error {
	if m.fallback != nil {
		m.fallback.Destroy()
		m.fallback = nil
	}
	return m.setupBase(a)
}

func (m *hybrid) Solve(a *ParCSR, b, x *ParVector) error {
	return m.solve(a, b, x, m.iterate)
}

func (m *hybrid) Precondition(r, z []float64) { precondition(r, z, m.iterate) }

// Switched reports whether the last solve needed the second phase
func (m *hybrid) Switched() bool { return m.nIter > m.nDS }

func (m *hybrid) iterate(b, x []float64) (nIter int, rnorm float64, err error) {
	var (
		diag   = m.a.A.Diagonal()
		rm     = newRateMonitor(m.rate, residual(m.a, b, x, make([]float64, len(b))))
		slow   bool
		jacobi = func(r, z []float64) {
			for i := range r {
				if diag[i] != 0 {
					z[i] = r[i] / diag[i]
				} else {
					z[i] = r[i]
				}
			}
		}
		monitor = func(k int, rnorm float64) bool {
			slow = rm.slow(k, rnorm)
			return !slow
		}
	)
	nIter, rnorm, err = pcgIterate(m.a, jacobi, b, x, m.tol, min(m.dsMaxIter, m.maxIter), monitor)
	m.nDS = nIter
	if err != nil || rnorm <= m.tol || (!slow && nIter < m.dsMaxIter) || nIter >= m.maxIter {
		return
	}
	pc := m.pc
	if pc == nil {
		if m.fallback == nil {
			m.fallback = newAMG(RolePreconditioner, m.policy)
			if err = m.fallback.Setup(m.a); err != nil {
				return
			}
		}
		pc = m.fallback
	}
	var n2 int
	n2, rnorm, err = pcgIterate(m.a, pc.Precondition, b, x, m.tol, m.maxIter-nIter, nil)
	nIter += n2
	return
}

func (m *hybrid) Destroy() {
	if m.fallback != nil {
		m.fallback.Destroy()
	}
	m.base.Destroy()
	m.fallback = nil
}
