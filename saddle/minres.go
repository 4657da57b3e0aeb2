package saddle

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notargets/gosles/sles"
	"github.com/notargets/gosles/utils"
)

type minresConfig struct {
	trueResidualEvery int
	breakdownTol      float64
	precond           BlockPreconditioner
}

type Option func(*minresConfig)

// WithTrueResidualEvery replaces the recurrence estimate of the residual
// norm by the true residual norm every k iterations. k <= 0 never does.
func WithTrueResidualEvery(k int) Option {
	return func(c *minresConfig) { c.trueResidualEvery = k }
}

// WithBreakdownTol sets the magnitude of β or ρ1 below which the Lanczos
// recurrence is declared broken down
func WithBreakdownTol(tol float64) Option {
	return func(c *minresConfig) { c.breakdownTol = tol }
}

func WithPreconditioner(p BlockPreconditioner) Option {
	return func(c *minresConfig) { c.precond = p }
}

// MINRES solves sys*x = rhs starting from the content of x, following the
// Lanczos three-term recurrence with a Givens QR factorization of the
// tridiagonal matrix. The residual norm tracked in info is the recurrence
// estimate unless WithTrueResidualEvery is given. The outcome is left in
// info.Cvg. All ranks of the system take the same branches, since every
// decision is made on globally reduced norms.
func MINRES(sys *System, rhs, x *SplitVector, info *sles.IterInfo, opts ...Option) (err error) {
	cfg := minresConfig{breakdownTol: utils.BreakdownTol}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err = sys.Validate(); err != nil {
		return
	}
	if err = checkPreconditioner(cfg.precond); err != nil {
		return
	}
	var (
		t0    = time.Now()
		v     = sys.NewVector()
		vold  = sys.NewVector()
		w     = sys.NewVector()
		wold  = sys.NewVector()
		woold = sys.NewVector()
		r     = sys.NewVector()
		tmp   *SplitVector
	)
	if cfg.trueResidualEvery > 0 {
		tmp = sys.NewVector()
	}
	if info.Name == "" {
		info.Name = sys.Name
	}

	sys.ComputeResidual(rhs, x, r)
	beta := sys.Norm(r)
	info.Start(beta)
	v.CopyFrom(r)
	if beta < info.Epsilon() || beta <= cfg.breakdownTol {
		info.Cvg = sles.Converged
		return
	}

	var (
		eta          = beta
		c, cold      = 1., 1.
		s, sold      float64
		coold, soold float64
	)
	for info.Cvg == sles.Iterating {
		v.Scale(1. / beta)

		sys.MatVec(v, r)
		alpha := sys.Dot(r, v)

		// r(k+1) = M.v(k) - alpha*v(k) - beta*v(k-1)
		r.Axpy(-alpha, v)
		r.Axpy(-beta, vold)

		betaold := beta
		beta = sys.Norm(r)

		coold, cold, soold, sold = cold, c, sold, s

		// QR factorization of the tridiagonal matrix
		rho0 := cold*alpha - coold*sold*betaold
		rho1 := math.Sqrt(rho0*rho0 + beta*beta)
		rho2 := sold*alpha + coold*cold*betaold
		rho3 := soold * betaold

		if math.Abs(rho1) < cfg.breakdownTol {
			info.NIter++
			info.Cvg = sles.Breakdown
			break
		}

		// Givens rotation
		irho1 := 1. / rho1
		c = rho0 * irho1
		s = beta * irho1

		// w(k+1) = (v(k) - rho2*w(k) - rho3*w(k-1)) / rho1
		woold, wold, w = wold, w, woold
		for i := range w.Data {
			w.Data[i] = irho1 * (v.Data[i] - rho2*wold.Data[i] - rho3*woold.Data[i])
		}

		x.Axpy(c*eta, w)

		info.Res *= s
		eta = -s * eta

		vold, v, r = v, r, vold

		if k := cfg.trueResidualEvery; k > 0 && (info.NIter+1)%k == 0 {
			sys.ComputeResidual(rhs, x, tmp)
			info.Res = sys.Norm(tmp)
		}

		info.Test()

		if info.Cvg == sles.Iterating && beta < cfg.breakdownTol {
			info.Cvg = sles.Breakdown
		}
	}

	if info.Verbosity > 0 {
		sles.SystemLog(info.Name, sles.LogPerformance).WithFields(logrus.Fields{
			"iter": info.NIter,
		}).Infof("MINRES %s: res0 %5.3e res %5.3e in %v",
			info.Cvg, info.Res0, info.Res, time.Since(t0))
	}
	return
}
