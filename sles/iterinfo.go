package sles

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// ConvergenceState is the outcome of an iterative solve, or Iterating while
// it runs
type ConvergenceState int8

const (
	Iterating ConvergenceState = iota
	Converged
	Diverged
	MaxIteration
	Breakdown
)

func (cs ConvergenceState) String() string {
	switch cs {
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case MaxIteration:
		return "max_iteration"
	case Breakdown:
		return "breakdown"
	}
	return fmt.Sprintf("ConvergenceState(%d)", int8(cs))
}

// Failed reports the states the default error policy escalates
func (cs ConvergenceState) Failed() bool {
	return cs == Diverged || cs == Breakdown
}

// IterInfo controls and records the outer iterations of a Krylov solve
type IterInfo struct {
	RTol, ATol, DTol float64
	MaxIter          int
	NIter            int
	Res0             float64 // Residual norm when the solve started
	Res              float64 // Current residual norm, set before each Test
	PrevRes          float64 // Residual norm at the previous Test
	NInnerIter       int
	LastInnerIter    int
	Verbosity        int
	Name             string
	Cvg              ConvergenceState
}

func NewIterInfo(rtol, atol, dtol float64, maxIter int) (info *IterInfo) {
	info = &IterInfo{
		RTol:    rtol,
		ATol:    atol,
		DTol:    dtol,
		MaxIter: maxIter,
	}
	info.Reset()
	return
}

// Reset clears the counters and norms, keeping the tolerances
func (info *IterInfo) Reset() {
	info.NIter = 0
	info.Res0, info.Res, info.PrevRes = math.MaxFloat64, math.MaxFloat64, math.MaxFloat64
	info.NInnerIter, info.LastInnerIter = 0, 0
	info.Cvg = Iterating
}

// Start records the initial residual norm of a solve
func (info *IterInfo) Start(res0 float64) {
	info.NIter = 0
	info.Res0, info.Res, info.PrevRes = res0, res0, res0
	info.Cvg = Iterating
}

// Epsilon is the residual norm below which the solve has converged
func (info *IterInfo) Epsilon() float64 {
	return math.Max(info.RTol*info.Res0, info.ATol)
}

// Test counts one more iteration and classifies info.Res. Convergence is
// checked before the iteration cap, and the cap before divergence. It
// returns true while the solve should continue.
func (info *IterInfo) Test() bool {
	info.NIter++
	epsilon := info.Epsilon()
	switch {
	case info.Res < epsilon:
		info.Cvg = Converged
	case info.NIter >= info.MaxIter:
		info.Cvg = MaxIteration
	case info.Res > info.DTol*info.PrevRes:
		info.Cvg = Diverged
	default:
		info.Cvg = Iterating
	}
	info.PrevRes = info.Res
	if info.Verbosity > 0 {
		Log.WithFields(logrus.Fields{
			"system": info.Name,
			"iter":   info.NIter,
		}).Infof("<Krylov.It%02d> res %5.3e | %4d %6d cvg %s | fit.eps %5.3e",
			info.NIter, info.Res, info.LastInnerIter, info.NInnerIter, info.Cvg, epsilon)
	}
	return info.Cvg == Iterating
}
