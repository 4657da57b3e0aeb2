package backend

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notargets/gosles/sles"
	"github.com/notargets/gosles/utils"
)

// maxSolveRetries bounds the retries an error handler may request
const maxSolveRetries = 3

// SetupHook lets the caller adjust a freshly created solver before it is set
// up
type SetupHook func(verbosity int, hookCtx any, solver Method)

// setupData holds the library objects of a context. It is dropped by Free.
type setupData struct {
	a       *ParCSR
	b, x    *ParVector
	solver  Method
	precond Method
}

// solveRecord keeps what Classify needs from the last solve
type solveRecord struct {
	tol       float64
	absRes    float64
	nIter     int
	maxIter   int
	breakdown bool
}

// Context binds one named linear system to the library of a Registry.
// Counters and the type choice survive Free; Destroy releases the context
// and finalizes the library when it was the last one.
type Context struct {
	SolverType  Type
	PrecondType Type

	NSetups   int
	NSolves   int
	NIterLast int
	NIterMin  int
	NIterMax  int
	NIterTot  int
	TSetup    time.Duration
	TSolve    time.Duration

	reg       *Registry
	useDevice bool
	hook      SetupHook
	hookCtx   any
	sd        *setupData
	last      solveRecord
	destroyed bool
}

// Create registers a new context, initializing the library if it is the
// first one. A nil registry selects DefaultRegistry.
func Create(reg *Registry, solver, precond Type, hook SetupHook, hookCtx any) (c *Context, err error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if solver >= None {
		return nil, &sles.ConfigError{Reason: fmt.Sprintf("invalid solver type (%s)", solver)}
	}
	if precond > None {
		return nil, &sles.ConfigError{Reason: fmt.Sprintf("invalid preconditioner type (%s)", precond)}
	}
	if err = reg.acquire(); err != nil {
		return nil, err
	}
	c = &Context{
		SolverType:  solver,
		PrecondType: precond,
		reg:         reg,
		hook:        hook,
		hookCtx:     hookCtx,
	}
	return
}

// Copy creates a context with the same configuration and no setup data
func (c *Context) Copy() (cp *Context, err error) {
	if cp, err = Create(c.reg, c.SolverType, c.PrecondType, c.hook, c.hookCtx); err != nil {
		return
	}
	cp.useDevice = c.useDevice
	return
}

// SetUseDevice requests the device policy. The library policy is global and
// set by the first setup after initialization.
func (c *Context) SetUseDevice(use bool) { c.useDevice = use }
func (c *Context) UseDevice() bool       { return c.useDevice }

// Solver returns the solver instance, nil before setup
func (c *Context) Solver() Method {
	if c.sd == nil {
		return nil
	}
	return c.sd.solver
}

func (c *Context) configError(name string, err error) error {
	var ce *sles.ConfigError
	if errors.As(err, &ce) && ce.System == "" {
		ce.System = name
	}
	return err
}

// Setup prepares the solver for matrix a, which must be a *ParCSR. Methods
// are created on the first call and set up again on every call.
func (c *Context) Setup(name string, a sles.Matrix, verbosity int) (err error) {
	t0 := time.Now()
	if c.destroyed {
		return fmt.Errorf("backend: setup of %q on a destroyed context", name)
	}
	if a.TypeName() != ParCSRTypeName {
		return &sles.ConfigError{
			System:   name,
			Expected: ParCSRTypeName,
			Provided: a.TypeName(),
			Reason:   "unexpected matrix type",
		}
	}
	var pm *ParCSR
	if nm, ok := a.(sles.NativeMatrix); ok {
		pm, _ = nm.Native().(*ParCSR)
	}
	if pm == nil {
		return &sles.ConfigError{
			System:   name,
			Expected: ParCSRTypeName,
			Provided: fmt.Sprintf("%T", a),
			Reason:   "matrix carries no native representation",
		}
	}
	if utils.IsNan(pm.A) {
		return &sles.ConfigError{System: name, Reason: "matrix has NaN coefficients"}
	}
	if c.sd == nil {
		c.sd = &setupData{}
	}
	sd := c.sd
	c.reg.configureExecution(c.useDevice)

	lib := c.reg.Library()
	if c.PrecondType != None && sd.precond == nil {
		if sd.precond, err = lib.NewMethod(c.PrecondType, RolePreconditioner); err != nil {
			return c.configError(name, err)
		}
	}
	if sd.solver == nil {
		if sd.solver, err = lib.NewMethod(c.SolverType, RoleSolver); err != nil {
			return c.configError(name, err)
		}
		if sd.precond != nil && !sd.solver.SetPreconditioner(sd.precond) {
			sles.SystemLog(name, sles.LogSetup).Warnf("solver (%s) will ignore preconditioner (%s)",
				c.SolverType, c.PrecondType)
		}
	}
	if c.hook != nil {
		c.hook(verbosity, c.hookCtx, sd.solver)
	}

	n := pm.NRows()
	if sd.x == nil || sd.x.Len() != n || sd.x.Precision != pm.Precision {
		sd.b = NewParVector(n, pm.Precision)
		sd.x = NewParVector(n, pm.Precision)
	}
	sd.a = pm
	if err = sd.solver.Setup(pm); err != nil {
		return fmt.Errorf("backend: setup of %q: %w", name, err)
	}

	elapsed := time.Since(t0)
	c.NSetups++
	c.TSetup += elapsed
	setupTotal.WithLabelValues(c.SolverType.String()).Inc()
	setupDuration.WithLabelValues(c.SolverType.String()).Observe(elapsed.Seconds())
	return
}

// Solve solves a vx = rhs to the absolute tolerance precision*rNorm, vx
// holding the initial guess on entry. The returned state is always
// Iterating; Classify and SolveChecked interpret the outcome. residue is the
// final relative residual the solver reports.
func (c *Context) Solve(name string, a sles.Matrix, verbosity int, precision, rNorm float64,
	rhs, vx []float64) (state sles.ConvergenceState, nIter int, residue float64, err error) {
	state = sles.Iterating
	if c.sd == nil || c.sd.solver == nil {
		if err = c.Setup(name, a, verbosity); err != nil {
			return
		}
	}
	t0 := time.Now()
	sd := c.sd
	sd.b.SetValues(rhs)
	sd.x.SetValues(vx)

	var (
		bnorm = norm2(sd.b.Values())
		tol   = precision * rNorm
	)
	switch s := sd.solver.(type) {
	case AbsoluteTolerancer:
		s.SetTolerance(tol)
	case RelativeTolerancer:
		rel := tol
		if bnorm > 0 {
			rel = tol / bnorm
		}
		s.SetRelativeTolerance(rel)
	}

	serr := sd.solver.Solve(sd.a, sd.b, sd.x)
	residue = sd.solver.FinalRelativeResidual()
	nIter = sd.solver.NumIterations()
	sd.x.GetValues(vx)

	c.last = solveRecord{
		tol:       tol,
		absRes:    residue,
		nIter:     nIter,
		maxIter:   sd.solver.MaxIter(),
		breakdown: errors.Is(serr, ErrBreakdown),
	}
	if bnorm > 0 {
		c.last.absRes = residue * bnorm
	}
	if serr != nil && !c.last.breakdown {
		err = fmt.Errorf("backend: solve of %q: %w", name, serr)
	}

	if c.NSolves == 0 || nIter < c.NIterMin {
		c.NIterMin = nIter
	}
	if nIter > c.NIterMax {
		c.NIterMax = nIter
	}
	c.NIterLast = nIter
	c.NIterTot += nIter
	c.NSolves++
	elapsed := time.Since(t0)
	c.TSolve += elapsed

	label := c.SolverType.String()
	solveTotal.WithLabelValues(label).Inc()
	solveIterations.WithLabelValues(label).Observe(float64(nIter))
	solveDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	if verbosity > 1 {
		sles.SystemLog(name, sles.LogPerformance).WithFields(logrus.Fields{
			"iter":    nIter,
			"residue": residue,
		}).Infof("HYPRE (%s) solve", c.SolverType)
	}
	return
}

// Classify interprets the last solve: breakdown first, then convergence to
// the requested tolerance, then the iteration cap. Anything else diverged.
func (c *Context) Classify() sles.ConvergenceState {
	r := c.last
	switch {
	case r.breakdown || math.IsNaN(r.absRes) || math.IsInf(r.absRes, 0):
		return sles.Breakdown
	case r.absRes <= r.tol:
		return sles.Converged
	case r.nIter >= r.maxIter:
		return sles.MaxIteration
	}
	return sles.Diverged
}

// SolveChecked solves, classifies the outcome and hands failures to handler,
// DefaultErrorHandler when nil. The handler may ask for a bounded number of
// retries from the current iterate.
func (c *Context) SolveChecked(name string, a sles.Matrix, verbosity int, precision, rNorm float64,
	rhs, vx []float64, handler sles.ErrorHandler) (state sles.ConvergenceState, nIter int, residue float64, err error) {
	if handler == nil {
		handler = sles.DefaultErrorHandler
	}
	for try := 0; ; try++ {
		if _, nIter, residue, err = c.Solve(name, a, verbosity, precision, rNorm, rhs, vx); err != nil {
			return
		}
		if state = c.Classify(); !state.Failed() {
			return
		}
		failureTotal.WithLabelValues(c.SolverType.String(), state.String()).Inc()
		var retry bool
		if retry, err = handler(name, state); err != nil || !retry || try == maxSolveRetries {
			return
		}
	}
}

// Free releases the library objects but keeps counters and configuration.
// The time spent is accounted as setup time.
func (c *Context) Free() {
	t0 := time.Now()
	if c.sd != nil {
		if c.sd.solver != nil {
			c.sd.solver.Destroy()
		}
		if c.sd.precond != nil {
			c.sd.precond.Destroy()
		}
		c.sd = nil
	}
	c.TSetup += time.Since(t0)
}

// Destroy frees the context and releases it from its registry
func (c *Context) Destroy() error {
	if c.destroyed {
		return nil
	}
	c.Free()
	c.destroyed = true
	return c.reg.release()
}

// LibraryInfo describes the library behind the context
func (c *Context) LibraryInfo() string { return c.reg.Library().Info() }

// Summary formats the setup or performance report of the context
func (c *Context) Summary(lt sles.LogType) string {
	var sb strings.Builder
	switch lt {
	case sles.LogSetup:
		fmt.Fprintf(&sb, "  Solver type:                       HYPRE (%s)\n", c.SolverType)
		if c.PrecondType < None {
			fmt.Fprintf(&sb, "    Preconditioning:                 %s\n", c.PrecondType)
		}
		if c.useDevice {
			fmt.Fprintf(&sb, "    Accelerated device:              enabled\n")
		}
		fmt.Fprintf(&sb, "    %s\n", c.LibraryInfo())
	case sles.LogPerformance:
		nMean := 0
		if c.NSolves > 0 {
			nMean = c.NIterTot / c.NSolves
		}
		fmt.Fprintf(&sb, "\n  Solver type:                   HYPRE (%s)\n", c.SolverType)
		if c.PrecondType < None {
			fmt.Fprintf(&sb, "    Preconditioning:             %s\n", c.PrecondType)
		}
		if c.useDevice {
			fmt.Fprintf(&sb, "    Accelerated device:          enabled\n")
		}
		fmt.Fprintf(&sb, "  Number of setups:              %12d\n", c.NSetups)
		fmt.Fprintf(&sb, "  Number of calls:               %12d\n", c.NSolves)
		fmt.Fprintf(&sb, "  Minimum number of iterations:  %12d\n", c.NIterMin)
		fmt.Fprintf(&sb, "  Maximum number of iterations:  %12d\n", c.NIterMax)
		fmt.Fprintf(&sb, "  Mean number of iterations:     %12d\n", nMean)
		fmt.Fprintf(&sb, "  Construction:                  %12.3f\n", c.TSetup.Seconds())
		fmt.Fprintf(&sb, "  Resolution:                    %12.3f\n", c.TSolve.Seconds())
	}
	return sb.String()
}

// Log writes the Summary of the context to the solver logger
func (c *Context) Log(name string, lt sles.LogType) {
	sles.SystemLog(name, lt).Info(c.Summary(lt))
}
