package backend

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gosles/model_problems"
	"github.com/notargets/gosles/sles"
	"github.com/notargets/gosles/utils"
)

func init() {
	sles.SetLogger(sles.DiscardLogger())
}

// countingLibrary wraps the native library and counts lifecycle calls. The
// registry serializes these calls under its mutex.
type countingLibrary struct {
	*NativeLibrary
	nInit, nFinalize, nExec int
	policies                []ExecutionPolicy
}

func newCountingLibrary() *countingLibrary {
	return &countingLibrary{NativeLibrary: NewNativeLibrary()}
}

func (lib *countingLibrary) Init() error {
	lib.nInit++
	return lib.NativeLibrary.Init()
}

func (lib *countingLibrary) Finalize() error {
	lib.nFinalize++
	return lib.NativeLibrary.Finalize()
}

func (lib *countingLibrary) SetExecution(policy ExecutionPolicy) {
	lib.nExec++
	lib.policies = append(lib.policies, policy)
	lib.NativeLibrary.SetExecution(policy)
}

func poisson(n int, prec Precision) (a *ParCSR, rhs []float64) {
	return NewParCSR(model_problems.Poisson2D(n), prec), model_problems.PoissonRHS(n)
}

func trueResidual(a *ParCSR, rhs, x []float64) (rel float64) {
	r := make([]float64, len(rhs))
	return residual(a, rhs, x, r) / norm2(rhs)
}

func TestTypeNames(t *testing.T) {
	for tp := BoomerAMG; tp <= None; tp++ {
		parsed, err := ParseType(tp.String())
		require.NoError(t, err)
		assert.Equal(t, tp, parsed)
	}
	assert.Equal(t, "Flexible GMRES", FlexGMRES.String())
	assert.Equal(t, "EUCLID", Euclid.String())
	tp, err := ParseType("amg")
	assert.NoError(t, err)
	assert.Equal(t, BoomerAMG, tp)
	_, err = ParseType("multigrid please")
	assert.Error(t, err)
	assert.True(t, Euclid.IsPreconditionerOnly())
	assert.True(t, ParaSails.IsPreconditionerOnly())
	assert.False(t, PCG.IsPreconditionerOnly())
	assert.False(t, BoomerAMG.AcceptsPreconditioner())
	assert.True(t, LGMRES.AcceptsPreconditioner())
}

func TestRegistryLifecycle(t *testing.T) {
	var (
		lib = newCountingLibrary()
		reg = NewRegistry(lib)
		cs  []*Context
	)
	for i := 0; i < 3; i++ {
		c, err := Create(reg, PCG, None, nil, nil)
		require.NoError(t, err)
		cs = append(cs, c)
	}
	assert.Equal(t, 1, lib.nInit)
	assert.Equal(t, 3, reg.Live())

	// Only the first setup configures the library wide policy
	a, _ := poisson(4, Float64)
	cs[0].SetUseDevice(true)
	require.NoError(t, cs[0].Setup("first", a, 0))
	require.NoError(t, cs[1].Setup("second", a, 0))
	assert.Equal(t, 1, lib.nExec)
	assert.Equal(t, []ExecutionPolicy{Device}, lib.policies)
	assert.Equal(t, Device, lib.Execution())

	for i, c := range cs {
		require.NoError(t, c.Destroy())
		if i < 2 {
			assert.Equal(t, 0, lib.nFinalize)
		}
	}
	assert.Equal(t, 1, lib.nFinalize)
	assert.Equal(t, 0, reg.Live())
	// Destroying twice is harmless and does not finalize again
	assert.NoError(t, cs[0].Destroy())
	assert.Equal(t, 1, lib.nFinalize)

	// A new cycle initializes again and configures the policy again
	c, err := Create(reg, GMRES, None, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Setup("again", a, 0))
	assert.Equal(t, 2, lib.nInit)
	assert.Equal(t, 2, lib.nExec)
	assert.Equal(t, Host, lib.policies[1])
	require.NoError(t, c.Destroy())
	assert.Equal(t, 2, lib.nFinalize)
	assert.Error(t, c.Setup("destroyed", a, 0))
}

func TestRegistryConcurrent(t *testing.T) {
	var (
		lib = newCountingLibrary()
		reg = NewRegistry(lib)
		wg  sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Create(reg, BiCGSTAB, ILU, nil, nil)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, c.Destroy())
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, reg.Live())
	assert.GreaterOrEqual(t, lib.nInit, 1)
	assert.Equal(t, lib.nInit, lib.nFinalize)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
	c, err := Create(nil, PCG, BoomerAMG, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, DefaultRegistry().Live())
	assert.NoError(t, c.Destroy())
	assert.Equal(t, 0, DefaultRegistry().Live())
}

func TestCreateErrors(t *testing.T) {
	reg := NewRegistry(NewNativeLibrary())
	_, err := Create(reg, None, None, nil, nil)
	assert.True(t, sles.IsConfigError(err))
	_, err = Create(reg, PCG, Type(42), nil, nil)
	assert.True(t, sles.IsConfigError(err))
	assert.Equal(t, 0, reg.Live())

	a, _ := poisson(4, Float64)
	for _, tp := range []Type{Euclid, ParaSails} {
		c, err := Create(reg, tp, None, nil, nil)
		require.NoError(t, err)
		err = c.Setup("pc_only", a, 0)
		assert.True(t, sles.IsConfigError(err), "%s", tp)
		assert.ErrorContains(t, err, "is a preconditioner, not a solver")
		assert.NoError(t, c.Destroy())
	}
}

func TestSetupRejectsForeignMatrix(t *testing.T) {
	reg := NewRegistry(NewNativeLibrary())
	c, err := Create(reg, PCG, None, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()
	csr := sles.NewCSRMatrix(model_problems.Poisson2D(3))
	err = c.Setup("foreign", csr, 0)
	require.Error(t, err)
	var ce *sles.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "foreign", ce.System)
	assert.Equal(t, ParCSRTypeName, ce.Expected)
	assert.Equal(t, sles.CSRTypeName, ce.Provided)
	assert.Equal(t, 0, c.NSetups)
}

func TestSetupRejectsNaN(t *testing.T) {
	reg := NewRegistry(NewNativeLibrary())
	c, err := Create(reg, PCG, None, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()
	a := utils.NewCSR(2, 2, []int{0, 1, 2}, []int{0, 1}, []float64{1, math.NaN()})
	err = c.Setup("nan", NewParCSR(a, Float64), 0)
	assert.True(t, sles.IsConfigError(err))
	assert.Nil(t, c.Solver())
}

// Every solver with every preconditioner reaches the requested tolerance on
// a 2D Poisson problem
func TestSolverPreconditionerCombinations(t *testing.T) {
	var (
		solvers  = []Type{PCG, BiCGSTAB, GMRES, FlexGMRES, LGMRES, Hybrid, BoomerAMG, ILU}
		preconds = []Type{None, BoomerAMG, ILU, Euclid, ParaSails}
		a, rhs   = poisson(12, Float64)
		bnorm    = norm2(rhs)
		reg      = NewRegistry(NewNativeLibrary())
	)
	for _, st := range solvers {
		for _, pt := range preconds {
			if !st.AcceptsPreconditioner() && pt != None {
				continue
			}
			name := fmt.Sprintf("%s+%s", st, pt)
			c, err := Create(reg, st, pt, nil, nil)
			require.NoError(t, err)
			vx := make([]float64, len(rhs))
			state, nIter, residue, err := c.Solve(name, a, 0, 1.e-8, bnorm, rhs, vx)
			require.NoError(t, err, name)
			assert.Equal(t, sles.Iterating, state, name)
			assert.Equal(t, sles.Converged, c.Classify(), name)
			assert.Less(t, nIter, 1000, name)
			assert.Greater(t, nIter, 0, name)
			assert.LessOrEqual(t, residue, 1.e-8*(1+1.e-12), name)
			assert.Less(t, trueResidual(a, rhs, vx), 1.e-7, name)
			assert.Equal(t, 1, c.NSetups, name)
			require.NoError(t, c.Destroy())
		}
	}
	// A Krylov method works as the preconditioner of a flexible method
	c, err := Create(reg, FlexGMRES, PCG, nil, nil)
	require.NoError(t, err)
	vx := make([]float64, len(rhs))
	_, _, _, err = c.Solve("fgmres+pcg", a, 0, 1.e-8, bnorm, rhs, vx)
	require.NoError(t, err)
	assert.Equal(t, sles.Converged, c.Classify())
	require.NoError(t, c.Destroy())
	assert.Equal(t, 0, reg.Live())
}

func TestIgnoredPreconditionerWarns(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sles.SetLogger(logger)
	defer sles.SetLogger(sles.DiscardLogger())

	reg := NewRegistry(NewNativeLibrary())
	c, err := Create(reg, BoomerAMG, ILU, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()
	a, rhs := poisson(8, Float64)
	require.NoError(t, c.Setup("amg_ilu", a, 0))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "solver (BoomerAMG) will ignore preconditioner (ILU)", entry.Message)
	assert.Equal(t, "amg_ilu", entry.Data["system"])

	vx := make([]float64, len(rhs))
	_, _, _, err = c.Solve("amg_ilu", a, 0, 1.e-8, norm2(rhs), rhs, vx)
	assert.NoError(t, err)
	assert.Equal(t, sles.Converged, c.Classify())
}

func TestFloat32Path(t *testing.T) {
	var (
		reg    = NewRegistry(NewNativeLibrary())
		a, rhs = poisson(12, Float32)
		ref, _ = poisson(12, Float64)
		vx     = make([]float64, len(rhs))
	)
	c, err := Create(reg, PCG, BoomerAMG, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()
	_, _, _, err = c.Solve("single", a, 0, 1.e-4, norm2(rhs), rhs, vx)
	require.NoError(t, err)
	assert.Equal(t, sles.Converged, c.Classify())
	// The solution comes back through single precision storage
	for _, v := range vx {
		assert.Equal(t, float64(float32(v)), v)
	}
	assert.Less(t, trueResidual(ref, rhs, vx), 2.e-4)

	v := NewParVector(3, Float32)
	v.SetValues([]float64{1. / 3., 1, 1.e-50})
	out := v.Values()
	assert.Equal(t, float64(float32(1./3.)), out[0])
	assert.Equal(t, 1., out[1])
	assert.Equal(t, 0., out[2])
	assert.Panics(t, func() { v.SetValues(make([]float64, 2)) })
}

func TestCountersAndFree(t *testing.T) {
	var (
		reg    = NewRegistry(NewNativeLibrary())
		a, rhs = poisson(10, Float64)
		bnorm  = norm2(rhs)
	)
	c, err := Create(reg, GMRES, ILU, nil, nil)
	require.NoError(t, err)
	var iters []int
	for k := 0; k < 3; k++ {
		vx := make([]float64, len(rhs))
		for i := range vx {
			vx[i] = float64(2-k) * 0.1
		}
		_, nIter, _, err := c.Solve("counters", a, 0, 1.e-10, bnorm, rhs, vx)
		require.NoError(t, err)
		iters = append(iters, nIter)
	}
	assert.Equal(t, 1, c.NSetups)
	assert.Equal(t, 3, c.NSolves)
	assert.Equal(t, iters[2], c.NIterLast)
	assert.Equal(t, iters[0]+iters[1]+iters[2], c.NIterTot)
	assert.Equal(t, utils.Min(utils.Min(iters[0], iters[1]), iters[2]), c.NIterMin)
	assert.Equal(t, utils.Max(utils.Max(iters[0], iters[1]), iters[2]), c.NIterMax)

	tSetup := c.TSetup
	c.Free()
	assert.Nil(t, c.Solver())
	assert.Equal(t, 3, c.NSolves)
	assert.GreaterOrEqual(t, c.TSetup, tSetup)
	// Solve after Free sets up again
	vx := make([]float64, len(rhs))
	_, _, _, err = c.Solve("counters", a, 0, 1.e-10, bnorm, rhs, vx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.NSetups)
	assert.Equal(t, 4, c.NSolves)

	c.SetUseDevice(true)
	cp, err := c.Copy()
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Live())
	assert.Equal(t, GMRES, cp.SolverType)
	assert.Equal(t, ILU, cp.PrecondType)
	assert.True(t, cp.UseDevice())
	assert.Equal(t, 0, cp.NSolves)
	assert.Nil(t, cp.Solver())
	require.NoError(t, cp.Destroy())
	require.NoError(t, c.Destroy())
}

func TestSetupHookAndMaxIteration(t *testing.T) {
	var (
		reg    = NewRegistry(NewNativeLibrary())
		a, rhs = poisson(12, Float64)
		calls  int
		seen   any
	)
	hook := func(verbosity int, hookCtx any, solver Method) {
		calls++
		seen = hookCtx
		assert.Equal(t, 2, verbosity)
		solver.SetMaxIter(2)
	}
	c, err := Create(reg, PCG, None, hook, "ctx")
	require.NoError(t, err)
	defer c.Destroy()
	vx := make([]float64, len(rhs))
	state, nIter, _, err := c.SolveChecked("capped", a, 2, 1.e-12, norm2(rhs), rhs, vx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "ctx", seen)
	assert.Equal(t, 2, nIter)
	// Reaching the cap is not a failure
	assert.Equal(t, sles.MaxIteration, state)
}

func TestBreakdownClassification(t *testing.T) {
	var (
		reg  = NewRegistry(NewNativeLibrary())
		zero = NewParCSR(utils.NewCSR(2, 2, []int{0, 1, 2}, []int{0, 1}, []float64{0, 0}), Float64)
		rhs  = []float64{1, 1}
	)
	c, err := Create(reg, PCG, None, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()
	vx := make([]float64, 2)
	_, _, _, err = c.Solve("singular", zero, 0, 1.e-8, 1, rhs, vx)
	require.NoError(t, err)
	assert.Equal(t, sles.Breakdown, c.Classify())

	state, _, _, err := c.SolveChecked("singular", zero, 0, 1.e-8, 1, rhs, vx, nil)
	assert.Equal(t, sles.Breakdown, state)
	var ce *sles.ConvergenceError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, sles.Breakdown, ce.State)

	// A handler asking for retries gets a bounded number of them
	var tries int
	retry := func(string, sles.ConvergenceState) (bool, error) {
		tries++
		return true, nil
	}
	state, _, _, err = c.SolveChecked("singular", zero, 0, 1.e-8, 1, rhs, vx, retry)
	assert.NoError(t, err)
	assert.Equal(t, sles.Breakdown, state)
	assert.Equal(t, maxSolveRetries+1, tries)
}

func TestDevicePolicy(t *testing.T) {
	var (
		reg    = NewRegistry(NewNativeLibrary())
		a, rhs = poisson(24, Float64)
	)
	for _, device := range []bool{true, false} {
		c, err := Create(reg, PCG, BoomerAMG, nil, nil)
		require.NoError(t, err)
		c.SetUseDevice(device)
		vx := make([]float64, len(rhs))
		_, nIter, _, err := c.Solve("policy", a, 0, 1.e-8, norm2(rhs), rhs, vx)
		require.NoError(t, err)
		assert.Equal(t, sles.Converged, c.Classify())
		assert.Less(t, nIter, 100)
		pc := c.sd.precond.(*amg)
		assert.Greater(t, pc.NumLevels(), 1)
		if device {
			assert.Equal(t, Device, pc.policy)
		} else {
			assert.Equal(t, Host, pc.policy)
		}
		// Destroying the only context resets the library policy
		require.NoError(t, c.Destroy())
	}
}

func TestHybridSwitches(t *testing.T) {
	var (
		reg    = NewRegistry(NewNativeLibrary())
		a, rhs = poisson(16, Float64)
	)
	for _, rate := range []float64{0.999, 0.1} {
		hook := func(_ int, _ any, solver Method) {
			solver.(*hybrid).rate = rate
		}
		c, err := Create(reg, Hybrid, None, hook, nil)
		require.NoError(t, err)
		vx := make([]float64, len(rhs))
		_, _, _, err = c.Solve("hybrid", a, 0, 1.e-8, norm2(rhs), rhs, vx)
		require.NoError(t, err)
		assert.Equal(t, sles.Converged, c.Classify())
		h := c.Solver().(*hybrid)
		assert.Equal(t, rate < 0.5, h.Switched(), "rate %v", rate)
		assert.Equal(t, rate < 0.5, h.fallback != nil)
		require.NoError(t, c.Destroy())
	}
}

// The CG residual of the diagonal phase grows over its first iterations on
// Poisson problems before converging fast; that hump must not read as slow
// convergence.
func TestHybridRateMonitor(t *testing.T) {
	trace := []float64{1.87, 1.62, 1.52, 1.30, 1.07}
	for r := 1.07; len(trace) < 21; {
		r *= 0.56
		trace = append(trace, r)
	}
	for _, rate := range []float64{0.9, 0.999} {
		rm := newRateMonitor(rate, 1)
		for k, rnorm := range trace {
			assert.False(t, rm.slow(k+1, rnorm), "rate %v iteration %d", rate, k+1)
		}
	}

	// A stagnating residual is slow once enough iterations separate it from
	// the peak
	rm := newRateMonitor(HybridConvergenceRate, 1)
	for k := 1; k < hybridMinDSIter; k++ {
		assert.False(t, rm.slow(k, 1-0.004*float64(k)))
	}
	assert.True(t, rm.slow(hybridMinDSIter, 0.98))

	// A new peak restarts the measure
	rm = newRateMonitor(0.5, 1)
	assert.False(t, rm.slow(1, 2))
	assert.False(t, rm.slow(5, 1.9))
	assert.True(t, rm.slow(6, 1.9))
}

func TestAMGStalledCoarsening(t *testing.T) {
	const n = 500
	var (
		ptr  = make([]int, n+1)
		ind  = make([]int, n)
		vals = make([]float64, n)
		rhs  = make([]float64, n)
	)
	for i := 0; i < n; i++ {
		ptr[i+1], ind[i], vals[i], rhs[i] = i+1, i, float64(i+1), 1
	}
	lib := NewNativeLibrary()
	require.NoError(t, lib.Init())
	defer lib.Finalize()
	m, err := lib.NewMethod(BoomerAMG, RoleSolver)
	require.NoError(t, err)
	a := NewParCSR(utils.NewCSR(n, n, ptr, ind, vals), Float64)
	require.NoError(t, m.Setup(a))
	mg := m.(*amg)
	// No aggregate forms on a diagonal matrix, and the level is too large
	// for a dense factorization
	assert.Equal(t, 1, mg.NumLevels())
	assert.Nil(t, mg.coarse)

	mg.SetRelativeTolerance(1.e-10)
	b, x := NewParVector(n, Float64), NewParVector(n, Float64)
	b.SetValues(rhs)
	require.NoError(t, m.Solve(a, b, x))
	assert.Less(t, m.FinalRelativeResidual(), 1.e-10)
	assert.InDelta(t, 1./float64(n), x.Values()[n-1], 1.e-12)
}

func TestGMRESRestart(t *testing.T) {
	var (
		reg    = NewRegistry(NewNativeLibrary())
		a, rhs = poisson(12, Float64)
	)
	for _, tp := range []Type{GMRES, FlexGMRES, LGMRES} {
		hook := func(_ int, _ any, solver Method) {
			solver.(*gmres).SetRestart(5)
		}
		c, err := Create(reg, tp, None, hook, nil)
		require.NoError(t, err)
		vx := make([]float64, len(rhs))
		_, nIter, _, err := c.Solve("restart", a, 0, 1.e-8, norm2(rhs), rhs, vx)
		require.NoError(t, err)
		assert.Equal(t, sles.Converged, c.Classify(), "%s", tp)
		assert.Greater(t, nIter, 5, "%s", tp)
		assert.Less(t, trueResidual(a, rhs, vx), 1.e-7, "%s", tp)
		require.NoError(t, c.Destroy())
	}
}

func TestSummary(t *testing.T) {
	var (
		reg    = NewRegistry(NewNativeLibrary())
		a, rhs = poisson(6, Float64)
	)
	c, err := Create(reg, PCG, BoomerAMG, nil, nil)
	require.NoError(t, err)
	defer c.Destroy()
	c.SetUseDevice(true)
	setup := c.Summary(sles.LogSetup)
	assert.Contains(t, setup, "  Solver type:                       HYPRE (PCG)\n")
	assert.Contains(t, setup, "    Preconditioning:                 BoomerAMG\n")
	assert.Contains(t, setup, "    Accelerated device:              enabled\n")
	assert.Contains(t, setup, NativeVersion)

	for k := 0; k < 2; k++ {
		vx := make([]float64, len(rhs))
		_, _, _, err = c.Solve("summary", a, 0, 1.e-8, norm2(rhs), rhs, vx)
		require.NoError(t, err)
	}
	perf := c.Summary(sles.LogPerformance)
	assert.Contains(t, perf, fmt.Sprintf("  Number of setups:              %12d\n", 1))
	assert.Contains(t, perf, fmt.Sprintf("  Number of calls:               %12d\n", 2))
	assert.Contains(t, perf, fmt.Sprintf("  Mean number of iterations:     %12d\n", c.NIterTot/2))
	assert.Contains(t, perf, "  Construction:")
	assert.Contains(t, perf, "  Resolution:")
	c.Log("summary", sles.LogPerformance)
}
