package sles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gosles/utils"
)

func init() {
	SetLogger(DiscardLogger())
}

func TestConvergencePrecedence(t *testing.T) {
	{ // Tiny residual that also grew faster than dtol allows: converged wins
		info := NewIterInfo(1.e-8, 1.e-10, 2, 100)
		info.Start(1)
		info.PrevRes = 1.e-14
		info.Res = 1.e-12
		assert.False(t, info.Test())
		assert.Equal(t, Converged, info.Cvg)
		assert.Equal(t, 1, info.NIter)
	}
	{ // Converged also wins over the iteration cap
		info := NewIterInfo(1.e-8, 0, 2, 1)
		info.Start(1)
		info.Res = 1.e-9
		assert.False(t, info.Test())
		assert.Equal(t, Converged, info.Cvg)
	}
	{ // The cap wins over divergence
		info := NewIterInfo(1.e-8, 0, 2, 1)
		info.Start(1)
		info.Res = 10
		assert.False(t, info.Test())
		assert.Equal(t, MaxIteration, info.Cvg)
	}
	{ // Divergence against the previous residual
		info := NewIterInfo(1.e-8, 0, 2, 10)
		info.Start(1)
		info.Res = 0.5
		assert.True(t, info.Test())
		info.Res = 1.1
		assert.False(t, info.Test())
		assert.Equal(t, Diverged, info.Cvg)
		assert.Equal(t, 2, info.NIter)
	}
	{ // Absolute floor
		info := NewIterInfo(0, 1.e-3, 1.e3, 10)
		info.Start(1)
		assert.Equal(t, 1.e-3, info.Epsilon())
		info.Res = 5.e-4
		info.Verbosity = 1
		assert.False(t, info.Test())
		assert.Equal(t, Converged, info.Cvg)
	}
}

func TestDefaultErrorHandler(t *testing.T) {
	for _, st := range []ConvergenceState{Iterating, Converged, MaxIteration} {
		retry, err := DefaultErrorHandler("velocity", st)
		assert.False(t, retry)
		assert.NoError(t, err)
	}
	for _, st := range []ConvergenceState{Diverged, Breakdown} {
		retry, err := DefaultErrorHandler("velocity", st)
		assert.False(t, retry)
		require.Error(t, err)
		var ce *ConvergenceError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, st, ce.State)
		assert.Contains(t, err.Error(), "velocity")
	}
	assert.Contains(t, (&ConvergenceError{System: "p", State: Breakdown}).Error(), "breakdown")
}

func TestConfigError(t *testing.T) {
	err := error(&ConfigError{System: "p", Reason: "bad matrix", Expected: "HYPRE_PARCSR", Provided: "CSR"})
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "HYPRE_PARCSR")
	assert.Contains(t, err.Error(), "\"p\"")
}

func TestCSRMatrixSerial(t *testing.T) {
	dok := utils.NewDOK(3, 3)
	for i := 0; i < 3; i++ {
		dok.Set(i, i, float64(i+1))
	}
	m := NewCSRMatrixFromDOK(dok)
	assert.Equal(t, 3, m.NRows())
	assert.Equal(t, 3, m.NCols())
	assert.Equal(t, CSRTypeName, m.TypeName())
	out := make([]float64, 3)
	MatVecGS(nil, m, []float64{1, 1, 1}, out)
	assert.Equal(t, []float64{1, 2, 3}, out)
	_, ok := m.Native().(utils.CSR)
	assert.True(t, ok)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "max_iteration", MaxIteration.String())
	assert.Equal(t, "setup", LogSetup.String())
	assert.True(t, Breakdown.Failed())
	assert.False(t, MaxIteration.Failed())
}
