package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gosles/backend"
)

func TestParseSolverParameters(t *testing.T) {
	data := []byte(`
########################################
Title: "Chain Test"
Solver: flexible-gmres
Preconditioner: euclid
Precision: float32
RTol: 1.e-6
MaxIterations: 250
TrueResidualEvery: 10
Ranks: 4
Problem:
  Kind: Poisson2D
  Size: 32
########################################
`)
	sp := NewSolverParameters()
	require.NoError(t, sp.Parse(data))
	assert.Equal(t, "Chain Test", sp.Title)
	st, err := sp.SolverType()
	require.NoError(t, err)
	assert.Equal(t, backend.FlexGMRES, st)
	pt, err := sp.PreconditionerType()
	require.NoError(t, err)
	assert.Equal(t, backend.Euclid, pt)
	assert.Equal(t, backend.Float32, sp.PrecisionType())
	assert.Equal(t, 1.e-6, sp.RTol)
	assert.Equal(t, 250, sp.MaxIterations)
	assert.Equal(t, 10, sp.TrueResidualEvery)
	assert.Equal(t, 4, sp.Ranks)
	assert.Equal(t, Problem{Kind: "Poisson2D", Size: 32}, sp.Problem)
	// Fields left out keep their defaults
	assert.Equal(t, 1.e-14, sp.ATol)
	assert.Equal(t, 1.e3, sp.DTol)
}

func TestDefaults(t *testing.T) {
	sp := NewSolverParameters()
	require.NoError(t, sp.Validate())
	st, _ := sp.SolverType()
	pt, _ := sp.PreconditionerType()
	assert.Equal(t, backend.PCG, st)
	assert.Equal(t, backend.BoomerAMG, pt)
	assert.Equal(t, "SaddleChain", sp.Problem.Kind)
	assert.Equal(t, 1, sp.Ranks)

	sp = NewSolverParameters()
	require.NoError(t, sp.Parse([]byte("Preconditioner: none\n")))
	pt, _ = sp.PreconditionerType()
	assert.Equal(t, backend.None, pt)
}

func TestParseRejects(t *testing.T) {
	for _, data := range []string{
		"Solver: CGNR\n",
		"Solver: none\n",
		"Preconditioner: jacobi\n",
		"Precision: float16\n",
		"Ranks: -2\n",
		"TrueResidualEvery: -1\n",
		"Problem:\n  Kind: Heat3D\n",
		"Title: [unterminated\n",
	} {
		sp := NewSolverParameters()
		assert.Error(t, sp.Parse([]byte(data)), data)
	}
}
