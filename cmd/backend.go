/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gosles/InputParameters"
	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/model_problems"
	"github.com/notargets/gosles/sles"
)

// BackendResult is the outcome of a backend solve of the Poisson model
type BackendResult struct {
	N           int // Grid points per side
	State       sles.ConvergenceState
	NIter       int
	Residue     float64 // Final relative residual reported by the solver
	TrueRes     float64 // ||b - A.x|| / ||b||, recomputed in float64
	Setup       string  // Setup summary of the context
	Performance string  // Performance summary of the context
	Info        string  // Library description
}

// BackendCmd represents the backend command
var BackendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Solve the 2D Poisson model through the sparse solver backend",
	Long: `
Solves the 5 point Poisson model on a square grid through a backend context,
with any solver and preconditioner pair the library offers.

gosles backend --solver gmres --precond euclid -s 100`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			sp  *InputParameters.SolverParameters
			res BackendResult
		)
		if sp, err = loadParameters(); err != nil {
			return
		}
		if res, err = RunBackend(sp); err != nil {
			return
		}
		res.Print(cmd.OutOrStdout())
		return
	},
}

func init() {
	rootCmd.AddCommand(BackendCmd)
}

// RunBackend solves the Poisson model of size sp.Problem.Size through a
// system named after sp.Title in the default registry, from a zero initial
// guess
func RunBackend(sp *InputParameters.SolverParameters) (res BackendResult, err error) {
	var (
		st, pt backend.Type
		c      *backend.Context
	)
	if st, err = sp.SolverType(); err != nil {
		return
	}
	if pt, err = sp.PreconditionerType(); err != nil {
		return
	}
	maxIter := sp.MaxIterations
	hook := func(verbosity int, hookCtx any, solver backend.Method) {
		solver.SetMaxIter(maxIter)
	}
	systems := backend.NewSystems(nil)
	defer func() {
		if derr := systems.Destroy(); err == nil {
			err = derr
		}
	}()
	if c, err = systems.Define(sp.Title, st, pt, hook, nil); err != nil {
		return
	}
	c.SetUseDevice(sp.UseDevice)

	var (
		n  = sp.Problem.Size
		a  = backend.NewParCSR(model_problems.Poisson2D(n), sp.PrecisionType())
		b  = model_problems.PoissonRHS(n)
		x  = make([]float64, len(b))
		bn = floats.Norm(b, 2)
	)
	if err = c.Setup(sp.Title, a, sp.Verbosity); err != nil {
		return
	}
	res = BackendResult{N: n, Info: c.LibraryInfo()}
	if res.State, res.NIter, res.Residue, err = c.SolveChecked(sp.Title, a, sp.Verbosity,
		sp.Eps, bn, b, x, nil); err != nil {
		return
	}

	// The true residual uses the float64 operator whatever the precision
	r := make([]float64, len(b))
	model_problems.Poisson2D(n).MulVec(x, r)
	floats.SubTo(r, b, r)
	res.TrueRes = floats.Norm(r, 2) / bn

	res.Setup = c.Summary(sles.LogSetup)
	res.Performance = c.Summary(sles.LogPerformance)
	if sp.Verbosity > 0 {
		c.Log(sp.Title, sles.LogSetup)
		c.Log(sp.Title, sles.LogPerformance)
	}
	return
}

func (res BackendResult) Print(w io.Writer) {
	fmt.Fprintf(w, "Poisson 2D on a %d x %d grid\n", res.N, res.N)
	fmt.Fprint(w, res.Setup)
	fmt.Fprintf(w, "[%s]\t\t= Convergence\n", res.State)
	fmt.Fprintf(w, "[%d]\t\t\t= Iterations\n", res.NIter)
	fmt.Fprintf(w, "%8.3e\t\t= Relative Residual\n", res.Residue)
	fmt.Fprintf(w, "%8.3e\t\t= True Relative Residual\n", res.TrueRes)
	fmt.Fprint(w, res.Performance)
}
