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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/notargets/gosles/InputParameters"
	"github.com/notargets/gosles/model_problems"
	"github.com/notargets/gosles/parallel"
	"github.com/notargets/gosles/saddle"
	"github.com/notargets/gosles/sles"
)

// SaddleResult is what rank 0 reports after a MINRES run
type SaddleResult struct {
	Ranks    int
	NCells   int
	NIter    int
	Res0     float64
	Res      float64
	ErrNorm  float64 // ||x - exact|| / ||exact||
	Cvg      sles.ConvergenceState
	Elapsed  time.Duration
	SelfTest *saddle.SelfTestReport
}

// SaddleCmd represents the saddle command
var SaddleCmd = &cobra.Command{
	Use:   "saddle",
	Short: "MINRES on the saddle point chain model, over in-process ranks",
	Long: `
Solves the Stokes-like saddle point chain model with MINRES, splitting the
cells over in-process ranks. Results are identical for any rank count up to
rounding.

gosles saddle -n 4 -s 200 --selftest`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			sp  *InputParameters.SolverParameters
			res SaddleResult
		)
		if sp, err = loadParameters(); err != nil {
			return
		}
		selfTest, _ := cmd.Flags().GetBool("selftest")
		if res, err = RunSaddle(cmd.Context(), sp, selfTest); err != nil {
			return
		}
		res.Print(cmd.OutOrStdout())
		return
	},
}

func init() {
	rootCmd.AddCommand(SaddleCmd)
	SaddleCmd.Flags().Bool("selftest", false, "recompute the true residual norms after the solve")
}

// RunSaddle builds the chain on sp.Ranks ranks and solves it from a zero
// initial guess
func RunSaddle(ctx context.Context, sp *InputParameters.SolverParameters, selfTest bool) (res SaddleResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var opts []saddle.Option
	if sp.TrueResidualEvery > 0 {
		opts = append(opts, saddle.WithTrueResidualEvery(sp.TrueResidualEvery))
	}
	t0 := time.Now()
	err = parallel.NewGroup(sp.Ranks).Run(ctx, func(comm parallel.Communicator) (err error) {
		var sc *model_problems.SaddleChain
		if sc, err = model_problems.NewSaddleChain(comm, sp.Problem.Size); err != nil {
			return
		}
		sc.Sys.Name = sp.Title
		var (
			rhs  = sc.RHS()
			x    = sc.Sys.NewVector()
			info = sles.NewIterInfo(sp.RTol, sp.ATol, sp.DTol, sp.MaxIterations)
		)
		info.Verbosity = sp.Verbosity
		if err = saddle.MINRES(sc.Sys, rhs, x, info, opts...); err != nil {
			return
		}
		var rep saddle.SelfTestReport
		if selfTest {
			if rep, err = saddle.SelfTest(sc.Sys, rhs, x); err != nil {
				return
			}
		}
		exact := sc.Exact()
		diff := sc.Sys.NewVector()
		diff.CopyFrom(x)
		diff.Axpy(-1, exact)
		errNorm := sc.Sys.Norm(diff) / sc.Sys.Norm(exact)
		if comm.Rank() == 0 {
			res = SaddleResult{
				Ranks:   comm.Size(),
				NCells:  sc.NCells,
				NIter:   info.NIter,
				Res0:    info.Res0,
				Res:     info.Res,
				ErrNorm: errNorm,
				Cvg:     info.Cvg,
			}
			if selfTest {
				res.SelfTest = &rep
			}
		}
		return
	})
	res.Elapsed = time.Since(t0)
	if err == nil && res.Cvg.Failed() {
		err = &sles.ConvergenceError{System: sp.Title, State: res.Cvg}
	}
	return
}

func (res SaddleResult) Print(w io.Writer) {
	fmt.Fprintf(w, "MINRES on %d cells over %d ranks\n", res.NCells, res.Ranks)
	fmt.Fprintf(w, "[%s]\t\t= Convergence\n", res.Cvg)
	fmt.Fprintf(w, "[%d]\t\t\t= Iterations\n", res.NIter)
	fmt.Fprintf(w, "%8.3e\t\t= Initial Residual\n", res.Res0)
	fmt.Fprintf(w, "%8.3e\t\t= Final Residual\n", res.Res)
	fmt.Fprintf(w, "%8.3e\t\t= Relative Error\n", res.ErrNorm)
	if st := res.SelfTest; st != nil {
		fmt.Fprintf(w, "%8.3e\t\t= True Residual\n", st.TrueResNorm)
		fmt.Fprintf(w, "%8.3e\t\t= Consistency\n", st.ConsistNorm)
	}
	fmt.Fprintf(w, "%v\t\t= Elapsed\n", res.Elapsed)
}
