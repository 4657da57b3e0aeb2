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
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/gosles/InputParameters"
	"github.com/notargets/gosles/sles"
	"github.com/notargets/gosles/utils"
)

var (
	cfgFile  string
	profiler interface{ Stop() }
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gosles",
	Short: "Sparse linear system solvers",
	Long: `
Solves sparse linear systems with a distributed MINRES for saddle point
problems, or through the native sparse solver backend (AMG, Krylov and
incomplete factorization methods).

gosles saddle -n 4 -s 200
gosles backend --solver pcg --precond boomeramg -s 64

Without a subcommand, the Problem.Kind of the input file selects the run.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var sp *InputParameters.SolverParameters
		if sp, err = loadParameters(); err != nil {
			return
		}
		switch strings.ToLower(sp.Problem.Kind) {
		case "poisson2d":
			var res BackendResult
			if res, err = RunBackend(sp); err == nil {
				res.Print(cmd.OutOrStdout())
			}
		default:
			var res SaddleResult
			if res, err = RunSaddle(cmd.Context(), sp, false); err == nil {
				res.Print(cmd.OutOrStdout())
			}
		}
		return
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		var lvl logrus.Level
		if lvl, err = logrus.ParseLevel(viper.GetString("logLevel")); err != nil {
			return
		}
		logrus.SetLevel(lvl)
		if dir := viper.GetString("profile"); dir != "" {
			profiler = profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.Quiet)
		}
		return
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			profiler.Stop()
			profiler = nil
		}
		if viper.GetBool("metrics") {
			printMetrics(cmd)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gosles.yaml)")
	pf.StringP("inputConditionsFile", "I", "", "YAML file for solver parameters like:\n\t- Solver, Preconditioner\n\t- RTol, MaxIterations")
	pf.String("solver", "", "solver type, overrides the input file")
	pf.String("precond", "", "preconditioner type, overrides the input file (none to disable)")
	pf.String("precision", "", "backend value precision: float64 or float32")
	pf.Bool("device", false, "request the accelerated device execution policy")
	pf.IntP("ranks", "n", 0, "number of in-process ranks")
	pf.IntP("size", "s", 0, "model problem size")
	pf.IntP("verbosity", "v", 0, "solver verbosity")
	pf.String("logLevel", "info", "logrus level: panic, fatal, error, warn, info, debug or trace")
	pf.String("profile", "", "write a CPU profile into this directory")
	pf.Bool("metrics", false, "print the solver metrics collected during the run")
	for _, name := range []string{"inputConditionsFile", "solver", "precond", "precision", "device",
		"ranks", "size", "verbosity", "logLevel", "profile", "metrics"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".gosles" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".gosles")
	}

	viper.SetEnvPrefix("gosles")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// loadParameters reads the input file when one is given and applies the
// flags and config values that were set on top of it
func loadParameters() (sp *InputParameters.SolverParameters, err error) {
	sp = InputParameters.NewSolverParameters()
	if file := viper.GetString("inputConditionsFile"); file != "" {
		var data []byte
		if data, err = os.ReadFile(file); err != nil {
			return nil, err
		}
		if err = sp.Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}
	if viper.IsSet("solver") {
		sp.Solver = viper.GetString("solver")
	}
	if viper.IsSet("precond") {
		sp.Preconditioner = viper.GetString("precond")
	}
	if viper.IsSet("precision") {
		sp.Precision = viper.GetString("precision")
	}
	if viper.IsSet("device") {
		sp.UseDevice = viper.GetBool("device")
	}
	if viper.IsSet("ranks") {
		sp.Ranks = viper.GetInt("ranks")
	}
	if viper.IsSet("size") {
		sp.Problem.Size = viper.GetInt("size")
	}
	if viper.IsSet("verbosity") {
		sp.Verbosity = viper.GetInt("verbosity")
	}
	sp.Defaults()
	if err = sp.Validate(); err != nil {
		return nil, err
	}
	if sp.Verbosity > 0 {
		sp.Print()
		logrus.Info(utils.SysInfo())
	}
	if sp.Verbosity == 0 {
		sles.SetLogger(sles.DiscardLogger())
	}
	return
}

// printMetrics writes the counters and histogram totals this module
// registered with the default prometheus registry
func printMetrics(cmd *cobra.Command) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return
	}
	var lines []string
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), "gosles_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			key := mf.GetName() + "{" + strings.Join(labels, ",") + "}"
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%-70s %g", key, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%-70s count=%d sum=%g", key, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}
