package InputParameters

import (
	"fmt"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/notargets/gosles/backend"
)

// Problem selects the model problem a run is made on
type Problem struct {
	Kind string `yaml:"Kind"` // "SaddleChain" or "Poisson2D"
	Size int    `yaml:"Size"` // Cells of the chain, or points per side of the Poisson grid
}

// Parameters obtained from the YAML input file
type SolverParameters struct {
	Title             string  `yaml:"Title"`
	Solver            string  `yaml:"Solver"`
	Preconditioner    string  `yaml:"Preconditioner"`
	UseDevice         bool    `yaml:"UseDevice"`
	Precision         string  `yaml:"Precision"`
	RTol              float64 `yaml:"RTol"`
	ATol              float64 `yaml:"ATol"`
	DTol              float64 `yaml:"DTol"`
	Eps               float64 `yaml:"Eps"` // Backend tolerance, relative to the rhs norm
	MaxIterations     int     `yaml:"MaxIterations"`
	TrueResidualEvery int     `yaml:"TrueResidualEvery"`
	Verbosity         int     `yaml:"Verbosity"`
	Ranks             int     `yaml:"Ranks"`
	Problem           Problem `yaml:"Problem"`
}

// NewSolverParameters returns the parameters used when a file leaves them
// out
func NewSolverParameters() (sp *SolverParameters) {
	sp = &SolverParameters{}
	sp.Defaults()
	return
}

// Defaults fills the zero valued fields
func (sp *SolverParameters) Defaults() {
	if sp.Title == "" {
		sp.Title = "gosles run"
	}
	if sp.Solver == "" {
		sp.Solver = backend.PCG.String()
	}
	if sp.Preconditioner == "" {
		sp.Preconditioner = backend.BoomerAMG.String()
	}
	if sp.Precision == "" {
		sp.Precision = backend.Float64.String()
	}
	if sp.RTol == 0 {
		sp.RTol = 1.e-8
	}
	if sp.ATol == 0 {
		sp.ATol = 1.e-14
	}
	if sp.DTol == 0 {
		sp.DTol = 1.e3
	}
	if sp.Eps == 0 {
		sp.Eps = 1.e-8
	}
	if sp.MaxIterations == 0 {
		sp.MaxIterations = 1000
	}
	if sp.Ranks == 0 {
		sp.Ranks = 1
	}
	if sp.Problem.Kind == "" {
		sp.Problem.Kind = "SaddleChain"
	}
	if sp.Problem.Size == 0 {
		sp.Problem.Size = 64
	}
}

func (sp *SolverParameters) Parse(data []byte) (err error) {
	if err = yaml.Unmarshal(data, sp); err != nil {
		return
	}
	sp.Defaults()
	return sp.Validate()
}

// Validate checks the names and ranges that yaml cannot
func (sp *SolverParameters) Validate() (err error) {
	if _, err = sp.SolverType(); err != nil {
		return
	}
	if _, err = sp.PreconditionerType(); err != nil {
		return
	}
	if _, err = backend.ParsePrecision(sp.Precision); err != nil {
		return
	}
	switch {
	case sp.Ranks < 1:
		return fmt.Errorf("Ranks must be at least 1, have %d", sp.Ranks)
	case sp.Problem.Size < 1:
		return fmt.Errorf("Problem.Size must be at least 1, have %d", sp.Problem.Size)
	case sp.TrueResidualEvery < 0:
		return fmt.Errorf("TrueResidualEvery must not be negative, have %d", sp.TrueResidualEvery)
	}
	switch strings.ToLower(sp.Problem.Kind) {
	case "saddlechain", "poisson2d":
	default:
		return fmt.Errorf("unknown problem kind %q", sp.Problem.Kind)
	}
	return
}

func (sp *SolverParameters) SolverType() (t backend.Type, err error) {
	if t, err = backend.ParseType(sp.Solver); err == nil && t == backend.None {
		err = fmt.Errorf("Solver must name a solver, have %q", sp.Solver)
	}
	return
}

// PreconditionerType accepts "none" for no preconditioner
func (sp *SolverParameters) PreconditionerType() (backend.Type, error) {
	return backend.ParseType(sp.Preconditioner)
}

func (sp *SolverParameters) PrecisionType() backend.Precision {
	p, _ := backend.ParsePrecision(sp.Precision)
	return p
}

func (sp *SolverParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", sp.Title)
	fmt.Printf("[%s]\t\t\t= Solver\n", sp.Solver)
	fmt.Printf("[%s]\t\t= Preconditioner\n", sp.Preconditioner)
	fmt.Printf("[%s]\t\t\t= Precision\n", sp.Precision)
	fmt.Printf("%v\t\t\t= UseDevice\n", sp.UseDevice)
	fmt.Printf("%8.2e\t\t= RTol\n", sp.RTol)
	fmt.Printf("%8.2e\t\t= ATol\n", sp.ATol)
	fmt.Printf("%8.2e\t\t= DTol\n", sp.DTol)
	fmt.Printf("%8.2e\t\t= Eps\n", sp.Eps)
	fmt.Printf("[%d]\t\t\t= MaxIterations\n", sp.MaxIterations)
	fmt.Printf("[%d]\t\t\t\t= TrueResidualEvery\n", sp.TrueResidualEvery)
	fmt.Printf("[%d]\t\t\t\t= Ranks\n", sp.Ranks)
	fmt.Printf("[%s, %d]\t\t= Problem\n", sp.Problem.Kind, sp.Problem.Size)
}
