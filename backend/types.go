// Package backend binds linear systems to a HYPRE-like sparse solver
// library. A Context holds the solver and preconditioner choice of one named
// system and drives the library through setup, solve and free. The library
// itself sits behind the Library interface; NativeLibrary implements it in
// Go.
package backend

import (
	"fmt"
	"strings"
)

// Type tags a solver or preconditioner of the library
type Type uint8

const (
	BoomerAMG Type = iota
	Hybrid
	ILU
	BiCGSTAB
	GMRES
	FlexGMRES
	LGMRES
	PCG
	Euclid
	ParaSails
	None
)

var typeNames = [...]string{
	BoomerAMG: "BoomerAMG",
	Hybrid:    "Hybrid",
	ILU:       "ILU",
	BiCGSTAB:  "BiCGSTAB",
	GMRES:     "GMRES",
	FlexGMRES: "Flexible GMRES",
	LGMRES:    "LGMRES",
	PCG:       "PCG",
	Euclid:    "EUCLID",
	ParaSails: "ParaSails",
	None:      "None",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType reads a type name, ignoring case, spaces, dashes and underscores
func ParseType(s string) (t Type, err error) {
	key := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(s))
	switch key {
	case "boomeramg", "amg":
		return BoomerAMG, nil
	case "hybrid":
		return Hybrid, nil
	case "ilu":
		return ILU, nil
	case "bicgstab":
		return BiCGSTAB, nil
	case "gmres":
		return GMRES, nil
	case "flexiblegmres", "flexgmres", "fgmres":
		return FlexGMRES, nil
	case "lgmres":
		return LGMRES, nil
	case "pcg", "cg":
		return PCG, nil
	case "euclid":
		return Euclid, nil
	case "parasails":
		return ParaSails, nil
	case "none", "":
		return None, nil
	}
	return None, fmt.Errorf("unknown solver type %q", s)
}

// IsPreconditionerOnly reports types that cannot run as the outer solver
func (t Type) IsPreconditionerOnly() bool {
	return t == Euclid || t == ParaSails
}

// AcceptsPreconditioner reports types that apply a preconditioner when
// running as the outer solver
func (t Type) AcceptsPreconditioner() bool {
	switch t {
	case Hybrid, BiCGSTAB, GMRES, FlexGMRES, LGMRES, PCG:
		return true
	}
	return false
}

// Role is the slot a method fills in a context
type Role uint8

const (
	RolePreconditioner Role = iota
	RoleSolver
)

func (r Role) String() string {
	if r == RoleSolver {
		return "solver"
	}
	return "preconditioner"
}

// ExecutionPolicy selects host or accelerated device defaults. It is a
// library wide setting.
type ExecutionPolicy uint8

const (
	Host ExecutionPolicy = iota
	Device
)

func (p ExecutionPolicy) String() string {
	if p == Device {
		return "device"
	}
	return "host"
}

// Precision is the width of the library's real values
type Precision uint8

const (
	Float64 Precision = iota
	Float32
)

func (p Precision) String() string {
	if p == Float32 {
		return "float32"
	}
	return "float64"
}

func ParsePrecision(s string) (p Precision, err error) {
	switch strings.ToLower(s) {
	case "float64", "double", "":
		return Float64, nil
	case "float32", "single":
		return Float32, nil
	}
	return Float64, fmt.Errorf("unknown precision %q", s)
}
