package backend

import (
	"errors"
	"math"

	"github.com/notargets/gosles/utils"
)

var (
	// ErrBreakdown is returned by a solve whose recurrence hit a zero divisor
	ErrBreakdown = errors.New("backend: solver breakdown")
	// ErrNotSetup is returned by a solve on a method that was never set up
	ErrNotSetup = errors.New("backend: method used before setup")
)

// Method is one solver or preconditioner instance of the library
type Method interface {
	Type() Type
	Setup(a *ParCSR) error
	// Solve improves x, the initial guess, toward A x = b
	Solve(a *ParCSR, b, x *ParVector) error
	// Precondition writes an approximation of A^-1 r into z, starting from
	// a zero guess. It is the entry point a solver calls on its
	// preconditioner.
	Precondition(r, z []float64)
	SetMaxIter(n int)
	MaxIter() int
	// SetPreconditioner attaches p and reports whether the method uses it
	SetPreconditioner(p Method) bool
	FinalRelativeResidual() float64
	NumIterations() int
	Destroy()
}

// AbsoluteTolerancer is implemented by methods stopping on an absolute
// residual norm
type AbsoluteTolerancer interface {
	SetTolerance(abs float64)
}

// RelativeTolerancer is implemented by methods that only accept a
// tolerance relative to the right hand side norm
type RelativeTolerancer interface {
	SetRelativeTolerance(rel float64)
}

// iterateFunc improves x toward A x = b in place
type iterateFunc func(b, x []float64) (nIter int, rnorm float64, err error)

// base holds the state every method shares
type base struct {
	kind    Type
	role    Role
	policy  ExecutionPolicy
	tol     float64
	maxIter int
	nIter   int
	relRes  float64
	a       *ParCSR
	pc      Method
}

// newBase applies the role defaults: a preconditioner runs a single
// iteration with no tolerance, a solver up to 1000 iterations
func newBase(t Type, role Role, policy ExecutionPolicy) (b base) {
	b = base{kind: t, role: role, policy: policy, maxIter: 1000}
	if role == RolePreconditioner {
		b.maxIter = 1
	}
	return
}

func (b *base) Type() Type                     { return b.kind }
func (b *base) SetMaxIter(n int)               { b.maxIter = n }
func (b *base) MaxIter() int                   { return b.maxIter }
func (b *base) SetPreconditioner(Method) bool  { return false }
func (b *base) FinalRelativeResidual() float64 { return b.relRes }
func (b *base) NumIterations() int             { return b.nIter }

func (b *base) Destroy() {
	b.a, b.pc = nil, nil
}

func (b *base) attach(p Method) bool {
	b.pc = p
	return true
}

func (b *base) applyPC(r, z []float64) {
	applyPreconditioner(b.pc, r, z)
}

// setupBase records the matrix and sets up the attached preconditioner
func (b *base) setupBase(a *ParCSR) error {
	b.a = a
	if b.pc == nil {
		return nil
	}
	return b.pc.Setup(a)
}

// solve runs iterate on working copies of the native vectors and records the
// iteration count and final relative residual
func (b *base) solve(a *ParCSR, bv, xv *ParVector, iterate iterateFunc) (err error) {
	if b.a == nil {
		return ErrNotSetup
	}
	var (
		rhs   = bv.Values()
		x     = xv.Values()
		bnorm = norm2(rhs)
		rnorm float64
	)
	b.nIter, rnorm, err = iterate(rhs, x)
	xv.SetValues(x)
	b.relRes = rnorm
	if bnorm > 0 {
		b.relRes = rnorm / bnorm
	}
	return
}

// precondition runs iterate from a zero guess
func precondition(r, z []float64, iterate iterateFunc) {
	for i := range z {
		z[i] = 0
	}
	_, _, _ = iterate(r, z)
}

func applyPreconditioner(pc Method, r, z []float64) {
	if pc == nil {
		copy(z, r)
		return
	}
	pc.Precondition(r, z)
}

// residual computes r = b - A x and returns its norm
func residual(a *ParCSR, b, x, r []float64) float64 {
	a.A.MulVec(x, r)
	for i := range r {
		r[i] = b[i] - r[i]
	}
	return norm2(r)
}

func norm2(x []float64) float64 { return math.Sqrt(utils.DotXX(x)) }

func badDivisor(d float64) bool { return d == 0 || math.IsNaN(d) || math.IsInf(d, 0) }
