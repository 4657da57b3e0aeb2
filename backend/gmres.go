package backend

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gosles/utils"
)

const (
	// DefaultRestart is the Krylov dimension between GMRES restarts
	DefaultRestart = 30
	// DefaultAugment is the number of error approximations LGMRES keeps
	DefaultAugment = 2
)

type givens struct {
	c, s float64
}

func drotg(a, b float64) givens {
	if b == 0 {
		return givens{c: 1, s: 0}
	}
	if math.Abs(b) > math.Abs(a) {
		tmp := -a / b
		s := 1 / math.Sqrt(1+tmp*tmp)
		return givens{c: tmp * s, s: s}
	}
	tmp := -b / a
	c := 1 / math.Sqrt(1+tmp*tmp)
	return givens{c: c, s: tmp * c}
}

func rotvec(x, y float64, g givens) (rx, ry float64) {
	rx = g.c*x - g.s*y
	ry = g.s*x + g.c*y
	return
}

// gmresIterate runs restarted right preconditioned GMRES.
//
// With flexible set, the preconditioned directions are kept and the update
// is built from them, so the preconditioner may change between iterations.
// With nAug > 0 the last nAug corrections of earlier cycles replace the
// final directions of each cycle (LGMRES); this implies flexible storage.
func gmresIterate(a *ParCSR, pc func(r, z []float64), b, x []float64,
	tol float64, maxIter, restart, nAug int, flexible bool) (nIter int, rnorm float64, err error) {
	if restart < 1 {
		restart = DefaultRestart
	}
	if nAug >= restart {
		nAug = restart - 1
	}
	if nAug > 0 {
		flexible = true
	}
	var (
		n    = len(b)
		r    = make([]float64, n)
		w    = make([]float64, n)
		u    = make([]float64, n)
		v    = make([][]float64, restart+1)
		dirs [][]float64
		h    = mat.NewDense(restart+1, restart, nil)
		g    = make([]float64, restart+1)
		rots = make([]givens, restart)
		aug  [][]float64
	)
	for i := range v {
		v[i] = make([]float64, n)
	}
	if flexible {
		dirs = make([][]float64, restart)
		for i := range dirs {
			dirs[i] = make([]float64, n)
		}
	}
	if rnorm = residual(a, b, x, r); rnorm <= tol {
		return
	}
	for nIter < maxIter {
		copy(v[0], r)
		floats.Scale(1/rnorm, v[0])
		for i := range g {
			g[i] = 0
		}
		g[0] = rnorm
		nKrylov := restart - len(aug)
		k := 0
		for k < restart && nIter < maxIter {
			if k < nKrylov {
				pc(v[k], w)
			} else {
				copy(w, aug[k-nKrylov])
			}
			if flexible {
				copy(dirs[k], w)
			}
			a.A.MulVec(w, u)
			// Modified Gram-Schmidt against the current basis
			for i := 0; i <= k; i++ {
				hik := utils.Dot(u, v[i])
				h.Set(i, k, hik)
				utils.Axpy(-hik, v[i], u)
			}
			unorm := norm2(u)
			h.Set(k+1, k, unorm)
			if unorm > 0 {
				copy(v[k+1], u)
				floats.Scale(1/unorm, v[k+1])
			}
			for j := 0; j < k; j++ {
				hj, hj1 := rotvec(h.At(j, k), h.At(j+1, k), rots[j])
				h.Set(j, k, hj)
				h.Set(j+1, k, hj1)
			}
			rots[k] = drotg(h.At(k, k), h.At(k+1, k))
			hk, _ := rotvec(h.At(k, k), h.At(k+1, k), rots[k])
			h.Set(k, k, hk)
			h.Set(k+1, k, 0)
			g[k], g[k+1] = rotvec(g[k], g[k+1], rots[k])
			k++
			nIter++
			if math.Abs(g[k]) <= tol || unorm == 0 {
				break
			}
		}
		y, serr := solveHessenberg(h, g, k)
		if serr != nil {
			return nIter, rnorm, ErrBreakdown
		}
		dx := make([]float64, n)
		if flexible {
			for j := 0; j < k; j++ {
				utils.Axpy(y[j], dirs[j], dx)
			}
		} else {
			for i := range u {
				u[i] = 0
			}
			for j := 0; j < k; j++ {
				utils.Axpy(y[j], v[j], u)
			}
			pc(u, dx)
		}
		utils.Axpy(1, dx, x)
		if nAug > 0 {
			if dnorm := norm2(dx); dnorm > 0 {
				floats.Scale(1/dnorm, dx)
				aug = append(aug, dx)
				if len(aug) > nAug {
					aug = aug[1:]
				}
			}
		}
		if rnorm = residual(a, b, x, r); rnorm <= tol {
			break
		}
	}
	return
}

// solveHessenberg solves the leading k x k upper triangle of the rotated
// Hessenberg matrix against g
func solveHessenberg(h *mat.Dense, g []float64, k int) (y []float64, err error) {
	var (
		tri = mat.NewTriDense(k, mat.Upper, nil)
		rhs = mat.NewVecDense(k, append([]float64{}, g[:k]...))
		sol mat.VecDense
	)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			tri.SetTri(i, j, h.At(i, j))
		}
	}
	// An ill conditioned triangle still yields a usable least squares step
	if err = sol.SolveVec(tri, rhs); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return
		}
		err = nil
	}
	y = sol.RawVector().Data
	for _, yi := range y {
		if math.IsNaN(yi) || math.IsInf(yi, 0) {
			return nil, ErrBreakdown
		}
	}
	return
}

// gmres serves GMRES, Flexible GMRES and LGMRES
type gmres struct {
	base
	restart  int
	nAug     int
	flexible bool
}

func newGMRES(t Type, role Role, policy ExecutionPolicy) (m *gmres) {
	m = &gmres{base: newBase(t, role, policy), restart: DefaultRestart}
	switch t {
	case FlexGMRES:
		m.flexible = true
	case LGMRES:
		m.nAug = DefaultAugment
	}
	return
}

func (m *gmres) SetTolerance(abs float64)        { m.tol = abs }
func (m *gmres) SetPreconditioner(p Method) bool { return m.attach(p) }
func (m *gmres) Setup(a *ParCSR) error           { return m.setupBase(a) }

// SetRestart changes the Krylov dimension between restarts
func (m *gmres) SetRestart(k int) { m.restart = k }

func (m *gmres) Solve(a *ParCSR, b, x *ParVector) error {
	return m.solve(a, b, x, m.iterate)
}

func (m *gmres) Precondition(r, z []float64) { precondition(r, z, m.iterate) }

func (m *gmres) iterate(b, x []float64) (int, float64, error) {
	return gmresIterate(m.a, m.applyPC, b, x, m.tol, m.maxIter, m.restart, m.nAug, m.flexible)
}
