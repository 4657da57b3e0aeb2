package backend

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gosles/utils"
)

// Host and device tuned defaults of the algebraic multigrid
const (
	// DefaultStrongThreshold suits 2D problems; 3D problems prefer 0.5
	DefaultStrongThreshold = 0.25
	amgMaxLevels           = 25
	amgCoarseSize          = 50
	amgMaxDenseSize        = 4 * amgCoarseSize // Largest level solved by dense LU
	amgCoarseSweeps        = 10
	amgJacobiSweeps        = 2
	amgPowerIterations     = 20
)

type amgLevel struct {
	A     utils.CSR
	P, R  utils.CSR // Prolongation from and restriction to the next level
	diag  []float64
	omega float64   // Jacobi weight 4/(3 rho(D^-1 A))
	b, x  []float64 // Right hand side and correction of this level
	r     []float64
	tmp   []float64
}

// amg is a smoothed aggregation multigrid V-cycle. On the host it smooths
// with symmetric Gauss-Seidel, on the device with damped Jacobi sweeps that
// run every row in parallel.
type amg struct {
	base
	strong    float64
	maxLevels int
	levels    []*amgLevel
	coarse    *mat.LU // Nil when the coarsest level is too large to factor
}

func newAMG(role Role, policy ExecutionPolicy) *amg {
	return &amg{
		base:      newBase(BoomerAMG, role, policy),
		strong:    DefaultStrongThreshold,
		maxLevels: amgMaxLevels,
	}
}

// SetRelativeTolerance sets the stopping ratio ||r|| / ||b||
func (m *amg) SetRelativeTolerance(rel float64) { m.tol = rel }

// SetStrongThreshold changes the strength of connection threshold
func (m *amg) SetStrongThreshold(theta float64) { m.strong = theta }

func (m *amg) NumLevels() int { return len(m.levels) }

func (m *amg) Setup(a *ParCSR) (err error) {
	m.a = a
	m.levels = m.levels[:0]
	A := a.A
	for {
		n, _ := A.Dims()
		lev := &amgLevel{
			A:    A,
			diag: A.Diagonal(),
			b:    make([]float64, n),
			x:    make([]float64, n),
			r:    make([]float64, n),
			tmp:  make([]float64, n),
		}
		lev.omega = 4. / (3. * jacobiRadius(A, lev.diag))
		m.levels = append(m.levels, lev)
		if n <= amgCoarseSize || len(m.levels) == m.maxLevels {
			break
		}
		agg, nAgg := aggregate(A, lev.diag, m.strong)
		if nAgg == 0 || nAgg >= n {
			break
		}
		lev.P = smoothedProlongator(A, lev.diag, lev.omega, agg, nAgg)
		lev.R = lev.P.Transpose()
		A = utils.MulCSR(lev.R, utils.MulCSR(A, lev.P))
	}
	// Aggregation can stall on a large level, which is then smoothed
	// rather than factored
	m.coarse = nil
	last := m.levels[len(m.levels)-1]
	n, _ := last.A.Dims()
	if n > amgMaxDenseSize {
		return
	}
	dense := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		ind, vals := last.A.Row(i)
		for jj, j := range ind {
			dense.Set(i, j, vals[jj])
		}
	}
	m.coarse = &mat.LU{}
	m.coarse.Factorize(dense)
	return
}

func (m *amg) Solve(a *ParCSR, b, x *ParVector) error {
	return m.solve(a, b, x, m.iterate)
}

// Precondition applies one V-cycle to a zero guess
func (m *amg) Precondition(r, z []float64) {
	for i := range z {
		z[i] = 0
	}
	m.cycle(0, r, z)
}

func (m *amg) iterate(b, x []float64) (nIter int, rnorm float64, err error) {
	var (
		r      = make([]float64, len(b))
		target = m.tol * norm2(b)
	)
	rnorm = residual(m.a, b, x, r)
	for nIter < m.maxIter && rnorm > target {
		m.cycle(0, b, x)
		nIter++
		rnorm = residual(m.a, b, x, r)
		if math.IsNaN(rnorm) {
			return nIter, rnorm, ErrBreakdown
		}
	}
	return
}

func (m *amg) Destroy() {
	m.base.Destroy()
	m.levels, m.coarse = nil, nil
}

// cycle improves x toward A_l x = b on level l
func (m *amg) cycle(l int, b, x []float64) {
	lev := m.levels[l]
	if l == len(m.levels)-1 {
		m.coarseSolve(lev, b, x)
		return
	}
	next := m.levels[l+1]
	m.smooth(lev, b, x, false)
	lev.A.MulVec(x, lev.r)
	for i := range lev.r {
		lev.r[i] = b[i] - lev.r[i]
	}
	lev.R.MulVec(lev.r, next.b)
	for i := range next.x {
		next.x[i] = 0
	}
	m.cycle(l+1, next.b, next.x)
	lev.P.MulVec(next.x, lev.tmp)
	utils.Axpy(1, lev.tmp, x)
	m.smooth(lev, b, x, true)
}

func (m *amg) coarseSolve(lev *amgLevel, b, x []float64) {
	if m.coarse != nil {
		var (
			n   = len(b)
			sol = mat.NewVecDense(n, x)
		)
		err := m.coarse.SolveVecTo(sol, false, mat.NewVecDense(n, append([]float64{}, b...)))
		if cond, ill := err.(mat.Condition); err == nil || (ill && !math.IsInf(float64(cond), 1)) {
			return
		}
	}
	// A singular or unfactored coarse matrix falls back to smoothing
	for i := range x {
		x[i] = 0
	}
	for k := 0; k < amgCoarseSweeps; k++ {
		m.smooth(lev, b, x, k%2 == 1)
	}
}

// smooth runs a Gauss-Seidel sweep, backward when reverse is set, or damped
// Jacobi sweeps under the device policy
func (m *amg) smooth(lev *amgLevel, b, x []float64, reverse bool) {
	if m.policy == Device {
		for k := 0; k < amgJacobiSweeps; k++ {
			lev.A.MulVec(x, lev.tmp)
			for i := range x {
				if lev.diag[i] != 0 {
					x[i] += lev.omega * (b[i] - lev.tmp[i]) / lev.diag[i]
				}
			}
		}
		return
	}
	n := len(x)
	relax := func(i int) {
		if lev.diag[i] == 0 {
			return
		}
		ind, vals := lev.A.Row(i)
		sum := b[i]
		for jj, j := range ind {
			if j != i {
				sum -= vals[jj] * x[j]
			}
		}
		x[i] = sum / lev.diag[i]
	}
	if reverse {
		for i := n - 1; i >= 0; i-- {
			relax(i)
		}
		return
	}
	for i := 0; i < n; i++ {
		relax(i)
	}
}

// aggregate groups strongly connected rows. Rows whose strong neighborhood
// is still free seed an aggregate, leftover rows join the aggregate of
// their strongest aggregated neighbor, and isolated rows form their own.
func aggregate(A utils.CSR, diag []float64, theta float64) (agg []int, nAgg int) {
	n, _ := A.Dims()
	agg = make([]int, n)
	for i := range agg {
		agg[i] = -1
	}
	strongRow := func(i int) (ind []int, w []float64) {
		cols, vals := A.Row(i)
		for jj, j := range cols {
			if j == i {
				continue
			}
			if math.Abs(vals[jj]) >= theta*math.Sqrt(math.Abs(diag[i]*diag[j])) {
				ind = append(ind, j)
				w = append(w, math.Abs(vals[jj]))
			}
		}
		return
	}
	for i := 0; i < n; i++ {
		if agg[i] >= 0 {
			continue
		}
		ind, _ := strongRow(i)
		if len(ind) == 0 {
			continue
		}
		free := true
		for _, j := range ind {
			if agg[j] >= 0 {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		agg[i] = nAgg
		for _, j := range ind {
			agg[j] = nAgg
		}
		nAgg++
	}
	for i := 0; i < n; i++ {
		if agg[i] >= 0 {
			continue
		}
		var (
			ind, w = strongRow(i)
			best   = -1.
		)
		for jj, j := range ind {
			if agg[j] >= 0 && w[jj] > best {
				agg[i], best = agg[j], w[jj]
			}
		}
	}
	for i := 0; i < n; i++ {
		if agg[i] < 0 {
			agg[i] = nAgg
			nAgg++
		}
	}
	return
}

// smoothedProlongator builds P = (I - w D^-1 A) T, where T injects each
// aggregate as a constant
func smoothedProlongator(A utils.CSR, diag []float64, w float64, agg []int, nAgg int) utils.CSR {
	var (
		n      = len(agg)
		indptr = make([]int, n+1)
		ind    []int
		data   []float64
		pos    = make([]int, nAgg)
	)
	for J := range pos {
		pos[J] = -1
	}
	for i := 0; i < n; i++ {
		start := len(ind)
		add := func(J int, v float64) {
			if pos[J] < start {
				pos[J] = len(ind)
				ind = append(ind, J)
				data = append(data, 0)
			}
			data[pos[J]] += v
		}
		add(agg[i], 1)
		if diag[i] != 0 {
			cols, vals := A.Row(i)
			for jj, k := range cols {
				add(agg[k], -w*vals[jj]/diag[i])
			}
		}
		indptr[i+1] = len(ind)
	}
	return utils.NewCSR(n, nAgg, indptr, ind, data)
}

// jacobiRadius estimates the spectral radius of D^-1 A by power iteration
func jacobiRadius(A utils.CSR, diag []float64) (rho float64) {
	var (
		n = len(diag)
		x = make([]float64, n)
		y = make([]float64, n)
	)
	// A deterministic start with components along every mode
	for i := range x {
		x[i] = 1 + 0.5*math.Sin(float64(i))
	}
	for k := 0; k < amgPowerIterations; k++ {
		xnorm := norm2(x)
		if xnorm == 0 {
			break
		}
		utils.Scale(1/xnorm, x)
		A.MulVec(x, y)
		for i := range y {
			if diag[i] != 0 {
				y[i] /= diag[i]
			}
		}
		rho = norm2(y)
		x, y = y, x
	}
	if rho == 0 {
		rho = 1
	}
	return
}
