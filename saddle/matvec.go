package saddle

import (
	"math"

	"github.com/notargets/gosles/sles"
	"github.com/notargets/gosles/utils"
)

// coupling computes m21x1 = M21*x1 and m12x2 = M12*x2 in one traversal of
// the adjacency. Several x2 entries touch the same x1 block, so each bucket
// of the x2 loop accumulates into its own buffer and the buffers are summed
// in bucket order.
func (sys *System) coupling(x1, x2, m21x1, m12x2 []float64) {
	var (
		adj  = sys.M21Index
		vals = sys.M21Values
	)
	kernel := func(i2Min, i2Max int, m12 []float64) {
		for i2 := i2Min; i2 < i2Max; i2++ {
			var (
				x2v = x2[i2]
				sum float64
			)
			for j := adj.Idx[i2]; j < adj.Idx[i2+1]; j++ {
				var (
					shift = M21Stride * adj.Ids[j]
					m21   = vals[M21Stride*j : M21Stride*j+M21Stride]
				)
				sum += m21[0]*x1[shift] + m21[1]*x1[shift+1] + m21[2]*x1[shift+2]
				m12[shift] += m21[0] * x2v
				m12[shift+1] += m21[1] * x2v
				m12[shift+2] += m21[2] * x2v
			}
			m21x1[i2] = sum
		}
	}
	for i := range m12x2 {
		m12x2[i] = 0
	}
	if sys.X2Size < utils.ThreadMinSize {
		kernel(0, sys.X2Size, m12x2)
		return
	}
	var (
		pm   = utils.NewLoopPartition(sys.X2Size)
		bufs = make([][]float64, pm.ParallelDegree)
	)
	pm.ParallelFor(func(bucket, i2Min, i2Max int) {
		bufs[bucket] = make([]float64, len(m12x2))
		kernel(i2Min, i2Max, bufs[bucket])
	})
	for _, buf := range bufs {
		for i, v := range buf {
			m12x2[i] += v
		}
	}
}

// MatVec computes out = M*v:
//
//	out.x1 = M11*v.x1 + M12*v.x2
//	out.x2 = M21*v.x1
//
// The M12 contribution is written straight into scatter space, so it is
// summed over the range set interface before being added. Collective.
func (sys *System) MatVec(v, out *SplitVector) {
	var (
		m12v2 = make([]float64, sys.X1Size)
		mv1   = out.X1()
	)
	sles.MatVecGS(sys.RSet, sys.M11[0], v.X1(), mv1)
	sys.coupling(v.X1(), v.X2(), out.X2(), m12v2)
	sys.RSet.Interface().Sum(m12v2)
	for i1 := range mv1 {
		mv1[i1] += m12v2[i1]
	}
}

// ComputeResidual computes res = rhs - M*x without forming M*x.x1 on its
// own. res must not alias rhs or x. Collective.
func (sys *System) ComputeResidual(rhs, x, res *SplitVector) {
	var (
		m12x2 = make([]float64, sys.X1Size)
		res1  = res.X1()
		res2  = res.X2()
		rhs1  = rhs.X1()
		rhs2  = rhs.X2()
	)
	sys.coupling(x.X1(), x.X2(), res2, m12x2)
	for i2 := range res2 {
		res2[i2] = rhs2[i2] - res2[i2]
	}
	sles.MatVecGS(sys.RSet, sys.M11[0], x.X1(), res1)
	sys.RSet.Interface().Sum(m12x2)
	for i1 := range res1 {
		res1[i1] = rhs1[i1] - res1[i1] - m12x2[i1]
	}
}

// Dot is the global dot product of two split vectors. x1 values are counted
// once, on their owner. Collective.
func (sys *System) Dot(x, y *SplitVector) float64 {
	var (
		d1 float64
		rs = sys.RSet
	)
	if rs == nil {
		d1 = utils.Dot(x.X1(), y.X1())
	} else {
		var (
			ns     = rs.NScatter()
			xg, yg = make([]float64, ns), make([]float64, ns)
		)
		rs.Gather(x.X1(), xg)
		rs.Gather(y.X1(), yg)
		d1 = utils.Dot(xg[:rs.NGather()], yg[:rs.NGather()])
	}
	buf := []float64{d1 + utils.Dot(x.X2(), y.X2())}
	sys.comm().AllReduceSum(buf)
	return buf[0]
}

// Norm is the global euclidean norm of a split vector. Collective.
func (sys *System) Norm(x *SplitVector) float64 {
	var (
		n1 float64
		rs = sys.RSet
	)
	if rs == nil {
		n1 = utils.DotXX(x.X1())
	} else {
		xg := make([]float64, rs.NScatter())
		rs.Gather(x.X1(), xg)
		n1 = utils.DotXX(xg[:rs.NGather()])
	}
	buf := []float64{n1 + utils.DotXX(x.X2())}
	sys.comm().AllReduceSum(buf)
	return math.Sqrt(buf[0])
}
