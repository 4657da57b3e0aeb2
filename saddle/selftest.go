package saddle

import (
	"github.com/sirupsen/logrus"

	"github.com/notargets/gosles/sles"
)

// SelfTestReport holds true residual norms, recomputed from scratch
type SelfTestReport struct {
	RhsNorm     float64 // ||rhs||
	ZeroResNorm float64 // ||rhs - M.0||, equal to RhsNorm when M is linear
	TrueResNorm float64 // ||rhs - M.x||, to compare with the MINRES estimate
	ConsistNorm float64 // ||M.x - M.x|| through the residual path, zero up to rounding
}

// SelfTest checks the residual and product paths against each other on the
// given rhs and x. Neither the system nor its arguments are modified.
// Collective.
func SelfTest(sys *System, rhs, x *SplitVector) (rep SelfTestReport, err error) {
	if err = sys.Validate(); err != nil {
		return
	}
	var (
		zero = sys.NewVector()
		res  = sys.NewVector()
		mx   = sys.NewVector()
	)
	rep.RhsNorm = sys.Norm(rhs)

	sys.ComputeResidual(rhs, zero, res)
	rep.ZeroResNorm = sys.Norm(res)

	sys.ComputeResidual(rhs, x, res)
	rep.TrueResNorm = sys.Norm(res)

	sys.MatVec(x, mx)
	sys.ComputeResidual(mx, x, res)
	rep.ConsistNorm = sys.Norm(res)

	sles.SystemLog(sys.Name, sles.LogSetup).WithFields(logrus.Fields{
		"rhs_norm":    rep.RhsNorm,
		"zero_res":    rep.ZeroResNorm,
		"true_res":    rep.TrueResNorm,
		"consistency": rep.ConsistNorm,
	}).Info("saddle self test")
	return
}
