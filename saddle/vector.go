package saddle

import (
	"fmt"

	"github.com/notargets/gosles/utils"
)

// SplitVector stores x1 in Data[0:X1Size] and x2 in
// Data[MaxX1Size:MaxX1Size+X2Size]. The padding between them stays zero.
type SplitVector struct {
	X1Size, MaxX1Size, X2Size int
	Data                      []float64
}

func NewSplitVector(x1Size, maxX1Size, x2Size int) *SplitVector {
	if maxX1Size < x1Size {
		panic(fmt.Errorf("x1 capacity %d below its size %d", maxX1Size, x1Size))
	}
	return &SplitVector{
		X1Size:    x1Size,
		MaxX1Size: maxX1Size,
		X2Size:    x2Size,
		Data:      make([]float64, maxX1Size+x2Size),
	}
}

// WrapSplitVector builds a split vector over caller owned x1 and x2 values,
// copying them into contiguous storage
func WrapSplitVector(x1 []float64, maxX1Size int, x2 []float64) (sv *SplitVector) {
	sv = NewSplitVector(len(x1), maxX1Size, len(x2))
	copy(sv.X1(), x1)
	copy(sv.X2(), x2)
	return
}

func (sv *SplitVector) X1() []float64 { return sv.Data[:sv.X1Size] }
func (sv *SplitVector) X2() []float64 {
	return sv.Data[sv.MaxX1Size : sv.MaxX1Size+sv.X2Size]
}

func (sv *SplitVector) Scale(a float64) {
	utils.Scale(a, sv.X1())
	utils.Scale(a, sv.X2())
}

func (sv *SplitVector) CopyFrom(src *SplitVector) {
	copy(sv.Data, src.Data)
}

func (sv *SplitVector) Zero() {
	for i := range sv.Data {
		sv.Data[i] = 0
	}
}

// Axpy computes sv += a*x
func (sv *SplitVector) Axpy(a float64, x *SplitVector) {
	utils.Axpy(a, x.X1(), sv.X1())
	utils.Axpy(a, x.X2(), sv.X2())
}
