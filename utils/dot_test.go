package utils

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDotSuperblockAccuracy(t *testing.T) {
	// One large leading term followed by unit terms: a running sum drops every
	// unit, the blocked sum only loses those inside the first block
	for _, n := range []int{2039, 2040, 2041, 100000} {
		x := make([]float64, n)
		y := make([]float64, n)
		for i := range x {
			x[i], y[i] = 1, 1
		}
		x[0] = 1.e16
		var (
			exact = 1.e16 + float64(n-1)
			naive float64
		)
		for i := range x {
			naive += x[i] * y[i]
		}
		blocked := Dot(x, y)
		errBlocked := math.Abs(blocked - exact)
		errNaive := math.Abs(naive - exact)
		assert.LessOrEqual(t, errBlocked, 64., "n = %d", n)
		assert.Less(t, errBlocked, errNaive, "n = %d", n)
	}
}

func TestDotCombined(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 59, 60, 61, 2040, 5000} {
		x := make([]float64, n)
		y := make([]float64, n)
		z := make([]float64, n)
		for i := 0; i < n; i++ {
			x[i], y[i], z[i] = rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()
		}
		xx, xy := DotXXXY(x, y)
		assert.Equal(t, Dot(x, x), xx)
		assert.Equal(t, DotXX(x), xx)
		assert.Equal(t, Dot(x, y), xy)
		xy2, yz := DotXYYZ(x, y, z)
		assert.Equal(t, xy, xy2)
		assert.Equal(t, Dot(y, z), yz)
		xx3, xy3, yz3 := DotXXXYYZ(x, y, z)
		assert.Equal(t, xx, xx3)
		assert.Equal(t, xy, xy3)
		assert.Equal(t, yz, yz3)
	}
}

func TestAxpyScale(t *testing.T) {
	x := []float64{1, 2, 3}
	y := []float64{1, 1, 1, 7}
	Axpy(2, x, y)
	assert.Equal(t, []float64{3, 5, 7, 7}, y)
	Scale(0.5, y)
	assert.Equal(t, []float64{1.5, 2.5, 3.5, 3.5}, y)
}

type doubler struct{}

func (doubler) AllReduceSum(buf []float64) {
	for i := range buf {
		buf[i] *= 2
	}
}

func TestGDot(t *testing.T) {
	x := []float64{1, 2, 3}
	assert.Equal(t, 14., GDot(nil, x, x))
	assert.Equal(t, 28., GDot(doubler{}, x, x))
}
