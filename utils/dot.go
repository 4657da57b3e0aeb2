package utils

import (
	"gonum.org/v1/gonum/floats"
)

// Dot products are accumulated by blocks of dotBlockSize values, blocks are
// summed into superblocks of dotSuperBlocks blocks (2040 values), and the
// superblock partial sums are combined pairwise at the end. This bounds the
// rounding error growth compared to a single running sum.
const (
	dotBlockSize   = 60
	dotSuperBlocks = 34
	SuperBlockSize = dotBlockSize * dotSuperBlocks
)

type blockKernel func(start, end int) (s [3]float64)

func blockedSum(n int, kernel blockKernel) (sum [3]float64) {
	var (
		nBlocks  = n / dotBlockSize
		nSblocks = nBlocks / dotSuperBlocks
		partials = make([][3]float64, 0, nSblocks+1)
	)
	for sb := 0; sb < nSblocks; sb++ {
		var sdot [3]float64
		for b := 0; b < dotSuperBlocks; b++ {
			start := (sb*dotSuperBlocks + b) * dotBlockSize
			cdot := kernel(start, start+dotBlockSize)
			sdot[0] += cdot[0]
			sdot[1] += cdot[1]
			sdot[2] += cdot[2]
		}
		partials = append(partials, sdot)
	}
	// Remaining full blocks and the tail form the last partial sum
	var sdot [3]float64
	for b := nSblocks * dotSuperBlocks; b < nBlocks; b++ {
		start := b * dotBlockSize
		cdot := kernel(start, start+dotBlockSize)
		sdot[0] += cdot[0]
		sdot[1] += cdot[1]
		sdot[2] += cdot[2]
	}
	if tail := nBlocks * dotBlockSize; tail < n {
		cdot := kernel(tail, n)
		sdot[0] += cdot[0]
		sdot[1] += cdot[1]
		sdot[2] += cdot[2]
	}
	partials = append(partials, sdot)
	return pairwiseSum(partials)
}

func pairwiseSum(p [][3]float64) [3]float64 {
	switch len(p) {
	case 0:
		return [3]float64{}
	case 1:
		return p[0]
	}
	var (
		half = len(p) / 2
		a    = pairwiseSum(p[:half])
		b    = pairwiseSum(p[half:])
	)
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Dot returns the sum of x[i]*y[i] using superblock accumulation.
func Dot(x, y []float64) float64 {
	y = y[:len(x)]
	s := blockedSum(len(x), func(start, end int) (s [3]float64) {
		for i := start; i < end; i++ {
			s[0] += x[i] * y[i]
		}
		return
	})
	return s[0]
}

// DotXX returns the sum of squares of x.
func DotXX(x []float64) float64 {
	s := blockedSum(len(x), func(start, end int) (s [3]float64) {
		for i := start; i < end; i++ {
			s[0] += x[i] * x[i]
		}
		return
	})
	return s[0]
}

// DotXXXY computes x.x and x.y in a single traversal.
func DotXXXY(x, y []float64) (xx, xy float64) {
	y = y[:len(x)]
	s := blockedSum(len(x), func(start, end int) (s [3]float64) {
		for i := start; i < end; i++ {
			s[0] += x[i] * x[i]
			s[1] += x[i] * y[i]
		}
		return
	})
	return s[0], s[1]
}

// DotXYYZ computes x.y and y.z in a single traversal.
func DotXYYZ(x, y, z []float64) (xy, yz float64) {
	y, z = y[:len(x)], z[:len(x)]
	s := blockedSum(len(x), func(start, end int) (s [3]float64) {
		for i := start; i < end; i++ {
			s[0] += x[i] * y[i]
			s[1] += y[i] * z[i]
		}
		return
	})
	return s[0], s[1]
}

// DotXXXYYZ computes x.x, x.y and y.z in a single traversal.
func DotXXXYYZ(x, y, z []float64) (xx, xy, yz float64) {
	y, z = y[:len(x)], z[:len(x)]
	s := blockedSum(len(x), func(start, end int) (s [3]float64) {
		for i := start; i < end; i++ {
			s[0] += x[i] * x[i]
			s[1] += x[i] * y[i]
			s[2] += y[i] * z[i]
		}
		return
	})
	return s[0], s[1], s[2]
}

// Axpy computes y += a*x in place.
func Axpy(a float64, x, y []float64) {
	floats.AddScaled(y[:len(x)], a, x)
}

// Scale computes x *= a in place.
func Scale(a float64, x []float64) {
	floats.Scale(a, x)
}

// Reducer sums values across all processes sharing a computation.
type Reducer interface {
	AllReduceSum(buf []float64)
}

// GDot is Dot summed over all processes of comm. It is a collective call.
func GDot(comm Reducer, x, y []float64) float64 {
	buf := []float64{Dot(x, y)}
	if comm != nil {
		comm.AllReduceSum(buf)
	}
	return buf[0]
}
