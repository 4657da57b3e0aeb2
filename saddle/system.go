// Package saddle solves block systems
//
//	[ M11  M12 ] [x1]   [rhs1]
//	[ M21  0   ] [x2] = [rhs2]
//
// where M11 is assembled, M21 is kept as an adjacency list of 3-wide
// coefficient blocks, and M12 = M21ᵀ is applied on the fly.
package saddle

import (
	"fmt"

	"github.com/notargets/gosles/parallel"
	"github.com/notargets/gosles/rangeset"
	"github.com/notargets/gosles/sles"
)

// M21Stride is the only coefficient block width supported
const M21Stride = 3

// Adjacency lists, for each x2 entry i2, the x1 blocks Ids[Idx[i2]:Idx[i2+1]]
// it couples to
type Adjacency struct {
	Idx []int
	Ids []int
}

func (adj *Adjacency) NElts() int { return len(adj.Idx) - 1 }

type System struct {
	X1Size    int
	MaxX1Size int
	X2Size    int
	M11       []sles.Matrix
	M21Stride int
	M21Values []float64 // M21Stride values per adjacency entry
	M21Index  *Adjacency
	RSet      *rangeset.RangeSet
	Comm      parallel.Communicator // Defaults to the range set communicator
	Name      string
}

// Validate checks the restrictions the solver relies on
func (sys *System) Validate() error {
	switch {
	case sys.M21Stride != M21Stride:
		return fmt.Errorf("saddle system %q: M21 stride is %d, only %d is supported",
			sys.Name, sys.M21Stride, M21Stride)
	case len(sys.M11) != 1:
		return fmt.Errorf("saddle system %q: %d M11 matrices, exactly one is supported",
			sys.Name, len(sys.M11))
	case sys.X1Size > sys.MaxX1Size:
		return fmt.Errorf("saddle system %q: x1 size %d exceeds its capacity %d",
			sys.Name, sys.X1Size, sys.MaxX1Size)
	case sys.M21Index == nil || len(sys.M21Index.Idx) == 0:
		return fmt.Errorf("saddle system %q: missing M21 adjacency", sys.Name)
	case sys.M21Index.NElts() != sys.X2Size:
		return fmt.Errorf("saddle system %q: x2 size %d differs from the %d adjacency entries",
			sys.Name, sys.X2Size, sys.M21Index.NElts())
	}
	adj := sys.M21Index
	nEntries := adj.Idx[adj.NElts()]
	if len(adj.Ids) < nEntries || len(sys.M21Values) < M21Stride*nEntries {
		return fmt.Errorf("saddle system %q: adjacency holds %d entries, %d ids and %d values given",
			sys.Name, nEntries, len(adj.Ids), len(sys.M21Values))
	}
	for _, id := range adj.Ids[:nEntries] {
		if id < 0 || M21Stride*id+M21Stride > sys.X1Size {
			return fmt.Errorf("saddle system %q: adjacency block %d outside x1 of size %d",
				sys.Name, id, sys.X1Size)
		}
	}
	m11 := sys.M11[0]
	nr, nc := sys.X1Size, sys.X1Size
	if sys.RSet != nil {
		if sys.RSet.NScatter() != sys.X1Size {
			return fmt.Errorf("saddle system %q: range set spans %d values, x1 has %d",
				sys.Name, sys.RSet.NScatter(), sys.X1Size)
		}
		nr, nc = sys.RSet.NGather(), sys.RSet.NScatter()
	}
	if m11.NRows() != nr || m11.NCols() != nc {
		return fmt.Errorf("saddle system %q: M11 is %dx%d, expected %dx%d",
			sys.Name, m11.NRows(), m11.NCols(), nr, nc)
	}
	return nil
}

func (sys *System) comm() parallel.Communicator {
	if sys.Comm != nil {
		return sys.Comm
	}
	return sys.RSet.Comm()
}

// NewVector allocates a zero split vector shaped for the system
func (sys *System) NewVector() *SplitVector {
	return NewSplitVector(sys.X1Size, sys.MaxX1Size, sys.X2Size)
}
