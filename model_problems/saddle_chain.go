package model_problems

import (
	"fmt"
	"math"

	"github.com/notargets/gosles/parallel"
	"github.com/notargets/gosles/rangeset"
	"github.com/notargets/gosles/saddle"
	"github.com/notargets/gosles/sles"
	"github.com/notargets/gosles/utils"
)

// Coupling weights of a cell with the three components of its two faces
var (
	chainLeft  = [3]float64{-1, -0.5, -0.25}
	chainRight = [3]float64{1, 0.5, 0.25}
)

// SaddleChain is a Stokes-like model on a line of NCells cells and
// NCells+1 faces. Each face carries a 3-component velocity-like unknown
// (x1), each cell a pressure-like unknown (x2). M11 is a diagonally
// dominant Laplacian over faces, M21 a weighted difference over the two
// faces of each cell.
//
// Cells are split into contiguous ranges over the ranks. A rank holds the
// faces bounding its cells, sharing the end faces with its neighbors, plus
// one halo face past each end for the Laplacian stencil.
type SaddleChain struct {
	NCells  int
	C0, C1  int   // Local cells are [C0, C1)
	Faces   []int // Global id of each local face, ownable faces first
	NOwn    int   // Number of ownable faces
	Sys     *saddle.System
	faceIdx map[int]int
}

func NewSaddleChain(comm parallel.Communicator, nCells int) (sc *SaddleChain, err error) {
	if comm == nil {
		comm = parallel.Serial{}
	}
	if nCells < comm.Size() {
		return nil, fmt.Errorf("saddle chain: %d cells cannot be split over %d ranks",
			nCells, comm.Size())
	}
	var (
		pm     = utils.NewPartitionMap(comm.Size(), nCells)
		c0, c1 = pm.GetBucketRange(comm.Rank())
	)
	sc = &SaddleChain{
		NCells:  nCells,
		C0:      c0,
		C1:      c1,
		faceIdx: make(map[int]int),
	}
	for f := c0; f <= c1; f++ {
		sc.addFace(f)
	}
	sc.NOwn = len(sc.Faces)
	if c0 > 0 {
		sc.addFace(c0 - 1)
	}
	if c1 < nCells {
		sc.addFace(c1 + 1)
	}

	gnum := make([]int64, 3*len(sc.Faces))
	for lf, f := range sc.Faces {
		for k := 0; k < 3; k++ {
			gnum[3*lf+k] = int64(3*f + k)
		}
	}
	var rs *rangeset.RangeSet
	if comm.Size() > 1 {
		if rs, err = rangeset.Build(comm, gnum, 3*sc.NOwn); err != nil {
			return nil, err
		}
	}

	var (
		nx1 = 3 * len(sc.Faces)
		nx2 = c1 - c0
		adj = &saddle.Adjacency{Idx: make([]int, nx2+1)}
		m21 []float64
	)
	for c := c0; c < c1; c++ {
		adj.Ids = append(adj.Ids, sc.faceIdx[c], sc.faceIdx[c+1])
		adj.Idx[c-c0+1] = len(adj.Ids)
		m21 = append(m21, chainLeft[:]...)
		m21 = append(m21, chainRight[:]...)
	}

	sc.Sys = &saddle.System{
		X1Size:    nx1,
		MaxX1Size: nx1,
		X2Size:    nx2,
		M11:       []sles.Matrix{sc.assembleM11(rs)},
		M21Stride: saddle.M21Stride,
		M21Values: m21,
		M21Index:  adj,
		RSet:      rs,
		Comm:      comm,
		Name:      "saddle_chain",
	}
	err = sc.Sys.Validate()
	return
}

func (sc *SaddleChain) addFace(f int) {
	sc.faceIdx[f] = len(sc.Faces)
	sc.Faces = append(sc.Faces, f)
}

// assembleM11 builds the owned rows of the face Laplacian in the gather
// layout of rs
func (sc *SaddleChain) assembleM11(rs *rangeset.RangeSet) sles.Matrix {
	var (
		ns = 3 * len(sc.Faces)
		ng = ns
	)
	if rs != nil {
		ng = rs.NGather()
	}
	dok := utils.NewDOK(ng, ns)
	for lf, f := range sc.Faces {
		for k := 0; k < 3; k++ {
			p := 3*lf + k
			if !rs.Owned(p) {
				continue
			}
			row := rs.Layout(p)
			dok.Add(row, row, 4)
			for _, nf := range []int{f - 1, f + 1} {
				if nf < 0 || nf > sc.NCells {
					continue
				}
				dok.Add(row, rs.Layout(3*sc.faceIdx[nf]+k), -1)
			}
		}
	}
	return sles.NewCSRMatrixFromDOK(dok)
}

// Exact is a smooth solution defined from global ids, so it is consistent
// across ranks
func (sc *SaddleChain) Exact() (x *saddle.SplitVector) {
	x = sc.Sys.NewVector()
	for lf, f := range sc.Faces {
		for k := 0; k < 3; k++ {
			x.X1()[3*lf+k] = math.Sin(0.3*float64(f) + float64(k))
		}
	}
	for c := sc.C0; c < sc.C1; c++ {
		x.X2()[c-sc.C0] = math.Cos(0.2 * float64(c))
	}
	return
}

// RHS returns M*Exact(). Collective.
func (sc *SaddleChain) RHS() (rhs *saddle.SplitVector) {
	rhs = sc.Sys.NewVector()
	sc.Sys.MatVec(sc.Exact(), rhs)
	return
}
