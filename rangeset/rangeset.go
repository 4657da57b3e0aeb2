// Package rangeset converts between the scatter view of distributed degrees
// of freedom, where a rank holds every value its local stencils touch, and
// the gather view, where each value appears once on the rank owning it.
package rangeset

import (
	"fmt"
	"sort"

	"github.com/notargets/gosles/parallel"
)

// RangeSet maps one rank's scatter-indexed arrays to gather-indexed arrays.
//
// The gather layout has the owned values in [0, NGather) followed by the
// values of the positions owned by other ranks, in scatter order, in
// [NGather, NScatter). A matrix assembled in gather space therefore has
// NGather rows and NScatter columns. A nil *RangeSet is the identity.
type RangeSet struct {
	comm     parallel.Communicator
	nScatter int
	gslot    []int         // Gather slot of each scatter position, -1 if not owned
	owned    []int         // Scatter positions of the owned values, in gather order
	halo     []int         // Scatter positions owned elsewhere, in scatter order
	layout   []int         // Gather layout index of each scatter position
	send     map[int][]int // Gather slots sent to each rank on scatter
	recv     map[int][]int // Scatter positions filled by each owner on scatter
	ifs      *InterfaceSet
}

// Build constructs the range set of the calling rank. gnum holds the global
// id of every scatter position. Positions below nOwnable may be owned here;
// an id held as ownable by several ranks belongs to the lowest of them.
// Positions from nOwnable on are halo copies that some other rank owns.
// Build is collective, and every rank returns the same error.
func Build(comm parallel.Communicator, gnum []int64, nOwnable int) (rs *RangeSet, err error) {
	if comm == nil {
		comm = parallel.Serial{}
	}
	var (
		me    = comm.Rank()
		np    = comm.Size()
		local = append([]int64{int64(nOwnable)}, gnum...)
		all   = comm.AllGather(local)
		lists = make([][]int64, np)
		nOwn  = make([]int, np)
	)
	for r := 0; r < np; r++ {
		nOwn[r], lists[r] = int(all[r][0]), all[r][1:]
	}
	if err = checkOwnable(nOwn, lists); err != nil {
		return
	}
	if err = checkUnique(lists); err != nil {
		return
	}
	var (
		owner   = make(map[int64]int)
		holders = make(map[int64][]int)
	)
	for r := 0; r < np; r++ {
		for _, gid := range lists[r][:nOwn[r]] {
			if _, ok := owner[gid]; !ok {
				owner[gid] = r
			}
		}
		for _, gid := range lists[r] {
			holders[gid] = append(holders[gid], r)
		}
	}
	for r := 0; r < np; r++ {
		for _, gid := range lists[r][nOwn[r]:] {
			if _, ok := owner[gid]; !ok {
				return nil, fmt.Errorf("rangeset: halo id %d on rank %d has no owner", gid, r)
			}
		}
	}
	rs = &RangeSet{
		comm:     comm,
		nScatter: len(gnum),
		gslot:    make([]int, len(gnum)),
		send:     make(map[int][]int),
		recv:     make(map[int][]int),
	}
	gatherOf := make(map[int64]int)
	for p, gid := range gnum {
		if owner[gid] == me {
			rs.gslot[p] = len(rs.owned)
			gatherOf[gid] = len(rs.owned)
			rs.owned = append(rs.owned, p)
		} else {
			rs.gslot[p] = -1
			rs.halo = append(rs.halo, p)
			rs.recv[owner[gid]] = append(rs.recv[owner[gid]], p)
		}
	}
	// Walk every other rank's list in order so both ends agree on ordering
	for r := 0; r < np; r++ {
		if r == me {
			continue
		}
		for _, gid := range lists[r] {
			if owner[gid] == me {
				rs.send[r] = append(rs.send[r], gatherOf[gid])
			}
		}
	}
	rs.layout = make([]int, len(gnum))
	for p, g := range rs.gslot {
		rs.layout[p] = g
	}
	for h, p := range rs.halo {
		rs.layout[p] = len(rs.owned) + h
	}
	rs.ifs = newInterfaceSet(comm, gnum, holders)
	return
}

func checkOwnable(nOwn []int, lists [][]int64) error {
	for r, n := range nOwn {
		if n < 0 || n > len(lists[r]) {
			return fmt.Errorf("rangeset: %d ownable positions out of %d on rank %d",
				n, len(lists[r]), r)
		}
	}
	return nil
}

func checkUnique(lists [][]int64) error {
	for r, list := range lists {
		seen := make(map[int64]int, len(list))
		for p, gid := range list {
			if q, ok := seen[gid]; ok {
				return fmt.Errorf("rangeset: id %d repeated at positions %d and %d on rank %d",
					gid, q, p, r)
			}
			seen[gid] = p
		}
	}
	return nil
}

// NGather is the number of values owned by this rank
func (rs *RangeSet) NGather() int { return len(rs.owned) }

// NScatter is the number of scatter positions of this rank
func (rs *RangeSet) NScatter() int { return rs.nScatter }

// Owned reports whether scatter position p is owned by this rank
func (rs *RangeSet) Owned(p int) bool { return rs == nil || rs.gslot[p] >= 0 }

// Layout returns the index scatter position p takes in the gather layout,
// which is the column of p in a matrix assembled for this range set
func (rs *RangeSet) Layout(p int) int {
	if rs == nil {
		return p
	}
	return rs.layout[p]
}

// Interface is nil when no rank shares a degree of freedom
func (rs *RangeSet) Interface() *InterfaceSet {
	if rs == nil {
		return nil
	}
	return rs.ifs
}

func (rs *RangeSet) Comm() parallel.Communicator {
	if rs == nil {
		return parallel.Serial{}
	}
	return rs.comm
}

// Gather writes src, in scatter layout, into dst in gather layout. dst may
// be src.
func (rs *RangeSet) Gather(src, dst []float64) {
	if rs == nil {
		copy(dst, src)
		return
	}
	var (
		ng   = len(rs.owned)
		halo = make([]float64, len(rs.halo))
	)
	for h, p := range rs.halo {
		halo[h] = src[p]
	}
	// Gather slots never exceed their scatter position
	for g, p := range rs.owned {
		dst[g] = src[p]
	}
	copy(dst[ng:], halo)
}

// Scatter expands src, in gather layout, into dst in scatter layout. Values
// owned by other ranks are fetched from their owners, which makes Scatter
// collective whenever the range set has an interface. dst may be src.
func (rs *RangeSet) Scatter(src, dst []float64) {
	if rs == nil {
		copy(dst, src)
		return
	}
	var recv map[int][]float64
	if rs.ifs != nil {
		send := make(map[int][]float64, len(rs.send))
		for r, slots := range rs.send {
			buf := make([]float64, len(slots))
			for k, g := range slots {
				buf[k] = src[g]
			}
			send[r] = buf
		}
		recv = rs.comm.Exchange(send)
	}
	for p := rs.nScatter - 1; p >= 0; p-- {
		if g := rs.gslot[p]; g >= 0 {
			dst[p] = src[g]
		}
	}
	for r, positions := range rs.recv {
		vals := recv[r]
		for k, p := range positions {
			dst[p] = vals[k]
		}
	}
}

// InterfaceSet sums the contributions of every rank holding a shared
// degree of freedom
type InterfaceSet struct {
	comm   parallel.Communicator
	shared map[int][]int // My scatter positions shared with each rank, by id
	plan   []sumTerm
}

type sumTerm struct {
	pos   int
	ranks []int // Holders in ascending rank order
	index []int // Position of the value in the message from each holder
}

func newInterfaceSet(comm parallel.Communicator, gnum []int64, holders map[int64][]int) (ifs *InterfaceSet) {
	anyShared := false
	for _, h := range holders {
		if len(h) > 1 {
			anyShared = true
			break
		}
	}
	if !anyShared {
		return nil
	}
	me := comm.Rank()
	ifs = &InterfaceSet{comm: comm, shared: make(map[int][]int)}
	for p, gid := range gnum {
		for _, r := range holders[gid] {
			if r != me {
				ifs.shared[r] = append(ifs.shared[r], p)
			}
		}
	}
	for r := range ifs.shared {
		pos := ifs.shared[r]
		sort.Slice(pos, func(i, j int) bool { return gnum[pos[i]] < gnum[pos[j]] })
	}
	where := make(map[int]map[int]int) // rank -> position -> index in message
	for r, pos := range ifs.shared {
		where[r] = make(map[int]int, len(pos))
		for k, p := range pos {
			where[r][p] = k
		}
	}
	for p, gid := range gnum {
		h := holders[gid]
		if len(h) < 2 {
			continue
		}
		term := sumTerm{pos: p, ranks: h, index: make([]int, len(h))}
		for i, r := range h {
			if r != me {
				term.index[i] = where[r][p]
			}
		}
		ifs.plan = append(ifs.plan, term)
	}
	return
}

// Sum replaces each shared value of buf, in scatter layout, by the sum of
// the values all holders have. The summation runs in rank order so every
// holder gets the same bits. Sum is collective.
func (ifs *InterfaceSet) Sum(buf []float64) {
	if ifs == nil {
		return
	}
	var (
		me   = ifs.comm.Rank()
		send = make(map[int][]float64, len(ifs.shared))
	)
	for r, pos := range ifs.shared {
		vals := make([]float64, len(pos))
		for k, p := range pos {
			vals[k] = buf[p]
		}
		send[r] = vals
	}
	recv := ifs.comm.Exchange(send)
	sums := make([]float64, len(ifs.plan))
	for t, term := range ifs.plan {
		var sum float64
		for i, r := range term.ranks {
			if r == me {
				sum += buf[term.pos]
			} else {
				sum += recv[r][term.index[i]]
			}
		}
		sums[t] = sum
	}
	for t, term := range ifs.plan {
		buf[term.pos] = sums[t]
	}
}

// NShared is the number of local positions held by more than one rank
func (ifs *InterfaceSet) NShared() int {
	if ifs == nil {
		return 0
	}
	return len(ifs.plan)
}
