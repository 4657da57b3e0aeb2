package rangeset

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gosles/parallel"
)

// chainIDs lays out points 0..4*np on a line; rank r holds 4r..4r+4 as
// ownable, sharing its end points with its neighbors, plus one halo point
// past each shared end
func chainIDs(rank, np int) (gnum []int64, nOwnable int) {
	for g := 4 * rank; g <= 4*rank+4; g++ {
		gnum = append(gnum, int64(g))
	}
	nOwnable = len(gnum)
	if rank > 0 {
		gnum = append(gnum, int64(4*rank-1))
	}
	if rank < np-1 {
		gnum = append(gnum, int64(4*rank+5))
	}
	return
}

func holderCount(gid int64, np int) (n int) {
	for r := 0; r < np; r++ {
		gnum, _ := chainIDs(r, np)
		for _, g := range gnum {
			if g == gid {
				n++
			}
		}
	}
	return
}

func ownerOf(gid int64) int {
	if gid == 0 {
		return 0
	}
	return int((gid - 1) / 4)
}

func TestNilRangeSet(t *testing.T) {
	var rs *RangeSet
	src := []float64{1, 2, 3}
	dst := make([]float64, 3)
	rs.Gather(src, dst)
	assert.Equal(t, src, dst)
	rs.Scatter([]float64{4, 5, 6}, dst)
	assert.Equal(t, []float64{4, 5, 6}, dst)
	assert.Nil(t, rs.Interface())
	assert.True(t, rs.Owned(2))
}

func TestSingleRank(t *testing.T) {
	rs, err := Build(parallel.Serial{}, []int64{7, 3, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rs.NGather())
	assert.Equal(t, 3, rs.NScatter())
	assert.Nil(t, rs.Interface())
	buf := []float64{1, 2, 3}
	rs.Gather(buf, buf)
	assert.Equal(t, []float64{1, 2, 3}, buf)
	rs.Scatter(buf, buf)
	assert.Equal(t, []float64{1, 2, 3}, buf)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(parallel.Serial{}, []int64{1, 2, 1}, 3)
	assert.Error(t, err)
	// A halo point nobody owns
	_, err = Build(parallel.Serial{}, []int64{1, 2, 3}, 2)
	assert.Error(t, err)
	// Every rank sees the same failure
	g := parallel.NewGroup(2)
	err = g.Run(context.Background(), func(comm parallel.Communicator) error {
		gnum := []int64{int64(comm.Rank()), 10}
		_, err := Build(comm, gnum, 1)
		return err
	})
	assert.Error(t, err)
}

func TestBuildOwnableRange(t *testing.T) {
	for _, nOwnable := range []int{-1, 4} {
		_, err := Build(parallel.Serial{}, []int64{1, 2, 3}, nOwnable)
		assert.Error(t, err, "nOwnable %d", nOwnable)
	}
	// Only rank 1 is wrong, and both ranks fail
	var failed [2]atomic.Bool
	err := parallel.NewGroup(2).Run(context.Background(), func(comm parallel.Communicator) error {
		nOwnable := 2
		if comm.Rank() == 1 {
			nOwnable = 3
		}
		_, err := Build(comm, []int64{int64(2 * comm.Rank()), int64(2*comm.Rank() + 1)}, nOwnable)
		failed[comm.Rank()].Store(err != nil)
		return err
	})
	require.Error(t, err)
	assert.True(t, failed[0].Load())
	assert.True(t, failed[1].Load())
}

func TestMultiRankRoundTrip(t *testing.T) {
	for _, np := range []int{2, 3, 4} {
		g := parallel.NewGroup(np)
		err := g.Run(context.Background(), func(comm parallel.Communicator) error {
			var (
				rank           = comm.Rank()
				gnum, nOwnable = chainIDs(rank, np)
				rs, err        = Build(comm, gnum, nOwnable)
			)
			if err != nil {
				return err
			}
			if !assert.NotNil(t, rs.Interface()) {
				return nil
			}
			buf := make([]float64, len(gnum))
			for p, gid := range gnum {
				buf[p] = float64(gid)*10 + float64(rank)
			}
			rs.Gather(buf, buf)
			nOwned := 0
			for p, gid := range gnum {
				if ownerOf(gid) == rank {
					assert.True(t, rs.Owned(p))
					nOwned++
				}
			}
			assert.Equal(t, nOwned, rs.NGather())
			rs.Scatter(buf, buf)
			for p, gid := range gnum {
				assert.Equal(t, float64(gid)*10+float64(ownerOf(gid)), buf[p],
					"rank %d gid %d", rank, gid)
			}
			// Interface sum counts holders
			ones := make([]float64, len(gnum))
			for p := range ones {
				ones[p] = 1
			}
			rs.Interface().Sum(ones)
			for p, gid := range gnum {
				assert.Equal(t, float64(holderCount(gid, np)), ones[p], "rank %d gid %d", rank, gid)
			}
			return nil
		})
		require.NoError(t, err)
	}
}

func TestGatherSeparate(t *testing.T) {
	g := parallel.NewGroup(2)
	err := g.Run(context.Background(), func(comm parallel.Communicator) error {
		gnum, nOwnable := chainIDs(comm.Rank(), 2)
		rs, err := Build(comm, gnum, nOwnable)
		if err != nil {
			return err
		}
		src := make([]float64, len(gnum))
		for p, gid := range gnum {
			src[p] = float64(gid)
		}
		dst := make([]float64, len(gnum))
		rs.Gather(src, dst)
		// Owned ids first, in scatter order, then the rest
		var want []float64
		for _, gid := range gnum {
			if ownerOf(gid) == comm.Rank() {
				want = append(want, float64(gid))
			}
		}
		for _, gid := range gnum {
			if ownerOf(gid) != comm.Rank() {
				want = append(want, float64(gid))
			}
		}
		assert.Equal(t, want, dst)
		return nil
	})
	require.NoError(t, err)
}
