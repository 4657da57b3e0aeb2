package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Communicator is the view one rank has of the group it computes in. Every
// method except Rank and Size is collective: all ranks call it the same
// number of times, in the same order.
type Communicator interface {
	Rank() int
	Size() int
	// AllReduceSum replaces buf with the element-wise sum over all ranks
	AllReduceSum(buf []float64)
	// AllGather returns every rank's local slice, indexed by rank
	AllGather(local []int64) [][]int64
	// Exchange sends send[r] to rank r and returns what each rank sent here
	Exchange(send map[int][]float64) map[int][]float64
	Barrier()
}

// ErrAborted is returned by ranks released from a collective because
// another rank failed
var ErrAborted = errors.New("parallel: group aborted")

// Serial is the single rank communicator. Collectives are identities.
type Serial struct{}

func (Serial) Rank() int                  { return 0 }
func (Serial) Size() int                  { return 1 }
func (Serial) AllReduceSum(buf []float64) {}
func (Serial) Barrier()                   {}
func (Serial) AllGather(local []int64) [][]int64 {
	return [][]int64{append([]int64(nil), local...)}
}
func (Serial) Exchange(send map[int][]float64) (recv map[int][]float64) {
	recv = make(map[int][]float64)
	if data, ok := send[0]; ok {
		recv[0] = append([]float64(nil), data...)
	}
	return
}

// Group runs NP ranks as goroutines sharing memory for their collectives
type Group struct {
	NP int
}

func NewGroup(np int) *Group {
	if np < 1 {
		np = 1
	}
	return &Group{NP: np}
}

// Run calls fn once per rank, each on its own goroutine, and returns the
// first error any rank reported. A failing rank aborts the collectives the
// others are blocked in.
func (g *Group) Run(ctx context.Context, fn func(comm Communicator) error) (err error) {
	var (
		st = &groupState{
			np:     g.NP,
			bar:    newBarrier(g.NP),
			slots:  make([][]float64, g.NP),
			gather: make([][]int64, g.NP),
			mb:     NewMailBox[[]float64](g.NP),
		}
		eg, egCtx = errgroup.WithContext(ctx)
		cause     error
		causeMu   sync.Mutex
	)
	setCause := func(e error) {
		causeMu.Lock()
		if cause == nil && !errors.Is(e, ErrAborted) {
			cause = e
		}
		causeMu.Unlock()
		st.bar.Abort()
	}
	go func() {
		<-egCtx.Done()
		st.bar.Abort()
	}()
	for rank := 0; rank < g.NP; rank++ {
		rank := rank
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					if r == errBarrierAborted {
						err = fmt.Errorf("rank %d: %w", rank, ErrAborted)
					} else {
						err = fmt.Errorf("rank %d: panic: %v", rank, r)
					}
				}
				if err != nil {
					setCause(err)
				}
			}()
			return fn(&rankComm{st: st, rank: rank})
		})
	}
	err = eg.Wait()
	causeMu.Lock()
	defer causeMu.Unlock()
	if cause != nil {
		return cause
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return
}

type groupState struct {
	np     int
	bar    *barrier
	slots  [][]float64
	gather [][]int64
	mb     *MailBox[[]float64]
}

type rankComm struct {
	st   *groupState
	rank int
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.st.np }
func (c *rankComm) Barrier()  { c.st.bar.Wait() }

func (c *rankComm) AllReduceSum(buf []float64) {
	st := c.st
	st.slots[c.rank] = append(st.slots[c.rank][:0], buf...)
	st.bar.Wait()
	// Summation in rank order gives every rank the same bits
	for i := range buf {
		var sum float64
		for r := 0; r < st.np; r++ {
			sum += st.slots[r][i]
		}
		buf[i] = sum
	}
	st.bar.Wait()
}

func (c *rankComm) AllGather(local []int64) (all [][]int64) {
	st := c.st
	st.gather[c.rank] = append([]int64(nil), local...)
	st.bar.Wait()
	all = make([][]int64, st.np)
	for r := 0; r < st.np; r++ {
		all[r] = append([]int64(nil), st.gather[r]...)
	}
	st.bar.Wait()
	return
}

func (c *rankComm) Exchange(send map[int][]float64) (recv map[int][]float64) {
	st := c.st
	for target, data := range send {
		st.mb.PostMessage(c.rank, target, append([]float64(nil), data...))
	}
	st.mb.DeliverMyMessages(c.rank)
	st.bar.Wait()
	recv = make(map[int][]float64)
	for _, env := range st.mb.ReceiveMyMessages(c.rank) {
		recv[env.From] = append(recv[env.From], env.Msg...)
	}
	st.mb.ClearMyMessages(c.rank)
	st.bar.Wait()
	return
}

var errBarrierAborted = errors.New("barrier aborted")

// barrier is a reusable rendezvous for n goroutines. Abort releases every
// waiter, present and future, with a panic carrying errBarrierAborted.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	count   int
	gen     uint64
	aborted bool
}

func newBarrier(n int) (b *barrier) {
	b = &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return
}

func (b *barrier) Wait() {
	b.mu.Lock()
	if b.aborted {
		b.mu.Unlock()
		panic(errBarrierAborted)
	}
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.gen && !b.aborted {
		b.cond.Wait()
	}
	aborted := gen == b.gen
	b.mu.Unlock()
	if aborted {
		panic(errBarrierAborted)
	}
}

func (b *barrier) Abort() {
	b.mu.Lock()
	b.aborted = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
