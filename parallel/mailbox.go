package parallel

import "fmt"

// Envelope carries one message along with the rank that posted it
type Envelope[T any] struct {
	From int
	Msg  T
}

// MailBox moves messages between NP ranks. Each rank posts into its own
// outbox, delivers the outbox to the target queues, and after a barrier
// receives everything addressed to it.
type MailBox[T any] struct {
	NP           int
	MessageChans []chan []Envelope[T]    // One for each rank
	PostMsgQs    []map[int][]Envelope[T] // One for each rank, key is target rank
	ReceiveMsgQs [][]Envelope[T]         // One for each rank
	MailFlag     []bool                  // Rank has messages in its outbox
}

func NewMailBox[T any](NP int) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan []Envelope[T], NP),
		PostMsgQs:    make([]map[int][]Envelope[T], NP),
		ReceiveMsgQs: make([][]Envelope[T], NP),
		MailFlag:     make([]bool, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan []Envelope[T], NP) // Worst case is all-to-all
		mb.PostMsgQs[n] = make(map[int][]Envelope[T])
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myRank, targetRank int, msg T) {
	if targetRank < 0 || targetRank > mb.NP-1 {
		panic(fmt.Sprintf("Target rank %d out of bounds", targetRank))
	}
	mb.PostMsgQs[myRank][targetRank] = append(mb.PostMsgQs[myRank][targetRank],
		Envelope[T]{From: myRank, Msg: msg})
	mb.MailFlag[myRank] = true
}

func (mb *MailBox[T]) PostMessageToAll(myRank int, msg T) {
	for k := 0; k < mb.NP; k++ {
		if k != myRank {
			mb.PostMessage(myRank, k, msg)
		}
	}
}

// DeliverMyMessages hands every outbox queue of myRank to its target. At
// most one queue per target is in flight per round.
func (mb *MailBox[T]) DeliverMyMessages(myRank int) {
	if mb.MailFlag[myRank] {
		for targetRank, msgs := range mb.PostMsgQs[myRank] {
			mb.MessageChans[targetRank] <- msgs
		}
		mb.PostMsgQs[myRank] = make(map[int][]Envelope[T])
		mb.MailFlag[myRank] = false
	}
}

// ReceiveMyMessages drains the delivered queues of myRank into its receive
// queue and returns it
func (mb *MailBox[T]) ReceiveMyMessages(myRank int) []Envelope[T] {
	for {
		select {
		case msgs := <-mb.MessageChans[myRank]:
			mb.ReceiveMsgQs[myRank] = append(mb.ReceiveMsgQs[myRank], msgs...)
		default:
			return mb.ReceiveMsgQs[myRank]
		}
	}
}

func (mb *MailBox[T]) ClearMyMessages(myRank int) {
	mb.ReceiveMsgQs[myRank] = mb.ReceiveMsgQs[myRank][:0]
}
