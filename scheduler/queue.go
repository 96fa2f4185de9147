package scheduler

import (
	"context"
	"sync"

	"github.com/chazu/bvm/vm"
)

// Queue is an in-memory, non-blocking vm.MessageQueue: each queue tag gets
// a buffered channel, and TryReceive never blocks the calling goroutine --
// it reports ok=false immediately if the channel is empty, which is what
// lets LOAD MESSAGE suspend the task instead of blocking the processor's
// single worker goroutine.
//
// Grounded on chazu-maggie/vm/concurrency.go's ChannelObject: a buffered
// Go channel as the primitive, with membership of "which queues currently
// have waiters" tracked the way ChannelObject tracks open/closed state.
type Queue struct {
	mu      sync.Mutex
	queues  map[vm.DocTag]chan vm.Value
	waiters *vm.OrderedSet[vm.DocTag]
}

// NewQueue creates an empty message queue set.
func NewQueue() *Queue {
	return &Queue{
		queues:  make(map[vm.DocTag]chan vm.Value),
		waiters: vm.NewOrderedSet(func(a, b vm.DocTag) bool { return a < b }),
	}
}

const queueBufferSize = 256

func (q *Queue) channelFor(tag vm.DocTag) chan vm.Value {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[tag]
	if !ok {
		ch = make(chan vm.Value, queueBufferSize)
		q.queues[tag] = ch
	}
	return ch
}

// TryReceive implements vm.MessageQueue.
func (q *Queue) TryReceive(ctx context.Context, queueTag vm.DocTag) (vm.Value, bool, error) {
	ch := q.channelFor(queueTag)
	select {
	case v := <-ch:
		q.mu.Lock()
		q.waiters.Remove(queueTag)
		q.mu.Unlock()
		return v, true, nil
	default:
		q.mu.Lock()
		q.waiters.Insert(queueTag)
		q.mu.Unlock()
		return nil, false, nil
	}
}

// Send implements vm.MessageQueue.
func (q *Queue) Send(ctx context.Context, queueTag vm.DocTag, msg vm.Value) error {
	ch := q.channelFor(queueTag)
	select {
	case ch <- msg:
		return nil
	default:
		return newQueueFullError(queueTag)
	}
}

func newQueueFullError(tag vm.DocTag) error {
	return &queueFullError{tag: tag}
}

type queueFullError struct{ tag vm.DocTag }

func (e *queueFullError) Error() string {
	return "scheduler: queue " + string(e.tag) + " is full"
}

// WaitingQueues returns, in ascending tag order, every queue tag that has
// had at least one empty TryReceive since its last successful delivery --
// the set a scheduler would poll to decide which suspended tasks might now
// be runnable.
func (q *Queue) WaitingQueues() []vm.DocTag {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Items()
}
