package scheduler

import (
	"context"
	"testing"

	"github.com/chazu/bvm/vm"
)

func TestQueueTryReceiveEmpty(t *testing.T) {
	q := NewQueue()
	_, ok, err := q.TryReceive(context.Background(), vm.DocTag("inbox"))
	if err != nil {
		t.Fatalf("TryReceive error: %v", err)
	}
	if ok {
		t.Error("TryReceive on an empty queue should report ok=false")
	}
}

func TestQueueSendThenTryReceive(t *testing.T) {
	q := NewQueue()
	tag := vm.DocTag("inbox")
	if err := q.Send(context.Background(), tag, vm.Symbol("hi")); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	v, ok, err := q.TryReceive(context.Background(), tag)
	if err != nil || !ok {
		t.Fatalf("TryReceive after Send = %v, %v, %v", v, ok, err)
	}
	if !vm.Equal(v, vm.Symbol("hi")) {
		t.Errorf("TryReceive returned %v, want $hi", v)
	}
}

func TestQueueWaitingQueuesTracksEmptyReceives(t *testing.T) {
	q := NewQueue()
	tag := vm.DocTag("inbox")

	q.TryReceive(context.Background(), tag)
	waiting := q.WaitingQueues()
	if len(waiting) != 1 || waiting[0] != tag {
		t.Fatalf("WaitingQueues() = %v, want [%v]", waiting, tag)
	}

	q.Send(context.Background(), tag, vm.Symbol("msg"))
	q.TryReceive(context.Background(), tag)
	if len(q.WaitingQueues()) != 0 {
		t.Errorf("WaitingQueues() after a successful receive = %v, want empty", q.WaitingQueues())
	}
}
