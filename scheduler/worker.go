// Package scheduler serializes task execution through one goroutine per
// processor and provides an in-memory, non-blocking message queue. It does
// not resume tasks that suspended waiting on gas or a message; a
// suspended task is returned to the caller of Worker.Run.
package scheduler

import (
	"context"
	"fmt"

	"github.com/chazu/bvm/vm"
)

// request is a unit of work submitted to a Worker's goroutine.
type request struct {
	fn   func() (vm.ProcessorStatus, error)
	done chan outcome
}

type outcome struct {
	status vm.ProcessorStatus
	err    error
}

// Worker serializes all access to one *vm.Processor through a single
// goroutine, since the processor mutates TaskContext state with no
// internal locking of its own.
//
// Grounded on chazu-maggie/server/vm_worker.go's VMWorker: same
// channel-request/single-goroutine/panic-recovery shape, generalized from
// "serialize concurrent RPCs onto one interpreter" to "serialize concurrent
// task submissions onto one processor".
type Worker struct {
	processor *vm.Processor
	requests  chan request
	quit      chan struct{}
}

// NewWorker creates a Worker bound to processor and starts its goroutine.
func NewWorker(processor *vm.Processor) *Worker {
	w := &Worker{
		processor: processor,
		requests:  make(chan request, 64),
		quit:      make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) execute(fn func() (vm.ProcessorStatus, error)) outcome {
	var out outcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("scheduler: task execution panicked: %v", r)
			}
		}()
		out.status, out.err = fn()
	}()
	return out
}

// Run submits t to the worker's goroutine and blocks until Processor.Run
// returns: the task completed, was abandoned, or suspended waiting on gas
// or a message.
func (w *Worker) Run(ctx context.Context, t *vm.TaskContext) (vm.ProcessorStatus, error) {
	req := request{
		fn:   func() (vm.ProcessorStatus, error) { return w.processor.Run(ctx, t) },
		done: make(chan outcome, 1),
	}
	w.requests <- req
	out := <-req.done
	return out.status, out.err
}

// Stop shuts down the worker goroutine. Requests still queued when the
// loop observes the quit signal may be left unprocessed, and a Run
// submitted after Stop never returns. Stop must be called at most once.
func (w *Worker) Stop() {
	close(w.quit)
}
