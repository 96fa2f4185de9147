package vm

import (
	"context"
	"fmt"
	"log"
)

// ProcessorConfig holds the tunables the processor loop reads at
// construction time; see config.go for the bvm.toml-backed loader.
type ProcessorConfig struct {
	DefaultAccountBalance int64
	CycleLogInterval      int64
}

// Processor is the fetch/execute engine: it holds no per-task state of its
// own (that lives entirely in the TaskContext passed to Step/Run) and only
// the collaborators and configuration needed to dispatch instructions.
//
// Grounded on chazu-maggie/server/vm_worker.go's VMWorker: a stateless
// dispatcher that takes one unit of work (there, an RPC; here, a
// TaskContext) and drives it to completion or suspension, logging at
// panic/error boundaries.
type Processor struct {
	Config     ProcessorConfig
	Repository Repository
	Procedures ProcedureTable
	Intrinsics IntrinsicTable
	Events     EventPublisher
	Messages   MessageQueue
	Logger     *log.Logger

	// Validator, if set, checks every exported task snapshot against an
	// external schema before it is published or enqueued. Nil skips the
	// check.
	Validator DocumentValidator
}

// waitQueueTag is the well-known tag spec.md §4.F names: every task that
// suspends WAITING is exported and enqueued here, regardless of which
// per-task inbox it was itself waiting on, so a scheduler has one place
// to look for resumable work.
const waitQueueTag DocTag = "$waitQueue"

// NewProcessor builds a Processor from its collaborators. A nil Logger
// falls back to log.Default(), matching the teacher's pattern of logging
// unconditionally rather than threading an enabled/disabled flag through.
func NewProcessor(cfg ProcessorConfig, repo Repository, procedures ProcedureTable, intrinsics IntrinsicTable, events EventPublisher, messages MessageQueue, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{Config: cfg, Repository: repo, Procedures: procedures, Intrinsics: intrinsics, Events: events, Messages: messages, Logger: logger}
}

// Step executes exactly one instruction of the task's current procedure
// context, updating the task's status in place; callers check
// t.Runnable() afterward. Faults raised by the instruction are unwound
// into the task rather than returned.
//
// Addressing model (resolved Open Question #4, post-increment per spec.md's
// own recommendation): next is computed as frame.NextAddress+1 before
// dispatch. A handler that branches sets frame.NextAddress directly to the
// absolute target address and returns branched=true; Step only applies the
// precomputed next when the handler did not branch.
func (p *Processor) Step(ctx context.Context, t *TaskContext) error {
	frame := t.Current()
	if frame == nil {
		t.ProcessorStatus = StatusDone
		return nil
	}
	if !t.SpendCycle() {
		t.ProcessorStatus = StatusWaiting
		t.WaitReason = "gas"
		return nil
	}
	if !frame.InBounds() {
		return p.fail(t, newFault(FaultInvalidBytecode, "next_address %d out of range [1,%d]", frame.NextAddress, len(frame.Bytecode)))
	}

	w := frame.Fetch()
	if !IsValid(w) {
		return p.fail(t, newFault(FaultInvalidBytecode, "word %04X at address %d does not decode to a defined instruction", uint16(w), frame.NextAddress))
	}

	next := frame.NextAddress + 1
	slot := (int(DecodeOp(w)) << 2) | int(DecodeMod(w))
	branched, err := handlers[slot](ctx, p, t, w)
	if err != nil {
		return p.fail(t, err)
	}

	if !branched {
		if newFrame := t.Current(); newFrame == frame {
			frame.NextAddress = next
		}
	}

	if p.Config.CycleLogInterval > 0 && t.ClockCycles%p.Config.CycleLogInterval == 0 {
		p.Logger.Printf("task %s: %d cycles, balance %d, depth %d", t.TaskTag, t.ClockCycles, t.AccountBalance, t.Depth())
	}

	if t.Depth() == 0 && t.ProcessorStatus == StatusActive {
		t.ProcessorStatus = StatusDone
	}
	return nil
}

// fail converts an unhandled error into either a caught exception (if a
// handler is registered at the current or an enclosing frame) or task
// termination: status DONE with the fault itself, under its own Kind, as
// t.Exception. Errors that are not Faults are wrapped as
// $repositoryFailure first.
func (p *Processor) fail(t *TaskContext, err error) error {
	fault, ok := err.(*Fault)
	if !ok {
		fault = wrapFault(FaultRepositoryFailure, err)
	}
	if !unwindToHandler(t, fault) {
		t.ProcessorStatus = StatusDone
		t.Exception = fault
	}
	return nil
}

// unwindToHandler pops procedure frames looking for a registered handler,
// pushes the fault's Value onto the component stack, and resumes execution
// at the handler address if one was found. It returns false if the
// procedure stack was exhausted with no handler found.
func unwindToHandler(t *TaskContext, fault *Fault) bool {
	for t.Depth() > 0 {
		if h, ok := t.PopHandlerAtCurrentDepth(); ok {
			frame := t.Current()
			frame.NextAddress = h.Address
			t.PushComponent(fault.Value())
			return true
		}
		t.PopProcedure()
	}
	return false
}

// Run steps the task until it becomes non-runnable: it completes (with a
// result or an unhandled exception) or suspends waiting on gas or a
// message. On exit it routes the task per spec.md §4.F's termination
// dispatch and returns the terminal or suspended ProcessorStatus.
func (p *Processor) Run(ctx context.Context, t *TaskContext) (ProcessorStatus, error) {
	for t.Runnable() {
		if err := ctx.Err(); err != nil {
			return t.ProcessorStatus, err
		}
		if err := p.Step(ctx, t); err != nil {
			return t.ProcessorStatus, fmt.Errorf("vm: step failed: %w", err)
		}
	}
	if t.Depth() == 0 && t.ProcessorStatus == StatusActive {
		t.ProcessorStatus = StatusDone
	}

	switch t.ProcessorStatus {
	case StatusActive:
		// Fell out of the loop on exhausted gas: account_balance == 0 but
		// the task is still mid-procedure.
		detail, err := p.exportTask(t)
		if err != nil {
			return t.ProcessorStatus, err
		}
		p.Events.Publish(ctx, t.TaskTag, "$suspension", detail)
	case StatusWaiting:
		detail, err := p.exportTask(t)
		if err != nil {
			return t.ProcessorStatus, err
		}
		if err := p.Messages.Send(ctx, waitQueueTag, detail); err != nil {
			return t.ProcessorStatus, fmt.Errorf("vm: enqueuing on the wait queue: %w", err)
		}
	case StatusDone:
		p.Events.Publish(ctx, t.TaskTag, "$completion", CompletionDetail(t))
	}
	return t.ProcessorStatus, nil
}

// exportTask renders t as the catalog a suspension event or wait-queue
// entry carries, validating the underlying snapshot against p.Validator
// first if one is configured. A validation failure is logged, not fatal:
// the task has already reached its suspended/waiting state and must
// still be handed off so it isn't silently stranded.
func (p *Processor) exportTask(t *TaskContext) (Value, error) {
	if p.Validator != nil {
		raw, err := MarshalTask(t)
		if err != nil {
			return nil, err
		}
		if err := p.Validator.ValidateTaskSnapshot(raw); err != nil {
			p.Logger.Printf("task %s: exported snapshot failed schema validation: %v", t.TaskTag, err)
		}
	}
	return ExportTask(t)
}
