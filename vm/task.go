package vm

import "github.com/google/uuid"

// ProcessorStatus is the coarse run/wait/done state of a task, per spec.md
// §3/§4.F.
type ProcessorStatus int

const (
	StatusActive ProcessorStatus = iota
	StatusWaiting
	StatusDone
)

func (s ProcessorStatus) String() string {
	switch s {
	case StatusActive:
		return "$active"
	case StatusWaiting:
		return "$waiting"
	case StatusDone:
		return "$done"
	default:
		return "$unknown"
	}
}

// HandlerEntry is one pushed exception handler: the bytecode address to
// jump to, and the procedure-stack depth it was pushed at. HANDLE EXCEPTION
// only ever considers handlers pushed at the current depth, and popping a
// frame silently drops any handlers left over at that frame's depth -- the
// one-shot, frame-scoped discipline resolving spec.md §9's handler-stack
// scoping ambiguity.
type HandlerEntry struct {
	FrameDepth int
	Address    int
}

// NewTaskTag and NewAccountTag mint fresh opaque identities using
// google/uuid, per SPEC_FULL's domain-stack wiring.
func NewTaskTag() DocTag    { return DocTag(uuid.New().String()) }
func NewAccountTag() DocTag { return DocTag(uuid.New().String()) }

// TaskContext is the per-task state that persists across suspend/resume
// cycles (spec.md §3/§4.D): identity, the prepaid gas balance, the elapsed
// cycle count, run status, the component/handler/procedure stacks, and the
// terminal result or exception once the task completes.
//
// Grounded on chazu-maggie/vm/interpreter.go's Interpreter struct: its
// dynamically-growing stack/frames slices are the model for ComponentStack
// and ProcedureStack here, generalized from "panic on overflow" to an
// explicit AccountBalance-gated ceiling.
type TaskContext struct {
	TaskTag    DocTag
	AccountTag DocTag

	AccountBalance int64
	ClockCycles    int64
	ProcessorStatus ProcessorStatus
	// WaitReason explains a StatusWaiting task: "gas" when Step was called
	// with the account balance already at zero, or "message:<queueTag>"
	// when a LOAD MESSAGE found its inbox empty. It is carried in the
	// snapshot and printed by cmd/bvmrun; nothing in this module acts on it.
	WaitReason string

	ComponentStack  []Value
	HandlerStack    []HandlerEntry
	ProcedureStack  []*ProcedureContext

	Result    Value
	Exception *Fault
}

// NewTaskContext creates a fresh, active task with the given prepaid gas
// balance and a single procedure context already pushed.
func NewTaskContext(accountTag DocTag, balance int64, entry *ProcedureContext) *TaskContext {
	return &TaskContext{
		TaskTag:         NewTaskTag(),
		AccountTag:      accountTag,
		AccountBalance:  balance,
		ProcessorStatus: StatusActive,
		ProcedureStack:  []*ProcedureContext{entry},
	}
}

// Current returns the topmost procedure context, or nil if the procedure
// stack is empty (i.e. the task has completed).
func (t *TaskContext) Current() *ProcedureContext {
	if len(t.ProcedureStack) == 0 {
		return nil
	}
	return t.ProcedureStack[len(t.ProcedureStack)-1]
}

// Depth returns the current procedure-stack depth.
func (t *TaskContext) Depth() int {
	return len(t.ProcedureStack)
}

// PushProcedure grows the procedure stack by one frame.
func (t *TaskContext) PushProcedure(p *ProcedureContext) {
	t.ProcedureStack = append(t.ProcedureStack, p)
}

// PopProcedure removes and returns the topmost procedure context, and
// discards any handlers left pushed at that now-abandoned depth.
func (t *TaskContext) PopProcedure() *ProcedureContext {
	depth := t.Depth()
	top := t.ProcedureStack[depth-1]
	t.ProcedureStack = t.ProcedureStack[:depth-1]
	t.discardHandlersAtDepth(depth)
	return top
}

func (t *TaskContext) discardHandlersAtDepth(depth int) {
	kept := t.HandlerStack[:0]
	for _, h := range t.HandlerStack {
		if h.FrameDepth != depth {
			kept = append(kept, h)
		}
	}
	t.HandlerStack = kept
}

// PushHandler registers an exception handler scoped to the current frame.
func (t *TaskContext) PushHandler(addr int) {
	t.HandlerStack = append(t.HandlerStack, HandlerEntry{FrameDepth: t.Depth(), Address: addr})
}

// PopHandlerAtCurrentDepth removes and returns the most recently pushed
// handler whose FrameDepth equals the current procedure-stack depth, for
// HANDLE EXCEPTION's one-shot consumption. ok is false if none exists at
// this depth.
func (t *TaskContext) PopHandlerAtCurrentDepth() (HandlerEntry, bool) {
	depth := t.Depth()
	for i := len(t.HandlerStack) - 1; i >= 0; i-- {
		if t.HandlerStack[i].FrameDepth == depth {
			h := t.HandlerStack[i]
			t.HandlerStack = append(t.HandlerStack[:i], t.HandlerStack[i+1:]...)
			return h, true
		}
	}
	return HandlerEntry{}, false
}

// PopHandler removes and returns the most recently pushed handler
// regardless of depth, for POP HANDLER.
func (t *TaskContext) PopHandler() (HandlerEntry, bool) {
	if len(t.HandlerStack) == 0 {
		return HandlerEntry{}, false
	}
	h := t.HandlerStack[len(t.HandlerStack)-1]
	t.HandlerStack = t.HandlerStack[:len(t.HandlerStack)-1]
	return h, true
}

// PushComponent pushes a value onto the component stack.
func (t *TaskContext) PushComponent(v Value) {
	t.ComponentStack = append(t.ComponentStack, v)
}

// PopComponent pops and returns the top of the component stack.
func (t *TaskContext) PopComponent() (Value, error) {
	n := len(t.ComponentStack)
	if n == 0 {
		return nil, newFault(FaultStackUnderflow, "component stack is empty")
	}
	v := t.ComponentStack[n-1]
	t.ComponentStack = t.ComponentStack[:n-1]
	return v, nil
}

// PeekComponent returns the top of the component stack without removing it.
func (t *TaskContext) PeekComponent() (Value, error) {
	n := len(t.ComponentStack)
	if n == 0 {
		return nil, newFault(FaultStackUnderflow, "component stack is empty")
	}
	return t.ComponentStack[n-1], nil
}

// SpendCycle deducts one unit of gas and charges one clock cycle. It
// reports false (and leaves the balance unmodified) once the balance is
// already exhausted -- the fetch/execute loop checks this before every
// instruction to cooperatively suspend long-running tasks (spec.md §4.F).
func (t *TaskContext) SpendCycle() bool {
	if t.AccountBalance <= 0 {
		return false
	}
	t.AccountBalance--
	t.ClockCycles++
	return true
}

// Runnable reports whether the task can still make progress: it is active,
// has at least one procedure frame, and has gas remaining.
func (t *TaskContext) Runnable() bool {
	return t.ProcessorStatus == StatusActive && t.Depth() > 0 && t.AccountBalance > 0
}
