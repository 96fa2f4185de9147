package vm

import (
	"context"
	"testing"
)

// fakeRepository is a minimal vm.Repository test double backed by maps.
type fakeRepository struct {
	drafts  map[string]Value
	commits map[string]Value
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{drafts: map[string]Value{}, commits: map[string]Value{}}
}

func (r *fakeRepository) FetchDocument(ctx context.Context, ref Reference) (Value, error) {
	if ref.IsDraft() {
		v, ok := r.drafts[ref.RefTag+"/"+ref.Version]
		if !ok {
			return nil, newFault(FaultRepositoryFailure, "no draft %s", ref)
		}
		return v, nil
	}
	v, ok := r.commits[ref.Digest]
	if !ok {
		return nil, newFault(FaultRepositoryFailure, "no commit %s", ref)
	}
	return v, nil
}

func (r *fakeRepository) SaveDraft(ctx context.Context, ref Reference, doc Value) error {
	r.drafts[ref.RefTag+"/"+ref.Version] = doc
	return nil
}

func (r *fakeRepository) CommitDocument(ctx context.Context, ref Reference, doc Value) (Reference, error) {
	digest := ref.RefTag + "#" + ref.Version
	r.commits[digest] = doc
	return Reference{RefTag: ref.RefTag, Version: ref.Version, Digest: digest}, nil
}

// fakeIntrinsics supports one intrinsic: index 1 is binary addition.
type fakeIntrinsics struct{}

func (fakeIntrinsics) Invoke(ctx context.Context, index int, args []Value) (Value, error) {
	if index != 1 {
		return nil, newFault(FaultInvalidBytecode, "no such intrinsic %d", index)
	}
	if len(args) != 2 {
		return nil, newFault(FaultInvalidBytecode, "intrinsic 1 wants 2 arguments, got %d", len(args))
	}
	a, ok1 := args[0].(Number)
	b, ok2 := args[1].(Number)
	if !ok1 || !ok2 {
		return nil, newFault(FaultNotANumber, "intrinsic 1 arguments must be numbers")
	}
	var sum Number
	sum.Real.Add(&a.Real, &b.Real)
	return sum, nil
}

type fakePublisher struct{ events []string }

func (p *fakePublisher) Publish(ctx context.Context, taskTag DocTag, event string, detail Value) {
	p.events = append(p.events, event)
}

// fakeMessages is a vm.MessageQueue test double with a preloaded inbox per tag.
type fakeMessages struct {
	inboxes map[DocTag][]Value
}

func newFakeMessages() *fakeMessages { return &fakeMessages{inboxes: map[DocTag][]Value{}} }

func (m *fakeMessages) TryReceive(ctx context.Context, tag DocTag) (Value, bool, error) {
	queue := m.inboxes[tag]
	if len(queue) == 0 {
		return nil, false, nil
	}
	m.inboxes[tag] = queue[1:]
	return queue[0], true, nil
}

func (m *fakeMessages) Send(ctx context.Context, tag DocTag, msg Value) error {
	m.inboxes[tag] = append(m.inboxes[tag], msg)
	return nil
}

func testProcessor() (*Processor, *fakeRepository, *fakeMessages) {
	repo := newFakeRepository()
	messages := newFakeMessages()
	p := NewProcessor(DefaultProcessorConfig(), repo, nil, fakeIntrinsics{}, &fakePublisher{}, messages, nil)
	return p, repo, messages
}

func runToCompletion(t *testing.T, p *Processor, task *TaskContext) {
	t.Helper()
	for i := 0; i < 10000 && task.Runnable(); i++ {
		if err := p.Step(context.Background(), task); err != nil {
			t.Fatalf("Step returned an error: %v", err)
		}
	}
}

// TestAddTwoLiteralsAndReturn exercises PUSH ELEMENT, INVOKE, and HANDLE
// RESULT together: push 2 and 3, add them with intrinsic 1, leave the
// result on the stack, then end the (single-frame) procedure.
func TestAddTwoLiteralsAndReturn(t *testing.T) {
	p, _, _ := testProcessor()

	two := NumberFromInt64(2)
	three := NumberFromInt64(3)
	def := &ProcedureDefinition{
		Name:          "add",
		LiteralValues: []Value{two, three},
		Bytecode: []Word{
			Encode(OpPush, ModPushElement, 1),
			Encode(OpPush, ModPushElement, 2),
			Encode(OpInvoke, 2, 1),
		},
	}
	frame := NewProcedureContext(Reference{RefTag: "t", Version: "v1"}, def, None, nil)
	task := NewTaskContext(NewAccountTag(), 1000, frame)

	for i := 0; i < 3; i++ {
		if err := p.Step(context.Background(), task); err != nil {
			t.Fatalf("Step %d returned an error: %v", i, err)
		}
	}

	if len(task.ComponentStack) != 1 {
		t.Fatalf("component stack has %d elements, want 1", len(task.ComponentStack))
	}
	got, ok := task.ComponentStack[0].(Number)
	if !ok {
		t.Fatalf("result is a %T, want Number", task.ComponentStack[0])
	}
	if got.String() != "5" {
		t.Errorf("2+3 = %s, want 5", got.String())
	}
}

// TestHandleResultCompletesTask exercises HANDLE RESULT off the bottom
// frame: the popped value becomes task.Result and the task finishes DONE
// with an empty component stack.
func TestHandleResultCompletesTask(t *testing.T) {
	p, _, _ := testProcessor()

	def := &ProcedureDefinition{
		Name:          "entry",
		LiteralValues: []Value{Symbol("hello")},
		Bytecode: []Word{
			Encode(OpPush, ModPushElement, 1),
			Encode(OpHandle, ModHandleResult, 0),
		},
	}
	frame := NewProcedureContext(Reference{RefTag: "t", Version: "v1"}, def, None, nil)
	task := NewTaskContext(NewAccountTag(), 1000, frame)

	runToCompletion(t, p, task)

	if task.ProcessorStatus != StatusDone {
		t.Fatalf("status = %v, want %v", task.ProcessorStatus, StatusDone)
	}
	if task.Result == nil || !Equal(task.Result, Symbol("hello")) {
		t.Errorf("Result = %v, want $hello", task.Result)
	}
	if len(task.ComponentStack) != 0 {
		t.Errorf("ComponentStack = %v, want empty once the result is captured", task.ComponentStack)
	}
}

// TestHandleResultReturnsValueToCaller exercises HANDLE RESULT off a
// non-bottom frame (reached via EXECUTE): the returned value lands on the
// caller's component stack instead of task.Result, and the caller resumes
// where EXECUTE left it.
func TestHandleResultReturnsValueToCaller(t *testing.T) {
	repo := newFakeRepository()
	callee := &ProcedureDefinition{
		Name:          "callee",
		LiteralValues: []Value{Symbol("returned")},
		Bytecode: []Word{
			Encode(OpPush, ModPushElement, 1),
			Encode(OpHandle, ModHandleResult, 0),
		},
	}
	p := NewProcessor(DefaultProcessorConfig(), repo, fakeProcedures{def: callee}, fakeIntrinsics{}, &fakePublisher{}, newFakeMessages(), nil)

	calleeRef := Reference{RefTag: "callee-type", Version: "v1"}
	caller := &ProcedureDefinition{
		Name:          "caller",
		LiteralValues: []Value{calleeRef},
		Bytecode: []Word{
			Encode(OpPush, ModPushElement, 1),
			Encode(OpExecute, ModExecuteBare, 1),
			Encode(OpHandle, ModHandleResult, 0),
		},
	}
	frame := NewProcedureContext(Reference{RefTag: "t", Version: "v1"}, caller, None, nil)
	task := NewTaskContext(NewAccountTag(), 1000, frame)

	runToCompletion(t, p, task)

	if task.ProcessorStatus != StatusDone {
		t.Fatalf("status = %v, want %v", task.ProcessorStatus, StatusDone)
	}
	if task.Result == nil || !Equal(task.Result, Symbol("returned")) {
		t.Errorf("Result = %v, want $returned (handed up from the callee's HANDLE RESULT)", task.Result)
	}
}

// TestConditionalJumpOnFalse exercises JUMP ON FALSE: a false template on
// the stack should take the jump.
func TestConditionalJumpOnFalse(t *testing.T) {
	p, _, _ := testProcessor()

	def := &ProcedureDefinition{
		Name:          "branch",
		LiteralValues: []Value{False, Symbol("skipped"), Symbol("taken")},
		Bytecode: []Word{
			Encode(OpPush, ModPushElement, 1),                // push False
			Encode(OpJump, ModJumpOnFalse, 5),                 // -> address 5
			Encode(OpPush, ModPushElement, 2),                 // skipped
			Encode(OpJump, ModJumpAlways, 6),                  // address 4: skip over address 5
			Encode(OpPush, ModPushElement, 3),                 // address 5: taken
		},
	}
	frame := NewProcedureContext(Reference{RefTag: "t", Version: "v1"}, def, None, nil)
	task := NewTaskContext(NewAccountTag(), 1000, frame)

	for i := 0; i < 3; i++ {
		if err := p.Step(context.Background(), task); err != nil {
			t.Fatalf("Step %d returned an error: %v", i, err)
		}
	}

	if len(task.ComponentStack) != 1 {
		t.Fatalf("component stack has %d elements, want 1", len(task.ComponentStack))
	}
	if !Equal(task.ComponentStack[0], Symbol("taken")) {
		t.Errorf("result = %v, want $taken", task.ComponentStack[0])
	}
}

// TestGasExhaustionSuspends checks that a task with zero remaining balance
// suspends with WaitReason "gas" rather than executing further.
func TestGasExhaustionSuspends(t *testing.T) {
	p, _, _ := testProcessor()

	def := &ProcedureDefinition{
		Name:     "spin",
		Bytecode: []Word{Encode(OpJump, ModJumpAlways, 0)},
	}
	frame := NewProcedureContext(Reference{RefTag: "t", Version: "v1"}, def, None, nil)
	task := NewTaskContext(NewAccountTag(), 1, frame)

	if err := p.Step(context.Background(), task); err != nil {
		t.Fatalf("first Step returned an error: %v", err)
	}
	if task.ProcessorStatus != StatusActive {
		t.Fatalf("after spending the only unit of gas, status = %v, want %v", task.ProcessorStatus, StatusActive)
	}

	if err := p.Step(context.Background(), task); err != nil {
		t.Fatalf("second Step returned an error: %v", err)
	}
	if task.ProcessorStatus != StatusWaiting || task.WaitReason != "gas" {
		t.Errorf("status = %v, waitReason = %q, want %v, \"gas\"", task.ProcessorStatus, task.WaitReason, StatusWaiting)
	}
}

// TestLoadMessageSuspendsOnEmptyQueue checks LOAD MESSAGE suspends the
// task (rather than erroring) when its inbox is empty, and that retrying
// after a message arrives succeeds.
func TestLoadMessageSuspendsOnEmptyQueue(t *testing.T) {
	p, _, messages := testProcessor()

	queueTag := DocTag("inbox-1")
	def := &ProcedureDefinition{
		Name:          "wait",
		LiteralValues: []Value{queueTag},
		Bytecode:      []Word{Encode(OpLoad, ModLoadMessage, 1)},
	}
	frame := NewProcedureContext(Reference{RefTag: "t", Version: "v1"}, def, None, nil)
	task := NewTaskContext(NewAccountTag(), 1000, frame)

	if err := p.Step(context.Background(), task); err != nil {
		t.Fatalf("Step returned an error: %v", err)
	}
	if task.ProcessorStatus != StatusWaiting || task.WaitReason != "message:inbox-1" {
		t.Fatalf("status = %v, waitReason = %q, want waiting on message:inbox-1", task.ProcessorStatus, task.WaitReason)
	}

	messages.Send(context.Background(), queueTag, Symbol("hello"))
	task.ProcessorStatus = StatusActive

	if err := p.Step(context.Background(), task); err != nil {
		t.Fatalf("Step after message arrival returned an error: %v", err)
	}
	if len(task.ComponentStack) != 1 || !Equal(task.ComponentStack[0], Symbol("hello")) {
		t.Errorf("component stack = %v, want [$hello]", task.ComponentStack)
	}
}

// TestHandledExceptionResumesAtHandlerAddress exercises PUSH HANDLER plus
// an intrinsic failure: the handler should catch the fault and leave its
// catalog on the stack instead of abandoning the task.
func TestHandledExceptionResumesAtHandlerAddress(t *testing.T) {
	p, _, _ := testProcessor()

	def := &ProcedureDefinition{
		Name: "guarded",
		Bytecode: []Word{
			Encode(OpPush, ModPushHandler, 3), // 1: on exception, resume at address 3
			Encode(OpInvoke, 2, 1),            // 2: arity 2, empty stack -> stack underflow fault
			Encode(OpJump, ModJumpAlways, 0),  // 3: handler target, a no-op
		},
	}

	frame := NewProcedureContext(Reference{RefTag: "t", Version: "v1"}, def, None, nil)
	task := NewTaskContext(NewAccountTag(), 1000, frame)

	for i := 0; i < 3; i++ {
		if err := p.Step(context.Background(), task); err != nil {
			t.Fatalf("Step %d returned an error: %v", i, err)
		}
	}

	if task.ProcessorStatus == StatusDone {
		t.Fatalf("task is done; expected the pushed handler to catch the fault and keep running")
	}
	if len(task.ComponentStack) != 1 {
		t.Fatalf("component stack has %d elements, want 1 (the caught exception catalog)", len(task.ComponentStack))
	}
	if _, ok := task.ComponentStack[0].(*Catalog); !ok {
		t.Errorf("caught value is a %T, want *Catalog", task.ComponentStack[0])
	}
}
