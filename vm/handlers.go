package vm

import "context"

// ProcedureTable resolves EXECUTE's 1-based procedure index, scoped to the
// current frame's type, to a compiled ProcedureDefinition. Unlike the other
// collaborator interfaces it is declared here rather than in
// collaborators.go, because only the EXECUTE handlers below reference it.
type ProcedureTable interface {
	Lookup(ctx context.Context, typeRef Reference, index int) (*ProcedureDefinition, error)
}

// handlerFunc is one instruction handler. It reports whether it already
// fully determined the task's control-flow position (branched), in which
// case Step must not also apply its precomputed post-increment address.
type handlerFunc func(ctx context.Context, p *Processor, t *TaskContext, w Word) (branched bool, err error)

// handlers is the 32-slot dispatch table, indexed by (op<<2)|mod, per
// spec.md §9's explicit instruction to re-architect the interpreter's
// per-opcode switch into an indexed array of function pointers. Slots for
// undefined (op, mod) combinations are unreachable in practice -- IsValid
// rejects them in Step before dispatch -- but are filled with
// reservedHandler rather than left nil, so dispatching to an undefined slot
// raises $invalidBytecode instead of calling a nil function if that
// invariant is ever violated.
var handlers = buildHandlerTable()

func buildHandlerTable() [32]handlerFunc {
	var t [32]handlerFunc
	for i := range t {
		t[i] = reservedHandler
	}

	slot := func(op Op, mod Mod) int { return (int(op) << 2) | int(mod) }

	t[slot(OpJump, ModJumpAlways)] = handleJump
	t[slot(OpJump, ModJumpOnNone)] = handleJump
	t[slot(OpJump, ModJumpOnTrue)] = handleJump
	t[slot(OpJump, ModJumpOnFalse)] = handleJump

	t[slot(OpPush, ModPushHandler)] = handlePushHandler
	t[slot(OpPush, ModPushElement)] = handlePushElement
	t[slot(OpPush, ModPushCode)] = handlePushElement

	t[slot(OpPop, ModPopHandler)] = handlePopHandler
	t[slot(OpPop, ModPopComponent)] = handlePopComponent

	t[slot(OpLoad, ModLoadVariable)] = handleLoadVariable
	t[slot(OpLoad, ModLoadParameter)] = handleLoadParameter
	t[slot(OpLoad, ModLoadDocument)] = handleLoadDocument
	t[slot(OpLoad, ModLoadMessage)] = handleLoadMessage

	t[slot(OpStore, ModStoreVariable)] = handleStoreVariable
	t[slot(OpStore, ModStoreDocument)] = handleStoreDocument
	t[slot(OpStore, ModStoreDraft)] = handleStoreDraft
	t[slot(OpStore, ModStoreMessage)] = handleStoreMessage

	t[slot(OpInvoke, 0)] = handleInvoke
	t[slot(OpInvoke, 1)] = handleInvoke
	t[slot(OpInvoke, 2)] = handleInvoke
	t[slot(OpInvoke, 3)] = handleInvoke

	t[slot(OpExecute, ModExecuteBare)] = handleExecute
	t[slot(OpExecute, ModExecuteWithParameters)] = handleExecute
	t[slot(OpExecute, ModExecuteOnTarget)] = handleExecute
	t[slot(OpExecute, ModExecuteOnTargetWithParameters)] = handleExecute

	t[slot(OpHandle, ModHandleException)] = handleHandleException
	t[slot(OpHandle, ModHandleResult)] = handleHandleResult

	return t
}

func reservedHandler(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	return false, newFault(FaultInvalidBytecode, "no handler registered for op %d mod %d", DecodeOp(w), DecodeMod(w))
}

// ---------------------------------------------------------------------------
// JUMP
// ---------------------------------------------------------------------------

func handleJump(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	if IsSkip(w) {
		return false, nil
	}
	target := int(DecodeOperand(w))

	switch DecodeMod(w) {
	case ModJumpAlways:
		frame.NextAddress = target
		return true, nil
	case ModJumpOnNone, ModJumpOnTrue, ModJumpOnFalse:
		v, err := t.PopComponent()
		if err != nil {
			return false, err
		}
		tmpl, ok := v.(Template)
		if !ok {
			return false, newFault(FaultInvalidBytecode, "conditional jump popped a %T, expected a template", v)
		}
		taken := false
		switch DecodeMod(w) {
		case ModJumpOnNone:
			taken = tmpl == None
		case ModJumpOnTrue:
			taken = tmpl == True
		case ModJumpOnFalse:
			taken = tmpl == False
		}
		if taken {
			frame.NextAddress = target
			return true, nil
		}
		return false, nil
	}
	return false, newFault(FaultInvalidBytecode, "unreachable jump modifier")
}

// ---------------------------------------------------------------------------
// PUSH
// ---------------------------------------------------------------------------

func handlePushHandler(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	t.PushHandler(int(DecodeOperand(w)))
	return false, nil
}

func handlePushElement(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	v, err := frame.Literal(int(DecodeOperand(w)))
	if err != nil {
		return false, err
	}
	t.PushComponent(v)
	return false, nil
}

// ---------------------------------------------------------------------------
// POP
// ---------------------------------------------------------------------------

func handlePopHandler(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	t.PopHandler()
	return false, nil
}

func handlePopComponent(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	_, err := t.PopComponent()
	return false, err
}

// ---------------------------------------------------------------------------
// LOAD
// ---------------------------------------------------------------------------

func handleLoadVariable(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	cell, err := frame.Variable(int(DecodeOperand(w)))
	if err != nil {
		return false, err
	}
	t.PushComponent(cell.Value)
	return false, nil
}

func handleLoadParameter(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	v, err := frame.Parameter(int(DecodeOperand(w)))
	if err != nil {
		return false, err
	}
	t.PushComponent(v)
	return false, nil
}

func literalReference(frame *ProcedureContext, operand uint16) (Reference, error) {
	v, err := frame.Literal(int(operand))
	if err != nil {
		return Reference{}, err
	}
	ref, ok := v.(Reference)
	if !ok {
		return Reference{}, newFault(FaultNotAReference, "literal %d is a %T, expected a reference", operand, v)
	}
	return ref, nil
}

func literalQueueTag(frame *ProcedureContext, operand uint16) (DocTag, error) {
	v, err := frame.Literal(int(operand))
	if err != nil {
		return "", err
	}
	tag, ok := v.(DocTag)
	if !ok {
		return "", newFault(FaultInvalidBytecode, "literal %d is a %T, expected a tag", operand, v)
	}
	return tag, nil
}

func handleLoadDocument(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	ref, err := literalReference(frame, DecodeOperand(w))
	if err != nil {
		return false, err
	}
	doc, err := p.Repository.FetchDocument(ctx, ref)
	if err != nil {
		return false, wrapFault(FaultRepositoryFailure, err)
	}
	t.PushComponent(doc)
	return false, nil
}

func handleLoadMessage(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	queueTag, err := literalQueueTag(frame, DecodeOperand(w))
	if err != nil {
		return false, err
	}
	msg, ok, err := p.Messages.TryReceive(ctx, queueTag)
	if err != nil {
		return false, wrapFault(FaultRepositoryFailure, err)
	}
	if !ok {
		t.ProcessorStatus = StatusWaiting
		t.WaitReason = "message:" + string(queueTag)
		return true, nil
	}
	t.PushComponent(msg)
	return false, nil
}

// ---------------------------------------------------------------------------
// STORE
// ---------------------------------------------------------------------------

func handleStoreVariable(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	cell, err := frame.Variable(int(DecodeOperand(w)))
	if err != nil {
		return false, err
	}
	v, err := t.PopComponent()
	if err != nil {
		return false, err
	}
	cell.Value = v
	return false, nil
}

func handleStoreDocument(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	ref, err := literalReference(frame, DecodeOperand(w))
	if err != nil {
		return false, err
	}
	v, err := t.PopComponent()
	if err != nil {
		return false, err
	}
	committed, err := p.Repository.CommitDocument(ctx, ref, v)
	if err != nil {
		return false, wrapFault(FaultRepositoryFailure, err)
	}
	t.PushComponent(committed)
	return false, nil
}

func handleStoreDraft(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	ref, err := literalReference(frame, DecodeOperand(w))
	if err != nil {
		return false, err
	}
	v, err := t.PopComponent()
	if err != nil {
		return false, err
	}
	if err := p.Repository.SaveDraft(ctx, ref, v); err != nil {
		return false, wrapFault(FaultRepositoryFailure, err)
	}
	return false, nil
}

func handleStoreMessage(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	frame := t.Current()
	queueTag, err := literalQueueTag(frame, DecodeOperand(w))
	if err != nil {
		return false, err
	}
	v, err := t.PopComponent()
	if err != nil {
		return false, err
	}
	if err := p.Messages.Send(ctx, queueTag, v); err != nil {
		return false, wrapFault(FaultRepositoryFailure, err)
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// INVOKE
// ---------------------------------------------------------------------------

func handleInvoke(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	arity := int(DecodeMod(w))
	args := make([]Value, arity)
	for i := arity - 1; i >= 0; i-- {
		v, err := t.PopComponent()
		if err != nil {
			return false, err
		}
		args[i] = v
	}
	result, err := p.Intrinsics.Invoke(ctx, int(DecodeOperand(w)), args)
	if err != nil {
		if fault, ok := err.(*Fault); ok {
			return false, fault
		}
		return false, wrapFault(FaultRepositoryFailure, err)
	}
	t.PushComponent(result)
	return false, nil
}

// ---------------------------------------------------------------------------
// EXECUTE
// ---------------------------------------------------------------------------

// handleExecute pushes a new procedure context onto the task's procedure
// stack, built from the type pointed to by the reference on top of the
// stack (bare and WITH PARAMETERS) or from the target's own type (ON
// TARGET variants): a target value that is itself a Reference names its
// type directly; any other target falls back to the caller's own type,
// since this value domain carries no separate per-instance type pointer.
// Parameter list is popped only for the WITH-PARAMETERS variants, beneath
// whichever of reference/target sits on top.
func handleExecute(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	caller := t.Current()

	var target Value = None
	var params []Value
	typeRef := caller.TypeReference

	popParams := func() error {
		v, err := t.PopComponent()
		if err != nil {
			return err
		}
		list, ok := v.(*List)
		if !ok {
			return newFault(FaultInvalidBytecode, "EXECUTE WITH PARAMETERS popped a %T, expected a list", v)
		}
		params = list.Items()
		return nil
	}

	switch DecodeMod(w) {
	case ModExecuteBare:
		ref, err := t.PopComponent()
		if err != nil {
			return false, err
		}
		r, ok := ref.(Reference)
		if !ok {
			return false, newFault(FaultNotAReference, "EXECUTE popped a %T, expected a type reference", ref)
		}
		typeRef = r
	case ModExecuteWithParameters:
		ref, err := t.PopComponent()
		if err != nil {
			return false, err
		}
		r, ok := ref.(Reference)
		if !ok {
			return false, newFault(FaultNotAReference, "EXECUTE WITH PARAMETERS popped a %T, expected a type reference", ref)
		}
		typeRef = r
		if err := popParams(); err != nil {
			return false, err
		}
	case ModExecuteOnTarget:
		v, err := t.PopComponent()
		if err != nil {
			return false, err
		}
		target = v
		if r, ok := v.(Reference); ok {
			typeRef = r
		}
	case ModExecuteOnTargetWithParameters:
		v, err := t.PopComponent()
		if err != nil {
			return false, err
		}
		target = v
		if r, ok := v.(Reference); ok {
			typeRef = r
		}
		if err := popParams(); err != nil {
			return false, err
		}
	}

	def, err := p.Procedures.Lookup(ctx, typeRef, int(DecodeOperand(w)))
	if err != nil {
		return false, wrapFault(FaultRepositoryFailure, err)
	}

	caller.NextAddress++
	callee := NewProcedureContext(typeRef, def, target, params)
	t.PushProcedure(callee)
	return true, nil
}

// ---------------------------------------------------------------------------
// HANDLE
// ---------------------------------------------------------------------------

// handleHandleException implements HANDLE EXCEPTION per the resolved
// one-shot, frame-scoped handler discipline: it looks for a handler
// registered at the current frame's depth only, consuming it if found. If
// none is registered at this depth, the frame (and any handlers still
// registered under it) are discarded and the search continues in the
// caller, matching spec.md §7's unwind-until-caught semantics.
//
// This handler is only reached when bytecode explicitly re-raises a fault
// already sitting on the component stack (e.g. after inspecting it and
// deciding not to recover); faults raised by other handlers unwind via
// Processor.fail/unwindToHandler directly.
func handleHandleException(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	v, err := t.PopComponent()
	if err != nil {
		return false, err
	}
	cat, ok := v.(*Catalog)
	if !ok {
		return false, newFault(FaultInvalidBytecode, "HANDLE EXCEPTION popped a %T, expected an exception catalog", v)
	}
	kindVal, _ := cat.Get(Symbol("kind"))
	msgVal, _ := cat.Get(Symbol("message"))
	fault := &Fault{Kind: Kind(symbolText(kindVal)), Message: symbolText(msgVal)}

	if unwindToHandler(t, fault) {
		return true, nil
	}
	t.ProcessorStatus = StatusDone
	t.Exception = fault
	return true, nil
}

func symbolText(v Value) string {
	if s, ok := v.(Symbol); ok {
		return string(s)
	}
	return ""
}

// handleHandleResult implements HANDLE RESULT: pop the return value, pop
// the current frame, and either finish the task (call stack now empty) or
// hand the value back to the caller on the shared component stack. The
// caller's NextAddress was already advanced past its EXECUTE instruction
// when that EXECUTE ran, so resuming there needs no further adjustment.
func handleHandleResult(ctx context.Context, p *Processor, t *TaskContext, w Word) (bool, error) {
	value, err := t.PopComponent()
	if err != nil {
		return false, err
	}
	t.PopProcedure()
	if t.Depth() == 0 {
		t.Result = value
		t.ProcessorStatus = StatusDone
		return true, nil
	}
	t.PushComponent(value)
	return true, nil
}
