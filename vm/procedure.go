package vm

import "fmt"

// Cell is a mutable variable slot. Procedure contexts keep their variable
// table as cells (rather than bare Values) so STORE VARIABLE mutates the
// slot in place while LOAD VARIABLE observes the mutation, mirroring the
// teacher's box-the-mutable-state discipline (chazu-maggie/vm/value.go's
// Cell type, used there for captured block variables).
type Cell struct {
	Value Value
}

// ProcedureDefinition is the compiled-unit shape the external
// compiler/assembler produces for one procedure: its bytecode plus the
// declarations needed to build an activation record from it. It is the
// input to NewProcedureContext; the VM never constructs one itself.
type ProcedureDefinition struct {
	Name             Symbol
	Bytecode         []Word
	LiteralValues    []Value
	NumVariables     int
	ParameterNames   []Symbol
}

// ProcedureContext is the per-call activation record (spec.md §3):
// bytecode array, next-address pointer, literal/variable/parameter
// tables, target component, type reference, and procedure name.
//
// Grounded on chazu-maggie/vm/interpreter.go's CallFrame (Method,
// Receiver, IP, BP) -- same role, renamed to the spec's field names.
type ProcedureContext struct {
	Target        Value // the receiver, or None
	TypeReference Reference
	ProcedureName Symbol

	LiteralValues   []Value
	VariableValues  []*Cell
	ParameterValues []Value

	Bytecode    []Word
	NextAddress int // 1-based pointer into Bytecode
}

// NewProcedureContext builds a frame from a type reference, a procedure
// definition, a target component (or None), and parameter values. The
// variable table is allocated fresh with every cell initialized to None,
// per spec.md §4.C. next_address starts at 1.
func NewProcedureContext(typeRef Reference, def *ProcedureDefinition, target Value, params []Value) *ProcedureContext {
	if target == nil {
		target = None
	}
	variables := make([]*Cell, def.NumVariables)
	for i := range variables {
		variables[i] = &Cell{Value: None}
	}
	return &ProcedureContext{
		Target:          target,
		TypeReference:   typeRef,
		ProcedureName:   def.Name,
		LiteralValues:   def.LiteralValues,
		VariableValues:  variables,
		ParameterValues: params,
		Bytecode:        def.Bytecode,
		NextAddress:     1,
	}
}

// Fetch returns the instruction at the context's current NextAddress.
// The caller must check InBounds first.
func (p *ProcedureContext) Fetch() Word {
	return p.Bytecode[p.NextAddress-1]
}

// InBounds reports whether NextAddress still points at an instruction:
// 1 <= NextAddress <= len(Bytecode). One past the last instruction is
// out of bounds.
func (p *ProcedureContext) InBounds() bool {
	return p.NextAddress >= 1 && p.NextAddress <= len(p.Bytecode)
}

// Literal returns the 1-based indexed literal.
func (p *ProcedureContext) Literal(index int) (Value, error) {
	if index < 1 || index > len(p.LiteralValues) {
		return nil, fmt.Errorf("vm: literal index %d out of range [1,%d]", index, len(p.LiteralValues))
	}
	return p.LiteralValues[index-1], nil
}

// Variable returns the 1-based indexed variable cell.
func (p *ProcedureContext) Variable(index int) (*Cell, error) {
	if index < 1 || index > len(p.VariableValues) {
		return nil, fmt.Errorf("vm: variable index %d out of range [1,%d]", index, len(p.VariableValues))
	}
	return p.VariableValues[index-1], nil
}

// Parameter returns the 1-based indexed parameter value.
func (p *ProcedureContext) Parameter(index int) (Value, error) {
	if index < 1 || index > len(p.ParameterValues) {
		return nil, fmt.Errorf("vm: parameter index %d out of range [1,%d]", index, len(p.ParameterValues))
	}
	return p.ParameterValues[index-1], nil
}
