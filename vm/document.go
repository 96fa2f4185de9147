package vm

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is the canonical CBOR encoding mode used for every document
// this package produces, so two encodings of an equal document are
// byte-identical -- required for content-addressed digests to be stable.
//
// Grounded on chazu-maggie/vm/dist/wire.go's cbor.CanonicalEncOptions().
var cborEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: building canonical CBOR encoder: %v", err))
	}
	return mode
}

// wireValue is the tagged-union shape every Value marshals through. Go's
// cbor package cannot marshal an interface value directly without a
// registered tag, so every Value implementation round-trips through this
// struct instead, mirroring wire.go's own Chunk-wrapping approach of never
// handing the encoder an interface type directly.
type wireValue struct {
	Tag      Tag         `cbor:"tag"`
	Template Template    `cbor:"template,omitempty"`
	Real     string      `cbor:"real,omitempty"`
	Imag     string      `cbor:"imag,omitempty"`
	Symbol   string      `cbor:"symbol,omitempty"`
	Prob     float64     `cbor:"prob,omitempty"`
	RefTag   string      `cbor:"refTag,omitempty"`
	RefVer   string      `cbor:"refVer,omitempty"`
	RefDig   string      `cbor:"refDig,omitempty"`
	DocTag   string      `cbor:"docTag,omitempty"`
	Items    []wireValue `cbor:"items,omitempty"`
	Keys     []wireValue `cbor:"keys,omitempty"`
	Values   []wireValue `cbor:"values,omitempty"`
	Words    []uint16    `cbor:"words,omitempty"`
	Source   string      `cbor:"source,omitempty"`
}

func toWire(v Value) wireValue {
	switch x := v.(type) {
	case Template:
		return wireValue{Tag: TagTemplate, Template: x}
	case Number:
		return wireValue{Tag: TagNumber, Real: x.Real.Text('g', -1), Imag: x.Imag.Text('g', -1)}
	case Symbol:
		return wireValue{Tag: TagSymbol, Symbol: string(x)}
	case Probability:
		return wireValue{Tag: TagProbability, Prob: float64(x)}
	case Reference:
		return wireValue{Tag: TagReference, RefTag: x.RefTag, RefVer: x.Version, RefDig: x.Digest}
	case DocTag:
		return wireValue{Tag: TagTag, DocTag: string(x)}
	case *List:
		items := make([]wireValue, len(x.items))
		for i, it := range x.items {
			items[i] = toWire(it)
		}
		return wireValue{Tag: TagList, Items: items}
	case *Catalog:
		keys := make([]wireValue, len(x.keys))
		values := make([]wireValue, len(x.values))
		for i := range x.keys {
			keys[i] = toWire(x.keys[i])
			values[i] = toWire(x.values[i])
		}
		return wireValue{Tag: TagCatalog, Keys: keys, Values: values}
	case *Code:
		words := make([]uint16, len(x.Bytecode))
		for i, w := range x.Bytecode {
			words[i] = uint16(w)
		}
		return wireValue{Tag: TagCode, Words: words, Source: x.Source}
	default:
		panic(fmt.Sprintf("vm: toWire: unhandled Value type %T", v))
	}
}

func fromWire(w wireValue) (Value, error) {
	switch w.Tag {
	case TagTemplate:
		return w.Template, nil
	case TagNumber:
		var n Number
		if _, ok := n.Real.SetString(w.Real); !ok {
			return nil, fmt.Errorf("vm: decoding number real part %q", w.Real)
		}
		if w.Imag != "" {
			if _, ok := n.Imag.SetString(w.Imag); !ok {
				return nil, fmt.Errorf("vm: decoding number imaginary part %q", w.Imag)
			}
		} else {
			n.Imag = *new(big.Float)
		}
		return n, nil
	case TagSymbol:
		return Symbol(w.Symbol), nil
	case TagProbability:
		return Probability(w.Prob), nil
	case TagReference:
		return Reference{RefTag: w.RefTag, Version: w.RefVer, Digest: w.RefDig}, nil
	case TagTag:
		return DocTag(w.DocTag), nil
	case TagList:
		items := make([]Value, len(w.Items))
		for i, it := range w.Items {
			v, err := fromWire(it)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return NewList(items...), nil
	case TagCatalog:
		c := NewCatalog()
		for i := range w.Keys {
			k, err := fromWire(w.Keys[i])
			if err != nil {
				return nil, err
			}
			v, err := fromWire(w.Values[i])
			if err != nil {
				return nil, err
			}
			c.Set(k, v)
		}
		return c, nil
	case TagCode:
		words := make([]Word, len(w.Words))
		for i, x := range w.Words {
			words[i] = Word(x)
		}
		return &Code{Bytecode: words, Source: w.Source}, nil
	default:
		return nil, fmt.Errorf("vm: decoding value: unknown tag %d", w.Tag)
	}
}

// MarshalValue encodes a Value as canonical CBOR.
func MarshalValue(v Value) ([]byte, error) {
	data, err := cborEncMode.Marshal(toWire(v))
	if err != nil {
		return nil, fmt.Errorf("vm: marshaling value: %w", err)
	}
	return data, nil
}

// UnmarshalValue decodes a Value previously produced by MarshalValue.
func UnmarshalValue(data []byte) (Value, error) {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vm: unmarshaling value: %w", err)
	}
	return fromWire(w)
}

// PackBytecode pairs consecutive bytes of a base-16-decoded procedure body
// into big-endian Words, per spec.md §4.C's "pairing two bytes into one
// word, big-endian" encoding rule.
func PackBytecode(raw []byte) ([]Word, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("vm: bytecode byte length %d is odd", len(raw))
	}
	words := make([]Word, len(raw)/2)
	for i := range words {
		words[i] = Word(raw[2*i])<<8 | Word(raw[2*i+1])
	}
	return words, nil
}

// UnpackBytecode is PackBytecode's inverse, rendering words back to their
// big-endian byte pairs.
func UnpackBytecode(words []Word) []byte {
	raw := make([]byte, len(words)*2)
	for i, w := range words {
		raw[2*i] = byte(w >> 8)
		raw[2*i+1] = byte(w & 0xFF)
	}
	return raw
}

// wireProcedureContext, wireTaskContext: CBOR document shapes for
// suspending a task to the Repository and resuming it later.
type wireProcedureContext struct {
	Target          wireValue   `cbor:"target"`
	TypeReference   wireValue   `cbor:"typeReference"`
	ProcedureName   string      `cbor:"procedureName"`
	LiteralValues   []wireValue `cbor:"literalValues"`
	VariableValues  []wireValue `cbor:"variableValues"`
	ParameterValues []wireValue `cbor:"parameterValues"`
	Bytecode        []uint16    `cbor:"bytecode"`
	NextAddress     int         `cbor:"nextAddress"`
}

func (p *ProcedureContext) toWireDoc() (wireProcedureContext, error) {
	variables := make([]wireValue, len(p.VariableValues))
	for i, c := range p.VariableValues {
		variables[i] = toWire(c.Value)
	}
	literals := make([]wireValue, len(p.LiteralValues))
	for i, v := range p.LiteralValues {
		literals[i] = toWire(v)
	}
	params := make([]wireValue, len(p.ParameterValues))
	for i, v := range p.ParameterValues {
		params[i] = toWire(v)
	}
	words := make([]uint16, len(p.Bytecode))
	for i, w := range p.Bytecode {
		words[i] = uint16(w)
	}
	return wireProcedureContext{
		Target:          toWire(p.Target),
		TypeReference:   toWire(p.TypeReference),
		ProcedureName:   string(p.ProcedureName),
		LiteralValues:   literals,
		VariableValues:  variables,
		ParameterValues: params,
		Bytecode:        words,
		NextAddress:     p.NextAddress,
	}, nil
}

func fromWireProcedureDoc(w wireProcedureContext) (*ProcedureContext, error) {
	target, err := fromWire(w.Target)
	if err != nil {
		return nil, err
	}
	typeRefVal, err := fromWire(w.TypeReference)
	if err != nil {
		return nil, err
	}
	typeRef, _ := typeRefVal.(Reference)

	literals := make([]Value, len(w.LiteralValues))
	for i, lv := range w.LiteralValues {
		v, err := fromWire(lv)
		if err != nil {
			return nil, err
		}
		literals[i] = v
	}
	variables := make([]*Cell, len(w.VariableValues))
	for i, vv := range w.VariableValues {
		v, err := fromWire(vv)
		if err != nil {
			return nil, err
		}
		variables[i] = &Cell{Value: v}
	}
	params := make([]Value, len(w.ParameterValues))
	for i, pv := range w.ParameterValues {
		v, err := fromWire(pv)
		if err != nil {
			return nil, err
		}
		params[i] = v
	}
	words := make([]Word, len(w.Bytecode))
	for i, x := range w.Bytecode {
		words[i] = Word(x)
	}
	return &ProcedureContext{
		Target:          target,
		TypeReference:   typeRef,
		ProcedureName:   Symbol(w.ProcedureName),
		LiteralValues:   literals,
		VariableValues:  variables,
		ParameterValues: params,
		Bytecode:        words,
		NextAddress:     w.NextAddress,
	}, nil
}

type wireHandlerEntry struct {
	FrameDepth int `cbor:"frameDepth"`
	Address    int `cbor:"address"`
}

// wireFault is the CBOR form of a Fault's kind and message. wireTaskSnapshot
// is the document MarshalTask writes and UnmarshalTask reads back: the
// task's identity, gas/cycle counters, status, and its full
// component/handler/procedure stacks.
type wireFault struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
}

type wireTaskSnapshot struct {
	TaskTag        string                 `cbor:"taskTag"`
	AccountTag     string                 `cbor:"accountTag"`
	AccountBalance int64                  `cbor:"accountBalance"`
	ClockCycles    int64                  `cbor:"clockCycles"`
	Status         int                    `cbor:"status"`
	WaitReason     string                 `cbor:"waitReason,omitempty"`
	ComponentStack []wireValue            `cbor:"componentStack"`
	HandlerStack   []wireHandlerEntry     `cbor:"handlerStack"`
	ProcedureStack []wireProcedureContext `cbor:"procedureStack"`
	Result         *wireValue             `cbor:"result,omitempty"`
	Exception      *wireFault             `cbor:"exception,omitempty"`
}

// MarshalTask encodes a TaskContext as a canonical CBOR snapshot document.
func MarshalTask(t *TaskContext) ([]byte, error) {
	components := make([]wireValue, len(t.ComponentStack))
	for i, v := range t.ComponentStack {
		components[i] = toWire(v)
	}
	handlerEntries := make([]wireHandlerEntry, len(t.HandlerStack))
	for i, h := range t.HandlerStack {
		handlerEntries[i] = wireHandlerEntry{FrameDepth: h.FrameDepth, Address: h.Address}
	}
	procedures := make([]wireProcedureContext, len(t.ProcedureStack))
	for i, frame := range t.ProcedureStack {
		wf, err := frame.toWireDoc()
		if err != nil {
			return nil, err
		}
		procedures[i] = wf
	}
	doc := wireTaskSnapshot{
		TaskTag:        string(t.TaskTag),
		AccountTag:     string(t.AccountTag),
		AccountBalance: t.AccountBalance,
		ClockCycles:    t.ClockCycles,
		Status:         int(t.ProcessorStatus),
		WaitReason:     t.WaitReason,
		ComponentStack: components,
		HandlerStack:   handlerEntries,
		ProcedureStack: procedures,
	}
	if t.Result != nil {
		wv := toWire(t.Result)
		doc.Result = &wv
	}
	if t.Exception != nil {
		doc.Exception = &wireFault{Kind: string(t.Exception.Kind), Message: t.Exception.Message}
	}
	data, err := cborEncMode.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("vm: marshaling task snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalTask decodes a snapshot document produced by MarshalTask.
func UnmarshalTask(data []byte) (*TaskContext, error) {
	var doc wireTaskSnapshot
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("vm: unmarshaling task snapshot: %w", err)
	}
	components := make([]Value, len(doc.ComponentStack))
	for i, wv := range doc.ComponentStack {
		v, err := fromWire(wv)
		if err != nil {
			return nil, err
		}
		components[i] = v
	}
	handlerEntries := make([]HandlerEntry, len(doc.HandlerStack))
	for i, h := range doc.HandlerStack {
		handlerEntries[i] = HandlerEntry{FrameDepth: h.FrameDepth, Address: h.Address}
	}
	procedures := make([]*ProcedureContext, len(doc.ProcedureStack))
	for i, wf := range doc.ProcedureStack {
		frame, err := fromWireProcedureDoc(wf)
		if err != nil {
			return nil, err
		}
		procedures[i] = frame
	}
	task := &TaskContext{
		TaskTag:         DocTag(doc.TaskTag),
		AccountTag:      DocTag(doc.AccountTag),
		AccountBalance:  doc.AccountBalance,
		ClockCycles:     doc.ClockCycles,
		ProcessorStatus: ProcessorStatus(doc.Status),
		WaitReason:      doc.WaitReason,
		ComponentStack:  components,
		HandlerStack:    handlerEntries,
		ProcedureStack:  procedures,
	}
	if doc.Result != nil {
		result, err := fromWire(*doc.Result)
		if err != nil {
			return nil, err
		}
		task.Result = result
	}
	if doc.Exception != nil {
		task.Exception = &Fault{Kind: Kind(doc.Exception.Kind), Message: doc.Exception.Message}
	}
	return task, nil
}

// ExportTask renders a suspended or waiting task as the catalog a
// termination-dispatch event or wait-queue entry carries, per spec.md
// §4.F's "export task" requirement: identity and counters as plain
// fields, plus the full CBOR snapshot (base-16 encoded, matching the
// bytecode persistence convention of §4.C) so a different host can
// resume execution from it with no loss.
func ExportTask(t *TaskContext) (Value, error) {
	snapshot, err := MarshalTask(t)
	if err != nil {
		return nil, err
	}
	c := NewCatalog()
	c.Set(Symbol("taskTag"), DocTag(t.TaskTag))
	c.Set(Symbol("accountTag"), DocTag(t.AccountTag))
	c.Set(Symbol("accountBalance"), NumberFromInt64(t.AccountBalance))
	c.Set(Symbol("clockCycles"), NumberFromInt64(t.ClockCycles))
	c.Set(Symbol("document"), Symbol(hex.EncodeToString(snapshot)))
	return c, nil
}

// CompletionDetail renders a DONE task as the catalog a $completion event
// carries: task tag, account tag, final balance, cycles, and the result
// or exception, per spec.md §4.F.
func CompletionDetail(t *TaskContext) Value {
	c := NewCatalog()
	c.Set(Symbol("taskTag"), DocTag(t.TaskTag))
	c.Set(Symbol("accountTag"), DocTag(t.AccountTag))
	c.Set(Symbol("accountBalance"), NumberFromInt64(t.AccountBalance))
	c.Set(Symbol("clockCycles"), NumberFromInt64(t.ClockCycles))
	if t.Exception != nil {
		c.Set(Symbol("exception"), t.Exception.Value())
	} else if t.Result != nil {
		c.Set(Symbol("result"), t.Result)
	}
	return c
}
