package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bvm/repository"
	"github.com/chazu/bvm/vm"
)

// wireProcedure and wireTypeDocument mirror the shape an external compiler
// would emit: a tag identifying the type, and one entry per named
// procedure giving its literal table and packed bytecode.
type wireProcedure struct {
	Name          string   `cbor:"name"`
	LiteralWords  [][]byte `cbor:"literals,omitempty"` // reserved for non-trivial literal kinds
	LiteralTexts  []string `cbor:"literalTexts,omitempty"`
	NumVariables  int      `cbor:"numVariables"`
	Bytecode      []byte   `cbor:"bytecode"`
}

type wireTypeDocument struct {
	Tag        string          `cbor:"tag"`
	Procedures []wireProcedure `cbor:"procedures"`
}

// typeDocument adapts a decoded type document into vm.ProcedureTable so
// the processor can resolve EXECUTE's procedure index directly against
// it.
type typeDocument struct {
	reference  vm.Reference
	procedures map[string]*vm.ProcedureDefinition
	byIndex    []*vm.ProcedureDefinition
}

// Lookup implements vm.ProcedureTable. The type reference argument is
// ignored: this CLI only ever runs a single loaded type document, so there
// is nothing to dispatch between.
func (d *typeDocument) Lookup(ctx context.Context, typeRef vm.Reference, index int) (*vm.ProcedureDefinition, error) {
	if index < 1 || index > len(d.byIndex) {
		return nil, fmt.Errorf("procedure index %d out of range [1,%d]", index, len(d.byIndex))
	}
	return d.byIndex[index-1], nil
}

// schemaProjection and schemaProcedure mirror the fields
// repository.SchemaValidator's type document schema checks, independent
// of wireTypeDocument's own on-disk shape (byte-packed bytecode,
// literal-text-only literals).
type schemaProjection struct {
	Tag        string            `json:"tag"`
	Procedures []schemaProcedure `json:"procedures"`
}

type schemaProcedure struct {
	Name          string `json:"name"`
	LiteralCount  int    `json:"literalCount"`
	VariableCount int    `json:"variableCount"`
	BytecodeWords []int  `json:"bytecodeWords"`
}

func validateTypeDocument(validator *repository.SchemaValidator, wire wireTypeDocument) error {
	projection := schemaProjection{Tag: wire.Tag}
	for _, wp := range wire.Procedures {
		words := make([]int, len(wp.Bytecode)/2)
		for i := range words {
			words[i] = int(wp.Bytecode[2*i])<<8 | int(wp.Bytecode[2*i+1])
		}
		projection.Procedures = append(projection.Procedures, schemaProcedure{
			Name:          wp.Name,
			LiteralCount:  len(wp.LiteralTexts),
			VariableCount: wp.NumVariables,
			BytecodeWords: words,
		})
	}
	raw, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("projecting type document for validation: %w", err)
	}
	return validator.ValidateTypeDocument(raw)
}

func loadTypeDocument(path string, validator *repository.SchemaValidator) (*typeDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading type document %s: %w", path, err)
	}
	var wire wireTypeDocument
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parsing type document %s: %w", path, err)
	}
	if err := validateTypeDocument(validator, wire); err != nil {
		return nil, fmt.Errorf("type document %s failed schema validation: %w", path, err)
	}

	doc := &typeDocument{
		reference:  vm.Reference{RefTag: wire.Tag, Version: "v1", Digest: "none"},
		procedures: make(map[string]*vm.ProcedureDefinition, len(wire.Procedures)),
	}
	for _, wp := range wire.Procedures {
		bytecode, err := vm.PackBytecode(wp.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("procedure %s: %w", wp.Name, err)
		}
		literals := make([]vm.Value, len(wp.LiteralTexts))
		for i, text := range wp.LiteralTexts {
			literals[i] = vm.Symbol(text)
		}
		def := &vm.ProcedureDefinition{
			Name:          vm.Symbol(wp.Name),
			Bytecode:      bytecode,
			LiteralValues: literals,
			NumVariables:  wp.NumVariables,
		}
		doc.procedures[wp.Name] = def
		doc.byIndex = append(doc.byIndex, def)
	}
	return doc, nil
}
