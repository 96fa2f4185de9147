package repository

import (
	"encoding/json"
	"fmt"
	"reflect"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bvm/vm"
)

// typeDocumentSchema and taskDocumentSchema constrain the shape of the
// Type and Task documents a Repository is expected to hold, catching
// malformed documents before they reach the processor rather than failing
// deep inside a LOAD DOCUMENT handler with a confusing type assertion
// error.
//
// chazu-maggie's own go.mod lists cuelang.org/go as a direct dependency
// with no exercising import anywhere in the retrieved source slice; this
// package gives that dependency the validation role CUE is built for.
const typeDocumentSchema = `
tag:            string
procedures: [...{
	name:          string
	literalCount:  int & >=0
	variableCount: int & >=0
	bytecodeWords: [...int]
}]
`

const taskDocumentSchema = `
taskTag:        string
accountTag:     string
accountBalance: int & >=0
`

// SchemaValidator checks a document (the JSON projection of a type or task
// document, or a CBOR task snapshot) against one of the CUE schemas above
// before it is handed to the vm package.
type SchemaValidator struct {
	ctx          *cue.Context
	typeSchema   cue.Value
	taskSchema   cue.Value
}

// NewSchemaValidator compiles both schemas once; compilation errors here
// indicate a bug in the schema source above, not bad input, so they panic
// at construction time rather than threading an error through every call.
func NewSchemaValidator() *SchemaValidator {
	ctx := cuecontext.New()
	typeSchema := ctx.CompileString(typeDocumentSchema)
	if typeSchema.Err() != nil {
		panic(fmt.Sprintf("repository: compiling type document schema: %v", typeSchema.Err()))
	}
	taskSchema := ctx.CompileString(taskDocumentSchema)
	if taskSchema.Err() != nil {
		panic(fmt.Sprintf("repository: compiling task document schema: %v", taskSchema.Err()))
	}
	return &SchemaValidator{ctx: ctx, typeSchema: typeSchema, taskSchema: taskSchema}
}

// ValidateTypeDocument reports whether raw (a JSON encoding of a type
// document) satisfies typeDocumentSchema.
func (s *SchemaValidator) ValidateTypeDocument(raw []byte) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("repository: document is not valid JSON: %w", err)
	}
	// JSON is valid CUE; compiling it keeps integer literals as CUE ints,
	// where json.Unmarshal would turn them into float64.
	return s.validate(s.typeSchema, s.ctx.CompileBytes(raw))
}

// ValidateTaskDocument reports whether raw (a JSON encoding of a task
// document) satisfies taskDocumentSchema.
func (s *SchemaValidator) ValidateTaskDocument(raw []byte) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("repository: document is not valid JSON: %w", err)
	}
	return s.validate(s.taskSchema, s.ctx.CompileBytes(raw))
}

// ValidateTaskSnapshot implements vm.DocumentValidator: it reports
// whether raw (a canonical-CBOR task snapshot, as produced by
// vm.MarshalTask) satisfies taskDocumentSchema. This is the validator
// vm.Processor.Run wires in before exporting a suspended or waiting task.
func (s *SchemaValidator) ValidateTaskSnapshot(raw []byte) error {
	// CUE can only encode maps with string keys, so CBOR maps decode as
	// map[string]any rather than the default map[interface{}]interface{}.
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return fmt.Errorf("repository: building CBOR decoder: %w", err)
	}
	var data any
	if err := dm.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("repository: snapshot is not valid CBOR: %w", err)
	}
	return s.validate(s.taskSchema, s.ctx.Encode(data))
}

func (s *SchemaValidator) validate(schema cue.Value, value cue.Value) error {
	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("repository: document failed schema validation: %w", err)
	}
	return nil
}

// ValueToJSON renders a vm.Value as a single JSON string: templates,
// symbols, and references as their text, and every other kind (lists and
// catalogs included) as its String() form. Lists and catalogs are not
// expanded into JSON arrays or objects.
func ValueToJSON(v vm.Value) ([]byte, error) {
	return json.Marshal(renderJSON(v))
}

func renderJSON(v vm.Value) any {
	switch x := v.(type) {
	case vm.Template:
		return x.String()
	case vm.Symbol:
		return string(x)
	case vm.Reference:
		return x.String()
	default:
		return v.String()
	}
}
