package vm

import (
	"fmt"
	"math/big"
)

// Value is the abstract domain of values that live on the component stack:
// numbers, symbols, templates, references, catalogs, lists, and code.
// Unlike the teacher's NaN-boxed float64 encoding (vm/value.go in
// chazu-maggie, which only needs to carry numbers/objects/symbols/blocks),
// the BVM value domain needs arbitrarily-sized References and Catalogs, so
// this is a tagged interface rather than a packed 64-bit word; spec.md §4.B
// asks only for the *capability*, not a specific encoding.
type Value interface {
	// Tag identifies which concrete kind this value is.
	Tag() Tag
	// String renders the value using the platform's literal syntax.
	String() string
}

// Tag enumerates the concrete kinds in the Value domain.
type Tag int

const (
	TagTemplate Tag = iota
	TagNumber
	TagSymbol
	TagProbability
	TagReference
	TagTag
	TagList
	TagCatalog
	TagCode
)

// ---------------------------------------------------------------------------
// Template: NONE / TRUE / FALSE
// ---------------------------------------------------------------------------

// Template is the three-valued singleton domain used for booleans and the
// absent value.
type Template int

const (
	None Template = iota
	True
	False
)

func (t Template) Tag() Tag { return TagTemplate }

func (t Template) String() string {
	switch t {
	case None:
		return "none"
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "???"
	}
}

// ---------------------------------------------------------------------------
// Number: arbitrary-precision complex numbers
// ---------------------------------------------------------------------------

// Number holds a complex value with big.Float real/imaginary parts, so
// integers, floats, and complex literals all share one representation.
type Number struct {
	Real big.Float
	Imag big.Float
}

func (n Number) Tag() Tag { return TagNumber }

func (n Number) String() string {
	if n.Imag.Sign() == 0 {
		return n.Real.Text('g', 10)
	}
	sign := "+"
	if n.Imag.Sign() < 0 {
		sign = ""
	}
	return fmt.Sprintf("%s%s%si", n.Real.Text('g', 10), sign, n.Imag.Text('g', 10))
}

// NumberFromInt64 builds a real Number from an int64.
func NumberFromInt64(n int64) Number {
	var r Number
	r.Real.SetInt64(n)
	return r
}

// NumberFromLiteral parses a real literal string ("1", "1.5") into a Number
// with a zero imaginary part. Imaginary and complex literals ("2i",
// "1+2i") are rejected with an error. Parsing is minimal: the procedure compiler (out
// of scope per spec.md §1) is expected to have already validated literal
// syntax before it reaches the bytecode's literal table.
func NumberFromLiteral(s string) (Number, error) {
	var n Number
	if _, ok := n.Real.SetString(s); !ok {
		return Number{}, fmt.Errorf("vm: invalid number literal %q", s)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Symbol
// ---------------------------------------------------------------------------

// Symbol is an identifier value, e.g. $hello.
type Symbol string

func (s Symbol) Tag() Tag { return TagSymbol }

func (s Symbol) String() string { return "$" + string(s) }

// ---------------------------------------------------------------------------
// Probability
// ---------------------------------------------------------------------------

// Probability is a value in [0.0, 1.0] used for probabilistic branching.
type Probability float64

func (p Probability) Tag() Tag { return TagProbability }

func (p Probability) String() string { return fmt.Sprintf("%g?", float64(p)) }

// ---------------------------------------------------------------------------
// Reference: a citation into the external content-addressed repository
// ---------------------------------------------------------------------------

// Reference is a textual citation: a tag, a version, and an optional
// content digest. A digest of "none" identifies a mutable draft (fetched
// by tag+version); any other digest identifies an immutable committed
// document (fetched by content hash), per spec.md §4.E.
type Reference struct {
	RefTag  string
	Version string
	Digest  string
}

func (r Reference) Tag() Tag { return TagReference }

// IsDraft reports whether this reference identifies a draft document.
func (r Reference) IsDraft() bool { return r.Digest == "" || r.Digest == "none" }

func (r Reference) String() string {
	if r.IsDraft() {
		return fmt.Sprintf("<bali:%s/%s>", r.RefTag, r.Version)
	}
	return fmt.Sprintf("<bali:%s/%s#%s>", r.RefTag, r.Version, r.Digest)
}

// ---------------------------------------------------------------------------
// DocTag: a unique, opaque document/task/account identity
// ---------------------------------------------------------------------------

// DocTag is the "tag" primitive of spec.md §3: an opaque, globally unique
// identity (task_tag, account_tag, and the tag half of a Reference are all
// DocTags rendered as their string form once embedded in a Reference).
type DocTag string

func (t DocTag) Tag() Tag { return TagTag }

func (t DocTag) String() string { return "#" + string(t) }

// ---------------------------------------------------------------------------
// List and Catalog
// ---------------------------------------------------------------------------

// List is an ordered, 1-indexed sequence of values.
type List struct {
	items []Value
}

func NewList(items ...Value) *List {
	return &List{items: append([]Value(nil), items...)}
}

func (l *List) Tag() Tag { return TagList }

func (l *List) Size() int { return len(l.items) }

// Get returns the 1-based indexed item.
func (l *List) Get(index int) (Value, error) {
	if index < 1 || index > len(l.items) {
		return nil, fmt.Errorf("vm: list index %d out of range [1,%d]", index, len(l.items))
	}
	return l.items[index-1], nil
}

func (l *List) Append(v Value) { l.items = append(l.items, v) }

func (l *List) Items() []Value { return l.items }

func (l *List) String() string {
	s := "["
	for i, v := range l.items {
		if i > 0 {
			s += ", "
		}
		s += v.String()
	}
	return s + "]"
}

// Catalog is an ordered key->value association list, keyed by Value.
type Catalog struct {
	keys   []Value
	values []Value
}

func NewCatalog() *Catalog { return &Catalog{} }

func (c *Catalog) Tag() Tag { return TagCatalog }

func (c *Catalog) Size() int { return len(c.keys) }

// Get looks up a value by key using Equal semantics.
func (c *Catalog) Get(key Value) (Value, bool) {
	for i, k := range c.keys {
		if Equal(k, key) {
			return c.values[i], true
		}
	}
	return nil, false
}

// Set inserts or updates the association for key.
func (c *Catalog) Set(key, value Value) {
	for i, k := range c.keys {
		if Equal(k, key) {
			c.values[i] = value
			return
		}
	}
	c.keys = append(c.keys, key)
	c.values = append(c.values, value)
}

func (c *Catalog) Keys() []Value { return c.keys }

func (c *Catalog) String() string {
	s := "["
	for i, k := range c.keys {
		if i > 0 {
			s += ", "
		}
		s += k.String() + ": " + c.values[i].String()
	}
	return s + "]"
}

// ---------------------------------------------------------------------------
// Code: an already-parsed procedure body pushed by PUSH CODE
// ---------------------------------------------------------------------------

// Code wraps a parsed procedure body. The VM never interprets its
// contents directly -- it is opaque payload produced by the external
// compiler/assembler and consumed again only by EXECUTE-family handlers
// that expect a Reference, or by intrinsics that accept code blocks.
type Code struct {
	Bytecode []Word
	Source   string
}

func (c *Code) Tag() Tag { return TagCode }

func (c *Code) String() string { return fmt.Sprintf("{code: %d words}", len(c.Bytecode)) }

// ---------------------------------------------------------------------------
// Total order and equality
// ---------------------------------------------------------------------------

// Equal reports whether a and b are the same value. Templates and symbols
// compare by identity/value; numbers compare numerically; references,
// lists, catalogs, and code compare structurally.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Tag() != b.Tag() {
		return false
	}
	switch av := a.(type) {
	case Template:
		return av == b.(Template)
	case Number:
		bv := b.(Number)
		return av.Real.Cmp(&bv.Real) == 0 && av.Imag.Cmp(&bv.Imag) == 0
	case Symbol:
		return av == b.(Symbol)
	case Probability:
		return av == b.(Probability)
	case Reference:
		bv := b.(Reference)
		return av == bv
	case DocTag:
		return av == b.(DocTag)
	case *List:
		bv := b.(*List)
		if len(av.items) != len(bv.items) {
			return false
		}
		for i := range av.items {
			if !Equal(av.items[i], bv.items[i]) {
				return false
			}
		}
		return true
	case *Catalog:
		bv := b.(*Catalog)
		if len(av.keys) != len(bv.keys) {
			return false
		}
		for i, k := range av.keys {
			v, ok := bv.Get(k)
			if !ok || !Equal(av.values[i], v) {
				return false
			}
		}
		return true
	case *Code:
		bv := b.(*Code)
		if av.Source != bv.Source || len(av.Bytecode) != len(bv.Bytecode) {
			return false
		}
		for i := range av.Bytecode {
			if av.Bytecode[i] != bv.Bytecode[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Cmp produces a total order over values of the same tag: -1, 0, or +1.
// Ordering across different tags falls back to comparing the Tag enum, so
// Cmp is total over the whole domain even though it carries no semantic
// meaning there.
func Cmp(a, b Value) int {
	if a.Tag() != b.Tag() {
		if a.Tag() < b.Tag() {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case Template:
		bv := b.(Template)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case Number:
		bv := b.(Number)
		if c := av.Real.Cmp(&bv.Real); c != 0 {
			return c
		}
		return av.Imag.Cmp(&bv.Imag)
	case Symbol:
		bv := b.(Symbol)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case Probability:
		bv := b.(Probability)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case Reference:
		bv := b.(Reference)
		return compareStrings(av.String(), bv.String())
	case DocTag:
		bv := b.(DocTag)
		return compareStrings(string(av), string(bv))
	case *List:
		bv := b.(*List)
		return compareStrings(av.String(), bv.String())
	case *Catalog:
		bv := b.(*Catalog)
		return compareStrings(av.String(), bv.String())
	default:
		return compareStrings(a.String(), b.String())
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
