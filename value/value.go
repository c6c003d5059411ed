// Package value defines the runtime value system shared by the compiler,
// interpreter, and code cache.
//
// A Value is a tagged union: every concrete type below implements the Value
// interface, and the interpreter type-switches on it rather than storing a
// separate type tag byte. This mirrors the teacher's object package, widened
// to cover floats, the undefined/null split, ordered hashes, generators, and
// the atomic strings used for property and identifier names.
package value

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/dr8co/kongvm/ast"
	"github.com/dr8co/kongvm/bytecode"
)

//nolint:revive
const (
	IntegerType          = "INTEGER"
	FloatType            = "FLOAT"
	BooleanType          = "BOOLEAN"
	StringType           = "STRING"
	NullType             = "NULL"
	UndefinedType        = "UNDEFINED"
	ReturnValueType      = "RETURN_VALUE"
	ErrorType            = "ERROR"
	FunctionType         = "FUNCTION"
	BuiltinType          = "BUILTIN"
	ArrayType            = "ARRAY"
	HashType             = "HASH"
	CompiledFunctionType = "COMPILED_FUNCTION"
	ClosureType          = "CLOSURE"
	GeneratorType        = "GENERATOR"
)

// Type identifies the concrete kind of a Value.
type Type string

// Value is the interface implemented by every runtime value.
type Value interface {
	Type() Type
	Inspect() string
}

// Integer is a signed 64-bit integer value.
type Integer struct{ Value int64 }

func (i *Integer) Type() Type      { return IntegerType }
func (i *Integer) Inspect() string { return strconv.FormatInt(i.Value, 10) }

// Float is a 64-bit floating point value.
type Float struct{ Value float64 }

func (f *Float) Type() Type      { return FloatType }
func (f *Float) Inspect() string { return strconv.FormatFloat(f.Value, 'g', -1, 64) }

// Boolean is a true/false value.
type Boolean struct{ Value bool }

func (b *Boolean) Type() Type      { return BooleanType }
func (b *Boolean) Inspect() string { return strconv.FormatBool(b.Value) }

// String is a runtime string value. The hash key is cached lazily, mirroring
// the teacher's object.String.
type String struct {
	Value   string
	hashKey *HashKey
}

func (s *String) Type() Type      { return StringType }
func (s *String) Inspect() string { return s.Value }

// Null is the singleton "null" value.
type Null struct{}

func (n *Null) Type() Type      { return NullType }
func (n *Null) Inspect() string { return "null" }

// Undefined is the singleton "undefined" value, distinct from Null.
type Undefined struct{}

func (u *Undefined) Type() Type      { return UndefinedType }
func (u *Undefined) Inspect() string { return "undefined" }

var (
	// TheNull and TheUndefined are shared singleton instances, avoiding
	// repeated allocation the way the teacher reuses true/false.
	TheNull      = &Null{}
	TheUndefined = &Undefined{}
	True         = &Boolean{Value: true}
	False        = &Boolean{Value: false}
)

// NativeBool returns True or False for b without allocating.
func NativeBool(b bool) *Boolean {
	if b {
		return True
	}
	return False
}

// ReturnValue wraps a value being propagated out of a function by "return".
type ReturnValue struct{ Value Value }

func (rv *ReturnValue) Type() Type      { return ReturnValueType }
func (rv *ReturnValue) Inspect() string { return rv.Value.Inspect() }

// Error is a thrown runtime error. Unlike the teacher's Error, this is not
// just a formatting helper: Error values flow through the VM's Completion
// unwinder and are what a "throw" statement or an internal TypeError
// produces.
type Error struct {
	Message string
	Stack   []string
}

func (e *Error) Type() Type      { return ErrorType }
func (e *Error) Inspect() string { return "Error: " + e.Message }

// Function is an uncompiled, interpreter-only function value. The compiler
// never produces these; they exist so builtins can accept callback
// arguments expressed in the host-visible AST representation if needed.
type Function struct {
	Parameters []*ast.Identifier
	Body       *ast.BlockStatement
}

func (f *Function) Type() Type { return FunctionType }
func (f *Function) Inspect() string {
	var out strings.Builder
	params := make([]string, 0, len(f.Parameters))
	for _, p := range f.Parameters {
		params = append(params, p.String())
	}
	out.WriteString("fn(")
	out.WriteString(strings.Join(params, ", "))
	out.WriteString(") {\n")
	out.WriteString(f.Body.String())
	out.WriteString("\n}")
	return out.String()
}

// BuiltinFunction is the Go function backing a Builtin value.
type BuiltinFunction func(args ...Value) Value

// Builtin wraps a native Go function as a callable runtime value.
type Builtin struct {
	Name string
	Fn   BuiltinFunction
}

func (b *Builtin) Type() Type      { return BuiltinType }
func (b *Builtin) Inspect() string { return "builtin function " + b.Name }

// Array is an ordered, dense sequence of values.
type Array struct{ Elements []Value }

func (a *Array) Type() Type { return ArrayType }
func (a *Array) Inspect() string {
	elems := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		elems[i] = e.Inspect()
	}
	return "[" + strings.Join(elems, ", ") + "]"
}

// HashKey identifies a hashable value for use as a Hash key.
type HashKey struct {
	Type  Type
	Value uint64
}

func (b *Boolean) HashKey() HashKey {
	var v uint64
	if b.Value {
		v = 1
	}
	return HashKey{Type: b.Type(), Value: v}
}

func (i *Integer) HashKey() HashKey {
	//nolint:gosec
	return HashKey{Type: i.Type(), Value: uint64(i.Value)}
}

func (s *String) HashKey() HashKey {
	if s.hashKey != nil {
		return *s.hashKey
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.Value))
	key := HashKey{Type: s.Type(), Value: h.Sum64()}
	s.hashKey = &key
	return key
}

// Hashable is implemented by values usable as Hash keys.
type Hashable interface {
	HashKey() HashKey
}

// HashPair is one key/value entry of a Hash.
type HashPair struct {
	Key   Value
	Value Value
}

// Hash is a property map. Order records insertion order of the HashKeys so
// that "for...in" enumeration and Inspect are deterministic, matching the
// interpreter's CreateEnumerateObject semantics.
type Hash struct {
	Pairs map[HashKey]HashPair
	Order []HashKey
}

func NewHash() *Hash { return &Hash{Pairs: make(map[HashKey]HashPair)} }

// Set inserts or overwrites key, preserving first-insertion order.
func (h *Hash) Set(key Value, hashable Hashable, val Value) {
	hk := hashable.HashKey()
	if _, exists := h.Pairs[hk]; !exists {
		h.Order = append(h.Order, hk)
	}
	h.Pairs[hk] = HashPair{Key: key, Value: val}
}

func (h *Hash) Type() Type { return HashType }
func (h *Hash) Inspect() string {
	pairs := make([]string, 0, len(h.Order))
	for _, k := range h.Order {
		p := h.Pairs[k]
		pairs = append(pairs, fmt.Sprintf("%s: %s", p.Key.Inspect(), p.Value.Inspect()))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

// CompiledFunction is the output of compiling a single CodeBlock: the
// bytecode block carrying its instructions, literal pools, inline-cache
// slots, and the register-file/parameter counts the VM needs to set up a
// Frame for it.
type CompiledFunction struct {
	Block *bytecode.Block
}

func (c *CompiledFunction) Type() Type      { return CompiledFunctionType }
func (c *CompiledFunction) Inspect() string { return fmt.Sprintf("CompiledFunction[%p]", c) }

func (c *CompiledFunction) Instructions() bytecode.Instructions { return c.Block.Instructions }
func (c *CompiledFunction) NumLocals() int                      { return c.Block.NumLocals }
func (c *CompiledFunction) NumParameters() int                  { return c.Block.NumParameters }
func (c *CompiledFunction) IsGenerator() bool                   { return c.Block.IsGenerator }
func (c *CompiledFunction) Name() string                        { return c.Block.Name }

// Closure pairs a CompiledFunction with the free variables captured from
// its defining environment.
type Closure struct {
	Fn   *CompiledFunction
	Free []Value
}

func (c *Closure) Type() Type      { return ClosureType }
func (c *Closure) Inspect() string { return fmt.Sprintf("Closure[%p]", c) }

// Generator is the suspended-execution handle produced by calling a
// generator function. The VM drives it by sending resume values on In and
// reading yielded or final values from Out; see package vm for the
// goroutine-based coroutine that backs this.
type Generator struct {
	Closure *Closure
	In      chan Value
	Out     chan GeneratorResult
	done    bool
}

func NewGenerator(cl *Closure) *Generator {
	return &Generator{Closure: cl, In: make(chan Value), Out: make(chan GeneratorResult)}
}

func (g *Generator) Done() bool     { return g.done }
func (g *Generator) MarkDone()      { g.done = true }
func (g *Generator) Type() Type     { return GeneratorType }
func (g *Generator) Inspect() string { return fmt.Sprintf("Generator[%p]", g) }

// GeneratorResult is one message from a Generator's Out channel: either a
// yielded value (Done == false) or the generator's final return value
// (Done == true).
type GeneratorResult struct {
	Value Value
	Done  bool
	Err   *Error
}

// IsTruthy implements the language's truthiness rules for conditionals.
func IsTruthy(v Value) bool {
	switch v := v.(type) {
	case *Boolean:
		return v.Value
	case *Null:
		return false
	case *Undefined:
		return false
	case *Integer:
		return v.Value != 0
	case *Float:
		return v.Value != 0
	case *String:
		return v.Value != ""
	default:
		return true
	}
}
