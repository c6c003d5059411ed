package bytecode

import "fmt"

// InlineCacheKind distinguishes the two families of inline cache slot a
// Block can reserve: global-variable access and property access. The
// compiler reserves GlobalVariableCache slots for global loads and stores;
// it never reserves PropertyCache slots.
type InlineCacheKind int

const (
	GlobalVariableCache InlineCacheKind = iota
	PropertyCache
)

// InlineCacheSlot is one reserved cache entry. It holds only its Kind and
// the name it refers to; nothing fills in a cached result. The interpreter
// records the global generation it last saw but always resolves the name
// in the globals table.
type InlineCacheSlot struct {
	Kind InlineCacheKind
	// NameIndex is the StringPool index of the accessed global variable or
	// property name, filled in at compile time so the interpreter knows
	// what to resolve on a cache miss.
	NameIndex int
}

// Block is one compiled function or program body: its instruction stream,
// its three literal pools, its reserved inline-cache slots, and the
// metadata the VM needs to set up a Frame for it.
//
// The three literal pools mirror the teacher's single constant pool, split
// the way the spec's CodeBlock separates numeral, string, and "other"
// (nested function/array/hash template) literals so the code cache can
// apply a different relocation rule to each.
type Block struct {
	Instructions Instructions

	NumeralPool []float64
	StringPool  []string
	OtherPool   []Value

	InlineCaches []InlineCacheSlot

	NumLocals     int
	NumParameters int
	NumBlockSlots int
	IsGenerator   bool
	Name          string
}

// Value is the minimal interface OtherPool entries satisfy: either a
// nested *Block (for function literal constants) or anything else the
// compiler decided belongs in the "other" pool. Kept narrow and defined in
// this package (rather than importing package value) to avoid a dependency
// cycle, since package value imports package bytecode for CompiledFunction.
type Value interface {
	bytecodeLiteral()
}

// FunctionLiteralValue wraps a nested Block as an OtherPool entry.
type FunctionLiteralValue struct{ Block *Block }

func (FunctionLiteralValue) bytecodeLiteral() {}

// NewBlock creates an empty Block ready to receive instructions.
func NewBlock(name string) *Block {
	return &Block{Name: name}
}

// AddNumeral interns f into the numeral pool and returns its index.
func (b *Block) AddNumeral(f float64) int {
	for i, v := range b.NumeralPool {
		if v == f {
			return i
		}
	}
	b.NumeralPool = append(b.NumeralPool, f)
	return len(b.NumeralPool) - 1
}

// AddString interns s into the string pool and returns its index.
func (b *Block) AddString(s string) int {
	for i, v := range b.StringPool {
		if v == s {
			return i
		}
	}
	b.StringPool = append(b.StringPool, s)
	return len(b.StringPool) - 1
}

// AddOther appends v to the other pool and returns its index.
func (b *Block) AddOther(v Value) int {
	b.OtherPool = append(b.OtherPool, v)
	return len(b.OtherPool) - 1
}

// ReserveInlineCache appends a new, empty inline-cache slot naming
// nameIndex (a StringPool index) and returns its index for the compiler to
// encode as an operand.
func (b *Block) ReserveInlineCache(kind InlineCacheKind, nameIndex int) int {
	b.InlineCaches = append(b.InlineCaches, InlineCacheSlot{Kind: kind, NameIndex: nameIndex})
	return len(b.InlineCaches) - 1
}

// Validate checks the structural invariants the interpreter's dispatch
// loop relies on without re-checking on every instruction:
//
//  1. every jump target (OpJump, OpJumpNotTruthy operand) lands on an
//     instruction boundary, never mid-instruction or past the end.
//  2. every instruction's operands fit in the instruction stream, and the
//     pool or cache index operand of OpConstant, OpConstantString,
//     OpConstantFunction, OpLoadByName/OpStoreByName, and the global and
//     property cache opcodes is within the bounds of its pool.
//  3. the register file is large enough for every OpGetLocal/OpSetLocal
//     operand seen.
func (b *Block) Validate() error {
	boundaries := make(map[int]bool)
	i := 0
	for i < len(b.Instructions) {
		boundaries[i] = true
		def, err := Lookup(b.Instructions[i])
		if err != nil {
			return fmt.Errorf("block %q: %w", b.Name, err)
		}
		width := 0
		for _, w := range def.OperandWidths {
			width += w
		}
		if i+1+width > len(b.Instructions) {
			return fmt.Errorf("block %q at %d: %s operands run past the end of the instruction stream", b.Name, i, def.Name)
		}
		operands, read := ReadOperands(def, b.Instructions[i+1:])
		if err := b.validateOperands(Opcode(b.Instructions[i]), operands); err != nil {
			return fmt.Errorf("block %q at %d: %w", b.Name, i, err)
		}
		i += read + 1
	}
	boundaries[len(b.Instructions)] = true

	i = 0
	for i < len(b.Instructions) {
		op := Opcode(b.Instructions[i])
		def, _ := Lookup(b.Instructions[i])
		operands, read := ReadOperands(def, b.Instructions[i+1:])
		if op == OpJump || op == OpJumpNotTruthy {
			if !boundaries[operands[0]] {
				return fmt.Errorf("block %q at %d: jump target %d is not an instruction boundary", b.Name, i, operands[0])
			}
		}
		i += read + 1
	}
	return nil
}

func (b *Block) validateOperands(op Opcode, operands []int) error {
	switch op {
	case OpConstant:
		if operands[0] < 0 || operands[0] >= len(b.NumeralPool) {
			return fmt.Errorf("numeral pool index %d out of range", operands[0])
		}
	case OpConstantString:
		if operands[0] < 0 || operands[0] >= len(b.StringPool) {
			return fmt.Errorf("string pool index %d out of range", operands[0])
		}
	case OpConstantFunction:
		if operands[0] < 0 || operands[0] >= len(b.OtherPool) {
			return fmt.Errorf("other pool index %d out of range", operands[0])
		}
	case OpGetLocal, OpSetLocal:
		if operands[0] < 0 || operands[0] >= b.NumLocals {
			return fmt.Errorf("register index %d out of range (NumLocals=%d)", operands[0], b.NumLocals)
		}
	case OpLoadByName, OpStoreByName:
		if operands[0] < 0 || operands[0] >= len(b.StringPool) {
			return fmt.Errorf("string pool index %d out of range", operands[0])
		}
	case OpGetGlobal, OpSetGlobal, OpGetObjectPreComputedCase, OpSetObjectPreComputedCase:
		if operands[0] < 0 || operands[0] >= len(b.InlineCaches) {
			return fmt.Errorf("inline cache index %d out of range", operands[0])
		}
	}
	return nil
}
