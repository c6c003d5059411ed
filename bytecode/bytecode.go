// Package bytecode defines the instruction set emitted by package compiler
// and executed by package vm.
//
// It generalizes the teacher's code package: the same Make/Lookup/
// ReadOperands shape, widened with the opcodes needed for block-scoped
// bindings, try/catch/finally, for-in/for-of, generators, and inline
// caches. Instructions remain a flat byte slice; a Block additionally
// carries the three literal pools and the flags the code cache needs to
// serialize deterministically.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instructions is a flat encoded instruction stream.
type Instructions []byte

// Opcode identifies one instruction.
type Opcode byte

//nolint:revive
const (
	OpConstant Opcode = iota
	// OpConstantString pushes a literal from the string pool.
	OpConstantString
	// OpConstantFunction would push a nested function template from the
	// other pool as a bare, non-closing value. OpClosure already reads its
	// function template directly from the other pool by index, so the
	// compiler never needs a separate instruction to load one onto the
	// stack first; kept defined for a disassembler encountering it and for
	// symmetry with OpConstant/OpConstantString, but never emitted.
	OpConstantFunction
	OpAdd
	OpPop
	OpSub
	OpMul
	OpDiv
	OpMod
	OpTrue
	OpFalse
	OpEqual
	OpNotEqual
	OpGreaterThan
	OpMinus
	OpBang
	OpJumpNotTruthy
	OpJump
	OpNull
	OpUndefined

	// OpGetGlobal and OpSetGlobal access a named global binding through an
	// inline-cache slot: the operand indexes into the Block's inline-cache
	// table rather than directly into a global-variable array, so the
	// first access resolves the binding once and later accesses reuse the
	// cached generation check (spec §4.3 "Global variable access").
	OpGetGlobal
	OpSetGlobal

	OpArray
	OpHash
	OpIndex
	OpCall
	OpReturnValue
	OpReturn
	OpGetLocal
	OpSetLocal
	OpGetBuiltin
	OpClosure
	OpGetFree
	OpCurrentClosure

	// OpGetBlockLocal and OpSetBlockLocal access a let/const binding in the
	// current function's block-variable storage at [block_offset:2,
	// slot:1].
	OpGetBlockLocal
	OpSetBlockLocal

	// OpLoadByName and OpStoreByName perform a name-based lookup through
	// the current lexical Environment chain, used whenever a CodeBlock (or
	// an ancestor) cannot use indexed variable storage because of eval or
	// with.
	OpLoadByName
	OpStoreByName

	// OpGetObjectPreComputedCase and OpSetObjectPreComputedCase access a
	// property using an inline cache keyed by the accessed Hash's
	// identity, analogous to a polymorphic inline cache over shapes.
	OpGetObjectPreComputedCase
	OpSetObjectPreComputedCase

	// OpTryOperation begins a protected region; its operands are the
	// catch and finally entry points (0 meaning absent), installed on the
	// VM's handler stack until a matching OpPopTryHandler or an unwind
	// consumes it.
	OpTryOperation
	// OpPopTryHandler removes the most recently installed try handler
	// after its guarded region completes normally.
	OpPopTryHandler
	// OpJumpComplexCase is reserved and never emitted: a break, continue or
	// return that leaves a try with a finally gets the finally body compiled
	// inline before its jump (compiler.runEnclosingFinally).
	OpJumpComplexCase
	// OpThrow pops a value and raises it as the active exception.
	OpThrow
	// OpFinallyEnd marks the end of a finally block. If the frame has a
	// pending control record (an exception that reached this finally with
	// no catch of its own), execution resumes unwinding that record;
	// otherwise it is a no-op and execution falls through.
	OpFinallyEnd

	// OpCreateEnumerateObject pops an object and pushes an enumerator over
	// its own enumerable keys, snapshotted at creation time.
	OpCreateEnumerateObject
	// OpCheckLastEnumerateKey pops an enumerator and pushes a boolean:
	// true if at least one key remains.
	OpCheckLastEnumerateKey
	// OpGetEnumerateKey pops an enumerator and pushes the next key,
	// advancing the enumerator.
	OpGetEnumerateKey

	// OpGetIterator pops an iterable and pushes its iterator.
	OpGetIterator
	// OpIteratorStep pops an iterator and pushes (value, hasMore): value
	// is Undefined when hasMore is false.
	OpIteratorStep
	// OpIteratorClose pops an iterator and releases any resources it
	// holds. The compiler does not emit it: a for-of left by break, return
	// or throw leaves its iterator open.
	OpIteratorClose

	// OpEnterWith pops an object and pushes a new object-with environment
	// record onto the current frame's environment chain.
	OpEnterWith
	// OpLeaveWith pops the current frame's innermost environment record.
	OpLeaveWith

	// OpBlockOperation enters a new let/const block scope; its operand is
	// the BlockInfo's offset into the current function's block-variable
	// storage.
	OpBlockOperation
	// OpReplaceBlockLexicalEnvironmentOperation leaves one block's lexical
	// environment and enters a sibling's, reusing storage the way a for
	// loop's body rebinds its let-declared loop variable each iteration.
	OpReplaceBlockLexicalEnvironmentOperation

	// OpExecutionResume is reserved; the compiler never emits it and the
	// interpreter does not execute it.
	OpExecutionResume
	// OpYield is emitted for every yield: it pops the value, hands it to the
	// generator's caller, suspends, and on resumption pushes the value passed
	// to next(). yield* is compiled to a GetIterator/IteratorStep loop around
	// OpYield.
	OpYield

	// OpBreakpoint is emitted for a "debugger;" statement. The
	// interpreter treats it as a no-op unless a debugger is attached.
	OpBreakpoint
)

// Definition names an opcode and the byte width of each of its operands.
type Definition struct {
	Name          string
	OperandWidths []int
}

var definitions = map[Opcode]*Definition{
	OpConstant:                                 {"OpConstant", []int{2}},
	OpConstantString:                           {"OpConstantString", []int{2}},
	OpConstantFunction:                         {"OpConstantFunction", []int{2}},
	OpAdd:                                      {"OpAdd", []int{}},
	OpPop:                                      {"OpPop", []int{}},
	OpSub:                                      {"OpSub", []int{}},
	OpMul:                                      {"OpMul", []int{}},
	OpDiv:                                      {"OpDiv", []int{}},
	OpMod:                                      {"OpMod", []int{}},
	OpTrue:                                     {"OpTrue", []int{}},
	OpFalse:                                    {"OpFalse", []int{}},
	OpEqual:                                    {"OpEqual", []int{}},
	OpNotEqual:                                 {"OpNotEqual", []int{}},
	OpGreaterThan:                              {"OpGreaterThan", []int{}},
	OpMinus:                                    {"OpMinus", []int{}},
	OpBang:                                     {"OpBang", []int{}},
	OpJumpNotTruthy:                            {"OpJumpNotTruthy", []int{2}},
	OpJump:                                     {"OpJump", []int{2}},
	OpNull:                                     {"OpNull", []int{}},
	OpUndefined:                                {"OpUndefined", []int{}},
	OpGetGlobal:                                {"OpGetGlobal", []int{2}},
	OpSetGlobal:                                {"OpSetGlobal", []int{2}},
	OpArray:                                    {"OpArray", []int{2}},
	OpHash:                                     {"OpHash", []int{2}},
	OpIndex:                                    {"OpIndex", []int{}},
	OpCall:                                     {"OpCall", []int{1}},
	OpReturnValue:                              {"OpReturnValue", []int{}},
	OpReturn:                                   {"OpReturn", []int{}},
	OpGetLocal:                                 {"OpGetLocal", []int{1}},
	OpSetLocal:                                 {"OpSetLocal", []int{1}},
	OpGetBuiltin:                               {"OpGetBuiltin", []int{1}},
	OpClosure:                                  {"OpClosure", []int{2, 1}},
	OpGetFree:                                  {"OpGetFree", []int{1}},
	OpCurrentClosure:                           {"OpCurrentClosure", []int{}},
	OpGetBlockLocal:                            {"OpGetBlockLocal", []int{2, 1}},
	OpSetBlockLocal:                            {"OpSetBlockLocal", []int{2, 1}},
	OpLoadByName:                               {"OpLoadByName", []int{2}},
	OpStoreByName:                              {"OpStoreByName", []int{2}},
	OpGetObjectPreComputedCase:                 {"OpGetObjectPreComputedCase", []int{2}},
	OpSetObjectPreComputedCase:                 {"OpSetObjectPreComputedCase", []int{2}},
	OpTryOperation:                             {"OpTryOperation", []int{2, 2}},
	OpPopTryHandler:                            {"OpPopTryHandler", []int{}},
	OpJumpComplexCase:                          {"OpJumpComplexCase", []int{}},
	OpThrow:                                    {"OpThrow", []int{}},
	OpFinallyEnd:                               {"OpFinallyEnd", []int{}},
	OpCreateEnumerateObject:                    {"OpCreateEnumerateObject", []int{}},
	OpCheckLastEnumerateKey:                    {"OpCheckLastEnumerateKey", []int{}},
	OpGetEnumerateKey:                          {"OpGetEnumerateKey", []int{}},
	OpGetIterator:                              {"OpGetIterator", []int{}},
	OpIteratorStep:                             {"OpIteratorStep", []int{}},
	OpIteratorClose:                            {"OpIteratorClose", []int{}},
	OpEnterWith:                                {"OpEnterWith", []int{}},
	OpLeaveWith:                                {"OpLeaveWith", []int{}},
	OpBlockOperation:                           {"OpBlockOperation", []int{2}},
	OpReplaceBlockLexicalEnvironmentOperation:  {"OpReplaceBlockLexicalEnvironmentOperation", []int{2}},
	OpExecutionResume:                          {"OpExecutionResume", []int{}},
	OpYield:                                    {"OpYield", []int{}},
	OpBreakpoint:                               {"OpBreakpoint", []int{}},
}

// Lookup returns the Definition for op.
func Lookup(op byte) (*Definition, error) {
	def, ok := definitions[Opcode(op)]
	if !ok {
		return nil, fmt.Errorf("opcode %d undefined", op)
	}
	return def, nil
}

// Make encodes op and its operands into a single instruction.
func Make(op Opcode, operands ...int) []byte {
	def, ok := definitions[op]
	if !ok {
		return []byte{}
	}
	instructionLen := 1
	for _, w := range def.OperandWidths {
		instructionLen += w
	}
	instruction := make([]byte, instructionLen)
	instruction[0] = byte(op)
	offset := 1
	for i, operand := range operands {
		width := def.OperandWidths[i]
		switch width {
		case 1:
			instruction[offset] = byte(operand)
		case 2:
			binary.BigEndian.PutUint16(instruction[offset:], uint16(operand))
		}
		offset += width
	}
	return instruction
}

// String renders ins as a human-readable disassembly, one instruction per
// line, in the same "%04d OpName operands" shape the teacher's
// Instructions.String used.
func (ins Instructions) String() string {
	var out strings.Builder
	i := 0
	for i < len(ins) {
		def, err := Lookup(ins[i])
		if err != nil {
			_, _ = fmt.Fprintf(&out, "ERROR: %s\n", err)
			i++
			continue
		}
		operands, read := ReadOperands(def, ins[i+1:])
		_, _ = fmt.Fprintf(&out, "%04d %s\n", i, ins.fmtInstruction(def, operands))
		i += read + 1
	}
	return out.String()
}

func (ins Instructions) fmtInstruction(def *Definition, operands []int) string {
	switch len(def.OperandWidths) {
	case 0:
		return def.Name
	case 1:
		return fmt.Sprintf("%s %d", def.Name, operands[0])
	case 2:
		return fmt.Sprintf("%s %d %d", def.Name, operands[0], operands[1])
	}
	return fmt.Sprintf("ERROR: unhandled operand count for %s", def.Name)
}

// ReadOperands decodes the operands following an opcode byte, returning the
// decoded values and how many bytes were consumed.
func ReadOperands(def *Definition, ins Instructions) ([]int, int) {
	operands := make([]int, len(def.OperandWidths))
	offset := 0
	for i, width := range def.OperandWidths {
		switch width {
		case 1:
			operands[i] = int(ReadUint8(ins[offset:]))
		case 2:
			operands[i] = int(ReadUint16(ins[offset:]))
		}
		offset += width
	}
	return operands, offset
}

// ReadUint16 decodes a big-endian uint16 from the start of ins.
func ReadUint16(ins Instructions) uint16 { return binary.BigEndian.Uint16(ins) }

// ReadUint8 decodes the first byte of ins.
func ReadUint8(ins Instructions) uint8 { return ins[0] }
