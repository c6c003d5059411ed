package vm

import (
	"github.com/dr8co/kongvm/bytecode"
	"github.com/dr8co/kongvm/runtime"
	"github.com/dr8co/kongvm/value"
)

// tryHandler is one entry on a Frame's try handler stack, installed by
// OpTryOperation and consulted when OpThrow (or a propagating call error)
// unwinds the frame.
type tryHandler struct {
	catchPos   int
	finallyPos int
	stackSize  int
}

// pendingCompletion records an exception that reached a catch-less finally,
// to be rethrown once OpFinallyEnd runs. It holds only thrown errors: a
// break/continue/return never passes through it, because the compiler
// copies the finally body inline before such a jump (see
// compiler.runEnclosingFinally).
type pendingCompletion struct {
	err *value.Error
}

// Frame represents one activation record: a Closure, its instruction
// pointer, where its registers begin on the VM's value stack, its
// environment-record chain for with/name-based access, and its
// try-handler stack.
type Frame struct {
	cl          *value.Closure
	ip          int
	basePointer int

	handlers []tryHandler
	pending  *pendingCompletion

	env *runtime.Environment
}

// NewFrame creates a new execution frame for a given closure and base pointer.
func NewFrame(cl *value.Closure, basePointer int, env *runtime.Environment) *Frame {
	return &Frame{cl: cl, ip: -1, basePointer: basePointer, env: env}
}

// Instructions retrieves the bytecode instructions of the compiled function
// associated with the current frame.
func (f *Frame) Instructions() bytecode.Instructions {
	return f.cl.Fn.Block.Instructions
}

func (f *Frame) block() *bytecode.Block {
	return f.cl.Fn.Block
}

func (f *Frame) pushHandler(h tryHandler) { f.handlers = append(f.handlers, h) }

func (f *Frame) popHandler() {
	if len(f.handlers) > 0 {
		f.handlers = f.handlers[:len(f.handlers)-1]
	}
}

func (f *Frame) topHandler() (tryHandler, bool) {
	if len(f.handlers) == 0 {
		return tryHandler{}, false
	}
	return f.handlers[len(f.handlers)-1], true
}
