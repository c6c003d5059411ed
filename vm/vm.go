// Package vm implements the bytecode interpreter: a stack machine that
// executes a compiled bytecode.Block, resolves inline caches, and drives
// try/catch/finally, for-in/for-of, with, and generator control flow.
//
// There is no teacher vm.go to generalize from (the teacher repo stops at
// its compiler); this dispatch loop follows the well-known register/stack
// hybrid shape compiler/symbol_table.go and bytecode/bytecode.go were
// already built against: a flat value stack, one Frame per call with its
// own base pointer into that stack, and OpGetLocal/OpSetLocal addressing
// registers relative to the current Frame.
package vm

import (
	"fmt"
	"math"

	"github.com/dr8co/kongvm/bytecode"
	"github.com/dr8co/kongvm/runtime"
	"github.com/dr8co/kongvm/value"
)

const (
	// StackSize is the fixed capacity of the VM's value stack.
	StackSize = 2048
	// MaxFrames bounds call depth, catching runaway recursion with a Go
	// error instead of a native stack overflow.
	MaxFrames = 1024
)

// VM executes a single compiled program (or, for a generator, a single
// compiled function body running on its own goroutine) against a shared
// runtime.Context.
type VM struct {
	ctx *runtime.Context

	stack []value.Value
	sp    int

	frames      []*Frame
	framesIndex int

	generator *value.Generator

	globalCacheGen map[cacheKey]uint32
}

type cacheKey struct {
	block *bytecode.Block
	slot  int
}

// New creates a VM ready to run a top-level bytecode.Block.
func New(block *bytecode.Block, ctx *runtime.Context) *VM {
	mainFn := &value.CompiledFunction{Block: block}
	mainClosure := &value.Closure{Fn: mainFn}
	mainFrame := NewFrame(mainClosure, 0, nil)

	vm := &VM{
		ctx:            ctx,
		stack:          make([]value.Value, StackSize),
		frames:         make([]*Frame, MaxFrames),
		globalCacheGen: make(map[cacheKey]uint32),
	}
	vm.frames[0] = mainFrame
	vm.framesIndex = 1
	return vm
}

func newChildVM(ctx *runtime.Context) *VM {
	return &VM{
		ctx:            ctx,
		stack:          make([]value.Value, StackSize),
		frames:         make([]*Frame, MaxFrames),
		globalCacheGen: make(map[cacheKey]uint32),
	}
}

func (vm *VM) currentFrame() *Frame { return vm.frames[vm.framesIndex-1] }

func (vm *VM) pushFrame(f *Frame) {
	vm.frames[vm.framesIndex] = f
	vm.framesIndex++
}

func (vm *VM) popFrame() *Frame {
	vm.framesIndex--
	return vm.frames[vm.framesIndex]
}

func (vm *VM) push(v value.Value) error {
	if vm.sp >= StackSize {
		return fmt.Errorf("stack overflow")
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() value.Value {
	v := vm.stack[vm.sp-1]
	vm.sp--
	return v
}

// LastPoppedStackElem returns the value most recently popped off the
// stack, the REPL's way of reading an expression statement's result
// without leaving it on the stack.
func (vm *VM) LastPoppedStackElem() value.Value {
	return vm.stack[vm.sp]
}

// Run executes the VM's program to completion.
func (vm *VM) Run() error {
	for vm.currentFrame().ip < len(vm.currentFrame().Instructions())-1 {
		frame := vm.currentFrame()
		frame.ip++
		ip := frame.ip
		ins := frame.Instructions()
		op := bytecode.Opcode(ins[ip])

		switch op {
		case bytecode.OpConstant:
			idx := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			if err := vm.push(numeralValue(frame.block().NumeralPool[idx])); err != nil {
				return err
			}

		case bytecode.OpConstantString:
			idx := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			if err := vm.push(&value.String{Value: frame.block().StringPool[idx]}); err != nil {
				return err
			}

		case bytecode.OpClosure:
			fnIdx := int(bytecode.ReadUint16(ins[ip+1:]))
			numFree := int(bytecode.ReadUint8(ins[ip+3:]))
			frame.ip += 3

			fnLit := frame.block().OtherPool[fnIdx].(bytecode.FunctionLiteralValue)
			free := make([]value.Value, numFree)
			copy(free, vm.stack[vm.sp-numFree:vm.sp])
			vm.sp -= numFree

			closure := &value.Closure{Fn: &value.CompiledFunction{Block: fnLit.Block}, Free: free}
			if err := vm.push(closure); err != nil {
				return err
			}

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			if err := vm.executeBinaryOperation(op); err != nil {
				return err
			}

		case bytecode.OpTrue:
			if err := vm.push(value.True); err != nil {
				return err
			}
		case bytecode.OpFalse:
			if err := vm.push(value.False); err != nil {
				return err
			}
		case bytecode.OpNull:
			if err := vm.push(value.TheNull); err != nil {
				return err
			}
		case bytecode.OpUndefined:
			if err := vm.push(value.TheUndefined); err != nil {
				return err
			}

		case bytecode.OpEqual, bytecode.OpNotEqual, bytecode.OpGreaterThan:
			if err := vm.executeComparison(op); err != nil {
				return err
			}

		case bytecode.OpBang:
			if err := vm.push(value.NativeBool(!value.IsTruthy(vm.pop()))); err != nil {
				return err
			}

		case bytecode.OpMinus:
			if err := vm.executeMinus(); err != nil {
				return err
			}

		case bytecode.OpJump:
			pos := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip = pos - 1

		case bytecode.OpJumpNotTruthy:
			pos := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			if !value.IsTruthy(vm.pop()) {
				frame.ip = pos - 1
			}

		case bytecode.OpGetGlobal:
			cacheIdx := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			v, err := vm.getGlobal(frame.block(), cacheIdx)
			if err != nil {
				if unwErr := vm.unwind(&value.Error{Message: err.Error()}); unwErr != nil {
					return unwErr
				}
				continue
			}
			if err := vm.push(v); err != nil {
				return err
			}

		case bytecode.OpSetGlobal:
			cacheIdx := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			vm.setGlobal(frame.block(), cacheIdx, vm.pop())

		case bytecode.OpArray:
			n := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			elems := make([]value.Value, n)
			copy(elems, vm.stack[vm.sp-n:vm.sp])
			vm.sp -= n
			if err := vm.push(&value.Array{Elements: elems}); err != nil {
				return err
			}

		case bytecode.OpHash:
			n := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			h, err := vm.buildHash(vm.sp-n, vm.sp)
			vm.sp -= n
			if err != nil {
				return err
			}
			if err := vm.push(h); err != nil {
				return err
			}

		case bytecode.OpIndex:
			index := vm.pop()
			left := vm.pop()
			if err := vm.executeIndex(left, index); err != nil {
				return err
			}

		case bytecode.OpCall:
			numArgs := int(bytecode.ReadUint8(ins[ip+1:]))
			frame.ip++
			if err := vm.executeCall(numArgs); err != nil {
				return err
			}

		case bytecode.OpReturnValue:
			returnValue := vm.pop()
			f := vm.popFrame()
			vm.sp = f.basePointer - 1
			if err := vm.push(returnValue); err != nil {
				return err
			}

		case bytecode.OpReturn:
			f := vm.popFrame()
			vm.sp = f.basePointer - 1
			if err := vm.push(value.TheUndefined); err != nil {
				return err
			}

		case bytecode.OpGetLocal:
			idx := int(bytecode.ReadUint8(ins[ip+1:]))
			frame.ip++
			if err := vm.push(vm.stack[frame.basePointer+idx]); err != nil {
				return err
			}

		case bytecode.OpSetLocal:
			idx := int(bytecode.ReadUint8(ins[ip+1:]))
			frame.ip++
			vm.stack[frame.basePointer+idx] = vm.pop()

		case bytecode.OpGetBuiltin:
			idx := int(bytecode.ReadUint8(ins[ip+1:]))
			frame.ip++
			if err := vm.push(value.Builtins[idx].Builtin); err != nil {
				return err
			}

		case bytecode.OpGetFree:
			idx := int(bytecode.ReadUint8(ins[ip+1:]))
			frame.ip++
			if err := vm.push(frame.cl.Free[idx]); err != nil {
				return err
			}

		case bytecode.OpCurrentClosure:
			if err := vm.push(frame.cl); err != nil {
				return err
			}

		case bytecode.OpLoadByName:
			idx := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			name := frame.block().StringPool[idx]
			env := frame.env
			if env == nil {
				env = vm.ctx.GlobalEnv
			}
			v, ok := env.Get(name)
			if !ok {
				if err := vm.unwind(&value.Error{Message: fmt.Sprintf("undefined variable %s", name)}); err != nil {
					return err
				}
				continue
			}
			if err := vm.push(v); err != nil {
				return err
			}

		case bytecode.OpStoreByName:
			idx := int(bytecode.ReadUint16(ins[ip+1:]))
			frame.ip += 2
			name := frame.block().StringPool[idx]
			val := vm.pop()
			env := frame.env
			if env == nil {
				env = vm.ctx.GlobalEnv
			}
			if !env.Assign(name, val) {
				vm.ctx.DeclareGlobal(name, val, false)
			}

		case bytecode.OpEnterWith:
			obj := vm.pop()
			hash, ok := obj.(*value.Hash)
			if !ok {
				if err := vm.unwind(&value.Error{Message: "with target is not an object"}); err != nil {
					return err
				}
				continue
			}
			base := frame.env
			if base == nil {
				base = vm.ctx.GlobalEnv
			}
			frame.env = runtime.NewWithEnvironment(hash, base)

		case bytecode.OpLeaveWith:
			if frame.env != nil {
				if frame.env.Outer == vm.ctx.GlobalEnv {
					frame.env = nil
				} else {
					frame.env = frame.env.Outer
				}
			}

		case bytecode.OpTryOperation:
			catchPos := int(bytecode.ReadUint16(ins[ip+1:]))
			finallyPos := int(bytecode.ReadUint16(ins[ip+3:]))
			frame.ip += 4
			frame.pushHandler(tryHandler{catchPos: catchPos, finallyPos: finallyPos, stackSize: vm.sp})

		case bytecode.OpPopTryHandler:
			frame.popHandler()

		case bytecode.OpThrow:
			thrown := vm.pop()
			if err := vm.unwind(toErrorValue(thrown)); err != nil {
				return err
			}

		case bytecode.OpFinallyEnd:
			if frame.pending != nil {
				pending := frame.pending
				frame.pending = nil
				if err := vm.unwind(pending.err); err != nil {
					return err
				}
			}

		case bytecode.OpCreateEnumerateObject:
			if err := vm.executeCreateEnumerateObject(); err != nil {
				return err
			}

		case bytecode.OpCheckLastEnumerateKey:
			e := vm.pop().(*enumeratorValue)
			if err := vm.push(value.NativeBool(e.idx < len(e.keys))); err != nil {
				return err
			}

		case bytecode.OpGetEnumerateKey:
			e := vm.pop().(*enumeratorValue)
			key := e.keys[e.idx]
			e.idx++
			if err := vm.push(&value.String{Value: key}); err != nil {
				return err
			}

		case bytecode.OpGetIterator:
			if err := vm.executeGetIterator(); err != nil {
				return err
			}

		case bytecode.OpIteratorStep:
			if err := vm.executeIteratorStep(); err != nil {
				return err
			}

		case bytecode.OpIteratorClose:
			it := vm.pop().(*iteratorValue)
			if it.gen != nil {
				it.gen.MarkDone()
			} else {
				it.idx = math.MaxInt32
			}

		case bytecode.OpYield:
			v := vm.pop()
			if vm.generator == nil {
				return fmt.Errorf("yield outside of a generator")
			}
			vm.generator.Out <- value.GeneratorResult{Value: v}
			resume := <-vm.generator.In
			if err := vm.push(resume); err != nil {
				return err
			}

		case bytecode.OpBreakpoint:
			// no debugger attached; treated as a no-op.

		default:
			// OpConstantFunction, OpGetBlockLocal/OpSetBlockLocal,
			// OpGetObjectPreComputedCase/OpSetObjectPreComputedCase,
			// OpBlockOperation/OpReplaceBlockLexicalEnvironmentOperation,
			// OpJumpComplexCase and OpExecutionResume are reserved opcodes
			// the compiler never emits (see their definitions in
			// bytecode.go); reaching here means a hand-built or corrupted
			// instruction stream.
			return fmt.Errorf("unhandled opcode %d", op)
		}
	}
	return nil
}

func numeralValue(f float64) value.Value {
	if math.Trunc(f) == f && !math.IsInf(f, 0) {
		return &value.Integer{Value: int64(f)}
	}
	return &value.Float{Value: f}
}

func toErrorValue(v value.Value) *value.Error {
	if e, ok := v.(*value.Error); ok {
		return e
	}
	return &value.Error{Message: v.Inspect()}
}

func (vm *VM) getGlobal(block *bytecode.Block, cacheIdx int) (value.Value, error) {
	slot := block.InlineCaches[cacheIdx]
	name := block.StringPool[slot.NameIndex]
	v, ok := vm.ctx.GlobalEnv.Get(name)
	if !ok {
		return nil, fmt.Errorf("undefined variable %s", name)
	}
	vm.globalCacheGen[cacheKey{block, cacheIdx}] = vm.ctx.GlobalGeneration()
	return v, nil
}

func (vm *VM) setGlobal(block *bytecode.Block, cacheIdx int, val value.Value) {
	slot := block.InlineCaches[cacheIdx]
	name := block.StringPool[slot.NameIndex]
	vm.ctx.DeclareGlobal(name, val, false)
	vm.globalCacheGen[cacheKey{block, cacheIdx}] = vm.ctx.GlobalGeneration()
}

// unwind searches the frame stack, innermost first, for a try handler that
// can take thrown. If one is found in the current frame, execution resumes
// there (at the catch or finally entry point); otherwise the frame is
// discarded and the search continues in the caller. Returns a Go error
// only when the exception reaches the outermost frame uncaught.
func (vm *VM) unwind(thrown *value.Error) error {
	for {
		frame := vm.currentFrame()
		if h, ok := frame.topHandler(); ok {
			frame.popHandler()
			vm.sp = h.stackSize
			switch {
			case h.catchPos != 0:
				if err := vm.push(thrown); err != nil {
					return err
				}
				frame.ip = h.catchPos - 1
				return nil
			case h.finallyPos != 0:
				frame.pending = &pendingCompletion{err: thrown}
				frame.ip = h.finallyPos - 1
				return nil
			default:
				continue
			}
		}
		if vm.framesIndex == 1 {
			if vm.generator != nil {
				vm.generator.Out <- value.GeneratorResult{Done: true, Err: thrown}
			}
			return fmt.Errorf("uncaught exception: %s", thrown.Message)
		}
		vm.popFrame()
	}
}

func (vm *VM) executeBinaryOperation(op bytecode.Opcode) error {
	right := vm.pop()
	left := vm.pop()

	if ls, ok := left.(*value.String); ok && op == bytecode.OpAdd {
		rs, ok := right.(*value.String)
		if !ok {
			return vm.push(&value.String{Value: ls.Value + right.Inspect()})
		}
		return vm.push(&value.String{Value: ls.Value + rs.Value})
	}

	lf, lok := numericOf(left)
	rf, rok := numericOf(right)
	if !lok || !rok {
		return vm.unwind(&value.Error{Message: fmt.Sprintf("unsupported operand types: %s, %s", left.Type(), right.Type())})
	}

	var result float64
	switch op {
	case bytecode.OpAdd:
		result = lf + rf
	case bytecode.OpSub:
		result = lf - rf
	case bytecode.OpMul:
		result = lf * rf
	case bytecode.OpDiv:
		result = lf / rf
	case bytecode.OpMod:
		result = math.Mod(lf, rf)
	}
	_, leftFloat := left.(*value.Float)
	_, rightFloat := right.(*value.Float)
	if leftFloat || rightFloat {
		return vm.push(&value.Float{Value: result})
	}
	return vm.push(numeralValue(result))
}

func numericOf(v value.Value) (float64, bool) {
	switch v := v.(type) {
	case *value.Integer:
		return float64(v.Value), true
	case *value.Float:
		return v.Value, true
	default:
		return 0, false
	}
}

func (vm *VM) executeComparison(op bytecode.Opcode) error {
	right := vm.pop()
	left := vm.pop()

	if lf, lok := numericOf(left); lok {
		if rf, rok := numericOf(right); rok {
			switch op {
			case bytecode.OpEqual:
				return vm.push(value.NativeBool(lf == rf))
			case bytecode.OpNotEqual:
				return vm.push(value.NativeBool(lf != rf))
			case bytecode.OpGreaterThan:
				return vm.push(value.NativeBool(lf > rf))
			}
		}
	}

	switch op {
	case bytecode.OpEqual:
		return vm.push(value.NativeBool(valuesEqual(left, right)))
	case bytecode.OpNotEqual:
		return vm.push(value.NativeBool(!valuesEqual(left, right)))
	default:
		return vm.unwind(&value.Error{Message: fmt.Sprintf("unsupported comparison: %s %s", left.Type(), right.Type())})
	}
}

func valuesEqual(a, b value.Value) bool {
	if as, ok := a.(*value.String); ok {
		if bs, ok := b.(*value.String); ok {
			return as.Value == bs.Value
		}
		return false
	}
	return a == b
}

func (vm *VM) executeMinus() error {
	operand := vm.pop()
	switch v := operand.(type) {
	case *value.Integer:
		return vm.push(&value.Integer{Value: -v.Value})
	case *value.Float:
		return vm.push(&value.Float{Value: -v.Value})
	default:
		return vm.unwind(&value.Error{Message: fmt.Sprintf("unsupported type for negation: %s", operand.Type())})
	}
}

func (vm *VM) buildHash(startIndex, endIndex int) (value.Value, error) {
	h := value.NewHash()
	for i := startIndex; i < endIndex; i += 2 {
		key := vm.stack[i]
		val := vm.stack[i+1]
		hashable, ok := key.(value.Hashable)
		if !ok {
			return nil, fmt.Errorf("unusable as hash key: %s", key.Type())
		}
		h.Set(key, hashable, val)
	}
	return h, nil
}

func (vm *VM) executeIndex(left, index value.Value) error {
	switch left := left.(type) {
	case *value.Array:
		idx, ok := index.(*value.Integer)
		if !ok {
			return vm.unwind(&value.Error{Message: "array index must be an integer"})
		}
		if idx.Value < 0 || idx.Value >= int64(len(left.Elements)) {
			return vm.push(value.TheUndefined)
		}
		return vm.push(left.Elements[idx.Value])
	case *value.Hash:
		hashable, ok := index.(value.Hashable)
		if !ok {
			return vm.unwind(&value.Error{Message: fmt.Sprintf("unusable as hash key: %s", index.Type())})
		}
		pair, ok := left.Pairs[hashable.HashKey()]
		if !ok {
			return vm.push(value.TheUndefined)
		}
		return vm.push(pair.Value)
	default:
		return vm.unwind(&value.Error{Message: fmt.Sprintf("index operator not supported: %s", left.Type())})
	}
}

func (vm *VM) executeCreateEnumerateObject() error {
	obj := vm.pop()
	var keys []string
	switch o := obj.(type) {
	case *value.Hash:
		keys = make([]string, 0, len(o.Order))
		for _, hk := range o.Order {
			p := o.Pairs[hk]
			if s, ok := p.Key.(*value.String); ok {
				keys = append(keys, s.Value)
			} else {
				keys = append(keys, p.Key.Inspect())
			}
		}
	case *value.Array:
		keys = make([]string, len(o.Elements))
		for i := range o.Elements {
			keys[i] = fmt.Sprintf("%d", i)
		}
	default:
		return vm.unwind(&value.Error{Message: fmt.Sprintf("value is not enumerable: %s", obj.Type())})
	}
	return vm.push(&enumeratorValue{keys: keys})
}

func (vm *VM) executeGetIterator() error {
	obj := vm.pop()
	switch o := obj.(type) {
	case *value.Array:
		return vm.push(&iteratorValue{arr: o})
	case *value.String:
		elems := make([]value.Value, 0, len(o.Value))
		for _, r := range o.Value {
			elems = append(elems, &value.String{Value: string(r)})
		}
		return vm.push(&iteratorValue{arr: &value.Array{Elements: elems}})
	case *value.Generator:
		return vm.push(&iteratorValue{gen: o})
	default:
		return vm.unwind(&value.Error{Message: fmt.Sprintf("value is not iterable: %s", obj.Type())})
	}
}

func (vm *VM) executeIteratorStep() error {
	it := vm.pop().(*iteratorValue)
	if it.gen != nil {
		if it.gen.Done() {
			if err := vm.push(value.TheUndefined); err != nil {
				return err
			}
			return vm.push(value.False)
		}
		res := <-it.gen.Out
		if res.Done {
			it.gen.MarkDone()
			if res.Err != nil {
				return vm.unwind(res.Err)
			}
			if err := vm.push(value.TheUndefined); err != nil {
				return err
			}
			return vm.push(value.False)
		}
		it.gen.In <- value.TheUndefined
		if err := vm.push(res.Value); err != nil {
			return err
		}
		return vm.push(value.True)
	}

	if it.idx < len(it.arr.Elements) {
		v := it.arr.Elements[it.idx]
		it.idx++
		if err := vm.push(v); err != nil {
			return err
		}
		return vm.push(value.True)
	}
	if err := vm.push(value.TheUndefined); err != nil {
		return err
	}
	return vm.push(value.False)
}

func (vm *VM) executeCall(numArgs int) error {
	callee := vm.stack[vm.sp-1-numArgs]
	switch callee := callee.(type) {
	case *value.Closure:
		if callee.Fn.IsGenerator() {
			return vm.executeGeneratorCall(callee, numArgs)
		}
		return vm.callClosure(callee, numArgs)
	case *value.Builtin:
		args := make([]value.Value, numArgs)
		copy(args, vm.stack[vm.sp-numArgs:vm.sp])
		result := callee.Fn(args...)
		vm.sp = vm.sp - numArgs - 1
		if errVal, ok := result.(*value.Error); ok {
			return vm.unwind(errVal)
		}
		return vm.push(result)
	default:
		return vm.unwind(&value.Error{Message: "calling non-function"})
	}
}

func (vm *VM) callClosure(cl *value.Closure, numArgs int) error {
	if numArgs != cl.Fn.NumParameters() {
		return vm.unwind(&value.Error{Message: fmt.Sprintf("wrong number of arguments: want=%d, got=%d", cl.Fn.NumParameters(), numArgs)})
	}
	if vm.framesIndex >= MaxFrames {
		return fmt.Errorf("call stack overflow")
	}
	basePointer := vm.sp - numArgs
	frame := NewFrame(cl, basePointer, nil)
	vm.pushFrame(frame)
	for vm.sp < basePointer+cl.Fn.NumLocals() {
		if err := vm.push(value.TheUndefined); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) executeGeneratorCall(cl *value.Closure, numArgs int) error {
	args := make([]value.Value, numArgs)
	copy(args, vm.stack[vm.sp-numArgs:vm.sp])
	vm.sp = vm.sp - numArgs - 1

	gen := value.NewGenerator(cl)
	go runGenerator(vm.ctx, gen, args)
	return vm.push(gen)
}

// runGenerator drives a generator function body on its own goroutine,
// communicating yielded and final values back through gen.Out and resume
// values through gen.In. It shares the parent's runtime.Context (globals,
// interned strings) but has its own value stack and frame list.
func runGenerator(ctx *runtime.Context, gen *value.Generator, args []value.Value) {
	child := newChildVM(ctx)
	child.generator = gen

	// An empty base frame and a callee slot below the body's registers let
	// the body's final OpReturnValue return the way a called closure does.
	base := &value.Closure{Fn: &value.CompiledFunction{Block: bytecode.NewBlock("<generator>")}}
	child.pushFrame(NewFrame(base, 0, nil))
	_ = child.push(gen.Closure)
	frame := NewFrame(gen.Closure, 1, nil)
	child.pushFrame(frame)
	for _, a := range args {
		_ = child.push(a)
	}
	for child.sp < frame.basePointer+gen.Closure.Fn.NumLocals() {
		_ = child.push(value.TheUndefined)
	}

	err := child.Run()
	if err != nil {
		gen.Out <- value.GeneratorResult{Done: true, Err: &value.Error{Message: err.Error()}}
		return
	}
	result := value.Value(value.TheUndefined)
	if child.sp > 0 {
		result = child.stack[child.sp-1]
	}
	gen.Out <- value.GeneratorResult{Value: result, Done: true}
}

// enumeratorValue is the runtime value pushed by OpCreateEnumerateObject:
// a snapshot of the enumerated object's own keys at creation time, walked
// by OpCheckLastEnumerateKey/OpGetEnumerateKey. It is VM-internal, never
// visible to user code and never produced by the compiler's literal pools.
type enumeratorValue struct {
	keys []string
	idx  int
}

func (e *enumeratorValue) Type() value.Type { return "ENUMERATOR" }
func (e *enumeratorValue) Inspect() string  { return "[object Enumerator]" }

// iteratorValue is the runtime value pushed by OpGetIterator: either a
// cursor over an Array's elements or a handle onto a Generator, driven by
// OpIteratorStep/OpIteratorClose.
type iteratorValue struct {
	arr *value.Array
	gen *value.Generator
	idx int
}

func (it *iteratorValue) Type() value.Type { return "ITERATOR" }
func (it *iteratorValue) Inspect() string  { return "[object Iterator]" }
