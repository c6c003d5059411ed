// Package compiler transforms abstract syntax tree (AST) nodes into
// bytecode instructions.
//
// This package traverses an AST produced by the parser and generates
// bytecode a vm.VM can execute. It handles expression evaluation, control
// flow, variable scoping, function compilation, and literal pooling, the
// same stack-based shape the teacher's compiler uses, widened with
// block-scoped bindings, try/catch/finally, for-in/for-of, while loops,
// with statements, and generator functions.
//
// # Scoping
//
// The compiler keeps one SymbolTable per function, extended with
// EnterBlock/LeaveBlock so nested let/const blocks shadow correctly
// without needing a table of their own. Compile first runs scope.Build over
// the whole program and keeps the resulting CodeBlock tree on the Compiler,
// but code generation does not consult it: this compiler always allocates a
// flat register per binding and uses name-based access only for names that
// do not resolve to a binding inside a with body.
package compiler

import (
	"fmt"

	"github.com/dr8co/kongvm/ast"
	"github.com/dr8co/kongvm/bytecode"
	"github.com/dr8co/kongvm/scope"
	"github.com/dr8co/kongvm/value"
)

// Compiler compiles an AST into a bytecode.Block.
type Compiler struct {
	symbolTable *SymbolTable
	scopes      []*CompilationScope
	scopeIndex  int

	root *scope.CodeBlock
}

// CompilationScope is a single function's (or the program's) in-progress
// bytecode.Block plus the bookkeeping needed to optimize its tail
// instruction and compile break/continue/return/try/finally correctly.
type CompilationScope struct {
	block *bytecode.Block

	lastInstruction     EmittedInstruction
	previousInstruction EmittedInstruction

	loops     []*loopContext
	activeTry []*tryContext
	withDepth int
}

type loopContext struct {
	continueTarget  int
	breakJumps      []int
	tryDepthAtEntry int
}

type tryContext struct {
	finally *ast.BlockStatement
}

// EmittedInstruction records one instruction's opcode and position so the
// compiler can rewrite or remove it (the classic "replace last OpPop with
// OpReturnValue" trick the teacher's compiler uses).
type EmittedInstruction struct {
	Opcode   bytecode.Opcode
	Position int
}

func newCompilationScope(name string) *CompilationScope {
	return &CompilationScope{block: bytecode.NewBlock(name)}
}

// New creates a Compiler ready to compile a top-level program.
func New() *Compiler {
	symbolTable := NewSymbolTable()
	for i, b := range value.Builtins {
		symbolTable.DefineBuiltin(i, b.Name)
	}
	return &Compiler{
		symbolTable: symbolTable,
		scopes:      []*CompilationScope{newCompilationScope("<program>")},
		scopeIndex:  0,
	}
}

// NewWithState creates a Compiler reusing a previously built SymbolTable,
// for REPL-style incremental compilation where globals declared in one
// input must stay visible in the next.
func NewWithState(s *SymbolTable) *Compiler {
	return &Compiler{
		symbolTable: s,
		scopes:      []*CompilationScope{newCompilationScope("<program>")},
		scopeIndex:  0,
	}
}

func (c *Compiler) cur() *CompilationScope { return c.scopes[c.scopeIndex] }

// SymbolTable exposes the Compiler's current symbol table so a REPL can
// thread globals from one compilation to the next.
func (c *Compiler) SymbolTable() *SymbolTable { return c.symbolTable }

// Compile compiles program into the Compiler's top-level bytecode.Block.
func (c *Compiler) Compile(program *ast.Program) error {
	c.root = scope.Build(program)
	for _, s := range program.Statements {
		if err := c.compileStatement(s); err != nil {
			return err
		}
	}
	return nil
}

// Block returns the compiled top-level bytecode.Block.
func (c *Compiler) Block() *bytecode.Block {
	b := c.cur().block
	b.NumLocals = c.symbolTable.NumDefinitions()
	return b
}

func (c *Compiler) compileStatement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		if err := c.compileExpression(s.Expression); err != nil {
			return err
		}
		c.emit(bytecode.OpPop)

	case *ast.DeclStatement:
		return c.compileDecl(s)

	case *ast.BlockStatement:
		c.symbolTable.EnterBlock()
		defer c.symbolTable.LeaveBlock()
		for _, st := range s.Statements {
			if err := c.compileStatement(st); err != nil {
				return err
			}
		}

	case *ast.ReturnStatement:
		if s.ReturnValue != nil {
			if err := c.compileExpression(s.ReturnValue); err != nil {
				return err
			}
		} else {
			c.emit(bytecode.OpUndefined)
		}
		c.runEnclosingFinally(0)
		c.emit(bytecode.OpReturnValue)

	case *ast.BreakStatement:
		return c.compileBreak()

	case *ast.ContinueStatement:
		return c.compileContinue()

	case *ast.DebuggerStatement:
		c.emit(bytecode.OpBreakpoint)

	case *ast.ThrowStatement:
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpThrow)

	case *ast.WhileStatement:
		return c.compileWhile(s)

	case *ast.ForInStatement:
		return c.compileForIn(s)

	case *ast.ForOfStatement:
		return c.compileForOf(s)

	case *ast.TryStatement:
		return c.compileTry(s)

	case *ast.WithStatement:
		return c.compileWith(s)

	default:
		return fmt.Errorf("compiler: unsupported statement %T", stmt)
	}
	return nil
}

func (c *Compiler) compileDecl(s *ast.DeclStatement) error {
	if err := c.compileExpression(s.Value); err != nil {
		return err
	}
	symbol := c.symbolTable.DefineKind(s.Name.Value, s.Kind == ast.DeclConst)
	c.storeSymbol(symbol)
	return nil
}

func (c *Compiler) compileExpression(expr ast.Expression) error {
	switch node := expr.(type) {
	case *ast.IntegerLiteral:
		idx := c.cur().block.AddNumeral(float64(node.Value))
		c.emit(bytecode.OpConstant, idx)

	case *ast.FloatLiteral:
		idx := c.cur().block.AddNumeral(node.Value)
		c.emit(bytecode.OpConstant, idx)

	case *ast.StringLiteral:
		idx := c.cur().block.AddString(node.Value)
		c.emit(bytecode.OpConstantString, idx)

	case *ast.Boolean:
		if node.Value {
			c.emit(bytecode.OpTrue)
		} else {
			c.emit(bytecode.OpFalse)
		}

	case *ast.NullLiteral:
		c.emit(bytecode.OpNull)

	case *ast.UndefinedLiteral:
		c.emit(bytecode.OpUndefined)

	case *ast.Identifier:
		return c.compileIdentifierLoad(node.Value)

	case *ast.PrefixExpression:
		if err := c.compileExpression(node.Right); err != nil {
			return err
		}
		switch node.Operator {
		case "!":
			c.emit(bytecode.OpBang)
		case "-":
			c.emit(bytecode.OpMinus)
		default:
			return fmt.Errorf("unknown operator %s", node.Operator)
		}

	case *ast.InfixExpression:
		return c.compileInfix(node)

	case *ast.AssignExpression:
		return c.compileAssign(node)

	case *ast.IfExpression:
		return c.compileIf(node)

	case *ast.ArrayLiteral:
		for _, el := range node.Elements {
			if err := c.compileExpression(el); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpArray, len(node.Elements))

	case *ast.HashLiteral:
		for _, k := range node.Order {
			if err := c.compileExpression(k); err != nil {
				return err
			}
			if err := c.compileExpression(node.Pairs[k]); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpHash, len(node.Order)*2)

	case *ast.IndexExpression:
		if err := c.compileExpression(node.Left); err != nil {
			return err
		}
		if err := c.compileExpression(node.Index); err != nil {
			return err
		}
		c.emit(bytecode.OpIndex)

	case *ast.FunctionLiteral:
		return c.compileFunctionLiteral(node)

	case *ast.CallExpression:
		if err := c.compileExpression(node.Function); err != nil {
			return err
		}
		for _, a := range node.Arguments {
			if err := c.compileExpression(a); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpCall, len(node.Arguments))

	case *ast.YieldExpression:
		return c.compileYield(node)

	default:
		return fmt.Errorf("compiler: unsupported expression %T", expr)
	}
	return nil
}

func (c *Compiler) compileInfix(node *ast.InfixExpression) error {
	switch node.Operator {
	case "<":
		if err := c.compileExpression(node.Right); err != nil {
			return err
		}
		if err := c.compileExpression(node.Left); err != nil {
			return err
		}
		c.emit(bytecode.OpGreaterThan)
		return nil
	case "<=":
		if err := c.compileExpression(node.Left); err != nil {
			return err
		}
		if err := c.compileExpression(node.Right); err != nil {
			return err
		}
		c.emit(bytecode.OpGreaterThan)
		c.emit(bytecode.OpBang)
		return nil
	case ">=":
		if err := c.compileExpression(node.Right); err != nil {
			return err
		}
		if err := c.compileExpression(node.Left); err != nil {
			return err
		}
		c.emit(bytecode.OpGreaterThan)
		c.emit(bytecode.OpBang)
		return nil
	case "&&", "||":
		return c.compileLogical(node)
	}

	if err := c.compileExpression(node.Left); err != nil {
		return err
	}
	if err := c.compileExpression(node.Right); err != nil {
		return err
	}
	switch node.Operator {
	case "+":
		c.emit(bytecode.OpAdd)
	case "-":
		c.emit(bytecode.OpSub)
	case "*":
		c.emit(bytecode.OpMul)
	case "/":
		c.emit(bytecode.OpDiv)
	case "%":
		c.emit(bytecode.OpMod)
	case ">":
		c.emit(bytecode.OpGreaterThan)
	case "==":
		c.emit(bytecode.OpEqual)
	case "!=":
		c.emit(bytecode.OpNotEqual)
	default:
		return fmt.Errorf("unknown operator %s", node.Operator)
	}
	return nil
}

// compileLogical compiles short-circuit && and || without a dedicated
// opcode: && is "if left is falsy, skip right and keep left; else discard
// left and evaluate right", || the mirror image.
func (c *Compiler) compileLogical(node *ast.InfixExpression) error {
	if err := c.compileExpression(node.Left); err != nil {
		return err
	}
	if node.Operator == "&&" {
		jumpPos := c.emit(bytecode.OpJumpNotTruthy, 9999)
		c.emit(bytecode.OpPop)
		if err := c.compileExpression(node.Right); err != nil {
			return err
		}
		c.changeOperand(jumpPos, len(c.currentInstructions()))
		return nil
	}
	falsyJump := c.emit(bytecode.OpJumpNotTruthy, 9999)
	skipRight := c.emit(bytecode.OpJump, 9999)
	c.changeOperand(falsyJump, len(c.currentInstructions()))
	c.emit(bytecode.OpPop)
	if err := c.compileExpression(node.Right); err != nil {
		return err
	}
	c.changeOperand(skipRight, len(c.currentInstructions()))
	return nil
}

func (c *Compiler) compileIf(node *ast.IfExpression) error {
	if err := c.compileExpression(node.Condition); err != nil {
		return err
	}
	jumpNotTruthyPos := c.emit(bytecode.OpJumpNotTruthy, 9999)

	c.symbolTable.EnterBlock()
	for _, st := range node.Consequence.Statements {
		if err := c.compileStatement(st); err != nil {
			c.symbolTable.LeaveBlock()
			return err
		}
	}
	c.symbolTable.LeaveBlock()

	if c.lastInstructionIs(bytecode.OpPop) {
		c.removeLastPop()
	}
	jumpPos := c.emit(bytecode.OpJump, 9999)
	c.changeOperand(jumpNotTruthyPos, len(c.currentInstructions()))

	if node.Alternative == nil {
		c.emit(bytecode.OpUndefined)
	} else {
		c.symbolTable.EnterBlock()
		for _, st := range node.Alternative.Statements {
			if err := c.compileStatement(st); err != nil {
				c.symbolTable.LeaveBlock()
				return err
			}
		}
		c.symbolTable.LeaveBlock()
		if c.lastInstructionIs(bytecode.OpPop) {
			c.removeLastPop()
		}
	}
	c.changeOperand(jumpPos, len(c.currentInstructions()))
	return nil
}

func (c *Compiler) compileWhile(s *ast.WhileStatement) error {
	condPos := len(c.currentInstructions())
	if err := c.compileExpression(s.Condition); err != nil {
		return err
	}
	exitJump := c.emit(bytecode.OpJumpNotTruthy, 9999)

	c.cur().loops = append(c.cur().loops, &loopContext{continueTarget: condPos, tryDepthAtEntry: len(c.cur().activeTry)})
	c.symbolTable.EnterBlock()
	for _, st := range s.Body.Statements {
		if err := c.compileStatement(st); err != nil {
			c.symbolTable.LeaveBlock()
			return err
		}
	}
	c.symbolTable.LeaveBlock()
	loop := c.cur().loops[len(c.cur().loops)-1]
	c.cur().loops = c.cur().loops[:len(c.cur().loops)-1]

	c.emit(bytecode.OpJump, condPos)
	after := len(c.currentInstructions())
	c.changeOperand(exitJump, after)
	for _, pos := range loop.breakJumps {
		c.changeOperand(pos, after)
	}
	return nil
}

func (c *Compiler) compileForIn(s *ast.ForInStatement) error {
	if err := c.compileExpression(s.Iterable); err != nil {
		return err
	}
	c.emit(bytecode.OpCreateEnumerateObject)
	enumSym := c.symbolTable.Define(hiddenName("enum"))
	c.storeSymbol(enumSym)

	loopStart := len(c.currentInstructions())
	c.loadSymbol(enumSym)
	c.emit(bytecode.OpCheckLastEnumerateKey)
	exitJump := c.emit(bytecode.OpJumpNotTruthy, 9999)

	c.loadSymbol(enumSym)
	c.emit(bytecode.OpGetEnumerateKey)

	c.symbolTable.EnterBlock()
	keySym := c.symbolTable.DefineKind(s.KeyName.Value, s.Kind == ast.DeclConst)
	c.storeSymbol(keySym)

	c.cur().loops = append(c.cur().loops, &loopContext{continueTarget: loopStart, tryDepthAtEntry: len(c.cur().activeTry)})
	for _, st := range s.Body.Statements {
		if err := c.compileStatement(st); err != nil {
			c.symbolTable.LeaveBlock()
			return err
		}
	}
	loop := c.cur().loops[len(c.cur().loops)-1]
	c.cur().loops = c.cur().loops[:len(c.cur().loops)-1]
	c.symbolTable.LeaveBlock()

	c.emit(bytecode.OpJump, loopStart)
	after := len(c.currentInstructions())
	c.changeOperand(exitJump, after)
	for _, pos := range loop.breakJumps {
		c.changeOperand(pos, after)
	}
	return nil
}

func (c *Compiler) compileForOf(s *ast.ForOfStatement) error {
	if err := c.compileExpression(s.Iterable); err != nil {
		return err
	}
	c.emit(bytecode.OpGetIterator)
	iterSym := c.symbolTable.Define(hiddenName("iter"))
	c.storeSymbol(iterSym)

	loopStart := len(c.currentInstructions())
	c.loadSymbol(iterSym)
	c.emit(bytecode.OpIteratorStep)
	exitJump := c.emit(bytecode.OpJumpNotTruthy, 9999)

	c.symbolTable.EnterBlock()
	valSym := c.symbolTable.DefineKind(s.ValName.Value, s.Kind == ast.DeclConst)
	c.storeSymbol(valSym)

	c.cur().loops = append(c.cur().loops, &loopContext{continueTarget: loopStart, tryDepthAtEntry: len(c.cur().activeTry)})
	for _, st := range s.Body.Statements {
		if err := c.compileStatement(st); err != nil {
			c.symbolTable.LeaveBlock()
			return err
		}
	}
	loop := c.cur().loops[len(c.cur().loops)-1]
	c.cur().loops = c.cur().loops[:len(c.cur().loops)-1]
	c.symbolTable.LeaveBlock()

	c.emit(bytecode.OpJump, loopStart)
	after := len(c.currentInstructions())
	c.changeOperand(exitJump, after)
	// OpIteratorStep pushes value then hasMore; on the exhausted exit the
	// value was never consumed by a binding, so discard it here.
	c.emit(bytecode.OpPop)
	for _, pos := range loop.breakJumps {
		c.changeOperand(pos, len(c.currentInstructions()))
	}
	return nil
}

func (c *Compiler) compileBreak() error {
	if len(c.cur().loops) == 0 {
		return fmt.Errorf("break outside of a loop")
	}
	loop := c.cur().loops[len(c.cur().loops)-1]
	c.runEnclosingFinally(loop.tryDepthAtEntry)
	pos := c.emit(bytecode.OpJump, 9999)
	loop.breakJumps = append(loop.breakJumps, pos)
	return nil
}

func (c *Compiler) compileContinue() error {
	if len(c.cur().loops) == 0 {
		return fmt.Errorf("continue outside of a loop")
	}
	loop := c.cur().loops[len(c.cur().loops)-1]
	c.runEnclosingFinally(loop.tryDepthAtEntry)
	c.emit(bytecode.OpJump, loop.continueTarget)
	return nil
}

// runEnclosingFinally compiles, inline, the finally blocks of every
// tryContext opened after depth, innermost first, so a break/continue/
// return crossing those try statements runs their cleanup code before
// actually transferring control. See DESIGN.md for why this is compiled
// inline rather than handled by the runtime handler stack.
func (c *Compiler) runEnclosingFinally(depth int) {
	tries := c.cur().activeTry
	for i := len(tries) - 1; i >= depth; i-- {
		if tries[i].finally == nil {
			continue
		}
		c.symbolTable.EnterBlock()
		for _, st := range tries[i].finally.Statements {
			_ = c.compileStatement(st)
		}
		c.symbolTable.LeaveBlock()
	}
}

func (c *Compiler) compileTry(s *ast.TryStatement) error {
	tryPos := c.emit(bytecode.OpTryOperation, 0, 0)

	c.cur().activeTry = append(c.cur().activeTry, &tryContext{finally: s.Finally})
	c.symbolTable.EnterBlock()
	for _, st := range s.Block.Statements {
		if err := c.compileStatement(st); err != nil {
			c.symbolTable.LeaveBlock()
			return err
		}
	}
	c.symbolTable.LeaveBlock()
	c.emit(bytecode.OpPopTryHandler)

	afterTryJump := c.emit(bytecode.OpJump, 9999)
	catchPos := len(c.currentInstructions())

	if s.Catch != nil {
		c.symbolTable.EnterBlock()
		if s.Catch.Param != nil {
			sym := c.symbolTable.Define(s.Catch.Param.Value)
			c.storeSymbol(sym)
		} else {
			c.emit(bytecode.OpPop)
		}
		for _, st := range s.Catch.Body.Statements {
			if err := c.compileStatement(st); err != nil {
				c.symbolTable.LeaveBlock()
				return err
			}
		}
		c.symbolTable.LeaveBlock()
	}
	c.changeOperand(afterTryJump, len(c.currentInstructions()))

	// Pop the tryContext before compiling the finally body: its own
	// break/continue/return must not re-run this same finally.
	c.cur().activeTry = c.cur().activeTry[:len(c.cur().activeTry)-1]

	finallyPos := 0
	if s.Finally != nil {
		finallyPos = len(c.currentInstructions())
		c.symbolTable.EnterBlock()
		for _, st := range s.Finally.Statements {
			if err := c.compileStatement(st); err != nil {
				c.symbolTable.LeaveBlock()
				return err
			}
		}
		c.symbolTable.LeaveBlock()
		c.emit(bytecode.OpFinallyEnd)
	}

	catchOperand := 0
	if s.Catch != nil {
		catchOperand = catchPos
	}
	ins := bytecode.Make(bytecode.OpTryOperation, catchOperand, finallyPos)
	c.replaceInstruction(tryPos, ins)
	return nil
}

func (c *Compiler) compileWith(s *ast.WithStatement) error {
	if err := c.compileExpression(s.Object); err != nil {
		return err
	}
	c.emit(bytecode.OpEnterWith)
	c.cur().withDepth++
	c.symbolTable.EnterBlock()
	for _, st := range s.Body.Statements {
		if err := c.compileStatement(st); err != nil {
			c.symbolTable.LeaveBlock()
			c.cur().withDepth--
			c.emit(bytecode.OpLeaveWith)
			return err
		}
	}
	c.symbolTable.LeaveBlock()
	c.cur().withDepth--
	c.emit(bytecode.OpLeaveWith)
	return nil
}

// compileYield lowers "yield*" to an inline for-of-shaped loop that calls
// OpYield once per value the delegate produces; it does not forward
// .next(x) resume values into the delegate and reports the delegate's own
// return value as Undefined, a documented simplification.
func (c *Compiler) compileYield(node *ast.YieldExpression) error {
	if node.Delegate {
		if err := c.compileExpression(node.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpGetIterator)
		iterSym := c.symbolTable.Define(hiddenName("yield_iter"))
		c.emit(bytecode.OpSetLocal, iterSym.Index)

		loopStart := len(c.currentInstructions())
		c.emit(bytecode.OpGetLocal, iterSym.Index)
		c.emit(bytecode.OpIteratorStep)
		exitJump := c.emit(bytecode.OpJumpNotTruthy, 9999)
		c.emit(bytecode.OpYield)
		c.emit(bytecode.OpPop)
		c.emit(bytecode.OpJump, loopStart)
		c.changeOperand(exitJump, len(c.currentInstructions()))
		c.emit(bytecode.OpPop)
		c.emit(bytecode.OpUndefined)
		return nil
	}
	if node.Value != nil {
		if err := c.compileExpression(node.Value); err != nil {
			return err
		}
	} else {
		c.emit(bytecode.OpUndefined)
	}
	c.emit(bytecode.OpYield)
	return nil
}

func (c *Compiler) compileAssign(node *ast.AssignExpression) error {
	symbol, ok := c.symbolTable.Resolve(node.Name.Value)
	if !ok {
		if c.cur().withDepth > 0 {
			return c.compileNamedAssign(node)
		}
		return fmt.Errorf("undefined variable %s", node.Name.Value)
	}
	if symbol.IsConst {
		return fmt.Errorf("assignment to constant variable %s", node.Name.Value)
	}

	if node.Operator == "=" {
		if err := c.compileExpression(node.Value); err != nil {
			return err
		}
	} else {
		c.loadSymbol(symbol)
		if err := c.compileExpression(node.Value); err != nil {
			return err
		}
		switch node.Operator {
		case "+=":
			c.emit(bytecode.OpAdd)
		case "-=":
			c.emit(bytecode.OpSub)
		default:
			return fmt.Errorf("unknown assignment operator %s", node.Operator)
		}
	}
	c.storeSymbol(symbol)
	c.loadSymbol(symbol)
	return nil
}

// compileNamedAssign handles an assignment target that isn't a known
// symbol while inside a with body: it falls through to the named
// environment chain (with object, else global) the way compileIdentifierLoad
// does for reads.
func (c *Compiler) compileNamedAssign(node *ast.AssignExpression) error {
	nameIdx := c.cur().block.AddString(node.Name.Value)
	if node.Operator != "=" {
		c.emit(bytecode.OpLoadByName, nameIdx)
		if err := c.compileExpression(node.Value); err != nil {
			return err
		}
		switch node.Operator {
		case "+=":
			c.emit(bytecode.OpAdd)
		case "-=":
			c.emit(bytecode.OpSub)
		default:
			return fmt.Errorf("unknown assignment operator %s", node.Operator)
		}
	} else if err := c.compileExpression(node.Value); err != nil {
		return err
	}
	c.emit(bytecode.OpStoreByName, nameIdx)
	c.emit(bytecode.OpLoadByName, nameIdx)
	return nil
}

func (c *Compiler) compileIdentifierLoad(name string) error {
	if c.cur().withDepth > 0 {
		if _, ok := c.symbolTable.Resolve(name); !ok {
			nameIdx := c.cur().block.AddString(name)
			c.emit(bytecode.OpLoadByName, nameIdx)
			return nil
		}
	}
	symbol, ok := c.symbolTable.Resolve(name)
	if !ok {
		return fmt.Errorf("undefined variable %s", name)
	}
	c.loadSymbol(symbol)
	return nil
}

func (c *Compiler) compileFunctionLiteral(node *ast.FunctionLiteral) error {
	c.enterScope(node.Name)
	if node.Name != "" {
		c.symbolTable.DefineFunctionName(node.Name)
	}
	for _, p := range node.Parameters {
		c.symbolTable.Define(p.Value)
	}

	for _, st := range node.Body.Statements {
		if err := c.compileStatement(st); err != nil {
			return err
		}
	}
	if c.lastInstructionIs(bytecode.OpPop) {
		c.replaceLastPopWithReturn()
	}
	if !c.lastInstructionIs(bytecode.OpReturnValue) {
		c.emit(bytecode.OpUndefined)
		c.emit(bytecode.OpReturnValue)
	}

	freeSymbols := c.symbolTable.FreeSymbols
	numLocals := c.symbolTable.NumDefinitions()
	block := c.leaveScope()
	block.NumLocals = numLocals
	block.NumParameters = len(node.Parameters)
	block.IsGenerator = node.IsGenerator
	block.Name = node.Name

	for _, s := range freeSymbols {
		c.loadSymbol(s)
	}

	fnIdx := c.cur().block.AddOther(bytecode.FunctionLiteralValue{Block: block})
	c.emit(bytecode.OpClosure, fnIdx, len(freeSymbols))
	return nil
}

func (c *Compiler) loadSymbol(s Symbol) {
	switch s.Scope {
	case GlobalScope:
		nameIdx := c.cur().block.AddString(s.Name)
		cacheIdx := c.cur().block.ReserveInlineCache(bytecode.GlobalVariableCache, nameIdx)
		c.emit(bytecode.OpGetGlobal, cacheIdx)
	case LocalScope:
		c.emit(bytecode.OpGetLocal, s.Index)
	case BuiltinScope:
		c.emit(bytecode.OpGetBuiltin, s.Index)
	case FreeScope:
		c.emit(bytecode.OpGetFree, s.Index)
	case FunctionScope:
		c.emit(bytecode.OpCurrentClosure)
	}
}

func (c *Compiler) storeSymbol(s Symbol) {
	switch s.Scope {
	case GlobalScope:
		nameIdx := c.cur().block.AddString(s.Name)
		cacheIdx := c.cur().block.ReserveInlineCache(bytecode.GlobalVariableCache, nameIdx)
		c.emit(bytecode.OpSetGlobal, cacheIdx)
	default:
		c.emit(bytecode.OpSetLocal, s.Index)
	}
}

var hiddenCounter int

// hiddenName mints a register-only identifier for the compiler's own
// iterator/enumerator bookkeeping, namespaced with a leading "$" so it can
// never collide with a name user source can spell.
func hiddenName(prefix string) string {
	hiddenCounter++
	return fmt.Sprintf("$%s%d", prefix, hiddenCounter)
}

// -- instruction buffer bookkeeping, same shape as the teacher's compiler --

func (c *Compiler) emit(op bytecode.Opcode, operands ...int) int {
	ins := bytecode.Make(op, operands...)
	pos := c.addInstruction(ins)
	c.setLastInstruction(op, pos)
	return pos
}

func (c *Compiler) setLastInstruction(op bytecode.Opcode, pos int) {
	cur := c.cur()
	cur.previousInstruction = cur.lastInstruction
	cur.lastInstruction = EmittedInstruction{Opcode: op, Position: pos}
}

func (c *Compiler) addInstruction(ins []byte) int {
	pos := len(c.currentInstructions())
	c.cur().block.Instructions = append(c.currentInstructions(), ins...)
	return pos
}

func (c *Compiler) currentInstructions() bytecode.Instructions {
	return c.cur().block.Instructions
}

func (c *Compiler) lastInstructionIs(op bytecode.Opcode) bool {
	if len(c.currentInstructions()) == 0 {
		return false
	}
	return c.cur().lastInstruction.Opcode == op
}

func (c *Compiler) removeLastPop() {
	cur := c.cur()
	cur.block.Instructions = c.currentInstructions()[:cur.lastInstruction.Position]
	cur.lastInstruction = cur.previousInstruction
}

func (c *Compiler) replaceInstruction(pos int, newInstruction []byte) {
	ins := c.currentInstructions()
	copy(ins[pos:], newInstruction)
}

func (c *Compiler) changeOperand(opPos int, operand int) {
	op := bytecode.Opcode(c.currentInstructions()[opPos])
	c.replaceInstruction(opPos, bytecode.Make(op, operand))
}

func (c *Compiler) replaceLastPopWithReturn() {
	lastPos := c.cur().lastInstruction.Position
	c.replaceInstruction(lastPos, bytecode.Make(bytecode.OpReturnValue))
	c.cur().lastInstruction.Opcode = bytecode.OpReturnValue
}

func (c *Compiler) enterScope(name string) {
	c.scopes = append(c.scopes, newCompilationScope(name))
	c.scopeIndex++
	c.symbolTable = NewEnclosedSymbolTable(c.symbolTable)
}

func (c *Compiler) leaveScope() *bytecode.Block {
	block := c.cur().block
	c.scopes = c.scopes[:len(c.scopes)-1]
	c.scopeIndex--
	c.symbolTable = c.symbolTable.Outer
	return block
}
