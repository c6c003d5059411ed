package scope

import "github.com/dr8co/kongvm/ast"

// Build runs scope analysis over a parsed program and returns its root
// CodeBlock. The root represents top-level code: its Vars are the
// script's var-declared bindings, and its Children are the CodeBlocks of
// every function literal reachable from it (recursively).
func Build(program *ast.Program) *CodeBlock {
	root := &CodeBlock{Name: "<program>", Flags: Flags{IsProgram: true}}
	b := &builder{}
	b.collectStatements(root, program.Statements)
	b.finishFunction(root, program.Statements, false, false)
	finalizeTree(root)
	return root
}

// BuildFunction runs scope analysis for a single function literal whose
// enclosing CodeBlock is parent and appends the result to parent.Children.
// Build calls it for each function literal it reaches while walking the
// program.
func BuildFunction(parent *CodeBlock, fn *ast.FunctionLiteral) *CodeBlock {
	cb := &CodeBlock{Name: fn.Name, Parent: parent}
	cb.Flags.IsGenerator = fn.IsGenerator
	cb.Flags.HasEval = fn.HasEval
	cb.Flags.HasWith = fn.HasWith

	for _, p := range fn.Parameters {
		cb.Params = append(cb.Params, IdentifierInfo{Name: p.Value, Kind: ast.DeclVar, IsParameter: true})
	}
	cb.Counts.NumParameters = len(cb.Params)

	b := &builder{}
	b.collectStatements(cb, fn.Body.Statements)
	b.finishFunction(cb, fn.Body.Statements, fn.HasEval, fn.HasWith)

	parent.Children = append(parent.Children, cb)
	return cb
}

type builder struct{}

// collectStatements hoists every var declaration found anywhere in stmts
// (descending into nested blocks and control-flow bodies but not into
// nested function literals) into cb.Vars, and builds one BlockInfo per
// nested block that declares let/const. Block storage is laid out with a
// simple stack allocator so sibling blocks (e.g. if/else arms) reuse the
// same slot range, mirroring the teacher's register allocator reusing
// registers once their value is no longer needed.
func (b *builder) collectStatements(cb *CodeBlock, stmts []ast.Statement) {
	alloc := &blockAllocator{}
	b.walkStatements(cb, stmts, nil, alloc)
	cb.Counts.NumBlockSlots = alloc.peak
}

type blockAllocator struct {
	current int
	peak    int
}

func (a *blockAllocator) enter(n int) int {
	offset := a.current
	a.current += n
	if a.current > a.peak {
		a.peak = a.current
	}
	return offset
}

func (a *blockAllocator) leave(n int) { a.current -= n }

func (b *builder) walkStatements(cb *CodeBlock, stmts []ast.Statement, parentBlock *BlockInfo, alloc *blockAllocator) {
	for _, stmt := range stmts {
		b.walkStatement(cb, stmt, parentBlock, alloc)
	}
}

func (b *builder) walkStatement(cb *CodeBlock, stmt ast.Statement, parentBlock *BlockInfo, alloc *blockAllocator) {
	switch s := stmt.(type) {
	case *ast.DeclStatement:
		b.declare(cb, parentBlock, s.Kind, s.Name.Value)
		if s.Value != nil {
			b.walkExpression(cb, s.Value, parentBlock, alloc)
		}
	case *ast.BlockStatement:
		b.walkNestedBlock(cb, s.Statements, parentBlock, alloc)
	case *ast.ExpressionStatement:
		b.walkExpression(cb, s.Expression, parentBlock, alloc)
	case *ast.WhileStatement:
		b.walkExpression(cb, s.Condition, parentBlock, alloc)
		b.walkBranch(cb, s.Body, parentBlock, alloc)
	case *ast.ForInStatement:
		b.declare(cb, parentBlock, s.Kind, s.KeyName.Value)
		b.walkExpression(cb, s.Iterable, parentBlock, alloc)
		b.walkBranch(cb, s.Body, parentBlock, alloc)
	case *ast.ForOfStatement:
		b.declare(cb, parentBlock, s.Kind, s.ValName.Value)
		b.walkExpression(cb, s.Iterable, parentBlock, alloc)
		b.walkBranch(cb, s.Body, parentBlock, alloc)
	case *ast.TryStatement:
		b.walkBranch(cb, s.Block, parentBlock, alloc)
		if s.Catch != nil {
			if s.Catch.Param != nil {
				b.declare(cb, parentBlock, ast.DeclLet, s.Catch.Param.Value)
			}
			b.walkBranch(cb, s.Catch.Body, parentBlock, alloc)
		}
		if s.Finally != nil {
			b.walkBranch(cb, s.Finally, parentBlock, alloc)
		}
	case *ast.WithStatement:
		cb.Flags.HasWith = true
		b.walkExpression(cb, s.Object, parentBlock, alloc)
		b.walkBranch(cb, s.Body, parentBlock, alloc)
	case *ast.ReturnStatement:
		if s.ReturnValue != nil {
			b.walkExpression(cb, s.ReturnValue, parentBlock, alloc)
		}
	case *ast.ThrowStatement:
		b.walkExpression(cb, s.Value, parentBlock, alloc)
	}
}

// walkBranch treats a BlockStatement used as a control-flow body (if/while/
// for/try/with/catch) as its own nested block for let/const purposes.
func (b *builder) walkBranch(cb *CodeBlock, body *ast.BlockStatement, parentBlock *BlockInfo, alloc *blockAllocator) {
	b.walkNestedBlock(cb, body.Statements, parentBlock, alloc)
}

func (b *builder) walkNestedBlock(cb *CodeBlock, stmts []ast.Statement, parentBlock *BlockInfo, alloc *blockAllocator) {
	block := &BlockInfo{Parent: parentBlock}
	first := len(cb.Blocks)
	inner := &blockAllocator{}
	b.walkStatements(cb, stmts, block, inner)
	n := len(block.Identifiers)
	// Blocks nested in this one are live while it is, so their slots
	// start after this block's own.
	base := alloc.enter(n + inner.peak)
	alloc.leave(n + inner.peak)
	for _, nested := range cb.Blocks[first:] {
		nested.Offset += base + n
	}
	if n > 0 {
		block.Offset = base
		cb.Blocks = append(cb.Blocks, block)
	}
}

func (b *builder) declare(cb *CodeBlock, parentBlock *BlockInfo, kind ast.DeclKind, name string) {
	info := IdentifierInfo{Name: name, Kind: kind}
	if kind == ast.DeclVar || parentBlock == nil {
		cb.Vars = append(cb.Vars, info)
		return
	}
	parentBlock.Identifiers = append(parentBlock.Identifiers, info)
}

// walkExpression descends into sub-expressions only as far as needed to
// find nested function literals (which get their own CodeBlock) and
// "arguments" references (which force an arguments object).
func (b *builder) walkExpression(cb *CodeBlock, expr ast.Expression, parentBlock *BlockInfo, alloc *blockAllocator) {
	switch e := expr.(type) {
	case *ast.FunctionLiteral:
		BuildFunction(cb, e)
	case *ast.Identifier:
		if e.Value == "arguments" {
			cb.Flags.HasArgumentsObject = true
		}
	case *ast.CallExpression:
		b.walkExpression(cb, e.Function, parentBlock, alloc)
		for _, a := range e.Arguments {
			b.walkExpression(cb, a, parentBlock, alloc)
		}
	case *ast.InfixExpression:
		b.walkExpression(cb, e.Left, parentBlock, alloc)
		b.walkExpression(cb, e.Right, parentBlock, alloc)
	case *ast.PrefixExpression:
		b.walkExpression(cb, e.Right, parentBlock, alloc)
	case *ast.AssignExpression:
		b.walkExpression(cb, e.Value, parentBlock, alloc)
	case *ast.IndexExpression:
		b.walkExpression(cb, e.Left, parentBlock, alloc)
		b.walkExpression(cb, e.Index, parentBlock, alloc)
	case *ast.IfExpression:
		b.walkExpression(cb, e.Condition, parentBlock, alloc)
		b.walkBranch(cb, e.Consequence, parentBlock, alloc)
		if e.Alternative != nil {
			b.walkBranch(cb, e.Alternative, parentBlock, alloc)
		}
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			b.walkExpression(cb, el, parentBlock, alloc)
		}
	case *ast.HashLiteral:
		for _, k := range e.Order {
			b.walkExpression(cb, k, parentBlock, alloc)
			b.walkExpression(cb, e.Pairs[k], parentBlock, alloc)
		}
	case *ast.YieldExpression:
		if e.Value != nil {
			b.walkExpression(cb, e.Value, parentBlock, alloc)
		}
	}
}

// finishFunction assigns SlotIndex to every parameter and function-scoped
// variable, computes Counts.NumVars, and reserves one more slot for the
// arguments object when the function uses one. The storage flags are set
// afterwards by finalizeTree.
func (b *builder) finishFunction(cb *CodeBlock, _ []ast.Statement, _ bool, _ bool) {
	idx := 0
	for i := range cb.Params {
		cb.Params[i].SlotIndex = idx
		idx++
	}
	for i := range cb.Vars {
		cb.Vars[i].SlotIndex = idx
		idx++
	}
	cb.Counts.NumVars = idx

	if cb.Flags.HasArgumentsObject {
		cb.RareData = &RareData{ArgumentsObjectSlot: idx}
		cb.Counts.NumVars++
	}
}

// finalizeTree recurses into the children first, then computes
// HasDescendantEval/HasDescendantWith bottom-up and
// CanUseIndexedVariableStorage from the combined flags.
func finalizeTree(cb *CodeBlock) bool {
	descendantEval, descendantWith := false, false
	for _, child := range cb.Children {
		childPropagates := finalizeTree(child)
		_ = childPropagates
		if child.Flags.HasEval || child.Flags.HasDescendantEval {
			descendantEval = true
		}
		if child.Flags.HasWith || child.Flags.HasDescendantWith {
			descendantWith = true
		}
	}
	cb.Flags.HasDescendantEval = descendantEval
	cb.Flags.HasDescendantWith = descendantWith
	cb.Flags.CanUseIndexedVariableStorage = !(cb.Flags.HasEval || cb.Flags.HasWith || descendantEval || descendantWith)
	return cb.Flags.HasEval || cb.Flags.HasWith || descendantEval || descendantWith
}
