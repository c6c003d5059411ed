// Package scope analyzes a parsed function or program body and produces a
// CodeBlock: a description of every identifier it binds, how those
// identifiers are laid out (indexed register slots versus a named lexical
// environment), and whether nested blocks can share storage.
//
// A CodeBlock owns its Children and never holds a strong reference back up
// to Parent's owner beyond the plain back-pointer needed to walk outward
// during compilation; the tree's lifetime is rooted at the Program's
// CodeBlock the way the teacher's compiler.Compiler owns one
// SymbolTable chain rooted at the outermost scope.
package scope

import (
	"fmt"

	"github.com/dr8co/kongvm/ast"
)

// IdentifierInfo describes one binding visible in a CodeBlock: a function
// parameter, or a var/let/const declared directly in the function's top
// level (block-scoped let/const nested inside an if/for/try body live in a
// BlockInfo instead, see below).
type IdentifierInfo struct {
	Name        string
	Kind        ast.DeclKind
	IsParameter bool
	// SlotIndex is this identifier's position in the owning CodeBlock's
	// indexed register file, valid only when Flags.CanUseIndexedVariableStorage
	// is true; otherwise the variable lives in the CodeBlock's lexical
	// environment and is looked up by name.
	SlotIndex int
}

// BlockInfo describes the let/const bindings introduced by one nested
// { ... } block (the body of an if/for/while/try, or a bare block). Sibling
// blocks that can never be active at the same time (e.g. the two branches
// of an if/else) are assigned overlapping Offset ranges by the layout pass,
// the way stack slots get reused across non-overlapping C lexical scopes.
type BlockInfo struct {
	Identifiers []IdentifierInfo
	// Offset is where this block's slots begin within the owning
	// CodeBlock's block-variable storage.
	Offset int
	Parent *BlockInfo
}

// Counts tallies the sizes the compiler needs to size a CompiledFunction's
// register file and the code cache needs to validate a deserialized
// CodeBlock without re-walking it.
type Counts struct {
	NumParameters int
	NumVars       int // function-scoped var/let/const plus parameters
	NumBlockSlots int // peak concurrent let/const storage across nested blocks
}

// Flags records the boolean facts that change how the compiler emits code
// for this CodeBlock's variable accesses.
type Flags struct {
	HasEval                      bool
	HasWith                      bool
	HasDescendantEval            bool
	HasDescendantWith            bool
	CanUseIndexedVariableStorage bool
	HasArgumentsObject           bool
	IsGenerator                  bool
	IsProgram                    bool
}

// RareData holds information needed by only a minority of CodeBlocks, kept
// out of the common CodeBlock struct the way the teacher avoids widening
// hot structs for cold fields. It is nil unless Flags.HasArgumentsObject.
type RareData struct {
	ArgumentsObjectSlot int
}

// CodeBlock is the scope-analysis result for one function or the top-level
// program. It names every identifier that function binds and how each one
// is stored, without yet knowing anything about bytecode.
type CodeBlock struct {
	Name     string
	Parent   *CodeBlock
	Children []*CodeBlock

	Params []IdentifierInfo
	Vars   []IdentifierInfo
	Blocks []*BlockInfo

	Counts   Counts
	Flags    Flags
	RareData *RareData
}

// Validate checks the five structural invariants a CodeBlock tree must
// satisfy before the compiler or code cache trusts it:
//
//  1. a non-root CodeBlock's Parent is non-nil and lists it in Children.
//  2. every IdentifierInfo.SlotIndex assigned when CanUseIndexedVariableStorage
//     is true is unique and within [0, Counts.NumVars).
//  3. every BlockInfo's Offset+len(Identifiers) is within [0, Counts.NumBlockSlots].
//  4. HasDescendantEval/HasDescendantWith propagate upward: whenever a
//     child has HasEval/HasDescendantEval (or HasWith/HasDescendantWith),
//     its parent has HasDescendantEval (or HasDescendantWith) set.
//  5. CanUseIndexedVariableStorage is false whenever HasEval, HasWith,
//     HasDescendantEval, or HasDescendantWith is true.
func (cb *CodeBlock) Validate() error {
	return validate(cb, nil)
}

func validate(cb *CodeBlock, parent *CodeBlock) error {
	if cb.Parent != parent {
		return errInvariant("code block %q has inconsistent parent pointer", cb.Name)
	}
	if cb.Flags.CanUseIndexedVariableStorage {
		seen := make(map[int]bool)
		for _, id := range cb.Vars {
			if id.SlotIndex < 0 || id.SlotIndex >= cb.Counts.NumVars {
				return errInvariant("code block %q: slot index %d out of range [0,%d)", cb.Name, id.SlotIndex, cb.Counts.NumVars)
			}
			if seen[id.SlotIndex] {
				return errInvariant("code block %q: duplicate slot index %d", cb.Name, id.SlotIndex)
			}
			seen[id.SlotIndex] = true
		}
	}
	for _, b := range cb.Blocks {
		if b.Offset < 0 || b.Offset+len(b.Identifiers) > cb.Counts.NumBlockSlots {
			return errInvariant("code block %q: block offset %d+%d exceeds %d block slots", cb.Name, b.Offset, len(b.Identifiers), cb.Counts.NumBlockSlots)
		}
	}
	if (cb.Flags.HasEval || cb.Flags.HasWith || cb.Flags.HasDescendantEval || cb.Flags.HasDescendantWith) && cb.Flags.CanUseIndexedVariableStorage {
		return errInvariant("code block %q: indexed storage flag inconsistent with eval/with flags", cb.Name)
	}
	for _, child := range cb.Children {
		if err := validate(child, cb); err != nil {
			return err
		}
		if (child.Flags.HasEval || child.Flags.HasWith || child.Flags.HasDescendantEval || child.Flags.HasDescendantWith) && !cb.Flags.HasDescendantEval && !cb.Flags.HasDescendantWith {
			return errInvariant("code block %q: descendant flag not propagated from child %q", cb.Name, child.Name)
		}
	}
	return nil
}

type invariantError struct{ msg string }

func (e *invariantError) Error() string { return e.msg }

func errInvariant(format string, args ...any) error {
	return &invariantError{msg: fmt.Sprintf(format, args...)}
}
