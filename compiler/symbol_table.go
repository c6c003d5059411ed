package compiler

// SymbolScope represents the scope of a symbol within a program, such as global, local, builtin, free, or function.
type SymbolScope string

const (
	// GlobalScope represents the global scope of symbols, typically defining symbols accessible throughout the program.
	GlobalScope SymbolScope = "GLOBAL"

	// LocalScope defines the symbol scope for variables declared within a local function or block.
	LocalScope SymbolScope = "LOCAL"

	// BuiltinScope represents the scope used for predefined or built-in symbols in the program.
	BuiltinScope SymbolScope = "BUILTIN"

	// FreeScope represents the symbol scope for variables that are free,
	// i.e., not locally defined but referenced in a nested context.
	FreeScope SymbolScope = "FREE"

	// FunctionScope represents the scope for function symbols,
	// typically defining variables or symbols within a function context.
	FunctionScope SymbolScope = "FUNCTION"
)

// Symbol represents a named entity within a specific scope and its associated index in the symbol table.
type Symbol struct {
	// The name of the symbol.
	Name string

	// The scope of the symbol.
	Scope SymbolScope

	// The position of the symbol within its respective scope or table.
	Index int

	// IsConst marks a symbol defined by "const", rejected by Assign sites
	// at compile time.
	IsConst bool
}

// SymbolTable manages variable bindings, symbol definition, and resolution
// within nested function and block scopes.
//
// A function boundary gets a new, enclosed SymbolTable the way the
// teacher's compiler creates one per FunctionLiteral. A block boundary
// ({ ... } bodies of if/for/while/try/with) does not get its own table:
// it pushes a mark onto blockMarks within the same table instead, because
// let/const bindings declared in nested blocks still share one function's
// register file rather than getting their own index space. EnterBlock and
// LeaveBlock give nested let/const the right shadowing and visibility
// without resetting numDefinitions.
type SymbolTable struct {
	// Outer represents the parent symbol table, allowing nested scopes to resolve symbols defined in enclosing contexts.
	Outer *SymbolTable

	// store is a map that holds symbol definitions, associating their names with their Symbol metadata.
	store map[string]Symbol

	// numDefinitions tracks the number of symbols defined in the symbol table.
	numDefinitions int

	// FreeSymbols holds a collection of symbols that are referenced but not defined in the current scope,
	// resolved to outer scopes.
	FreeSymbols []Symbol

	blockMarks []map[string]*Symbol
}

// NewSymbolTable creates a new symbol table with an empty symbol store.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		store:       make(map[string]Symbol),
		FreeSymbols: []Symbol{},
	}
}

// NewEnclosedSymbolTable creates a new symbol table with its outer field set to the provided enclosing symbol table.
func NewEnclosedSymbolTable(outer *SymbolTable) *SymbolTable {
	s := NewSymbolTable()
	s.Outer = outer
	return s
}

// EnterBlock opens a new lexical block within the current function scope.
func (s *SymbolTable) EnterBlock() {
	s.blockMarks = append(s.blockMarks, make(map[string]*Symbol))
}

// LeaveBlock closes the most recently opened block, restoring any name it
// shadowed (or hiding a name it introduced that shadowed nothing).
func (s *SymbolTable) LeaveBlock() {
	n := len(s.blockMarks)
	if n == 0 {
		return
	}
	mark := s.blockMarks[n-1]
	s.blockMarks = s.blockMarks[:n-1]
	for name, prev := range mark {
		if prev == nil {
			delete(s.store, name)
		} else {
			s.store[name] = *prev
		}
	}
}

func (s *SymbolTable) recordShadow(name string) {
	if len(s.blockMarks) == 0 {
		return
	}
	mark := s.blockMarks[len(s.blockMarks)-1]
	if _, already := mark[name]; already {
		return
	}
	if prev, ok := s.store[name]; ok {
		p := prev
		mark[name] = &p
	} else {
		mark[name] = nil
	}
}

// Define adds a new symbol with the given name to the symbol table and assigns it a scope and index.
func (s *SymbolTable) Define(name string) Symbol {
	return s.DefineKind(name, false)
}

// DefineKind is Define extended with a const flag, for let/const
// declarations; ordinary var/param bindings and the original Define both
// call it with isConst false.
func (s *SymbolTable) DefineKind(name string, isConst bool) Symbol {
	s.recordShadow(name)
	symbol := Symbol{Name: name, Index: s.numDefinitions, IsConst: isConst}
	if s.Outer == nil {
		symbol.Scope = GlobalScope
	} else {
		symbol.Scope = LocalScope
	}

	s.store[name] = symbol
	s.numDefinitions++
	return symbol
}

// NumDefinitions reports how many registers this function scope has
// allocated so far.
func (s *SymbolTable) NumDefinitions() int { return s.numDefinitions }

// Resolve looks up a symbol by name in the current symbol table and, if not found, in enclosing scopes recursively.
func (s *SymbolTable) Resolve(name string) (Symbol, bool) {
	obj, ok := s.store[name]
	if !ok && s.Outer != nil {
		obj, ok = s.Outer.Resolve(name)
		if ok {
			if obj.Scope != GlobalScope && obj.Scope != BuiltinScope {
				free := s.defineFree(obj)
				return free, true
			}
		}
	}
	return obj, ok
}

// DefineBuiltin adds a symbol with a built-in scope to the symbol table using the given index and name.
func (s *SymbolTable) DefineBuiltin(index int, name string) Symbol {
	symbol := Symbol{Name: name, Index: index, Scope: BuiltinScope}
	s.store[name] = symbol
	return symbol
}

// defineFree adds a free symbol to the FreeSymbols collection and assigns it a FreeScope with a new index.
func (s *SymbolTable) defineFree(original Symbol) Symbol {
	s.FreeSymbols = append(s.FreeSymbols, original)
	symbol := Symbol{Name: original.Name, Index: len(s.FreeSymbols) - 1}

	symbol.Scope = FreeScope
	s.store[original.Name] = symbol

	return symbol
}

// DefineFunctionName defines a symbol with function scope and index 0,
// storing it in the symbol table by the given name.
func (s *SymbolTable) DefineFunctionName(name string) Symbol {
	symbol := Symbol{Name: name, Index: 0, Scope: FunctionScope}
	s.store[name] = symbol
	return symbol
}
