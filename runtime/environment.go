// Package runtime implements the lexical environment chain and the
// per-execution Context that owns the interned-string table and the
// global-variable generation counter used to invalidate inline caches.
//
// It plays the role the teacher's object.Environment plays for the
// tree-walking evaluator, generalized to the three environment records the
// scope analyzer can ask the compiler to allocate: declarative (ordinary
// function/block scopes), object-with (the binding created by a "with"
// statement), and global.
package runtime

import "github.com/dr8co/kongvm/value"

// Kind distinguishes the three environment record flavors.
type Kind int

const (
	// Declarative holds identifiers declared by var/let/const/function
	// parameters in a plain block or function scope.
	Declarative Kind = iota
	// ObjectWith wraps a with statement's object; lookups check the
	// object's own properties before falling through to Outer.
	ObjectWith
	// Global is the outermost environment, backing the global object.
	Global
)

// Environment is one link in the lexical scope chain walked by LoadByName
// and StoreByName when a CodeBlock cannot use indexed variable access
// (because it, or a descendant, has eval or with).
type Environment struct {
	Kind    Kind
	store   map[string]value.Value
	consts  map[string]bool
	withObj *value.Hash
	Outer   *Environment
}

// NewEnvironment creates a fresh declarative environment with no parent.
func NewEnvironment() *Environment {
	return &Environment{Kind: Declarative, store: make(map[string]value.Value), consts: make(map[string]bool)}
}

// NewGlobalEnvironment creates the outermost environment.
func NewGlobalEnvironment() *Environment {
	env := NewEnvironment()
	env.Kind = Global
	return env
}

// NewEnclosedEnvironment creates a declarative environment nested inside outer.
func NewEnclosedEnvironment(outer *Environment) *Environment {
	env := NewEnvironment()
	env.Outer = outer
	return env
}

// NewWithEnvironment creates the environment record introduced by a "with"
// statement, wrapping obj and chaining to outer.
func NewWithEnvironment(obj *value.Hash, outer *Environment) *Environment {
	env := NewEnvironment()
	env.Kind = ObjectWith
	env.withObj = obj
	env.Outer = outer
	return env
}

// Get resolves name by walking Outer links, consulting with-bound objects
// along the way before falling back to declared bindings.
func (e *Environment) Get(name string) (value.Value, bool) {
	if e.Kind == ObjectWith {
		if prop, ok := e.withProperty(name); ok {
			return prop, true
		}
	}
	if v, ok := e.store[name]; ok {
		return v, true
	}
	if e.Outer != nil {
		return e.Outer.Get(name)
	}
	return nil, false
}

func (e *Environment) withProperty(name string) (value.Value, bool) {
	key := &value.String{Value: name}
	pair, ok := e.withObj.Pairs[key.HashKey()]
	if !ok {
		return nil, false
	}
	return pair.Value, true
}

// Define introduces a new binding in this environment record.
func (e *Environment) Define(name string, val value.Value, isConst bool) value.Value {
	e.store[name] = val
	if isConst {
		e.consts[name] = true
	}
	return val
}

// Assign stores val into the nearest environment (walking Outer) that
// already has name bound. It reports false if name was never declared, or
// if it was declared const.
func (e *Environment) Assign(name string, val value.Value) bool {
	if e.Kind == ObjectWith {
		if _, ok := e.withProperty(name); ok {
			e.withObj.Set(&value.String{Value: name}, &value.String{Value: name}, val)
			return true
		}
	}
	if _, ok := e.store[name]; ok {
		if e.consts[name] {
			return false
		}
		e.store[name] = val
		return true
	}
	if e.Outer != nil {
		return e.Outer.Assign(name, val)
	}
	return false
}
