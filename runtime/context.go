package runtime

import "github.com/dr8co/kongvm/value"

// AtomicString is an interned identifier or property name. Two AtomicString
// values with the same Index were produced by the same StringTable and are
// equal in O(1) without comparing their backing text, the way the teacher's
// object.HashKey caching avoids rehashing strings it has already seen.
type AtomicString struct {
	Index int
	text  string
}

// String returns the interned text.
func (a AtomicString) String() string { return a.text }

// StringTable interns identifier and property names for one Context, so
// the compiler and interpreter can compare names by integer index instead
// of repeated string comparison, and so the code cache can serialize each
// distinct name exactly once.
type StringTable struct {
	byText  map[string]AtomicString
	byIndex []string
}

// NewStringTable creates an empty StringTable.
func NewStringTable() *StringTable {
	return &StringTable{byText: make(map[string]AtomicString)}
}

// Intern returns the AtomicString for text, creating one if this is the
// first time text has been seen.
func (t *StringTable) Intern(text string) AtomicString {
	if as, ok := t.byText[text]; ok {
		return as
	}
	as := AtomicString{Index: len(t.byIndex), text: text}
	t.byText[text] = as
	t.byIndex = append(t.byIndex, text)
	return as
}

// Lookup returns the text for an index produced by Intern, as needed when
// deserializing a code cache that only stored indices.
func (t *StringTable) Lookup(index int) (string, bool) {
	if index < 0 || index >= len(t.byIndex) {
		return "", false
	}
	return t.byIndex[index], true
}

// Strings returns the interned texts in Intern order, the order the code
// cache writes its StringTable section in.
func (t *StringTable) Strings() []string {
	out := make([]string, len(t.byIndex))
	copy(out, t.byIndex)
	return out
}

// Context owns everything shared across one compile-and-run of a script:
// the interned string table and the monotonically increasing generation
// counter that invalidates global-variable inline caches whenever a new
// global binding is declared (spec §4.3 "Global variable access").
type Context struct {
	Strings          *StringTable
	GlobalEnv        *Environment
	globalGeneration uint32
}

// NewContext creates a Context with a fresh StringTable and global
// environment.
func NewContext() *Context {
	return &Context{Strings: NewStringTable(), GlobalEnv: NewGlobalEnvironment()}
}

// GlobalGeneration returns the current global-binding generation, compared
// against an inline cache's recorded generation to decide whether the
// cache is still valid.
func (c *Context) GlobalGeneration() uint32 { return c.globalGeneration }

// DeclareGlobal defines name in the global environment and bumps the
// generation counter, invalidating every outstanding global inline cache.
func (c *Context) DeclareGlobal(name string, val value.Value, isConst bool) {
	c.GlobalEnv.Define(name, val, isConst)
	c.globalGeneration++
}
