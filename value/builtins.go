package value

import "fmt"

// Builtins is the fixed, ordered table of native functions available to
// every compiled program. Order matters: the compiler resolves a builtin
// identifier to its index in this slice at compile time (OpGetBuiltin), so
// the table must never be reordered once scripts depend on it, only
// appended to.
var Builtins = []struct {
	Name    string
	Builtin *Builtin
}{
	{"len", &Builtin{Name: "len", Fn: builtinLen}},
	{"first", &Builtin{Name: "first", Fn: builtinFirst}},
	{"last", &Builtin{Name: "last", Fn: builtinLast}},
	{"rest", &Builtin{Name: "rest", Fn: builtinRest}},
	{"push", &Builtin{Name: "push", Fn: builtinPush}},
	{"puts", &Builtin{Name: "puts", Fn: builtinPuts}},
	{"eval", &Builtin{Name: "eval", Fn: builtinEval}},
}

// GetBuiltinByName returns the Builtin named name, if any.
func GetBuiltinByName(name string) *Builtin {
	for _, b := range Builtins {
		if b.Name == name {
			return b.Builtin
		}
	}
	return nil
}

func newError(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

func builtinLen(args ...Value) Value {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	switch arg := args[0].(type) {
	case *String:
		return &Integer{Value: int64(len(arg.Value))}
	case *Array:
		return &Integer{Value: int64(len(arg.Elements))}
	default:
		return newError("argument to `len` not supported, got %s", arg.Type())
	}
}

func builtinFirst(args ...Value) Value {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return newError("argument to `first` must be ARRAY, got %s", args[0].Type())
	}
	if len(arr.Elements) > 0 {
		return arr.Elements[0]
	}
	return TheUndefined
}

func builtinLast(args ...Value) Value {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return newError("argument to `last` must be ARRAY, got %s", args[0].Type())
	}
	if n := len(arr.Elements); n > 0 {
		return arr.Elements[n-1]
	}
	return TheUndefined
}

func builtinRest(args ...Value) Value {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return newError("argument to `rest` must be ARRAY, got %s", args[0].Type())
	}
	if n := len(arr.Elements); n > 0 {
		rest := make([]Value, n-1)
		copy(rest, arr.Elements[1:])
		return &Array{Elements: rest}
	}
	return TheUndefined
}

func builtinPush(args ...Value) Value {
	if len(args) != 2 {
		return newError("wrong number of arguments. got=%d, want=2", len(args))
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return newError("argument to `push` must be ARRAY, got %s", args[0].Type())
	}
	newElems := make([]Value, len(arr.Elements)+1)
	copy(newElems, arr.Elements)
	newElems[len(arr.Elements)] = args[1]
	return &Array{Elements: newElems}
}

func builtinPuts(args ...Value) Value {
	for _, a := range args {
		fmt.Println(a.Inspect())
	}
	return TheUndefined
}

// builtinEval stands in for a real eval(): this engine's scope analyzer
// tracks hasEval so a function containing a call to eval cannot use
// indexed variable storage, but actually re-entering the compiler from a
// running program is out of scope here.
func builtinEval(_ ...Value) Value {
	return newError("eval is not supported")
}
