package vm

import (
	"testing"

	"github.com/dr8co/kongvm/compiler"
	"github.com/dr8co/kongvm/lexer"
	"github.com/dr8co/kongvm/parser"
	"github.com/dr8co/kongvm/runtime"
	"github.com/dr8co/kongvm/value"
)

type vmTestCase struct {
	input    string
	expected any
}

func runVM(t *testing.T, input string) (*VM, *runtime.Context) {
	t.Helper()
	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) != 0 {
		t.Fatalf("parser errors: %v", errs)
	}

	comp := compiler.New()
	if err := comp.Compile(program); err != nil {
		t.Fatalf("compiler error: %s", err)
	}

	ctx := runtime.NewContext()
	machine := New(comp.Block(), ctx)
	if err := machine.Run(); err != nil {
		t.Fatalf("vm error: %s", err)
	}
	return machine, ctx
}

func testExpectedObject(t *testing.T, expected any, actual value.Value) {
	t.Helper()
	switch want := expected.(type) {
	case int:
		testIntegerObject(t, int64(want), actual)
	case float64:
		f, ok := actual.(*value.Float)
		if !ok {
			t.Errorf("object is not Float. got=%T (%+v)", actual, actual)
			return
		}
		if f.Value != want {
			t.Errorf("object has wrong value. got=%f, want=%f", f.Value, want)
		}
	case bool:
		b, ok := actual.(*value.Boolean)
		if !ok {
			t.Errorf("object is not Boolean. got=%T (%+v)", actual, actual)
			return
		}
		if b.Value != want {
			t.Errorf("object has wrong value. got=%t, want=%t", b.Value, want)
		}
	case string:
		s, ok := actual.(*value.String)
		if !ok {
			t.Errorf("object is not String. got=%T (%+v)", actual, actual)
			return
		}
		if s.Value != want {
			t.Errorf("object has wrong value. got=%q, want=%q", s.Value, want)
		}
	case nil:
		if _, ok := actual.(*value.Null); !ok {
			if _, ok := actual.(*value.Undefined); !ok {
				t.Errorf("object is not Null/Undefined. got=%T (%+v)", actual, actual)
			}
		}
	default:
		t.Fatalf("unsupported expected type %T", expected)
	}
}

func testIntegerObject(t *testing.T, expected int64, actual value.Value) {
	t.Helper()
	i, ok := actual.(*value.Integer)
	if !ok {
		t.Errorf("object is not Integer. got=%T (%+v)", actual, actual)
		return
	}
	if i.Value != expected {
		t.Errorf("object has wrong value. got=%d, want=%d", i.Value, expected)
	}
}

func runVMTests(t *testing.T, tests []vmTestCase) {
	t.Helper()
	for _, tt := range tests {
		machine, _ := runVM(t, tt.input)
		top := machine.LastPoppedStackElem()
		testExpectedObject(t, tt.expected, top)
	}
}

func TestArithmetic(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"1", 1},
		{"2", 2},
		{"1 + 2", 3},
		{"1 - 2", -1},
		{"1 * 2", 2},
		{"4 / 2", 2},
		{"50 / 2 * 2 + 10 - 5", 55},
		{"5 + 5 + 5 + 5 - 10", 10},
		{"2 * 2 * 2 * 2 * 2", 32},
		{"5 * 2 + 10", 20},
		{"5 + 2 * 10", 25},
		{"-5", -5},
		{"-10", -10},
		{"-50 + 100 + -50", 0},
		{"3.5 + 1.5", float64(5)},
		{"7 % 3", 1},
	})
}

func TestBooleanAndComparisons(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"true", true},
		{"false", false},
		{"1 < 2", true},
		{"1 > 2", false},
		{"1 < 1", false},
		{"1 == 1", true},
		{"1 != 1", false},
		{"true == true", true},
		{"true != false", true},
		{"(1 < 2) == true", true},
		{"!true", false},
		{"!!true", true},
		{"!5", false},
	})
}

func TestConditionals(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"if (true) { 10 }", 10},
		{"if (true) { 10 } else { 20 }", 10},
		{"if (false) { 10 } else { 20 }", 20},
		{"if (1 < 2) { 10 } else { 20 }", 10},
		{"if (false) { 10 }", nil},
	})
}

// TestGlobalDeclarations exercises OpGetGlobal/OpSetGlobal through the
// inline-cache path and the distinction between var/let/const.
func TestGlobalDeclarations(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"var one = 1; one", 1},
		{"let one = 1; let two = 2; one + two", 3},
		{"const one = 1; const two = one + one; one + two", 3},
	})
}

// TestClosuresAndCalls exercises OpClosure/OpGetFree/OpCall/OpReturnValue.
func TestClosuresAndCalls(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{`let fivePlusTen = fn() { return 5 + 10; }; fivePlusTen();`, 15},
		{`let earlyExit = fn() { return 99; return 100; }; earlyExit();`, 99},
		{`
let newAdder = fn(a, b) {
    return fn(c) { return a + b + c; };
};
let addTwo = newAdder(1, 1);
addTwo(2);
`, 4},
		{`
let counter = fn(x) {
    if (x > 100) { return x; }
    return counter(x + 1);
};
counter(0);
`, 101},
	})
}

// TestArraysAndHashes exercises OpArray/OpHash/OpIndex.
func TestArraysAndHashes(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"[1, 2, 3][1]", 2},
		{"[1, 2, 3][0 + 2]", 3},
		{`({"a": 1, "b": 2})["b"]`, 2},
		{"[1, 2, 3][99]", nil},
	})
}

// TestTryCatchFinally exercises OpTryOperation/OpThrow/OpPopTryHandler/
// OpFinallyEnd and vm.unwind together.
func TestTryCatchFinally(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{`
let result = 0;
try {
    throw 42;
} catch (e) {
    result = e;
}
result;
`, 42},
		{`
let log = "";
try {
    log += "try";
} finally {
    log += "-finally";
}
log;
`, "try-finally"},
		{`
let log = "";
try {
    try {
        throw "boom";
    } finally {
        log += "inner-finally;";
    }
} catch (e) {
    log += e;
}
log;
`, "inner-finally;boom"},
	})
}

// TestForOfAndForIn exercises OpCreateEnumerateObject/OpCheckLastEnumerateKey/
// OpGetEnumerateKey and OpGetIterator/OpIteratorStep.
func TestForOfAndForIn(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{`
let sum = 0;
for (v of [1, 2, 3]) {
    sum += v;
}
sum;
`, 6},
		{`
let keys = "";
for (k in {"a": 1, "b": 2}) {
    keys += k;
}
keys;
`, "ab"},
	})
}

// TestGenerators exercises OpYield and the generator coroutine handshake,
// driven the only way the grammar allows: a for-of loop over the generator.
func TestGenerators(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{`
let gen = fn*() {
    yield 1;
    yield 2;
    yield 3;
};
let sum = 0;
for (v of gen()) {
    sum += v;
}
sum;
`, 6},
	})
}

// TestWithStatement exercises OpEnterWith/OpLeaveWith falling back to the
// global environment.
func TestWithStatement(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{`
let obj = {"x": 5};
let result = 0;
with (obj) {
    result = x;
}
result;
`, 5},
	})
}

func TestRuntimeErrors(t *testing.T) {
	tests := []string{
		`1 + true;`,
		`"a" - "b";`,
		`foobar;`,
	}
	for _, input := range tests {
		l := lexer.New(input)
		p := parser.New(l)
		program := p.ParseProgram()
		if errs := p.Errors(); len(errs) != 0 {
			t.Fatalf("parser errors: %v", errs)
		}
		comp := compiler.New()
		if err := comp.Compile(program); err != nil {
			// A compile-time error (e.g. undefined variable resolved
			// statically) also satisfies "this program does not run".
			continue
		}
		ctx := runtime.NewContext()
		machine := New(comp.Block(), ctx)
		if err := machine.Run(); err == nil {
			t.Errorf("expected a runtime error for %q, got none", input)
		}
	}
}
