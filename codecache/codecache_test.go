package codecache

import (
	"testing"

	"github.com/dr8co/kongvm/bytecode"
)

// buildSampleTree returns a small Block tree with one nested function
// literal, exercising the numeral/string/other pools, inline caches, and
// the other-pool-to-block relocation the cache format relies on.
func buildSampleTree() *bytecode.Block {
	inner := bytecode.NewBlock("inner")
	inner.NumParameters = 1
	inner.NumLocals = 1
	idx := inner.AddNumeral(7)
	inner.Instructions = append(inner.Instructions, bytecode.Make(bytecode.OpConstant, idx)...)
	inner.Instructions = append(inner.Instructions, bytecode.Make(bytecode.OpReturnValue)...)

	root := bytecode.NewBlock("main")
	otherIdx := root.AddOther(bytecode.FunctionLiteralValue{Block: inner})
	nameIdx := root.AddString("greet")
	cacheIdx := root.ReserveInlineCache(bytecode.GlobalVariableCache, nameIdx)
	root.Instructions = append(root.Instructions, bytecode.Make(bytecode.OpConstantFunction, otherIdx)...)
	root.Instructions = append(root.Instructions, bytecode.Make(bytecode.OpSetGlobal, cacheIdx)...)
	root.Instructions = append(root.Instructions, bytecode.Make(bytecode.OpPop)...)

	return root
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	root := buildSampleTree()
	source := "let greet = fn(x) { return 7; };"

	data, err := Serialize(source, root)
	if err != nil {
		t.Fatalf("Serialize failed: %s", err)
	}

	got, err := Deserialize(source, data)
	if err != nil {
		t.Fatalf("Deserialize failed: %s", err)
	}

	if got.Name != root.Name {
		t.Errorf("root name mismatch. want=%q, got=%q", root.Name, got.Name)
	}
	if len(got.OtherPool) != 1 {
		t.Fatalf("expected one other-pool entry, got %d", len(got.OtherPool))
	}
	fn, ok := got.OtherPool[0].(bytecode.FunctionLiteralValue)
	if !ok {
		t.Fatalf("other-pool entry did not deserialize as a FunctionLiteralValue")
	}
	if fn.Block.Name != "inner" {
		t.Errorf("nested block name mismatch. want=%q, got=%q", "inner", fn.Block.Name)
	}
	if fn.Block.NumParameters != 1 {
		t.Errorf("nested block NumParameters mismatch. want=1, got=%d", fn.Block.NumParameters)
	}
	if len(fn.Block.NumeralPool) != 1 || fn.Block.NumeralPool[0] != 7 {
		t.Errorf("nested block numeral pool mismatch, got %v", fn.Block.NumeralPool)
	}

	if len(got.InlineCaches) != 1 {
		t.Fatalf("expected one inline cache slot, got %d", len(got.InlineCaches))
	}
	if got.InlineCaches[0].Kind != bytecode.GlobalVariableCache {
		t.Errorf("inline cache kind mismatch")
	}
	if got.StringPool[got.InlineCaches[0].NameIndex] != "greet" {
		t.Errorf("inline cache name index does not resolve back to %q", "greet")
	}

	if len(got.Instructions) != len(root.Instructions) {
		t.Fatalf("instruction length mismatch. want=%d, got=%d", len(root.Instructions), len(got.Instructions))
	}
	for i := range root.Instructions {
		if got.Instructions[i] != root.Instructions[i] {
			t.Fatalf("instruction byte %d mismatch. want=%d, got=%d", i, root.Instructions[i], got.Instructions[i])
		}
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	root := buildSampleTree()
	source := "let greet = fn(x) { return 7; };"

	first, err := Serialize(source, root)
	if err != nil {
		t.Fatalf("Serialize failed: %s", err)
	}
	second, err := Serialize(source, root)
	if err != nil {
		t.Fatalf("Serialize failed: %s", err)
	}

	if len(first) != len(second) {
		t.Fatalf("two serializations of the same tree produced different lengths: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("two serializations diverged at byte %d", i)
		}
	}
}

func TestDeserializeRejectsSourceMismatch(t *testing.T) {
	root := buildSampleTree()
	data, err := Serialize("let greet = fn(x) { return 7; };", root)
	if err != nil {
		t.Fatalf("Serialize failed: %s", err)
	}

	_, err = Deserialize("let greet = fn(x) { return 8; };", data)
	if err != ErrSourceMismatch {
		t.Fatalf("expected ErrSourceMismatch, got %v", err)
	}
}

func TestDeserializeRejectsVersionMismatch(t *testing.T) {
	root := buildSampleTree()
	source := "let greet = fn(x) { return 7; };"
	data, err := Serialize(source, root)
	if err != nil {
		t.Fatalf("Serialize failed: %s", err)
	}

	// The format version is the little-endian uint16 immediately after
	// the 4-byte magic number.
	corrupted := append([]byte(nil), data...)
	corrupted[4] = 0xFF
	corrupted[5] = 0xFF

	_, err = Deserialize(source, corrupted)
	if err != ErrVersionMismatch {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDeserializeRejectsTruncatedData(t *testing.T) {
	root := buildSampleTree()
	source := "let greet = fn(x) { return 7; };"
	data, err := Serialize(source, root)
	if err != nil {
		t.Fatalf("Serialize failed: %s", err)
	}

	_, err = Deserialize(source, data[:len(data)/2])
	if err == nil {
		t.Fatalf("expected an error deserializing truncated data")
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	root := buildSampleTree()
	source := "let greet = fn(x) { return 7; };"
	data, err := Serialize(source, root)
	if err != nil {
		t.Fatalf("Serialize failed: %s", err)
	}
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF

	_, err = Deserialize(source, corrupted)
	if err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt for a bad magic number, got %v", err)
	}
}

func TestSerializeRejectsUncacheableOpcode(t *testing.T) {
	root := bytecode.NewBlock("main")
	root.IsGenerator = true
	root.Instructions = append(root.Instructions, bytecode.Make(bytecode.OpExecutionResume)...)

	_, err := Serialize("fn*() { yield 1; }", root)
	if err == nil {
		t.Fatalf("expected Serialize to reject a block containing OpExecutionResume")
	}
}

