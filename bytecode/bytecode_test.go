package bytecode

import "testing"

func TestMakeAndReadOperands(t *testing.T) {
	tests := []struct {
		op       Opcode
		operands []int
		expected []byte
	}{
		{OpConstant, []int{65534}, []byte{byte(OpConstant), 255, 254}},
		{OpGetLocal, []int{255}, []byte{byte(OpGetLocal), 255}},
		{OpAdd, []int{}, []byte{byte(OpAdd)}},
		{OpClosure, []int{65534, 255}, []byte{byte(OpClosure), 255, 254, 255}},
	}

	for _, tt := range tests {
		got := Make(tt.op, tt.operands...)
		if len(got) != len(tt.expected) {
			t.Fatalf("instruction has wrong length for %v. want=%d, got=%d", tt.op, len(tt.expected), len(got))
		}
		for i, b := range tt.expected {
			if got[i] != b {
				t.Errorf("wrong byte at pos %d for %v. want=%d, got=%d", i, tt.op, b, got[i])
			}
		}

		def, err := Lookup(byte(tt.op))
		if err != nil {
			t.Fatalf("Lookup failed: %s", err)
		}
		operandsRead, n := ReadOperands(def, Instructions(got[1:]))
		if n != len(got)-1 {
			t.Fatalf("read wrong number of bytes. want=%d, got=%d", len(got)-1, n)
		}
		for i, want := range tt.operands {
			if operandsRead[i] != want {
				t.Errorf("operand %d wrong. want=%d, got=%d", i, want, operandsRead[i])
			}
		}
	}
}

func TestInstructionsString(t *testing.T) {
	instructions := []Instructions{
		Make(OpAdd),
		Make(OpGetLocal, 1),
		Make(OpConstant, 2),
		Make(OpClosure, 65535, 255),
	}

	expected := `0000 OpAdd
0001 OpGetLocal 1
0003 OpConstant 2
0006 OpClosure 65535 255
`

	var flat Instructions
	for _, ins := range instructions {
		flat = append(flat, ins...)
	}

	if got := flat.String(); got != expected {
		t.Errorf("instructions wrongly formatted.\nwant=%q\ngot=%q", expected, got)
	}
}

func TestLookupUndefinedOpcode(t *testing.T) {
	if _, err := Lookup(0xFF); err == nil {
		t.Fatalf("expected an error for an undefined opcode")
	}
}

func TestValidateAcceptsWellFormedBlock(t *testing.T) {
	b := NewBlock("main")
	idx := b.AddNumeral(42)
	b.Instructions = append(b.Instructions,
		Make(OpConstant, idx)...)
	b.Instructions = append(b.Instructions, Make(OpPop)...)

	if err := b.Validate(); err != nil {
		t.Fatalf("Validate rejected a well-formed block: %s", err)
	}
}

func TestValidateRejectsJumpIntoInstructionMiddle(t *testing.T) {
	b := NewBlock("main")
	// OpJump's target 2 lands inside OpJump's own 2-byte operand, not on an
	// instruction boundary.
	b.Instructions = append(b.Instructions, Make(OpJump, 2)...)
	idx := b.AddNumeral(1)
	b.Instructions = append(b.Instructions, Make(OpConstant, idx)...)

	if err := b.Validate(); err == nil {
		t.Fatalf("expected Validate to reject a jump target that is not an instruction boundary")
	}
}

func TestValidateRejectsJumpPastEnd(t *testing.T) {
	b := NewBlock("main")
	b.Instructions = append(b.Instructions, Make(OpJump, 9999)...)

	if err := b.Validate(); err == nil {
		t.Fatalf("expected Validate to reject a jump target past the end of the instruction stream")
	}
}

func TestValidateRejectsOutOfRangeNumeralIndex(t *testing.T) {
	b := NewBlock("main")
	b.Instructions = append(b.Instructions, Make(OpConstant, 7)...)

	if err := b.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an out-of-range numeral pool index")
	}
}

func TestValidateRejectsOutOfRangeLocalIndex(t *testing.T) {
	b := NewBlock("main")
	b.NumLocals = 1
	b.Instructions = append(b.Instructions, Make(OpGetLocal, 3)...)

	if err := b.Validate(); err == nil {
		t.Fatalf("expected Validate to reject a register index beyond NumLocals")
	}
}

func TestValidateRejectsOutOfRangeInlineCacheIndex(t *testing.T) {
	b := NewBlock("main")
	b.Instructions = append(b.Instructions, Make(OpGetGlobal, 0)...)

	if err := b.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an inline cache index with no reserved slots")
	}
}

func TestValidateRejectsUndefinedOpcode(t *testing.T) {
	b := NewBlock("main")
	b.Instructions = append(b.Instructions, 0xFF)

	if err := b.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an undefined opcode byte")
	}
}

func TestPoolDeduplication(t *testing.T) {
	b := NewBlock("main")
	i1 := b.AddNumeral(3.14)
	i2 := b.AddNumeral(3.14)
	if i1 != i2 {
		t.Errorf("AddNumeral should dedupe identical values, got %d and %d", i1, i2)
	}
	if len(b.NumeralPool) != 1 {
		t.Errorf("expected one pooled numeral, got %d", len(b.NumeralPool))
	}

	s1 := b.AddString("x")
	s2 := b.AddString("x")
	if s1 != s2 {
		t.Errorf("AddString should dedupe identical values, got %d and %d", s1, s2)
	}

	o1 := b.AddOther(FunctionLiteralValue{Block: NewBlock("inner1")})
	o2 := b.AddOther(FunctionLiteralValue{Block: NewBlock("inner2")})
	if o1 == o2 {
		t.Errorf("AddOther should never dedupe distinct entries, got %d and %d", o1, o2)
	}
}

func TestReserveInlineCache(t *testing.T) {
	b := NewBlock("main")
	nameIdx := b.AddString("x")
	slot := b.ReserveInlineCache(GlobalVariableCache, nameIdx)
	if slot != 0 {
		t.Fatalf("expected first reserved slot to be index 0, got %d", slot)
	}
	if b.InlineCaches[slot].Kind != GlobalVariableCache {
		t.Errorf("expected reserved slot to carry GlobalVariableCache kind")
	}
	if b.InlineCaches[slot].NameIndex != nameIdx {
		t.Errorf("expected reserved slot to carry the given name index")
	}
}
