// Package codecache implements the deterministic binary serializer and
// deserializer for a compiled bytecode.Block tree: the on-disk format a
// -cache/-from-cache run writes and reads so a later run can skip lexing,
// parsing, scope analysis, and compilation entirely.
//
// The layout follows the three sections spec'd for the cache file: a
// header carrying the source text a cache was built from, a single
// deduplicated string table every block's StringPool and Name index
// into, and a flat, depth-first pre-order list of blocks. A block's
// OtherPool entries reference nested blocks by position in that same
// list rather than by nested byte offsets - the relocation table - so
// Deserialize can allocate every block up front and fill them in a
// single forward pass regardless of which block references which.
//
// Inline-cache *contents* (a resolved global binding, a last-seen Hash
// pointer) are runtime-only state and are never written; only a slot's
// Kind and NameIndex - its compile-time shape, not its cached value -
// survive a round trip, matching the spec's "inline caches are not part
// of the persisted image".
package codecache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dr8co/kongvm/bytecode"
)

const (
	magic         uint32 = 0x4b4f4e47 // "KONG"
	formatVersion uint16 = 1
)

var (
	// ErrVersionMismatch is returned when a cache's format version does
	// not match this build's formatVersion. Callers should recompile.
	ErrVersionMismatch = errors.New("codecache: format version mismatch")
	// ErrCorrupt is returned when a cache's bytes cannot be parsed:
	// truncated input, an out-of-range pool or block index, a length
	// prefix that runs past the end of the buffer.
	ErrCorrupt = errors.New("codecache: corrupt cache data")
	// ErrSourceMismatch is returned when a cache's stored source text
	// does not match the source passed to Deserialize - the cache's one
	// freshness check, since the format carries no separate content hash.
	ErrSourceMismatch = errors.New("codecache: cache does not match source")
	// ErrUncacheableOpcode is returned by Serialize when a block contains
	// an opcode the cache format cannot relocate across a save/load
	// boundary, such as a suspended generator resume point. Callers
	// should fall back to running uncached.
	ErrUncacheableOpcode = errors.New("codecache: block contains an uncacheable opcode")
)

// uncacheable is the set of opcodes Serialize refuses to persist: those
// whose meaning depends on in-process state a binary image cannot carry
// (a live generator suspension point) or that this implementation never
// actually emits and therefore has no tested relocation rule for.
var uncacheable = map[bytecode.Opcode]bool{
	bytecode.OpExecutionResume: true,
	bytecode.OpJumpComplexCase: true,
}

// Serialize writes a deterministic binary encoding of root - and every
// block it transitively references through OtherPool - alongside
// source, the program text it was compiled from, so Deserialize can
// reject a stale cache.
func Serialize(source string, root *bytecode.Block) ([]byte, error) {
	blocks, err := flatten(root)
	if err != nil {
		return nil, err
	}
	strs := collectStrings(blocks)
	index := make(map[*bytecode.Block]int, len(blocks))
	for i, b := range blocks {
		index[b] = i
	}

	var buf bytes.Buffer
	writeUint32(&buf, magic)
	writeUint16(&buf, formatVersion)
	writeBytes(&buf, source)

	writeUint32(&buf, uint32(len(strs.list)))
	for _, s := range strs.list {
		writeBytes(&buf, s)
	}

	writeUint32(&buf, uint32(len(blocks)))
	for _, b := range blocks {
		if err := writeBlock(&buf, b, index, strs); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Deserialize parses data written by Serialize, returning the root block
// of the cached tree (always blocks[0], since flatten always visits root
// first). It returns ErrVersionMismatch, ErrCorrupt, or ErrSourceMismatch
// rather than panicking on malformed or stale input.
func Deserialize(source string, data []byte) (*bytecode.Block, error) {
	r := &reader{buf: data}

	gotMagic, err := r.uint32()
	if err != nil || gotMagic != magic {
		return nil, ErrCorrupt
	}
	gotVersion, err := r.uint16()
	if err != nil {
		return nil, ErrCorrupt
	}
	if gotVersion != formatVersion {
		return nil, ErrVersionMismatch
	}
	gotSource, err := r.bytes()
	if err != nil {
		return nil, ErrCorrupt
	}
	if gotSource != source {
		return nil, ErrSourceMismatch
	}

	numStrings, err := r.uint32()
	if err != nil {
		return nil, ErrCorrupt
	}
	strs := make([]string, numStrings)
	for i := range strs {
		s, err := r.bytes()
		if err != nil {
			return nil, ErrCorrupt
		}
		strs[i] = s
	}

	numBlocks, err := r.uint32()
	if err != nil {
		return nil, ErrCorrupt
	}
	blocks := make([]*bytecode.Block, numBlocks)
	for i := range blocks {
		blocks[i] = &bytecode.Block{}
	}
	for i := range blocks {
		if err := readBlock(r, blocks[i], blocks, strs); err != nil {
			return nil, err
		}
	}
	if len(blocks) == 0 {
		return nil, ErrCorrupt
	}
	for _, b := range blocks {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
	}
	return blocks[0], nil
}

// flatten walks root and every block it references through OtherPool,
// depth-first pre-order, returning a slice where a block always appears
// before any block it refers to only indirectly through a third block
// (its own direct children may follow it at any later position). The
// order is a pure function of the tree shape, so two calls against
// equal input produce an identical slice and therefore identical bytes.
func flatten(root *bytecode.Block) ([]*bytecode.Block, error) {
	var order []*bytecode.Block
	var visit func(b *bytecode.Block) error
	visit = func(b *bytecode.Block) error {
		if err := checkCacheable(b); err != nil {
			return err
		}
		order = append(order, b)
		for _, v := range b.OtherPool {
			fn, ok := v.(bytecode.FunctionLiteralValue)
			if !ok {
				return fmt.Errorf("%w: other-pool entry of unknown type in block %q", ErrUncacheableOpcode, b.Name)
			}
			if err := visit(fn.Block); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

func checkCacheable(b *bytecode.Block) error {
	ins := b.Instructions
	i := 0
	for i < len(ins) {
		op := bytecode.Opcode(ins[i])
		if uncacheable[op] {
			return fmt.Errorf("%w: %q in block %q", ErrUncacheableOpcode, opName(op), b.Name)
		}
		def, err := bytecode.Lookup(ins[i])
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUncacheableOpcode, err)
		}
		_, read := bytecode.ReadOperands(def, ins[i+1:])
		i += read + 1
	}
	return nil
}

func opName(op bytecode.Opcode) string {
	def, err := bytecode.Lookup(byte(op))
	if err != nil {
		return fmt.Sprintf("opcode(%d)", op)
	}
	return def.Name
}

// stringTable is a first-seen-order, deduplicated pool of every string
// that appears anywhere in a flattened block tree (block names and
// StringPool entries), shared by every block in the file so a name
// reused across nested functions is written once.
type stringTable struct {
	list  []string
	index map[string]int
}

func collectStrings(blocks []*bytecode.Block) *stringTable {
	t := &stringTable{index: make(map[string]int)}
	intern := func(s string) {
		if _, ok := t.index[s]; ok {
			return
		}
		t.index[s] = len(t.list)
		t.list = append(t.list, s)
	}
	for _, b := range blocks {
		intern(b.Name)
		for _, s := range b.StringPool {
			intern(s)
		}
	}
	return t
}

func writeBlock(buf *bytes.Buffer, b *bytecode.Block, index map[*bytecode.Block]int, strs *stringTable) error {
	writeUint32(buf, uint32(strs.index[b.Name]))
	writeUint32(buf, uint32(b.NumLocals))
	writeUint32(buf, uint32(b.NumParameters))
	writeUint32(buf, uint32(b.NumBlockSlots))
	writeBool(buf, b.IsGenerator)

	writeUint32(buf, uint32(len(b.NumeralPool)))
	for _, f := range b.NumeralPool {
		writeFloat64(buf, f)
	}

	writeUint32(buf, uint32(len(b.StringPool)))
	for _, s := range b.StringPool {
		writeUint32(buf, uint32(strs.index[s]))
	}

	writeUint32(buf, uint32(len(b.OtherPool)))
	for _, v := range b.OtherPool {
		fn, ok := v.(bytecode.FunctionLiteralValue)
		if !ok {
			return fmt.Errorf("%w: cannot relocate other-pool entry in block %q", ErrUncacheableOpcode, b.Name)
		}
		refIdx, ok := index[fn.Block]
		if !ok {
			return fmt.Errorf("%w: other-pool entry in block %q references an unflattened block", ErrUncacheableOpcode, b.Name)
		}
		writeUint32(buf, uint32(refIdx))
	}

	writeUint32(buf, uint32(len(b.InlineCaches)))
	for _, ic := range b.InlineCaches {
		_ = buf.WriteByte(byte(ic.Kind))
		writeUint32(buf, uint32(ic.NameIndex))
	}

	writeUint32(buf, uint32(len(b.Instructions)))
	buf.Write(b.Instructions)
	return nil
}

func readBlock(r *reader, b *bytecode.Block, blocks []*bytecode.Block, strs []string) error {
	nameIdx, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	name, err := lookupString(strs, nameIdx)
	if err != nil {
		return err
	}
	b.Name = name

	numLocals, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	b.NumLocals = int(numLocals)

	numParams, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	b.NumParameters = int(numParams)

	numBlockSlots, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	b.NumBlockSlots = int(numBlockSlots)

	isGen, err := r.bool()
	if err != nil {
		return ErrCorrupt
	}
	b.IsGenerator = isGen

	numNumerals, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	b.NumeralPool = make([]float64, numNumerals)
	for i := range b.NumeralPool {
		f, err := r.float64()
		if err != nil {
			return ErrCorrupt
		}
		b.NumeralPool[i] = f
	}

	numStrs, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	b.StringPool = make([]string, numStrs)
	for i := range b.StringPool {
		idx, err := r.uint32()
		if err != nil {
			return ErrCorrupt
		}
		s, err := lookupString(strs, idx)
		if err != nil {
			return err
		}
		b.StringPool[i] = s
	}

	numOther, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	b.OtherPool = make([]bytecode.Value, numOther)
	for i := range b.OtherPool {
		refIdx, err := r.uint32()
		if err != nil {
			return ErrCorrupt
		}
		if int(refIdx) < 0 || int(refIdx) >= len(blocks) {
			return ErrCorrupt
		}
		b.OtherPool[i] = bytecode.FunctionLiteralValue{Block: blocks[refIdx]}
	}

	numCaches, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	b.InlineCaches = make([]bytecode.InlineCacheSlot, numCaches)
	for i := range b.InlineCaches {
		kind, err := r.byte_()
		if err != nil {
			return ErrCorrupt
		}
		nameIdx, err := r.uint32()
		if err != nil {
			return ErrCorrupt
		}
		b.InlineCaches[i] = bytecode.InlineCacheSlot{
			Kind:      bytecode.InlineCacheKind(kind),
			NameIndex: int(nameIdx),
		}
	}

	numIns, err := r.uint32()
	if err != nil {
		return ErrCorrupt
	}
	ins, err := r.take(int(numIns))
	if err != nil {
		return ErrCorrupt
	}
	b.Instructions = append(bytecode.Instructions(nil), ins...)
	return nil
}

func lookupString(strs []string, idx uint32) (string, error) {
	if int(idx) < 0 || int(idx) >= len(strs) {
		return "", ErrCorrupt
	}
	return strs[idx], nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeFloat64(buf *bytes.Buffer, f float64) {
	writeUint64(buf, math.Float64bits(f))
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		_ = buf.WriteByte(1)
	} else {
		_ = buf.WriteByte(0)
	}
}

func writeBytes(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// reader is a bounds-checked cursor over a cache's bytes; every accessor
// returns ErrCorrupt-able failures instead of panicking on short input.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrCorrupt
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) byte_() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.byte_()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) float64() (float64, error) {
	bits, err := r.uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func (r *reader) bytes() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
