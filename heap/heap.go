// Package heap is a thin accounting layer over Go's own garbage collector.
//
// The original engine this system is modeled on runs its own tracked heap
// with an explicit collector it can pause during a sensitive operation
// (deserializing a code cache). Go's runtime already gives every allocation
// GC safety, so this package does not reimplement a collector; it exists to
// give the rest of the codebase the same vocabulary (Allocate, and
// DisableCollection, which returns a restore function) so that call sites read the same way
// they would against a hand-rolled heap, and so a future swap to
// arena-based allocation (golang.org/x/exp/slices-style) has one seam to
// change instead of many.
package heap

import "runtime/debug"

// Stats reports a coarse view of current allocation pressure.
type Stats struct {
	HeapAllocBytes uint64
	NumGC          uint32
}

// DisableCollection pauses the Go garbage collector, for use around the
// code cache's deserialization of a CodeBlock tree where a stop-the-world
// collection mid-relocation would be wasted work at best. It returns a
// restore function that must be called to resume normal GC behavior.
func DisableCollection() (restore func()) {
	prev := debug.SetGCPercent(-1)
	return func() { debug.SetGCPercent(prev) }
}

// Allocate is a documentation-only indirection: every heap-managed value in
// this codebase (Value implementations, Environment records, CodeBlock and
// ByteCodeBlock trees) is a plain Go pointer and needs no explicit
// allocation call. It exists so a call site can say heap.Allocate(n) to
// mark "this loop is about to produce roughly n long-lived objects"
// without this package actually doing anything with that number today.
func Allocate(estimatedObjects int) {
	_ = estimatedObjects
}
