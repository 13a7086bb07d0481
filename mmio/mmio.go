// Package mmio provides access handles for memory-mapped register blocks.
//
// Every access is an individual load or store issued through sync/atomic so
// the compiler can neither elide, merge nor reorder it; the target is live
// hardware whose registers change between reads.
package mmio

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Bus is an exclusively owned handle over a register block. Offsets are byte
// offsets from the block's base and must be naturally aligned.
type Bus interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, value uint32)
	Read64(offset uintptr) uint64
	Write64(offset uintptr, value uint64)
}

// Window is a Bus over a byte range that is already mapped into the address
// space, such as an mmap of a device node or a kernel virtual mapping.
type Window struct {
	mem []byte
}

// NewWindow wraps mem. The first byte of mem must be 8-byte aligned.
func NewWindow(mem []byte) *Window {
	if len(mem) > 0 && uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		panic("mmio: window base is not 8-byte aligned")
	}
	return &Window{mem: mem}
}

// FromAddress builds a Window over size bytes at a virtual address that the
// caller has mapped as uncacheable device memory.
func FromAddress(base uintptr, size int) *Window {
	return NewWindow(unsafe.Slice((*byte)(unsafe.Pointer(base)), size))
}

// Alloc returns a Window over fresh, zeroed, 8-byte aligned memory. Useful as a
// plain register image in tests.
func Alloc(size int) *Window {
	if size <= 0 {
		return NewWindow(nil)
	}
	words := make([]uint64, (size+7)/8)
	return NewWindow(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)[:size])
}

// Len returns the size of the window in bytes.
func (w *Window) Len() int { return len(w.mem) }

func (w *Window) addr(offset uintptr, size uintptr) unsafe.Pointer {
	if offset%size != 0 {
		panic(fmt.Sprintf("mmio: unaligned %d-byte access at offset 0x%x", size, offset))
	}
	if offset+size > uintptr(len(w.mem)) {
		panic(fmt.Sprintf("mmio: %d-byte access at offset 0x%x outside %d-byte window", size, offset, len(w.mem)))
	}
	return unsafe.Pointer(&w.mem[offset])
}

func (w *Window) Read32(offset uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(w.addr(offset, 4)))
}

func (w *Window) Write32(offset uintptr, value uint32) {
	atomic.StoreUint32((*uint32)(w.addr(offset, 4)), value)
}

func (w *Window) Read64(offset uintptr) uint64 {
	return atomic.LoadUint64((*uint64)(w.addr(offset, 8)))
}

func (w *Window) Write64(offset uintptr, value uint64) {
	atomic.StoreUint64((*uint64)(w.addr(offset, 8)), value)
}

var (
	_ Bus = (*Window)(nil)
)
