//go:build linux

package mmio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultDevMem is the device node exposing physical memory on Linux.
const DefaultDevMem = "/dev/mem"

// Mapping is a Window over physical memory mapped through a device node.
type Mapping struct {
	*Window

	file *os.File
	mem  []byte
}

// MapPhysical maps size bytes of physical memory starting at phys through the
// device node at path (normally /dev/mem). phys need not be page aligned but
// must be 8-byte aligned. Without writable the mapping is read-only and any
// store through it faults.
func MapPhysical(path string, phys uint64, size int, writable bool) (*Mapping, error) {
	if phys%8 != 0 {
		return nil, fmt.Errorf("mmio: physical address 0x%x is not 8-byte aligned", phys)
	}
	if size <= 0 {
		return nil, fmt.Errorf("mmio: invalid mapping size %d", size)
	}

	flags, prot := os.O_RDONLY, unix.PROT_READ
	if writable {
		flags, prot = os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}
	f, err := os.OpenFile(path, flags|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}

	page := uint64(os.Getpagesize())
	aligned := phys &^ (page - 1)
	delta := int(phys - aligned)
	length := (delta + size + int(page) - 1) &^ (int(page) - 1)

	mem, err := unix.Mmap(int(f.Fd()), int64(aligned), length, prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: map 0x%x+%d from %s: %w", phys, size, path, err)
	}

	return &Mapping{
		Window: NewWindow(mem[delta : delta+size]),
		file:   f,
		mem:    mem,
	}, nil
}

// Close unmaps the window. The Mapping must not be used afterwards.
func (m *Mapping) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	m.Window = nil
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
