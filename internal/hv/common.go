package hv

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange    = errors.New("mmio access outside device window")
	ErrInvalidAccess = errors.New("mmio access has invalid size or alignment")
)

type MMIORegion struct {
	Address uint64
	Size    uint64
}

// Contains reports whether an access of size bytes at addr falls entirely
// inside the region.
func (r MMIORegion) Contains(addr uint64, size int) bool {
	end := addr + uint64(size)
	if end < addr {
		return false
	}
	return addr >= r.Address && end <= r.Address+r.Size
}

// MemoryMappedIODevice is a register block reachable through loads and stores
// of 1 to 8 bytes. Data is little-endian.
type MemoryMappedIODevice interface {
	MMIORegions() []MMIORegion

	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

type SimpleMMIODevice struct {
	Regions []MMIORegion

	ReadFunc  func(addr uint64, data []byte) error
	WriteFunc func(addr uint64, data []byte) error
}

func (d SimpleMMIODevice) MMIORegions() []MMIORegion { return d.Regions }
func (d SimpleMMIODevice) ReadMMIO(addr uint64, data []byte) error {
	if d.ReadFunc != nil {
		return d.ReadFunc(addr, data)
	}
	return fmt.Errorf("unhandled read from MMIO address 0x%X", addr)
}
func (d SimpleMMIODevice) WriteMMIO(addr uint64, data []byte) error {
	if d.WriteFunc != nil {
		return d.WriteFunc(addr, data)
	}
	return fmt.Errorf("unhandled write to MMIO address 0x%X", addr)
}

// CheckAccess validates an access against a device's regions and returns the
// offset of addr from the start of the region that contains it.
func CheckAccess(dev MemoryMappedIODevice, addr uint64, data []byte) (uint64, error) {
	switch len(data) {
	case 1, 2, 4, 8:
	default:
		return 0, fmt.Errorf("%w: size %d at 0x%x", ErrInvalidAccess, len(data), addr)
	}
	if addr%uint64(len(data)) != 0 {
		return 0, fmt.Errorf("%w: unaligned %d-byte access at 0x%x", ErrInvalidAccess, len(data), addr)
	}
	for _, region := range dev.MMIORegions() {
		if region.Contains(addr, len(data)) {
			return addr - region.Address, nil
		}
	}
	return 0, fmt.Errorf("%w: 0x%x", ErrOutOfRange, addr)
}

var (
	_ MemoryMappedIODevice = SimpleMMIODevice{}
)
