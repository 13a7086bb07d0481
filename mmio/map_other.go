//go:build !linux

package mmio

import (
	"errors"
	"fmt"
)

const DefaultDevMem = ""

// Mapping is a Window over physical memory. Only Linux provides one.
type Mapping struct {
	*Window
}

func MapPhysical(path string, phys uint64, size int, writable bool) (*Mapping, error) {
	return nil, fmt.Errorf("mmio: map physical 0x%x: %w", phys, errors.ErrUnsupported)
}

func (m *Mapping) Close() error { return nil }
