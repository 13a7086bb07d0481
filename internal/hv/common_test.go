package hv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAccess(t *testing.T) {
	dev := SimpleMMIODevice{Regions: []MMIORegion{
		{Address: 0xFED00000, Size: 0x400},
		{Address: 0x1000, Size: 0x10},
	}}

	off, err := CheckAccess(dev, 0xFED000F4, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xF4), off)

	off, err = CheckAccess(dev, 0x1008, make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x8), off)

	for _, tc := range []struct {
		name string
		addr uint64
		size int
		want error
	}{
		{"three bytes", 0xFED00000, 3, ErrInvalidAccess},
		{"sixteen bytes", 0xFED00000, 16, ErrInvalidAccess},
		{"unaligned", 0xFED00004, 8, ErrInvalidAccess},
		{"past end", 0xFED00400, 4, ErrOutOfRange},
		{"straddles end", 0x100C, 8, ErrInvalidAccess},
		{"gap", 0x2000, 4, ErrOutOfRange},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CheckAccess(dev, tc.addr, make([]byte, tc.size))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegionContainsRejectsWrap(t *testing.T) {
	r := MMIORegion{Address: 0x1000, Size: 0x10}
	assert.True(t, r.Contains(0x1008, 8))
	assert.False(t, r.Contains(0xFFFFFFFFFFFFFFFC, 8))
}
