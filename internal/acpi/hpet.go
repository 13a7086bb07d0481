// Package acpi builds and parses the ACPI HPET description table, which tells
// the OS where an HPET register block lives.
package acpi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultHPETTablePath is where Linux exposes the firmware's HPET table.
const DefaultHPETTablePath = "/sys/firmware/acpi/tables/HPET"

const hpetTableSize = headerSize + 20

// Address space IDs of a Generic Address Structure.
const (
	AddressSpaceMemory uint8 = 0
	AddressSpaceIO     uint8 = 1
)

// Page protection values for the low nibble of the page protection field.
const (
	PageProtectionNone uint8 = 0
	PageProtection4K   uint8 = 1
	PageProtection64K  uint8 = 2
)

var ErrInvalidTable = errors.New("acpi: invalid table")

// Header is the common ACPI system description table header.
type Header struct {
	Signature       string
	Length          uint32
	Revision        uint8
	OEMID           string
	OEMTableID      string
	OEMRevision     uint32
	CreatorID       string
	CreatorRevision uint32
}

// GenericAddress is an ACPI Generic Address Structure.
type GenericAddress struct {
	SpaceID    uint8
	BitWidth   uint8
	BitOffset  uint8
	AccessSize uint8
	Address    uint64
}

// HPETTable is a decoded HPET description table.
type HPETTable struct {
	Header Header

	// EventTimerBlockID mirrors the low 32 bits of the block's General
	// Capabilities and ID register.
	EventTimerBlockID uint32
	BaseAddress       GenericAddress
	Number            uint8
	MinimumTick       uint16
	// PageProtection is the low nibble of the protection field; the high
	// nibble holds OEM attributes.
	PageProtection uint8
	OEMAttributes  uint8
}

func (t HPETTable) HardwareRevision() uint8 { return uint8(t.EventTimerBlockID) }
func (t HPETTable) Comparators() int        { return int(t.EventTimerBlockID>>8&0x1F) + 1 }
func (t HPETTable) Counter64Bit() bool      { return t.EventTimerBlockID&(1<<13) != 0 }
func (t HPETTable) LegacyCapable() bool     { return t.EventTimerBlockID&(1<<15) != 0 }
func (t HPETTable) VendorID() uint16        { return uint16(t.EventTimerBlockID >> 16) }

func (t HPETTable) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HPET #%d at %#x (%s)", t.Number, t.BaseAddress.Address, spaceName(t.BaseAddress.SpaceID))
	fmt.Fprintf(&b, " vendor=%#04x rev=%d comparators=%d counter64=%v legacy=%v",
		t.VendorID(), t.HardwareRevision(), t.Comparators(), t.Counter64Bit(), t.LegacyCapable())
	fmt.Fprintf(&b, " min_tick=%d oem=%s/%s", t.MinimumTick, t.Header.OEMID, t.Header.OEMTableID)
	return b.String()
}

func spaceName(id uint8) string {
	switch id {
	case AddressSpaceMemory:
		return "memory"
	case AddressSpaceIO:
		return "io"
	default:
		return fmt.Sprintf("space %d", id)
	}
}

// HPETConfig describes an HPET table to generate.
type HPETConfig struct {
	Address        uint64
	BlockID        uint32
	Number         uint8
	MinimumTick    uint16
	PageProtection uint8
}

// EventTimerBlockID packs the identity fields the HPET table copies from the
// capabilities register.
func EventTimerBlockID(vendor uint16, revision uint8, comparators int, counter64Bit, legacy bool) uint32 {
	id := uint32(vendor)<<16 | uint32(comparators-1)&0x1F<<8 | uint32(revision)
	if counter64Bit {
		id |= 1 << 13
	}
	if legacy {
		id |= 1 << 15
	}
	return id
}

// BuildHPET produces a complete HPET table, header and checksum included.
func BuildHPET(cfg HPETConfig, oem OEMInfo) []byte {
	if oem == (OEMInfo{}) {
		oem = DefaultOEMInfo()
	}
	writer := newTableWriter(oem)
	writer.Append(tableParams{
		Signature:  sig("HPET"),
		Revision:   1,
		OEMTableID: tableID("TINYRHPT"),
		Body:       buildHPETBody(cfg),
	})
	return writer.Bytes()
}

func buildHPETBody(cfg HPETConfig) []byte {
	buf := &bytes.Buffer{}

	binary.Write(buf, binary.LittleEndian, cfg.BlockID)
	buf.WriteByte(AddressSpaceMemory)
	buf.WriteByte(64)
	buf.WriteByte(0)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, cfg.Address)
	buf.WriteByte(cfg.Number)
	binary.Write(buf, binary.LittleEndian, cfg.MinimumTick)
	buf.WriteByte(cfg.PageProtection)

	return buf.Bytes()
}

// ParseHPET decodes an HPET table, checking its signature, length and
// checksum. The register block must be in system memory.
func ParseHPET(data []byte) (HPETTable, error) {
	hdr, body, err := parseHeader(data)
	if err != nil {
		return HPETTable{}, err
	}
	if hdr.Signature != "HPET" {
		return HPETTable{}, fmt.Errorf("%w: signature %q, want HPET", ErrInvalidTable, hdr.Signature)
	}
	if hdr.Length < hpetTableSize {
		return HPETTable{}, fmt.Errorf("%w: HPET table is %d bytes, want %d", ErrInvalidTable, hdr.Length, hpetTableSize)
	}

	t := HPETTable{
		Header:            hdr,
		EventTimerBlockID: binary.LittleEndian.Uint32(body[0:4]),
		BaseAddress: GenericAddress{
			SpaceID:    body[4],
			BitWidth:   body[5],
			BitOffset:  body[6],
			AccessSize: body[7],
			Address:    binary.LittleEndian.Uint64(body[8:16]),
		},
		Number:         body[16],
		MinimumTick:    binary.LittleEndian.Uint16(body[17:19]),
		PageProtection: body[19] & 0x0F,
		OEMAttributes:  body[19] >> 4,
	}
	if t.BaseAddress.SpaceID != AddressSpaceMemory {
		return HPETTable{}, fmt.Errorf("%w: HPET registers in %s space", ErrInvalidTable, spaceName(t.BaseAddress.SpaceID))
	}
	if t.BaseAddress.Address == 0 {
		return HPETTable{}, fmt.Errorf("%w: HPET base address is zero", ErrInvalidTable)
	}
	return t, nil
}

func parseHeader(data []byte) (Header, []byte, error) {
	if len(data) < headerSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrInvalidTable, len(data))
	}
	hdr := Header{
		Signature:       string(data[0:4]),
		Length:          binary.LittleEndian.Uint32(data[4:8]),
		Revision:        data[8],
		OEMID:           strings.TrimRight(string(data[10:16]), " \x00"),
		OEMTableID:      strings.TrimRight(string(data[16:24]), " \x00"),
		OEMRevision:     binary.LittleEndian.Uint32(data[24:28]),
		CreatorID:       strings.TrimRight(string(data[28:32]), " \x00"),
		CreatorRevision: binary.LittleEndian.Uint32(data[32:36]),
	}
	if hdr.Length < headerSize || int(hdr.Length) > len(data) {
		return Header{}, nil, fmt.Errorf("%w: length field %d, have %d bytes", ErrInvalidTable, hdr.Length, len(data))
	}
	table := data[:hdr.Length]
	if checksum(table) != 0 {
		return Header{}, nil, fmt.Errorf("%w: %s checksum mismatch", ErrInvalidTable, hdr.Signature)
	}
	return hdr, table[headerSize:], nil
}

// LoadHPET reads and parses an HPET table from a file such as
// DefaultHPETTablePath.
func LoadHPET(path string) (HPETTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HPETTable{}, fmt.Errorf("acpi: read HPET table: %w", err)
	}
	return ParseHPET(data)
}
