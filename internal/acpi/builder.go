package acpi

import (
	"bytes"
	"encoding/binary"
)

const headerSize = 36

// OEMInfo mirrors the ACPI table header OEM fields.
type OEMInfo struct {
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       [4]byte
	CreatorRevision uint32
}

// DefaultOEMInfo returns the header metadata stamped on generated tables.
func DefaultOEMInfo() OEMInfo {
	return OEMInfo{
		OEMID:           [6]byte{'T', 'I', 'N', 'Y', 'R', ' '},
		OEMTableID:      [8]byte{'T', 'I', 'N', 'Y', 'R', 'H', 'P', 'T'},
		OEMRevision:     1,
		CreatorID:       [4]byte{'T', 'R', 'Y', 'N'},
		CreatorRevision: 1,
	}
}

type tableWriter struct {
	buf bytes.Buffer
	oem OEMInfo
}

func newTableWriter(oem OEMInfo) *tableWriter {
	return &tableWriter{oem: oem}
}

type tableParams struct {
	Signature  [4]byte
	Revision   uint8
	OEMTableID [8]byte
	Body       []byte
}

// Append writes a table with a filled-in header and checksum and returns its
// offset in the output.
func (w *tableWriter) Append(params tableParams) int {
	start := w.buf.Len()
	w.buf.Grow(headerSize + len(params.Body))

	header := make([]byte, headerSize)
	copy(header[:4], params.Signature[:])
	copy(header[10:16], w.oem.OEMID[:])

	tableID := params.OEMTableID
	if tableID == ([8]byte{}) {
		tableID = w.oem.OEMTableID
	}
	copy(header[16:24], tableID[:])

	binary.LittleEndian.PutUint32(header[24:28], w.oem.OEMRevision)
	copy(header[28:32], w.oem.CreatorID[:])
	binary.LittleEndian.PutUint32(header[32:36], w.oem.CreatorRevision)
	header[8] = params.Revision

	w.buf.Write(header)
	if len(params.Body) > 0 {
		w.buf.Write(params.Body)
	}

	tableBytes := w.buf.Bytes()[start:]
	binary.LittleEndian.PutUint32(tableBytes[4:8], uint32(len(tableBytes)))
	tableBytes[9] = checksum(tableBytes)

	return start
}

func (w *tableWriter) Bytes() []byte {
	return w.buf.Bytes()
}

func checksum(b []byte) byte {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return byte(0 - sum)
}

func sig(name string) [4]byte {
	var out [4]byte
	copy(out[:], []byte(name))
	return out
}

func tableID(name string) [8]byte {
	var out [8]byte
	copy(out[:], []byte(name))
	return out
}
