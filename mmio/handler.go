package mmio

import (
	"encoding/binary"
	"log/slog"

	"github.com/tinyrange/hpet/internal/hv"
)

// Handler is a Bus that forwards each access to an emulated device as an MMIO
// exit would. A failed read returns all ones, as an unclaimed bus cycle does on
// real hardware; a failed write is dropped. Both are logged.
type Handler struct {
	dev  hv.MemoryMappedIODevice
	base uint64
	log  *slog.Logger
}

// NewHandler returns a Bus over dev whose offsets are relative to base.
func NewHandler(dev hv.MemoryMappedIODevice, base uint64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{dev: dev, base: base, log: log}
}

func (h *Handler) read(offset uintptr, data []byte) bool {
	if err := h.dev.ReadMMIO(h.base+uint64(offset), data); err != nil {
		h.log.Warn("mmio read failed", "offset", offset, "size", len(data), "error", err)
		return false
	}
	return true
}

func (h *Handler) write(offset uintptr, data []byte) {
	if err := h.dev.WriteMMIO(h.base+uint64(offset), data); err != nil {
		h.log.Warn("mmio write failed", "offset", offset, "size", len(data), "error", err)
	}
}

func (h *Handler) Read32(offset uintptr) uint32 {
	var buf [4]byte
	if !h.read(offset, buf[:]) {
		return ^uint32(0)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (h *Handler) Write32(offset uintptr, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	h.write(offset, buf[:])
}

func (h *Handler) Read64(offset uintptr) uint64 {
	var buf [8]byte
	if !h.read(offset, buf[:]) {
		return ^uint64(0)
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (h *Handler) Write64(offset uintptr, value uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	h.write(offset, buf[:])
}

var (
	_ Bus = (*Handler)(nil)
)
