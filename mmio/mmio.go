// Package mmio provides memory-mapped register access for the audio
// controller, backed either by a real mmap'd device file or, for tests and
// simulation builds, a plain byte slice standing in for hardware.
package mmio

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cantripos/cantripos"
)

// Registers is the seam between the audio driver and the underlying
// register file. Offsets are in bytes; all registers are 32 bits wide.
type Registers interface {
	Load(offset uintptr) uint32
	Store(offset uintptr, value uint32)
	Close() error
}

// mappedRegisters backs Registers with a real mmap of a device file's
// register window, read and written with atomic loads/stores.
type mappedRegisters struct {
	data []byte
}

var _ Registers = (*mappedRegisters)(nil)

// OpenMapped mmaps length bytes from fd at the given offset as the register
// window. fd is typically an open /dev/mem or UIO device file.
func OpenMapped(fd int, offset int64, length int) (Registers, error) {
	data, err := unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, cantripos.WrapError("mmio.OpenMapped", cantripos.ErrCodeUnknownError, err)
	}
	return &mappedRegisters{data: data}, nil
}

func (m *mappedRegisters) ptr(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(&m.data[offset]))
}

func (m *mappedRegisters) Load(offset uintptr) uint32 {
	return atomic.LoadUint32(m.ptr(offset))
}

func (m *mappedRegisters) Store(offset uintptr, value uint32) {
	atomic.StoreUint32(m.ptr(offset), value)
}

func (m *mappedRegisters) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return cantripos.WrapError("mmio.Close", cantripos.ErrCodeUnknownError, err)
	}
	return nil
}

// SimRegisters backs Registers with plain process memory, for tests and for
// running the driver without real hardware attached.
type SimRegisters struct {
	regs [64]atomic.Uint32
}

var _ Registers = (*SimRegisters)(nil)

func NewSimRegisters() *SimRegisters { return &SimRegisters{} }

func (s *SimRegisters) index(offset uintptr) int { return int(offset / 4) }

func (s *SimRegisters) Load(offset uintptr) uint32 {
	return s.regs[s.index(offset)].Load()
}

func (s *SimRegisters) Store(offset uintptr, value uint32) {
	s.regs[s.index(offset)].Store(value)
}

func (s *SimRegisters) Close() error { return nil }
