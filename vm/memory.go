package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

// StackReserve is kept free below StackTop; the heap may not grow into it.
const StackReserve = 0x4000

// MemoryPage is the bounded, byte-addressable memory of one context.
// Addresses are absolute: valid addresses are [Base, Base+Size).
//
//	Base ... CodeStart [code][rodata] RODataEnd ... HeapStart -> HeapPtr ... <- StackTop
type MemoryPage struct {
	Size      uint32
	Base      uint32
	CodeStart uint32
	CodeEnd   uint32
	RODataEnd uint32
	HeapStart uint32
	HeapPtr   uint32
	StackTop  uint32

	data []byte

	reserved    bool
	reservation uint32
}

// NewMemoryPage allocates a zeroed page of size bytes starting at base.
func NewMemoryPage(size, base uint32) (*MemoryPage, error) {
	if size == 0 || size%4 != 0 {
		return nil, fmt.Errorf("page size 0x%x must be a non-zero multiple of 4", size)
	}
	if base%4 != 0 {
		return nil, fmt.Errorf("base address 0x%x must be 4-byte aligned", base)
	}
	if uint64(base)+uint64(size) > 0xffffffff {
		return nil, fmt.Errorf("page [0x%x, +0x%x) does not fit the address space", base, size)
	}
	return &MemoryPage{
		Size:      size,
		Base:      base,
		CodeStart: base,
		CodeEnd:   base,
		RODataEnd: base,
		HeapStart: base,
		HeapPtr:   base,
		StackTop:  base + size,
		data:      make([]byte, size),
	}, nil
}

func (m *MemoryPage) inBounds(addr uint32, n uint64) bool {
	return addr >= m.Base && uint64(addr-m.Base)+n <= uint64(m.Size)
}

// writable reports whether [addr, addr+n) avoids the code and rodata region.
func (m *MemoryPage) writable(addr uint32, n uint64) bool {
	if m.CodeStart == m.RODataEnd {
		return true
	}
	return uint64(addr)+n <= uint64(m.CodeStart) || addr >= m.RODataEnd
}

func (m *MemoryPage) check(addr, width uint32) error {
	if addr%width != 0 {
		return avmerrors.ErrMisalignedAccess
	}
	if !m.inBounds(addr, uint64(width)) {
		return avmerrors.ErrOutOfBoundsAccess
	}
	return nil
}

func (m *MemoryPage) checkStore(addr, width uint32) error {
	if err := m.check(addr, width); err != nil {
		return err
	}
	if !m.writable(addr, uint64(width)) {
		return avmerrors.ErrOutOfBoundsAccess
	}
	return nil
}

func (m *MemoryPage) off(addr uint32) uint32 { return addr - m.Base }

// clearReservation drops an LR reservation overlapping [addr, addr+n).
func (m *MemoryPage) clearReservation(addr uint32, n uint64) {
	if m.reserved && uint64(addr) < uint64(m.reservation)+4 && uint64(m.reservation) < uint64(addr)+n {
		m.reserved = false
	}
}

func (m *MemoryPage) Load8(addr uint32) (uint32, error) {
	if err := m.check(addr, 1); err != nil {
		return 0, err
	}
	return uint32(m.data[m.off(addr)]), nil
}

func (m *MemoryPage) Load16(addr uint32) (uint32, error) {
	if err := m.check(addr, 2); err != nil {
		return 0, err
	}
	return uint32(binary.LittleEndian.Uint16(m.data[m.off(addr):])), nil
}

func (m *MemoryPage) Load32(addr uint32) (uint32, error) {
	if err := m.check(addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[m.off(addr):]), nil
}

func (m *MemoryPage) Store8(addr uint32, v uint32) error {
	if err := m.checkStore(addr, 1); err != nil {
		return err
	}
	m.clearReservation(addr, 1)
	m.data[m.off(addr)] = byte(v)
	return nil
}

func (m *MemoryPage) Store16(addr uint32, v uint32) error {
	if err := m.checkStore(addr, 2); err != nil {
		return err
	}
	m.clearReservation(addr, 2)
	binary.LittleEndian.PutUint16(m.data[m.off(addr):], uint16(v))
	return nil
}

func (m *MemoryPage) Store32(addr uint32, v uint32) error {
	if err := m.checkStore(addr, 4); err != nil {
		return err
	}
	m.clearReservation(addr, 4)
	binary.LittleEndian.PutUint32(m.data[m.off(addr):], v)
	return nil
}

// Slice returns the live bytes of [addr, addr+n). The caller must not keep it
// past the next write.
func (m *MemoryPage) Slice(addr, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if !m.inBounds(addr, uint64(n)) {
		return nil, avmerrors.ErrOutOfBoundsAccess
	}
	o := m.off(addr)
	return m.data[o : o+n : o+n], nil
}

// ReadBytes copies [addr, addr+n) out of the page.
func (m *MemoryPage) ReadBytes(addr, n uint32) ([]byte, error) {
	s, err := m.Slice(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

// WriteBytes copies b to addr. No alignment is required.
func (m *MemoryPage) WriteBytes(addr uint32, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	n := uint64(len(b))
	if !m.inBounds(addr, n) || !m.writable(addr, n) {
		return avmerrors.ErrOutOfBoundsAccess
	}
	m.clearReservation(addr, n)
	copy(m.data[m.off(addr):], b)
	return nil
}

// LoadImage places code and rodata at start and points the heap just past
// them. The region becomes read-only.
func (m *MemoryPage) LoadImage(start uint32, code, rodata []byte) error {
	total := uint64(len(code)) + uint64(len(rodata))
	if !m.inBounds(start, total) {
		return fmt.Errorf("image of %d bytes does not fit at 0x%x: %w", total, start, avmerrors.ErrCodeTooLarge)
	}
	o := m.off(start)
	copy(m.data[o:], code)
	copy(m.data[o+uint32(len(code)):], rodata)
	m.CodeStart = start
	m.CodeEnd = start + uint32(len(code))
	m.RODataEnd = m.CodeEnd + uint32(len(rodata))
	heap := alignUp(uint64(m.RODataEnd)+vmtypes.HeapGap, vmtypes.DefaultAlign)
	if heap >= uint64(m.heapLimit()) {
		return fmt.Errorf("no heap left after image end 0x%x: %w", m.RODataEnd, avmerrors.ErrCodeTooLarge)
	}
	m.HeapStart = uint32(heap)
	m.HeapPtr = m.HeapStart
	return nil
}

// IsCode reports whether addr lies inside the loaded code.
func (m *MemoryPage) IsCode(addr uint32) bool {
	return addr >= m.CodeStart && addr < m.CodeEnd
}

func (m *MemoryPage) heapLimit() uint32 {
	if m.Size <= StackReserve {
		return m.StackTop
	}
	return m.StackTop - StackReserve
}

func alignUp(v uint64, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// AllocOnHeap bump-allocates len(data) bytes with the given power-of-two
// alignment (0 means 8), copies data in and returns the address.
func (m *MemoryPage) AllocOnHeap(data []byte, align uint32) (uint32, error) {
	addr, err := m.Alloc(uint32(len(data)), align)
	if err != nil {
		return 0, err
	}
	copy(m.data[m.off(addr):], data)
	m.clearReservation(addr, uint64(len(data)))
	return addr, nil
}

// Alloc reserves n bytes on the heap and returns their address.
func (m *MemoryPage) Alloc(n uint32, align uint32) (uint32, error) {
	if align == 0 {
		align = vmtypes.DefaultAlign
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("alignment %d is not a power of two: %w", align, avmerrors.ErrInvalidInput)
	}
	start := alignUp(uint64(m.HeapPtr), uint64(align))
	end := start + uint64(n)
	if end > uint64(m.heapLimit()) {
		return 0, avmerrors.ErrOutOfBoundsAccess
	}
	m.HeapPtr = uint32(end)
	return uint32(start), nil
}

// Brk moves the heap break forward to newBreak and returns the current break.
// A zero or backwards request leaves the break unchanged.
func (m *MemoryPage) Brk(newBreak uint32) uint32 {
	if newBreak > m.HeapPtr && newBreak <= m.heapLimit() {
		m.HeapPtr = newBreak
	}
	return m.HeapPtr
}

// Snapshot returns a deep copy of the page.
func (m *MemoryPage) Snapshot() *MemoryPage {
	cp := *m
	cp.data = make([]byte, len(m.data))
	copy(cp.data, m.data)
	return &cp
}

// Reserve records an LR reservation on the word at addr.
func (m *MemoryPage) Reserve(addr uint32) {
	m.reserved = true
	m.reservation = addr
}

// TakeReservation reports whether addr holds the live reservation and clears
// it either way.
func (m *MemoryPage) TakeReservation(addr uint32) bool {
	ok := m.reserved && m.reservation == addr
	m.reserved = false
	return ok
}
