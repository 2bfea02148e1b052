// Package mmio implements MMIO virtual-address reservation and
// volatile register access used by device drivers.
package mmio

import (
	"fmt"

	"rvos/addr"
	"rvos/mem"
	"rvos/mmu"
)

// IoMapping is a live MMIO window: a reservation from the MMIO
// virtual-address pool mapped onto a physical device range.
type IoMapping struct {
	Virt addr.VirtAddr
	Phys addr.PhysAddr
	Len  uint64

	// reg is the byte view backing this window, page-rounded the same
	// way Virt/Phys are. On real hardware register reads/writes here
	// would go through the riscv64 volatile-load/store primitives
	// (arch.CPU); hosted here as a concatenation of the physical
	// memory's Frame-backed pages (see mem.BitmapAllocator.PageBytes),
	// which is enough to exercise driver logic against a fake device.
	reg []byte
}

// Mapper owns the MMIO virtual-address pool and the walker used to
// install device mappings into the kernel's upper half.
type Mapper struct {
	va       *mem.VaBumpAllocator
	walker   *mmu.Walker
	falloc   mmu.FrameAllocator
	physMem  mmu.Memory
	pageSize uint64
}

// NewMapper creates a Mapper reserving virtual addresses from
// [vaStart, vaEnd), mapping them through walker, allocating any needed
// interior page-table frames from falloc, and resolving physical
// pages through physMem (for the hosted register-access view).
func NewMapper(vaStart, vaEnd addr.VirtAddr, walker *mmu.Walker, falloc mmu.FrameAllocator, physMem mmu.Memory) *Mapper {
	return &Mapper{
		va:       mem.NewVaBumpAllocator(vaStart, vaEnd),
		walker:   walker,
		falloc:   falloc,
		physMem:  physMem,
		pageSize: mmu.Kb.Bytes(),
	}
}

// Iomap rounds [pa, pa+length) out to page boundaries, reserves a
// same-sized virtual range, and maps it RW|Access|Dirty|Global (no
// execute, never user-accessible — device memory is always
// kernel-only in this design).
func (m *Mapper) Iomap(pa addr.PhysAddr, length uint64) (*IoMapping, error) {
	lo, err := pa.AlignDown(m.pageSize)
	if err != nil {
		return nil, err
	}
	hi, err := pa.Add(length).AlignUp(m.pageSize)
	if err != nil {
		return nil, err
	}
	size := uint64(hi.Sub(lo))

	vaBase, err := m.va.Alloc(size, m.pageSize)
	if err != nil {
		return nil, fmt.Errorf("mmio: reserving %d bytes of MMIO VA: %w", size, err)
	}
	if err := m.walker.MapRange(vaBase, lo, size, mmu.Kb, mmu.MMIO, m.falloc); err != nil {
		return nil, fmt.Errorf("mmio: mapping %v: %w", pa, err)
	}

	reg := make([]byte, 0, size)
	n := size / m.pageSize
	for i := uint64(0); i < n; i++ {
		page, err := m.physMem.PageBytes(lo.Add(i * m.pageSize))
		if err != nil {
			return nil, fmt.Errorf("mmio: resolving backing page at %v: %w", lo.Add(i*m.pageSize), err)
		}
		reg = append(reg, page...)
	}

	skew := uint64(pa.Sub(lo))
	return &IoMapping{
		Virt: vaBase.Add(skew),
		Phys: pa,
		Len:  length,
		reg:  reg[skew : skew+length],
	}, nil
}

// Iounmap tears down the PTEs backing io and releases its reservation
// in the MMIO VA pool. This resolves spec.md §9's open "iounmap is a
// stub" question: rather than leave it unimplemented, unmap rewrites the
// entry of every page the mapping covered through Walker.UpdateMapping
// with no R/W/X bits, so the entry no longer is a leaf translation
// (UpdateMapping keeps the Valid bit and the PPN; no TLB shootdown is
// issued here — see mmu.Walker's documented sfence.vma contract, which
// the caller must apply after a batch of unmaps). It then releases the
// reservation in the bump pool, which reclaims its space only once
// every live reservation has been released.
func (m *Mapper) Iounmap(io *IoMapping) error {
	lo, _ := io.Phys.AlignDown(m.pageSize)
	hi, _ := io.Phys.Add(io.Len).AlignUp(m.pageSize)
	size := uint64(hi.Sub(lo))
	vaBase, _ := io.Virt.AlignDown(m.pageSize)

	n := size / m.pageSize
	for i := uint64(0); i < n; i++ {
		if err := m.walker.UpdateMapping(vaBase.Add(i*m.pageSize), 0); err != nil {
			return fmt.Errorf("mmio: unmapping %v: %w", io.Virt, err)
		}
	}
	m.va.Free()
	return nil
}

func checkOffset(io *IoMapping, off, width uint64) error {
	if off%width != 0 {
		return fmt.Errorf("mmio: offset %#x is not aligned to register width %d", off, width)
	}
	if off+width > io.Len {
		return fmt.Errorf("mmio: offset %#x is out of range of a %d-byte mapping", off, io.Len)
	}
	return nil
}

// Reg is the set of register widths the volatile accessors support.
type Reg interface{ ~uint8 | ~uint16 | ~uint32 | ~uint64 }

func regWidth[T Reg]() uint64 {
	var v T
	switch any(v).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	default:
		return 8
	}
}

// Read reads a little-endian register of width len(T) at byte offset
// off within io, asserting offset alignment and in-range access.
func Read[T Reg](io *IoMapping, off uint64) (T, error) {
	width := regWidth[T]()
	if err := checkOffset(io, off, width); err != nil {
		return 0, err
	}
	var v T
	for i := uint64(0); i < width; i++ {
		v |= T(io.reg[off+i]) << (8 * i)
	}
	return v, nil
}

// Write writes a little-endian register of width len(T) at byte
// offset off within io.
func Write[T Reg](io *IoMapping, off uint64, val T) error {
	width := regWidth[T]()
	if err := checkOffset(io, off, width); err != nil {
		return err
	}
	for i := uint64(0); i < width; i++ {
		io.reg[off+i] = byte(val >> (8 * i))
	}
	return nil
}
