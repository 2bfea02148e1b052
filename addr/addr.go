// Package addr defines the typed physical, virtual, and DMA addresses
// used throughout the memory-management core, along with the alignment
// and canonical-form rules that every other package relies on.
package addr

import (
	"fmt"

	"rvos/util"
)

// PagingMode selects between the three-level (Sv39) and four-level
// (Sv48) RISC-V page-table schemes. The two differ only in the number
// of VPN fields a virtual address carries and in where the canonical-form
// boundary falls.
type PagingMode int

const (
	Sv39 PagingMode = 39
	Sv48 PagingMode = 48
)

// PhysWidth is the implementation-defined physical address width. Bits
// above it must be zero in any constructed PhysAddr.
const PhysWidth = 56

// Fixed kernel-half virtual-address layout. These are compile-time
// constants, not configuration: the teacher kernel hardcodes its own
// x86 layout the same way (no config file or flag parsing selects it).
const (
	// LoadOffset is the fixed VA the kernel image itself is linked at
	// and mapped to during early VM bring-up.
	LoadOffset VirtAddr = 0xffff_ffff_8000_0000

	// PhysToVirtOffset is the base VA of the direct physical map: all
	// of installed RAM is mapped here, one-to-one, so kernel code can
	// dereference any physical address as PhysToVirtOffset+pa without
	// a dedicated per-allocation mapping.
	PhysToVirtOffset VirtAddr = 0xffff_ffe0_0000_0000

	// KernelHeapOffset bounds the kernel heap's bump-allocated VA pool.
	KernelHeapOffset VirtAddr = 0xffff_ffc0_0000_0000

	// IomapOffset is the base of the MMIO virtual pool mmio.Mapper
	// allocates device windows from; it sits directly below
	// PhysToVirtOffset so the two ranges are adjacent and disjoint.
	IomapOffset VirtAddr = 0xffff_ffd0_0000_0000
)

// ErrReservedBits is returned when a physical address constructor is
// given a value with set bits above PhysWidth.
var ErrReservedBits = fmt.Errorf("physical address uses reserved bits above width %d", PhysWidth)

// ErrNonCanonical is returned when a virtual address constructor is given
// a value that does not satisfy the Sv39/Sv48 canonical-form predicate.
var ErrNonCanonical = fmt.Errorf("virtual address is not in canonical form")

// ErrNotPowerOfTwo is returned by alignment checks given a non-power-of-two
// alignment value.
var ErrNotPowerOfTwo = fmt.Errorf("alignment is not a power of two")

// PhysAddr is an opaque physical address. The zero value is address 0.
type PhysAddr uint64

// NewPhysAddr validates that raw has no bits set above PhysWidth.
func NewPhysAddr(raw uint64) (PhysAddr, error) {
	if raw>>PhysWidth != 0 {
		return 0, ErrReservedBits
	}
	return PhysAddr(raw), nil
}

// MustPhysAddr is NewPhysAddr but panics on error; for use with
// compile-time-constant or already-validated addresses.
func MustPhysAddr(raw uint64) PhysAddr {
	pa, err := NewPhysAddr(raw)
	if err != nil {
		panic(err)
	}
	return pa
}

// TruncPhysAddr constructs a PhysAddr unconditionally, masking off any
// bits above PhysWidth. Used only where the caller accepts truncation
// (e.g. deriving a PPN-based address that is already known in range).
func TruncPhysAddr(raw uint64) PhysAddr {
	return PhysAddr(raw & ((1 << PhysWidth) - 1))
}

func (p PhysAddr) Raw() uint64 { return uint64(p) }

// Add returns p+off. It does not re-validate the reserved-bits invariant;
// callers that need that guarantee should round-trip through NewPhysAddr.
func (p PhysAddr) Add(off uint64) PhysAddr { return p + PhysAddr(off) }

// Sub returns the byte distance from other to p (p - other).
func (p PhysAddr) Sub(other PhysAddr) int64 { return int64(p) - int64(other) }

// AlignDown rounds p down to the nearest multiple of align, which must
// be a power of two.
func (p PhysAddr) AlignDown(align uint64) (PhysAddr, error) {
	if !IsPowerOfTwo(align) {
		return 0, ErrNotPowerOfTwo
	}
	return PhysAddr(util.Rounddown(uint64(p), align)), nil
}

// AlignUp rounds p up to the nearest multiple of align, which must be a
// power of two.
func (p PhysAddr) AlignUp(align uint64) (PhysAddr, error) {
	if !IsPowerOfTwo(align) {
		return 0, ErrNotPowerOfTwo
	}
	return PhysAddr(util.Roundup(uint64(p), align)), nil
}

// IsAligned reports whether p is a multiple of align.
func (p PhysAddr) IsAligned(align uint64) bool {
	return uint64(p)%align == 0
}

func (p PhysAddr) String() string { return fmt.Sprintf("PA:%#016x", uint64(p)) }

// VirtAddr is an opaque virtual address satisfying the Sv39/Sv48
// canonical-form rule for whichever PagingMode it was constructed under.
type VirtAddr uint64

// canonicalBoundaryBit returns the index of the highest VPN bit (38 for
// Sv39, 47 for Sv48): bits above it, inclusive, must all equal that bit.
func canonicalBoundaryBit(mode PagingMode) uint {
	switch mode {
	case Sv39:
		return 38
	case Sv48:
		return 47
	default:
		panic("addr: unknown paging mode")
	}
}

// IsCanonical reports whether raw satisfies the canonical-form predicate
// for mode: bits [63:boundary] must all equal bit[boundary].
func IsCanonical(raw uint64, mode PagingMode) bool {
	b := canonicalBoundaryBit(mode)
	top := raw >> b
	// top must be all-zeros or all-ones (sign extension of bit b).
	return top == 0 || top == (^uint64(0))>>b
}

// NewVirtAddr validates raw against the canonical-form rule for mode.
func NewVirtAddr(raw uint64, mode PagingMode) (VirtAddr, error) {
	if !IsCanonical(raw, mode) {
		return 0, ErrNonCanonical
	}
	return VirtAddr(raw), nil
}

// TruncVirtAddr sign-extends raw's bit[boundary] into bits [63:boundary],
// producing a canonical address unconditionally. Idempotent: truncating
// an already-canonical address returns it unchanged.
func TruncVirtAddr(raw uint64, mode PagingMode) VirtAddr {
	b := canonicalBoundaryBit(mode)
	shift := 63 - b
	return VirtAddr(uint64(int64(raw<<shift) >> shift))
}

func (v VirtAddr) Raw() uint64 { return uint64(v) }

func (v VirtAddr) Add(off uint64) VirtAddr { return v + VirtAddr(off) }

func (v VirtAddr) Sub(other VirtAddr) int64 { return int64(v) - int64(other) }

func (v VirtAddr) AlignDown(align uint64) (VirtAddr, error) {
	if !IsPowerOfTwo(align) {
		return 0, ErrNotPowerOfTwo
	}
	return VirtAddr(util.Rounddown(uint64(v), align)), nil
}

func (v VirtAddr) AlignUp(align uint64) (VirtAddr, error) {
	if !IsPowerOfTwo(align) {
		return 0, ErrNotPowerOfTwo
	}
	return VirtAddr(util.Roundup(uint64(v), align)), nil
}

func (v VirtAddr) IsAligned(align uint64) bool {
	return uint64(v)%align == 0
}

// PageOffset returns the low 12 bits of v (the within-4KiB-page offset).
func (v VirtAddr) PageOffset() uint64 { return uint64(v) & 0xfff }

// VPN returns the 9-bit virtual page number at the given page-table
// level (0 = lowest, closest to the page offset). Sv39 has levels 0-2,
// Sv48 has levels 0-3.
func (v VirtAddr) VPN(level int) uint64 {
	shift := 12 + 9*uint(level)
	return (uint64(v) >> shift) & 0x1ff
}

func (v VirtAddr) String() string { return fmt.Sprintf("VA:%#016x", uint64(v)) }

// DmaAddr is a device-visible physical address. On the IOMMU-less
// platforms this kernel targets it numerically equals a PhysAddr, but
// the distinct type prevents a DMA address from being dereferenced by
// the CPU without going through the dma package's mapping accessor.
type DmaAddr uint64

// DmaAddrFromPhys constructs the device-visible address corresponding
// to a CPU physical address. On a platform with an IOMMU this would
// consult an IOVA allocator instead; documented here as identity
// because spec.md targets IOMMU-less QEMU virt.
func DmaAddrFromPhys(pa PhysAddr) DmaAddr { return DmaAddr(pa) }

func (d DmaAddr) Raw() uint64 { return uint64(d) }

func (d DmaAddr) String() string { return fmt.Sprintf("DMA:%#016x", uint64(d)) }

// IsPowerOfTwo reports whether v is a nonzero power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}
