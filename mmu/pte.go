// Package mmu implements the RISC-V Sv39/Sv48 page-table entry format
// and the page-table walker/mapper. The boot-time mappings themselves
// are installed by cmd/kernel through a Walker.
package mmu

import "rvos/addr"

// EntryFlags are the low bits of a page-table entry, mirroring the
// RISC-V privileged architecture's PTE layout.
type EntryFlags uint64

const (
	Valid  EntryFlags = 1 << 0
	Read   EntryFlags = 1 << 1
	Write  EntryFlags = 1 << 2
	Exec   EntryFlags = 1 << 3
	User   EntryFlags = 1 << 4
	Global EntryFlags = 1 << 5
	Access EntryFlags = 1 << 6 // "A" - accessed
	Dirty  EntryFlags = 1 << 7 // "D"

	// Composite flag sets used throughout the core.
	RW   = Read | Write
	RX   = Read | Exec
	RWX  = Read | Write | Exec
	RWXU = Read | Write | Exec | User

	// Kernel mappings: always global, pre-marked accessed+dirty since
	// the kernel never demand-faults its own mappings.
	KernelRWX = RWX | Access | Dirty | Global
	KernelRW  = RW | Access | Dirty | Global

	// MMIO mappings: read-write, global, pre-marked accessed+dirty —
	// there is no page-in path for device memory.
	MMIO = RW | Access | Dirty | Global

	// User mappings: never global, always pre-marked accessed (and
	// dirty for writable pages) since this core has no demand paging.
	UserRX = RX | User | Access
	UserRW = RW | User | Access | Dirty
)

// Leaf reports whether any of R/W/X is set — per the RISC-V spec this
// is what distinguishes a leaf PTE (a translation) from an interior PTE
// (a pointer to the next-level table).
func (f EntryFlags) Leaf() bool { return f&(Read|Write|Exec) != 0 }

// IsWX reports whether both Write and Exec are set — the condition the
// loader's W^X check rejects on user mappings.
func (f EntryFlags) IsWX() bool { return f&Write != 0 && f&Exec != 0 }

// pteRWXMask isolates the flag bits that Map's AlreadyMapped conflict
// check compares against an existing entry; PPN and the software/A/D
// bits are excluded since re-mapping the same logical protection with
// different accessed/dirty state is not a conflict.
const pteRWXMask = Valid | Read | Write | Exec | User | Global

// ptePPNMask covers the 44-bit PPN field, which has the same width in
// Sv39 and Sv48 PTEs; the walker uses this one mask in both modes.
const ptePPNShift = 10
const ptePPNMask = 0x0fff_ffff_ffff // 44 bits, wide enough for Sv48.

// PTE is a single 64-bit page-table entry.
type PTE uint64

func (p PTE) Valid() bool { return p&PTE(Valid) != 0 }
func (p PTE) Flags() EntryFlags {
	return EntryFlags(p) & (Valid | Read | Write | Exec | User | Global | Access | Dirty)
}
func (p PTE) Leaf() bool { return p.Flags().Leaf() }

// PPN returns the physical page number this entry carries, whether it
// names a leaf mapping's physical base or a child table's address.
func (p PTE) PPN() uint64 { return (uint64(p) >> ptePPNShift) & ptePPNMask }

// PA reinterprets PPN as a byte physical address (PPN << 12).
func (p PTE) PA() addr.PhysAddr { return addr.PhysAddr(p.PPN() << 12) }

func makePTE(pa addr.PhysAddr, flags EntryFlags) PTE {
	ppn := (pa.Raw() >> 12) & ptePPNMask
	return PTE(ppn<<ptePPNShift) | PTE(flags)
}

// PageTable is a page-aligned array of 512 PTEs — one level of a
// Sv39/Sv48 multi-level page table.
type PageTable [512]PTE

const PageTableBytes = 512 * 8

// PageSize names the four mapping granularities the walker supports.
// Tb (512 GiB) is only valid under Sv48.
type PageSize int

const (
	Kb PageSize = iota // 4 KiB,  level 0
	Mb                 // 2 MiB,  level 1
	Gb                 // 1 GiB,  level 2
	Tb                 // 512 GiB, level 3 (Sv48 only)
)

// Bytes returns the size in bytes of a mapping at this granularity.
func (s PageSize) Bytes() uint64 {
	switch s {
	case Kb:
		return 1 << 12
	case Mb:
		return 1 << 21
	case Gb:
		return 1 << 30
	case Tb:
		return 1 << 39
	default:
		panic("mmu: unknown page size")
	}
}

// Level returns the page-table level (0 = lowest) whose entries, when
// made leaves, map a region of this size.
func (s PageSize) Level() int { return int(s) }

func levelToPageSize(level int) PageSize { return PageSize(level) }

func (s PageSize) String() string {
	switch s {
	case Kb:
		return "4K"
	case Mb:
		return "2M"
	case Gb:
		return "1G"
	case Tb:
		return "512G"
	default:
		return "?"
	}
}
