package mmu

import (
	"errors"
	"fmt"
	"unsafe"

	"rvos/addr"
)

// FrameAllocator is the capability the walker needs to materialize new
// interior page tables. It is passed per call rather than stored on
// the Walker, per spec.md §5's lock-ordering rule: callers are
// expected to hold the frame allocator's lock for the duration of the
// walker call that might need it, and never the reverse.
type FrameAllocator interface {
	AllocZeroed() (addr.PhysAddr, error)
	FreePage(addr.PhysAddr)
}

// Memory resolves a physical address naming a page table to its
// kernel-visible bytes. mem.BitmapAllocator and mem.FrameBumpAllocator
// both implement it, standing in for the kernel's direct physical map.
type Memory interface {
	PageBytes(pa addr.PhysAddr) ([]byte, error)
}

var (
	ErrAlreadyMapped    = errors.New("mmu: conflicting valid leaf already installed")
	ErrAllocationFailed = errors.New("mmu: interior page-table allocation failed")
	ErrNotMapped        = errors.New("mmu: no valid translation for address")
	ErrMisaligned       = errors.New("mmu: address is not aligned to the requested page size")
	ErrUnsupportedSize  = errors.New("mmu: page size is not valid for this paging mode")
)

// Walker holds an exclusive reference to one address space's root page
// table and provides translate/install/mutate/mirror operations over
// it. It is deliberately stateless beyond the root pointer and paging
// mode: all durable state lives in the page tables themselves, reached
// through Memory.
type Walker struct {
	root addr.PhysAddr
	mem  Memory
	mode addr.PagingMode
}

// NewWalker returns a Walker over the given root table.
func NewWalker(root addr.PhysAddr, mem Memory, mode addr.PagingMode) *Walker {
	return &Walker{root: root, mem: mem, mode: mode}
}

// Root returns the physical address of the root table this Walker operates on.
func (w *Walker) Root() addr.PhysAddr { return w.root }

func (w *Walker) topLevel() int {
	switch w.mode {
	case addr.Sv39:
		return 2
	case addr.Sv48:
		return 3
	default:
		panic("mmu: unknown paging mode")
	}
}

func (w *Walker) table(pa addr.PhysAddr) (*PageTable, error) {
	b, err := w.mem.PageBytes(pa)
	if err != nil {
		return nil, err
	}
	if len(b) != PageTableBytes {
		return nil, fmt.Errorf("mmu: page table at %v has wrong backing size %d", pa, len(b))
	}
	return (*PageTable)(unsafe.Pointer(&b[0])), nil
}

// descend walks from the root to the table at targetLevel+1 (the table
// that directly holds the entry for targetLevel), allocating zeroed
// interior tables via falloc as needed. It returns that table and the
// index within it for va.
func (w *Walker) descend(va addr.VirtAddr, targetLevel int, falloc FrameAllocator) (*PageTable, int, error) {
	if targetLevel > w.topLevel() {
		return nil, 0, ErrUnsupportedSize
	}
	cur, err := w.table(w.root)
	if err != nil {
		return nil, 0, err
	}
	for level := w.topLevel(); level > targetLevel; level-- {
		idx := int(va.VPN(level))
		entry := cur[idx]
		if !entry.Valid() {
			if falloc == nil {
				return nil, 0, ErrAllocationFailed
			}
			childPA, err := falloc.AllocZeroed()
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
			}
			cur[idx] = makePTE(childPA, Valid)
			entry = cur[idx]
		} else if entry.Leaf() {
			return nil, 0, fmt.Errorf("mmu: %v is already a leaf mapping at level %d, cannot descend", va, level)
		}
		cur, err = w.table(entry.PA())
		if err != nil {
			return nil, 0, err
		}
	}
	return cur, int(va.VPN(targetLevel)), nil
}

// Map installs a single mapping of the given page size. It descends
// from the root, allocating zeroed interior tables as needed, and sets
// the leaf entry. If an existing valid leaf is already present with
// different flags, it returns ErrAlreadyMapped and leaves the entry
// unchanged; mapping the same (pa, flags) pair again is a no-op
// success, matching the idempotence spec.md §8 requires of repeated
// identical installs.
func (w *Walker) Map(va addr.VirtAddr, pa addr.PhysAddr, size PageSize, flags EntryFlags, falloc FrameAllocator) error {
	if !va.IsAligned(size.Bytes()) || !pa.IsAligned(size.Bytes()) {
		return ErrMisaligned
	}
	table, idx, err := w.descend(va, size.Level(), falloc)
	if err != nil {
		return err
	}
	existing := table[idx]
	want := makePTE(pa, flags|Valid)
	if existing.Valid() {
		sameMapping := existing.PA() == pa && existing.Flags()&pteRWXMask == (flags|Valid)&pteRWXMask
		if sameMapping {
			return nil
		}
		return ErrAlreadyMapped
	}
	table[idx] = want
	return nil
}

// MapRange installs size-page mappings covering [va, va+length) onto
// physical addresses starting at pa, advancing both by size.Bytes()
// each step.
func (w *Walker) MapRange(va addr.VirtAddr, pa addr.PhysAddr, length uint64, size PageSize, flags EntryFlags, falloc FrameAllocator) error {
	step := size.Bytes()
	n := (length + step - 1) / step
	for i := uint64(0); i < n; i++ {
		if err := w.Map(va.Add(i*step), pa.Add(i*step), size, flags, falloc); err != nil {
			return fmt.Errorf("mmu: MapRange at offset %#x: %w", i*step, err)
		}
	}
	return nil
}

// IdentityMapRange maps [start, end) at Kb granularity with pa == va,
// after rounding start down and end up to the page boundary. Used only
// before the kernel-side direct map exists (bring-up, and MMIO windows
// exposed at their physical address).
func (w *Walker) IdentityMapRange(start, end addr.PhysAddr, flags EntryFlags, falloc FrameAllocator) error {
	pageSize := Kb.Bytes()
	lo, err := start.AlignDown(pageSize)
	if err != nil {
		return err
	}
	hi, err := end.AlignUp(pageSize)
	if err != nil {
		return err
	}
	length := uint64(hi.Sub(lo))
	va := addr.VirtAddr(lo.Raw())
	return w.MapRange(va, lo, length, Kb, flags, falloc)
}

// Translate decomposes va, descends the tables, and on reaching a leaf
// concatenates the entry's PPN with the lower VPN bits (for huge
// pages) and the page offset. It reports ok=false if any level along
// the path is not valid.
func (w *Walker) Translate(va addr.VirtAddr) (pa addr.PhysAddr, ok bool) {
	cur, err := w.table(w.root)
	if err != nil {
		return 0, false
	}
	for level := w.topLevel(); level >= 0; level-- {
		idx := int(va.VPN(level))
		entry := cur[idx]
		if !entry.Valid() {
			return 0, false
		}
		if entry.Leaf() {
			base := entry.PPN() << 12
			// For huge pages, the lower VPN fields of the leaf entry
			// are architecturally required to be zero; reconstruct the
			// full address from the leaf's PPN (already includes the
			// huge-page-aligned high bits) plus the low bits of va.
			lowMask := uint64(1)<<(12+9*uint(level)) - 1
			out := (base &^ lowMask) | (va.Raw() & lowMask)
			return addr.TruncPhysAddr(out), true
		}
		next, err := w.table(entry.PA())
		if err != nil {
			return 0, false
		}
		cur = next
	}
	return 0, false
}

// CopyKernelMappings copies the upper-half PTE slots (VPN indices
// whose top bit is set — the kernel half under both Sv39 and Sv48)
// from the walker's current root into dst, seeding a fresh user
// address space with the kernel's mappings. dst must already be a
// zeroed page table allocated by the caller.
func (w *Walker) CopyKernelMappings(dst addr.PhysAddr) error {
	src, err := w.table(w.root)
	if err != nil {
		return err
	}
	dstTable, err := w.table(dst)
	if err != nil {
		return err
	}
	for i := 256; i < 512; i++ {
		dstTable[i] = src[i]
	}
	return nil
}

// UpdateMapping walks to an existing valid leaf at va and rewrites its
// flags in place, preserving the PPN. It is used by the loader to
// tighten permissions (e.g. drop Write) after a segment's data has
// been copied in. The size of the existing mapping is auto-detected by
// walking until a leaf is found; callers do not need to know it ahead
// of time.
func (w *Walker) UpdateMapping(va addr.VirtAddr, newFlags EntryFlags) error {
	cur, err := w.table(w.root)
	if err != nil {
		return err
	}
	for level := w.topLevel(); level >= 0; level-- {
		idx := int(va.VPN(level))
		entry := cur[idx]
		if !entry.Valid() {
			return ErrNotMapped
		}
		if entry.Leaf() {
			cur[idx] = makePTE(entry.PA(), newFlags|Valid)
			return nil
		}
		next, err := w.table(entry.PA())
		if err != nil {
			return err
		}
		cur = next
	}
	return ErrNotMapped
}

// MappingRange is one coalesced, human-readable entry from Dump: a
// maximal run of adjacent leaf pages sharing the same flags.
type MappingRange struct {
	Virt  addr.VirtAddr
	Phys  addr.PhysAddr
	Size  uint64
	Flags EntryFlags
}

// Dump walks the whole tree and returns the mapped ranges, merging
// adjacent leaves (in VA and PA, by the same page size) that share
// flags into a single MappingRange — useful for diagnostics, not used
// on any hot path.
func (w *Walker) Dump() ([]MappingRange, error) {
	var out []MappingRange
	root, err := w.table(w.root)
	if err != nil {
		return nil, err
	}
	var walk func(table *PageTable, level int, vaPrefix uint64) error
	walk = func(table *PageTable, level int, vaPrefix uint64) error {
		for i := 0; i < 512; i++ {
			entry := table[i]
			if !entry.Valid() {
				continue
			}
			va := vaPrefix | (uint64(i) << (12 + 9*uint(level)))
			if entry.Leaf() {
				size := levelToPageSize(level).Bytes()
				appendCoalesced(&out, addr.VirtAddr(va), entry.PA(), size, entry.Flags())
				continue
			}
			child, err := w.table(entry.PA())
			if err != nil {
				return err
			}
			if err := walk(child, level-1, va); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, w.topLevel(), 0); err != nil {
		return nil, err
	}
	return out, nil
}

func appendCoalesced(out *[]MappingRange, va addr.VirtAddr, pa addr.PhysAddr, size uint64, flags EntryFlags) {
	if n := len(*out); n > 0 {
		last := &(*out)[n-1]
		if last.Flags == flags && last.Virt.Add(last.Size) == va && last.Phys.Add(last.Size) == pa {
			last.Size += size
			return
		}
	}
	*out = append(*out, MappingRange{Virt: va, Phys: pa, Size: size, Flags: flags})
}
