package mem

import (
	"errors"
	"sync"

	"rvos/addr"
)

// ErrBumpExhausted is returned by both bump allocator variants when the
// requested allocation does not fit in the remaining range.
var ErrBumpExhausted = errors.New("mem: bump allocator exhausted")

// VaBumpAllocator hands out virtual-address ranges from a cursor that
// moves downward from end toward start. It is used for both the kernel
// heap and the MMIO virtual-address pool: both want monotonically
// growing reservations that are essentially never individually freed.
// Because of that, Free only decrements a live-allocation count; the
// cursor itself resets to end (reclaiming everything) only once that
// count reaches zero. This is deliberately coarse — acceptable because
// allocations out of this pool are long-lived for the phases that use
// it (bring-up and driver MMIO windows).
type VaBumpAllocator struct {
	mu sync.Mutex

	start, end addr.VirtAddr
	cursor     addr.VirtAddr
	live       int
}

// NewVaBumpAllocator creates an allocator over [start, end) with the
// cursor initialized at end.
func NewVaBumpAllocator(start, end addr.VirtAddr) *VaBumpAllocator {
	return &VaBumpAllocator{start: start, end: end, cursor: end}
}

// Alloc reserves size bytes aligned to align (a power of two),
// returning the base of the new reservation.
func (v *VaBumpAllocator) Alloc(size, align uint64) (addr.VirtAddr, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	candidate := v.cursor.Raw() - size
	next, err := addr.VirtAddr(candidate).AlignDown(align)
	if err != nil {
		return 0, err
	}
	if next < v.start {
		return 0, ErrBumpExhausted
	}
	v.cursor = next
	v.live++
	return next, nil
}

// Free decrements the live-allocation count and, once it reaches zero,
// resets the cursor back to end so the whole range can be reused. It
// does not track individual reservation sizes: callers only get "all
// memory back" semantics, never partial reclaim.
func (v *VaBumpAllocator) Free() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.live == 0 {
		panic("mem: VaBumpAllocator.Free called with no live allocations")
	}
	v.live--
	if v.live == 0 {
		v.cursor = v.end
	}
}

// FrameBumpAllocator hands out physical frames from a cursor that
// grows upward from start. It exists only for early bring-up, before
// the real BitmapAllocator can be constructed (that construction
// itself needs to know where usable RAM begins, which in turn needs an
// allocator to get the kernel booted far enough to ask the FDT). It
// never frees: Free is a documented no-op, matching the bump
// allocator's role as a throwaway, forward-only source of pages.
type FrameBumpAllocator struct {
	mu sync.Mutex

	start, end addr.PhysAddr
	cursor     addr.PhysAddr
	pageSize   uint64
	backing    []byte
}

// NewFrameBumpAllocator creates an allocator over [start, end) handing
// out pages of pageSize bytes.
func NewFrameBumpAllocator(start, end addr.PhysAddr, pageSize uint64) *FrameBumpAllocator {
	if end < start {
		panic("mem: FrameBumpAllocator given an inverted range")
	}
	return &FrameBumpAllocator{
		start: start, end: end, cursor: start, pageSize: pageSize,
		backing: make([]byte, uint64(end.Sub(start))),
	}
}

// Alloc returns count contiguous pages starting at the current cursor
// and advances it.
func (f *FrameBumpAllocator) Alloc(count uint64) (addr.PhysAddr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := count * f.pageSize
	next := f.cursor.Add(size)
	if next > f.end {
		return 0, ErrBumpExhausted
	}
	start := f.cursor
	f.cursor = next
	return start, nil
}

// Free is a no-op: the frame bump allocator never reclaims memory. It
// exists so FrameBumpAllocator can satisfy the same allocator
// interface the page-table walker expects (see mmu.FrameAllocator).
func (f *FrameBumpAllocator) Free(addr.PhysAddr) {}

// AllocZeroed allocates a single zeroed page, satisfying mmu.FrameAllocator.
func (f *FrameBumpAllocator) AllocZeroed() (addr.PhysAddr, error) {
	return f.Alloc(1)
}

// FreePage satisfies mmu.FrameAllocator; see Free.
func (f *FrameBumpAllocator) FreePage(addr.PhysAddr) {}

// PageBytes returns the page-sized byte view backing pa, satisfying
// mmu.Memory for the early bring-up period before the bitmap allocator
// exists.
func (f *FrameBumpAllocator) PageBytes(pa addr.PhysAddr) ([]byte, error) {
	if pa.Sub(f.start) < 0 || !pa.IsAligned(f.pageSize) {
		return nil, ErrBumpExhausted
	}
	off := uint64(pa.Sub(f.start))
	if off+f.pageSize > uint64(len(f.backing)) {
		return nil, ErrBumpExhausted
	}
	return f.backing[off : off+f.pageSize], nil
}
