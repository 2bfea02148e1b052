package mem

import (
	"testing"

	"rvos/addr"
)

const testPageSize = 4096

func newTestAllocator(t *testing.T, numPages uint64) *BitmapAllocator {
	t.Helper()
	// Reserve an oversized backing region so the descriptor prefix never
	// eats into the pages under test; NewBitmapAllocator computes the
	// real split itself.
	start := addr.PhysAddr(0)
	end := addr.PhysAddr((numPages + 4) * testPageSize)
	b, err := NewBitmapAllocator(start, end, testPageSize)
	if err != nil {
		t.Fatalf("NewBitmapAllocator: %v", err)
	}
	return b
}

func TestBitmapAllocatorInvalidConstruction(t *testing.T) {
	if _, err := NewBitmapAllocator(0, 0x1000, 3); err != ErrInvalidPageSize {
		t.Errorf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := NewBitmapAllocator(1, 0x2000, 0x1000); err != ErrUnalignedBounds {
		t.Errorf("expected ErrUnalignedBounds for unaligned start, got %v", err)
	}
	if _, err := NewBitmapAllocator(0, 0x1001, 0x1000); err != ErrUnalignedBounds {
		t.Errorf("expected ErrUnalignedBounds for unaligned end, got %v", err)
	}
}

// TestMinimalAllocatorCycle is the concrete scenario from spec.md §8.1:
// 32 pages, alloc(4), alloc(1), alloc(3), free the first run, alloc(2)
// must land in the first two pages of the freed run.
func TestMinimalAllocatorCycle(t *testing.T) {
	b := newTestAllocator(t, 32)
	if b.NumPages() < 32 {
		t.Fatalf("need at least 32 usable pages, got %d", b.NumPages())
	}

	f1, err := b.Alloc(4)
	if err != nil {
		t.Fatalf("alloc(4): %v", err)
	}
	if f1.PA != b.base {
		t.Fatalf("first alloc should start at base, got %v", f1.PA)
	}

	f2, err := b.Alloc(1)
	if err != nil {
		t.Fatalf("alloc(1): %v", err)
	}
	if f2.PA != b.base.Add(4*testPageSize) {
		t.Fatalf("second alloc should start at page 4, got %v", f2.PA)
	}

	f3, err := b.Alloc(3)
	if err != nil {
		t.Fatalf("alloc(3): %v", err)
	}
	if f3.PA != b.base.Add(5*testPageSize) {
		t.Fatalf("third alloc should start at page 5, got %v", f3.PA)
	}

	b.Free(f1.PA)

	f4, err := b.Alloc(2)
	if err != nil {
		t.Fatalf("alloc(2) after free: %v", err)
	}
	if f4.PA != b.base {
		t.Fatalf("alloc(2) should reuse freed run starting at base, got %v", f4.PA)
	}

	wantStates := []pageState{
		stateTaken, stateLast, stateFree, stateFree,
		stateLast, stateTaken, stateTaken, stateLast,
	}
	for i, want := range wantStates {
		if got := b.descriptor[i]; got != want {
			t.Errorf("page %d state = %v, want %v", i, got, want)
		}
	}
	for i := 8; i < 31 && i < len(b.descriptor); i++ {
		if b.descriptor[i] != stateFree {
			t.Errorf("page %d expected free, got %v", i, b.descriptor[i])
		}
	}
}

func TestBitmapAllocatorDoubleFreePanics(t *testing.T) {
	b := newTestAllocator(t, 8)
	f, err := b.Alloc(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	b.Free(f.PA)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	b.Free(f.PA)
}

func TestBitmapAllocatorExhaustion(t *testing.T) {
	b := newTestAllocator(t, 4)
	n := b.NumPages()
	if _, err := b.Alloc(n); err != nil {
		t.Fatalf("alloc(all): %v", err)
	}
	if _, err := b.Alloc(1); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestBitmapAllocatorReuseAfterFullFree(t *testing.T) {
	b := newTestAllocator(t, 16)
	n := b.NumPages()
	f, err := b.Alloc(n)
	if err != nil {
		t.Fatalf("alloc(all): %v", err)
	}
	b.Free(f.PA)
	if _, err := b.Alloc(n); err != nil {
		t.Fatalf("alloc(all) after free: %v", err)
	}
}

func TestVaBumpAllocatorGrowsDownAndResets(t *testing.T) {
	start := addr.VirtAddr(0xffff_ffc0_0000_0000)
	end := addr.VirtAddr(0xffff_ffc0_0010_0000)
	v := NewVaBumpAllocator(start, end)

	a1, err := v.Alloc(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	if a1 != end-0x1000 {
		t.Fatalf("first alloc should be at end-size, got %v", a1)
	}

	a2, err := v.Alloc(0x2000, 0x1000)
	if err != nil {
		t.Fatalf("alloc 2: %v", err)
	}
	if a2 >= a1 {
		t.Fatalf("second alloc should be below the first: %v vs %v", a2, a1)
	}

	v.Free()
	if v.live != 1 {
		t.Fatalf("expected 1 live allocation, got %d", v.live)
	}
	v.Free()
	if v.cursor != end {
		t.Fatalf("cursor should reset to end once quiescent, got %v", v.cursor)
	}
}

func TestVaBumpAllocatorExhaustion(t *testing.T) {
	start := addr.VirtAddr(0x1000)
	end := addr.VirtAddr(0x2000)
	v := NewVaBumpAllocator(start, end)
	if _, err := v.Alloc(0x2000, 0x1000); err != ErrBumpExhausted {
		t.Fatalf("expected ErrBumpExhausted, got %v", err)
	}
}

func TestFrameBumpAllocatorGrowsUpAndNeverFrees(t *testing.T) {
	start := addr.PhysAddr(0x8000_0000)
	end := addr.PhysAddr(0x8000_0000 + 3*testPageSize)
	f := NewFrameBumpAllocator(start, end, testPageSize)

	a1, err := f.Alloc(1)
	if err != nil || a1 != start {
		t.Fatalf("first alloc = %v, %v; want %v, nil", a1, err, start)
	}
	a2, err := f.Alloc(2)
	if err != nil || a2 != start.Add(testPageSize) {
		t.Fatalf("second alloc = %v, %v", a2, err)
	}
	if _, err := f.Alloc(2); err != ErrBumpExhausted {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	f.Free(a1) // documented no-op
	if _, err := f.Alloc(1); err != ErrBumpExhausted {
		t.Fatalf("Free must not reclaim space in the frame bump allocator")
	}
}
