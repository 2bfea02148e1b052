// Package procenter implements the architecture side of process
// loading and the final kernel-to-user transition: elfload.ArchLoader
// backed by a real mmu.Walker and frame allocator, and Enter, which
// programs Satp/Sepc/Sscratch/Sstatus and hands off through arch.CPU.
package procenter

import (
	"errors"
	"fmt"

	"rvos/addr"
	"rvos/arch"
	"rvos/elfload"
	"rvos/mmu"
)

// AddrSpace is the opaque handle elfload.ArchLoader passes back to the
// core loader: a page-table root plus the Walker already pointed at it.
type AddrSpace struct {
	Root   addr.PhysAddr
	Walker *mmu.Walker
}

var (
	ErrRangeTooHigh  = errors.New("procenter: range extends above the user/kernel split")
	ErrRangeOverflow = errors.New("procenter: range wraps the address space")
	ErrRangeNullPage = errors.New("procenter: range overlaps the reserved low page")
)

// reservedLowPage is the single page at VA 0 that no segment may ever
// map, null-pointer-shaped or not: a segment placed there would make a
// wild nil-pointer dereference in user code silently succeed instead
// of trapping.
const reservedLowPage = 0x1000

// Loader implements elfload.ArchLoader[*AddrSpace]. One Loader is
// shared by every process on a given hart set; it holds no per-process
// state of its own.
type Loader struct {
	kernel   *mmu.Walker
	falloc   mmu.FrameAllocator
	physMem  mmu.Memory
	mode     addr.PagingMode
	pageSize uint64
	userTop  addr.VirtAddr
}

// NewLoader builds a Loader. kernel is the walker over the running
// kernel's own root table — used only to seed fresh address spaces via
// CopyKernelMappings. userTop bounds every user mapping this Loader
// will install; callers pick it to match their paging mode's canonical
// user half (e.g. 0x0000_003f_ffff_ffff for Sv39).
func NewLoader(kernel *mmu.Walker, falloc mmu.FrameAllocator, physMem mmu.Memory, mode addr.PagingMode, userTop addr.VirtAddr) *Loader {
	return &Loader{kernel: kernel, falloc: falloc, physMem: physMem, mode: mode, pageSize: mmu.Kb.Bytes(), userTop: userTop}
}

func (l *Loader) NewUserAddrSpace() (*AddrSpace, error) {
	root, err := l.falloc.AllocZeroed()
	if err != nil {
		return nil, fmt.Errorf("procenter: allocating page-table root: %w", err)
	}
	if err := l.kernel.CopyKernelMappings(root); err != nil {
		return nil, fmt.Errorf("procenter: seeding kernel mappings: %w", err)
	}
	return &AddrSpace{Root: root, Walker: mmu.NewWalker(root, l.physMem, l.mode)}, nil
}

func (l *Loader) ValidateUserRange(aspace *AddrSpace, vaddr addr.VirtAddr, length uint64) error {
	if length == 0 {
		return nil
	}
	end := vaddr.Raw() + length
	if end < vaddr.Raw() {
		return ErrRangeOverflow
	}
	if vaddr.Raw() < reservedLowPage {
		return fmt.Errorf("%w: [%#x, %#x) overlaps the reserved page below %#x", ErrRangeNullPage, vaddr.Raw(), end, uint64(reservedLowPage))
	}
	if end > l.userTop.Raw() {
		return fmt.Errorf("%w: [%#x, %#x) exceeds user top %#x", ErrRangeTooHigh, vaddr.Raw(), end, l.userTop.Raw())
	}
	return nil
}

// userFlags builds the page-table entry flags for a user mapping from
// an elfload segment's R/W/X bits. Pages are pre-marked Access (and
// Dirty, for writable pages) since this core never demand-faults a
// user mapping in; Valid is added by Walker.Map itself.
func userFlags(f elfload.SegmentFlags) mmu.EntryFlags {
	flags := mmu.User | mmu.Access
	if f&elfload.FlagRead != 0 {
		flags |= mmu.Read
	}
	if f&elfload.FlagWrite != 0 {
		flags |= mmu.Write | mmu.Dirty
	}
	if f&elfload.FlagExec != 0 {
		flags |= mmu.Exec
	}
	return flags
}

func (l *Loader) MapAnonymous(aspace *AddrSpace, vaddr addr.VirtAddr, length uint64, flags elfload.SegmentFlags) error {
	mf := userFlags(flags)
	for off := uint64(0); off < length; off += l.pageSize {
		pa, err := l.falloc.AllocZeroed()
		if err != nil {
			return fmt.Errorf("procenter: allocating user page: %w", err)
		}
		va := addr.VirtAddr(vaddr.Raw() + off)
		if err := aspace.Walker.Map(va, pa, mmu.Kb, mf, l.falloc); err != nil {
			return fmt.Errorf("procenter: mapping %v: %w", va, err)
		}
	}
	return nil
}

func (l *Loader) ProtectRange(aspace *AddrSpace, vaddr addr.VirtAddr, length uint64, flags elfload.SegmentFlags) error {
	mf := userFlags(flags)
	for off := uint64(0); off < length; off += l.pageSize {
		va := addr.VirtAddr(vaddr.Raw() + off)
		if err := aspace.Walker.UpdateMapping(va, mf); err != nil {
			return fmt.Errorf("procenter: updating %v: %w", va, err)
		}
	}
	return nil
}

// forEachPage visits every mapped page byte-range touched by
// [vaddr, vaddr+length), calling fn with the page's backing bytes
// already sliced to the portion this span covers and the destination
// offset within that slice.
func (l *Loader) forEachPage(aspace *AddrSpace, vaddr addr.VirtAddr, length uint64, fn func(page []byte, pageOff uint64, spanOff uint64) error) error {
	remaining := length
	va := vaddr.Raw()
	spanOff := uint64(0)
	for remaining > 0 {
		pageVA := va &^ (l.pageSize - 1)
		inPage := va - pageVA
		n := l.pageSize - inPage
		if n > remaining {
			n = remaining
		}
		pa, ok := aspace.Walker.Translate(addr.VirtAddr(va))
		if !ok {
			return fmt.Errorf("procenter: no mapping for %#x", va)
		}
		pageBase, err := pa.AlignDown(l.pageSize)
		if err != nil {
			return err
		}
		page, err := l.physMem.PageBytes(pageBase)
		if err != nil {
			return err
		}
		if err := fn(page[inPage:inPage+n], inPage, spanOff); err != nil {
			return err
		}
		va += n
		spanOff += n
		remaining -= n
	}
	return nil
}

func (l *Loader) CopyToUser(aspace *AddrSpace, dst addr.VirtAddr, src []byte) error {
	return l.forEachPage(aspace, dst, uint64(len(src)), func(page []byte, _ uint64, spanOff uint64) error {
		copy(page, src[spanOff:spanOff+uint64(len(page))])
		return nil
	})
}

func (l *Loader) ZeroUser(aspace *AddrSpace, dst addr.VirtAddr, length uint64) error {
	return l.forEachPage(aspace, dst, length, func(page []byte, _ uint64, _ uint64) error {
		for i := range page {
			page[i] = 0
		}
		return nil
	})
}

// FinalizeImage does nothing on a bare Loader, which has no arch.CPU to
// fence with. A real hart needs an instruction-cache fence before any
// mapped executable range can be safely run, because the data written
// by CopyToUser went through the D-cache, not the I-cache, and nothing
// else in this load path implied coherence between them; wrap the
// Loader in FenceOnFinalize to issue that fence.
func (l *Loader) FinalizeImage(aspace *AddrSpace, execRanges []elfload.ExecRange) error {
	return nil
}

func (l *Loader) PageSize() uint64 { return l.pageSize }

var _ elfload.ArchLoader[*AddrSpace] = (*Loader)(nil)

// FenceOnFinalize wraps a Loader to also issue a FenceI through cpu
// once per FinalizeImage call that lists at least one exec range,
// however many there are. This is split out from Loader itself so
// procenter's own tests can exercise Loader without needing an
// arch.CPU.
type FenceOnFinalize struct {
	*Loader
	CPU arch.CPU
}

func (f FenceOnFinalize) FinalizeImage(aspace *AddrSpace, execRanges []elfload.ExecRange) error {
	if err := f.Loader.FinalizeImage(aspace, execRanges); err != nil {
		return err
	}
	if len(execRanges) > 0 {
		f.CPU.FenceI()
	}
	return nil
}

var _ elfload.ArchLoader[*AddrSpace] = FenceOnFinalize{}
