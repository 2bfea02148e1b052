//go:build riscv64

// Command kernel is the riscv64/Sv39 educational kernel's entry point:
// it brings up the physical frame allocator and page tables, maps its
// own MMIO devices, finds and loads an init process out of the
// initrd, and enters user mode. It never returns.
package main

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"rvos/addr"
	"rvos/arch"
	"rvos/boot"
	"rvos/cpio"
	"rvos/drivers"
	"rvos/fdt"
	"rvos/kconsole"
	"rvos/mem"
	"rvos/mmio"
	"rvos/mmu"
	"rvos/proc"
	"rvos/procenter"
	"rvos/sbi"
)

// Fixed physical layout for QEMU's virt machine: RAM starts at
// 0x8000_0000, and the FDT's /memory/reg is trusted over this default
// only to learn the RAM *size* (the base is architectural for virt).
const (
	ramBase    = 0x8000_0000
	defaultRAM = 128 * 1024 * 1024

	// kernelReserve covers the kernel's own image at the bottom of RAM;
	// the frame allocator (which also supplies the root page table)
	// only manages RAM above it, and it is exactly what gets mapped at
	// addr.LoadOffset below.
	kernelReserve = 16 * 1024 * 1024

	mmioVAEnd = addr.PhysToVirtOffset

	userTop = addr.VirtAddr(0x0000_003f_ffff_f000) // Sv39 user space ceiling
)

// physBytes views length bytes of physical memory starting at pa as a
// Go byte slice. Valid whenever pa falls inside a range the kernel has
// identity-mapped (or, before the MMU is enabled at all, unconditionally —
// physical and virtual addressing coincide).
func physBytes(pa uint64, length uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(pa))), length)
}

func main() {
	cpu := &arch.Real{}
	sbiCaller := sbi.Real{}

	// The MMU is still off: SBI handed control to the kernel with
	// satp=0, so physical and virtual addresses coincide and the DTB
	// can be read directly.
	dtbHeader := physBytes(boot.DTBPointer, 64)
	totalSize := binary.BigEndian.Uint32(dtbHeader[4:8])
	tree, err := fdt.Parse(physBytes(boot.DTBPointer, uint64(totalSize)))
	if err != nil {
		panic(fmt.Sprintf("kernel: parsing device tree: %v", err))
	}

	ramSize := uint64(defaultRAM)
	if regions, err := tree.MemoryRegions(); err == nil && len(regions) > 0 {
		ramSize = regions[0].Size
	}

	region, err := mem.NewBitmapAllocator(addr.PhysAddr(ramBase+kernelReserve), addr.PhysAddr(ramBase+ramSize), mmu.Kb.Bytes())
	if err != nil {
		panic(fmt.Sprintf("kernel: initializing frame allocator: %v", err))
	}

	root, err := region.AllocZeroed()
	if err != nil {
		panic(fmt.Sprintf("kernel: allocating root page table: %v", err))
	}
	walker := mmu.NewWalker(root, region, addr.Sv39)

	// Identity-map RAM so the PC (still running at its physical load
	// address) keeps translating to the same bytes the instant satp
	// is written below: there is no assembly trampoline in this
	// module to jump PC to the upper half first (see boot package),
	// so the low identity map has to stay resident permanently rather
	// than being torn down once the upper-half mappings exist.
	if err := walker.MapRange(addr.VirtAddr(ramBase), addr.PhysAddr(ramBase), ramSize, mmu.Mb, mmu.KernelRWX, region); err != nil {
		panic(fmt.Sprintf("kernel: identity-mapping RAM: %v", err))
	}

	// Kernel image at the fixed upper-half LoadOffset: only the
	// reserved prefix of RAM (the kernel image), RWX like the identity
	// mapping it mirrors.
	if err := walker.MapRange(addr.LoadOffset, addr.PhysAddr(ramBase), kernelReserve, mmu.Mb, mmu.KernelRWX, region); err != nil {
		panic(fmt.Sprintf("kernel: mapping kernel image at LoadOffset: %v", err))
	}

	// Direct physical map: all of RAM, read-write, at the fixed
	// upper-half PhysToVirtOffset, so later code can address any
	// physical page as PhysToVirtOffset+pa without a dedicated
	// per-allocation mapping.
	if err := walker.MapRange(addr.PhysToVirtOffset, addr.PhysAddr(ramBase), ramSize, mmu.Mb, mmu.KernelRW, region); err != nil {
		panic(fmt.Sprintf("kernel: installing direct physical map: %v", err))
	}

	cpu.WriteSatp(arch.MakeSatp(arch.SatpModeSv39, uint64(root)>>12))
	cpu.SfenceVMA()

	mapper := mmio.NewMapper(addr.IomapOffset, addr.VirtAddr(mmioVAEnd), walker, region, region)

	var (
		console *drivers.Console
		plic    *drivers.PLIC
		syscon  *drivers.Syscon
	)
	var g errgroup.Group
	g.Go(func() error {
		io, err := mapper.Iomap(addr.PhysAddr(drivers.Ns16550Base), drivers.Ns16550Len)
		if err != nil {
			return fmt.Errorf("mapping UART: %w", err)
		}
		console = drivers.NewConsole(io)
		return nil
	})
	g.Go(func() error {
		io, err := mapper.Iomap(addr.PhysAddr(drivers.PlicBase), drivers.PlicLen)
		if err != nil {
			return fmt.Errorf("mapping PLIC: %w", err)
		}
		plic = drivers.NewPLIC(io)
		return nil
	})
	g.Go(func() error {
		io, err := mapper.Iomap(addr.PhysAddr(drivers.SysconBase), drivers.SysconLen)
		if err != nil {
			return fmt.Errorf("mapping syscon: %w", err)
		}
		syscon = drivers.NewSyscon(io)
		return nil
	})
	if err := g.Wait(); err != nil {
		panic(fmt.Sprintf("kernel: driver init: %v", err))
	}
	// The PLIC is mapped and ready but nothing enables or services
	// interrupts yet — this core never leaves the synchronous boot
	// path, so plic sits unused beyond proving the mapping succeeds.
	_ = plic

	kconsole.InitWithHistory(console, 4096)
	kconsole.Printf("rvos: boot on hart %d\n", boot.HartID)
	if v, err := sbi.GetSpecVersion(sbiCaller); err == nil {
		kconsole.Printf("sbi: spec version %d.%d\n", v.Major, v.Minor)
	}

	start, end, ok, err := tree.InitrdRange()
	if err != nil || !ok {
		kconsole.Panic("kernel: no initrd found in device tree (err=%v)", err)
	}
	initrdBytes := physBytes(start, end-start)

	initrd, err := cpio.BuildIndex(initrdBytes)
	if err != nil {
		kconsole.Panic("kernel: indexing initrd: %v", err)
	}
	initEntry, ok := initrd.Find("bin/init")
	if !ok {
		kconsole.Panic("kernel: bin/init not found in initrd")
	}
	initBin := initEntry.Data

	loader := procenter.FenceOnFinalize{
		Loader: procenter.NewLoader(walker, region, region, addr.Sv39, userTop),
		CPU:    cpu,
	}
	p, err := proc.Execve[*procenter.AddrSpace](&loader, initBin, addr.Sv39)
	if err != nil {
		kconsole.Panic("kernel: loading init: %v", err)
	}

	kconsole.Println("rvos: entering userspace")
	if err := procenter.Enter(cpu, p.AddrSpace, addr.Sv39, p.Entry, p.StackTop); err != nil {
		kconsole.Panic("kernel: enter: %v", err)
	}

	// Enter never returns on real hardware; reaching here means the
	// arch.CPU backing it failed to trap into user mode.
	syscon.Poweroff(1)
	panic("kernel: enterUser returned")
}
