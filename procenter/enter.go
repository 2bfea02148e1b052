package procenter

import (
	"errors"
	"fmt"

	"rvos/addr"
	"rvos/arch"
)

var ErrBadSatpMode = errors.New("procenter: unsupported paging mode for satp")

// satpMode maps an addr.PagingMode to the field value arch.MakeSatp expects.
func satpMode(mode addr.PagingMode) (uint64, error) {
	switch mode {
	case addr.Sv39:
		return arch.SatpModeSv39, nil
	case addr.Sv48:
		return arch.SatpModeSv48, nil
	default:
		return 0, ErrBadSatpMode
	}
}

// Enter programs every piece of architectural state a first entry into
// a user process needs, then hands off through cpu.EnterUser:
//
//  1. satp := mode | root PPN, written and followed by an sfence.vma so
//     no stale translation from a prior address space survives.
//  2. sepc := entry, the instruction the sret will resume at.
//  3. sscratch := sp, the user stack pointer EnterUser's atomic swap
//     picks up (see arch.CPU.EnterUser's doc for the exact sequence).
//  4. sstatus SPP cleared (resume in U-mode) and SPIE set (resume with
//     interrupts enabled), leaving every other bit untouched.
//
// This ordering matters: satp must be live before the sfence.vma that
// follows it, and both must happen before sepc/sstatus are read by
// sret — reordering any of these steps changes which address space or
// privilege level the processor ends up in.
func Enter(cpu arch.CPU, aspace *AddrSpace, mode addr.PagingMode, entry, sp addr.VirtAddr) error {
	modeField, err := satpMode(mode)
	if err != nil {
		return err
	}

	cpu.WriteSatp(arch.MakeSatp(modeField, aspace.Root.Raw()>>12))
	cpu.SfenceVMA()

	cpu.WriteSepc(entry.Raw())
	cpu.WriteSscratch(sp.Raw())

	status := cpu.ReadSstatus()
	status &^= arch.SstatusSPP
	status |= arch.SstatusSPIE
	cpu.WriteSstatus(status)

	if err := cpu.EnterUser(); err != nil {
		return fmt.Errorf("procenter: entering user mode: %w", err)
	}
	return nil
}
