// Package arch isolates the handful of operations that can only be
// expressed as inline RISC-V assembly: CSR access, memory/instruction
// fences, and the atomic kernel-stack/user-stack swap that precedes
// sret. Every other package in this module depends only on the CPU
// interface below, never on the riscv64-tagged implementation
// directly — this is the literal reading of spec.md §9's design note
// that process-enter and the loader's capability set "enables
// testability with an in-memory stub," generalized to cover trap
// entry and CSR access as well.
package arch

// Sstatus bit positions this module cares about.
const (
	SstatusSPP  = 1 << 8 // previous privilege: 0 = user, 1 = supervisor
	SstatusSPIE = 1 << 5 // previous interrupt-enable
	SstatusSIE  = 1 << 1 // current interrupt-enable
)

// Sie/Sip bit positions (supervisor interrupt enable/pending).
const (
	SieSSIE = 1 << 1 // software interrupt
	SieSTIE = 1 << 5 // timer interrupt
	SieSEIE = 1 << 9 // external interrupt
)

// Satp mode field values.
const (
	SatpModeSv39 = 8
	SatpModeSv48 = 9
)

const satpModeShift = 60
const satpPPNMask = (1 << 44) - 1

// MakeSatp packs a paging mode and root PPN into the value Satp.Write expects.
func MakeSatp(mode uint64, rootPPN uint64) uint64 {
	return (mode << satpModeShift) | (rootPPN & satpPPNMask)
}

// CPU is the capability set every arch-dependent package in this
// module is written against.
type CPU interface {
	// SfenceVMA invalidates TLB entries. Must be issued after
	// installing/removing translations that a speculative walk could
	// otherwise observe stale, and after writing Satp.
	SfenceVMA()
	// FenceI issues an instruction-cache coherence fence. Must be
	// issued after writing new executable code before it is run.
	FenceI()
	// FenceRW issues a full read/write memory fence, used by the dma
	// package's sync operations.
	FenceRW()

	ReadSatp() uint64
	WriteSatp(v uint64)
	WriteSepc(v uint64)
	ReadSepc() uint64
	WriteSscratch(v uint64)
	ReadSscratch() uint64
	ReadSstatus() uint64
	WriteSstatus(v uint64)
	ReadScause() uint64
	ReadStval() uint64

	// EnterUser performs the final, must-be-atomic stack swap and
	// sret. It never returns to its caller; control resumes in U-mode
	// at Sepc, or (via a later trap) back in the trap entry path. See
	// procenter.Enter for the surrounding setup this assumes has
	// already happened (Satp, Sepc, Sscratch, Sstatus all written).
	EnterUser() error
}
