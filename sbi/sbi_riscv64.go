//go:build riscv64

package sbi

// Real issues actual `ecall` instructions and is the Ecaller used by
// the kernel once it is running on real (or emulated) RISC-V hardware.
type Real struct{}

var _ Ecaller = Real{}

func (Real) Ecall(ext Extension, fid uintptr, a0, a1, a2, a3, a4, a5 uintptr) (uintptr, uintptr) {
	return ecallAsm(uintptr(ext), fid, a0, a1, a2, a3, a4, a5)
}

// ecallAsm is implemented in sbi_riscv64.s: it loads a7=ext, a6=fid,
// a0-a5 from the argument registers, executes `ecall`, and returns the
// resulting a0/a1 pair.
func ecallAsm(ext, fid, a0, a1, a2, a3, a4, a5 uintptr) (uintptr, uintptr)
