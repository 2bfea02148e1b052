package trap

import (
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// DecodeFaultingInstruction disassembles the instruction at the
// faulting program counter, given the raw bytes the caller has already
// copied out of the faulting address space (via the direct map, or the
// ELF image bytes for a fault taken before the first context switch).
// It exists purely for diagnostics printed on an illegal-instruction or
// instruction-access-fault panic; it is never on a path that must
// succeed.
func DecodeFaultingInstruction(code []byte) (string, error) {
	inst, err := riscv64asm.Decode(code)
	if err != nil {
		return "", fmt.Errorf("trap: decoding faulting instruction: %w", err)
	}
	return inst.String(), nil
}

// Diagnostic renders a one-line summary of a trap event suitable for
// the kernel's panic output, including the disassembly of the faulting
// instruction when codeAtPC is available (nil if the caller could not
// safely read it, e.g. the fault was itself an instruction fetch fault).
// sepc is passed separately since TrapFrame does not carry it — sepc is
// read straight off arch.CPU by the caller, not spilled to the frame.
func Diagnostic(ev Event, sepc uint64, codeAtPC []byte) string {
	msg := fmt.Sprintf("trap: %s at sepc=0x%x stval=0x%x", ev.Cause, sepc, ev.Stval)
	if codeAtPC == nil {
		return msg
	}
	text, err := DecodeFaultingInstruction(codeAtPC)
	if err != nil {
		return msg + fmt.Sprintf(" (could not decode faulting instruction: %v)", err)
	}
	return msg + fmt.Sprintf(" (%s)", text)
}
