// Package unwind walks a frame-pointer-linked call stack for panic
// backtraces. It assumes the calling convention this module's own
// hand-written assembly (trap entry, procenter) and the Go compiler's
// riscv64 backend both follow: s0 is the frame pointer, [s0-8] holds
// the saved return address, and [s0-16] holds the caller's s0.
package unwind

import (
	"fmt"
	"strings"

	"rvos/ksyms"
)

// Frame is one entry in an unwound stack.
type Frame struct {
	PC uint64
	FP uint64
}

// Memory resolves a virtual address to the 8 bytes stored there. It is
// satisfied by the kernel's direct map the same way mmu.Memory and
// dma.Frames are; unwind takes its own narrow interface rather than
// depending on mmu directly, since a stack walk only ever needs to read
// two words per frame.
type Memory interface {
	ReadWord(va uint64) (uint64, bool)
}

// TextRange bounds the addresses unwind treats as plausible return
// addresses, so a corrupt frame pointer chain terminates the walk
// instead of reading unrelated memory as more frames.
type TextRange struct {
	Start, End uint64
}

func (r TextRange) contains(pc uint64) bool {
	return pc >= r.Start && pc < r.End
}

// Walk follows the frame-pointer chain starting at fp, stopping at the
// first frame whose return address falls outside text, the first
// unreadable frame pointer, or maxFrames, whichever comes first.
func Walk(mem Memory, fp uint64, text TextRange, maxFrames int) []Frame {
	frames := make([]Frame, 0, maxFrames)
	for i := 0; i < maxFrames && fp != 0; i++ {
		ra, ok := mem.ReadWord(fp - 8)
		if !ok || !text.contains(ra) {
			break
		}
		frames = append(frames, Frame{PC: ra, FP: fp})

		prevFP, ok := mem.ReadWord(fp - 16)
		if !ok || prevFP <= fp {
			// Frames grow downward on this ABI; a non-increasing
			// frame pointer means the chain is corrupt or we hit the
			// bottom (prevFP == 0 is the normal terminator).
			break
		}
		fp = prevFP
	}
	return frames
}

// Format renders frames as a multi-line backtrace, resolving each
// program counter through tab.
func Format(frames []Frame, tab *ksyms.Table) string {
	var b strings.Builder
	for i, f := range frames {
		name, off, ok := tab.Resolve(f.PC)
		if !ok {
			fmt.Fprintf(&b, "#%d 0x%016x <unknown>\n", i, f.PC)
			continue
		}
		fmt.Fprintf(&b, "#%d 0x%016x %s+0x%x\n", i, f.PC, name, off)
	}
	return b.String()
}
