// Package proc holds the minimal per-process data record this core
// needs to launch a user program: an address space, an entry point,
// and a stack. There is no process table, no scheduler, and no
// multi-hart dispatch here — those are explicitly out of scope for a
// memory-management and process-loading core; this package exists so
// execve has somewhere to put the state it produces.
package proc

import (
	"fmt"

	"rvos/addr"
	"rvos/elfload"
)

// StackSize is the fixed size given to every process's initial user
// stack. There is no growth-on-fault here (that would be demand
// paging), so it is sized generously up front.
const StackSize = 8 * 1024 * 1024

// userSpaceTop returns the highest usable user virtual address for a
// paging mode, one page below the canonical-form boundary so the
// very top page is never mapped and can serve as an unconditional
// guard against an off-by-one stack overflow wrapping into kernel VA.
func userSpaceTop(mode addr.PagingMode) addr.VirtAddr {
	switch mode {
	case addr.Sv39:
		return addr.VirtAddr(0x0000_003f_ffff_f000)
	case addr.Sv48:
		return addr.VirtAddr(0x0000_3fff_ffff_f000)
	default:
		panic("proc: unknown paging mode")
	}
}

// Process is the loaded, not-yet-entered state of one user program.
type Process[AS any] struct {
	AddrSpace AS
	Entry     addr.VirtAddr
	StackTop  addr.VirtAddr
}

// Execve parses image, allocates a fresh address space through loader,
// maps and populates its segments, and reserves a StackSize stack at
// the top of the user address space for mode. It does not transition
// to user mode — callers pass the resulting Process to procenter.Enter
// (or an equivalent Executor) themselves, once any other process setup
// (open file descriptors, initial registers) is done.
func Execve[AS any](loader elfload.ArchLoader[AS], image []byte, mode addr.PagingMode) (*Process[AS], error) {
	top := userSpaceTop(mode)
	stackBottom := addr.VirtAddr(top.Raw() - StackSize)

	policy := elfload.Policy{AllowWX: false, MaxSegments: 16}

	aspace, plan, err := elfload.Load(loader, image, policy)
	if err != nil {
		return nil, fmt.Errorf("proc: loading image: %w", err)
	}

	if err := loader.ValidateUserRange(aspace, stackBottom, StackSize); err != nil {
		return nil, fmt.Errorf("proc: validating stack range: %w", err)
	}
	if err := loader.MapAnonymous(aspace, stackBottom, StackSize, elfload.FlagRead|elfload.FlagWrite); err != nil {
		return nil, fmt.Errorf("proc: mapping stack: %w", err)
	}

	return &Process[AS]{AddrSpace: aspace, Entry: plan.Entry, StackTop: top}, nil
}
