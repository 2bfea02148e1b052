// Package trap decodes the scause/stval pair left by a RISC-V trap and
// dispatches to a registered handler. It never touches assembly or CSRs
// directly — arch.CPU supplies those — so the dispatch logic here is
// ordinary, host-testable Go.
package trap

import (
	"fmt"

	"rvos/arch"
)

// TrapFrame mirrors the layout the entry stub spills onto the trap
// stack: every general-purpose register except x0, in register-number
// order. Field order matters — it must match the offsets the (not yet
// written) assembly entry/exit stub uses.
type TrapFrame struct {
	Ra uint64
	Sp uint64
	Gp uint64
	Tp uint64

	T0 uint64
	T1 uint64
	T2 uint64

	S0 uint64
	S1 uint64

	A0 uint64
	A1 uint64
	A2 uint64
	A3 uint64
	A4 uint64
	A5 uint64
	A6 uint64
	A7 uint64

	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64

	T3 uint64
	T4 uint64
	T5 uint64
	T6 uint64
}

// interruptBit is scause's top bit: set for interrupts, clear for
// synchronous exceptions.
const interruptBit = uint64(1) << 63

// Cause is a decoded scause value, split into its kind and code.
type Cause struct {
	Interrupt bool
	Code      uint64
}

// DecodeCause splits a raw scause CSR value into its components.
func DecodeCause(scause uint64) Cause {
	return Cause{
		Interrupt: scause&interruptBit != 0,
		Code:      scause &^ interruptBit,
	}
}

// Exception codes for synchronous traps (scause bit 63 clear), per the
// RISC-V privileged architecture's standard exception code assignment.
const (
	ExcInstructionMisaligned = 0
	ExcInstructionFault      = 1
	ExcIllegalInstruction    = 2
	ExcBreakpoint            = 3
	ExcLoadMisaligned        = 4
	ExcLoadFault             = 5
	ExcStoreMisaligned       = 6
	ExcStoreFault            = 7
	ExcEcallFromU            = 8
	ExcEcallFromS            = 9
	ExcEcallFromM            = 11
	ExcInstructionPageFault  = 12
	ExcLoadPageFault         = 13
	ExcStorePageFault        = 15
)

// Interrupt codes (scause bit 63 set).
const (
	IntSupervisorSoftware = 1
	IntSupervisorTimer    = 5
	IntSupervisorExternal = 9
)

func (c Cause) String() string {
	if c.Interrupt {
		switch c.Code {
		case IntSupervisorSoftware:
			return "supervisor software interrupt"
		case IntSupervisorTimer:
			return "supervisor timer interrupt"
		case IntSupervisorExternal:
			return "supervisor external interrupt"
		default:
			return fmt.Sprintf("interrupt %d", c.Code)
		}
	}
	switch c.Code {
	case ExcInstructionMisaligned:
		return "instruction address misaligned"
	case ExcInstructionFault:
		return "instruction access fault"
	case ExcIllegalInstruction:
		return "illegal instruction"
	case ExcBreakpoint:
		return "breakpoint"
	case ExcLoadMisaligned:
		return "load address misaligned"
	case ExcLoadFault:
		return "load access fault"
	case ExcStoreMisaligned:
		return "store/AMO address misaligned"
	case ExcStoreFault:
		return "store/AMO access fault"
	case ExcEcallFromU:
		return "environment call from U-mode"
	case ExcEcallFromS:
		return "environment call from S-mode"
	case ExcEcallFromM:
		return "environment call from M-mode"
	case ExcInstructionPageFault:
		return "instruction page fault"
	case ExcLoadPageFault:
		return "load page fault"
	case ExcStorePageFault:
		return "store/AMO page fault"
	default:
		return fmt.Sprintf("exception %d", c.Code)
	}
}

// IsPageFault reports whether c is one of the three page-fault causes.
// There is no demand paging in this module, so every page fault this
// dispatcher sees is fatal to the faulting context; this helper exists
// so callers don't have to enumerate all three codes themselves.
func (c Cause) IsPageFault() bool {
	return !c.Interrupt && (c.Code == ExcInstructionPageFault || c.Code == ExcLoadPageFault || c.Code == ExcStorePageFault)
}

// Event bundles everything a handler needs: the decoded cause, the
// faulting address (stval, meaningful for page faults and misaligned
// accesses), and the trap frame the entry stub captured.
type Event struct {
	Cause Cause
	Stval uint64
	Frame *TrapFrame
}

// Handler reacts to one trap. A nil return lets the dispatcher resume
// the interrupted context (sepc is left untouched by the dispatcher
// itself — handlers that consume an instruction, like an ecall
// handler, must advance Sepc themselves before returning).
type Handler func(ev Event) error

// Dispatcher routes decoded traps to per-cause handlers, falling back
// to a default handler for anything unregistered.
type Dispatcher struct {
	cpu       arch.CPU
	exc       map[uint64]Handler
	intr      map[uint64]Handler
	unhandled Handler
}

// NewDispatcher builds a Dispatcher that reads scause/stval from cpu
// on every Handle call. unhandled is invoked
// for any cause without a registered handler; it must not be nil.
func NewDispatcher(cpu arch.CPU, unhandled Handler) *Dispatcher {
	if unhandled == nil {
		panic("trap: NewDispatcher requires a non-nil unhandled handler")
	}
	return &Dispatcher{
		cpu:       cpu,
		exc:       make(map[uint64]Handler),
		intr:      make(map[uint64]Handler),
		unhandled: unhandled,
	}
}

// RegisterException installs the handler run for synchronous exception code.
func (d *Dispatcher) RegisterException(code uint64, h Handler) {
	d.exc[code] = h
}

// RegisterInterrupt installs the handler run for interrupt code.
func (d *Dispatcher) RegisterInterrupt(code uint64, h Handler) {
	d.intr[code] = h
}

// Handle reads scause/stval off the CPU, decodes them, and runs the
// matching handler (or unhandled if none was registered for this cause).
func (d *Dispatcher) Handle(frame *TrapFrame) error {
	cause := DecodeCause(d.cpu.ReadScause())
	ev := Event{Cause: cause, Stval: d.cpu.ReadStval(), Frame: frame}

	table := d.exc
	if cause.Interrupt {
		table = d.intr
	}
	if h, ok := table[cause.Code]; ok {
		return h(ev)
	}
	return d.unhandled(ev)
}
