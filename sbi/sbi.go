// Package sbi wraps the handful of Supervisor Binary Interface calls
// this kernel needs before its own drivers are ready: a legacy console
// character for very early boot output, a timer programming call, and
// system reset. Every call goes through the tiny Ecaller interface so
// none of this package depends on inline assembly directly — the same
// split arch.CPU uses for CSR access.
package sbi

import "fmt"

// Error is a standard SBI error code, returned as a negative value in
// a0 by every ecall this package makes.
type Error int

const (
	ErrFailed           Error = -1
	ErrNotSupported     Error = -2
	ErrInvalidParam     Error = -3
	ErrDenied           Error = -4
	ErrInvalidAddress   Error = -5
	ErrAlreadyAvailable Error = -6
)

func (e Error) Error() string {
	switch e {
	case ErrFailed:
		return "sbi: operation failed"
	case ErrNotSupported:
		return "sbi: operation not supported"
	case ErrInvalidParam:
		return "sbi: invalid parameter"
	case ErrDenied:
		return "sbi: operation not permitted"
	case ErrInvalidAddress:
		return "sbi: invalid address"
	case ErrAlreadyAvailable:
		return "sbi: already available"
	default:
		return fmt.Sprintf("sbi: unknown error code %d", int(e))
	}
}

// errorFromA0 converts the a0 value an ecall returned (as a signed
// quantity) into an Error, per the SBI calling convention.
func errorFromA0(a0 uintptr) error {
	code := int64(int(a0))
	if code >= 0 {
		return nil
	}
	return Error(code)
}

// Extension identifies which SBI extension an ecall targets.
type Extension uintptr

const (
	ExtLegacySetTimer    Extension = 0x00
	ExtLegacyPutChar     Extension = 0x01
	ExtLegacyGetChar     Extension = 0x02
	ExtLegacySystemReset Extension = 0x08

	ExtBase        Extension = 0x10
	ExtTimer       Extension = 0x54494D45
	ExtSystemReset Extension = 0x53525354
)

// Ecaller issues one SBI ecall with the given extension/function ID
// and up to six argument registers, returning a0/a1 as (error, value)
// per the standard SBI return convention. A riscv64-tagged
// implementation performs the real `ecall` instruction; tests use an
// in-memory fake.
type Ecaller interface {
	Ecall(ext Extension, fid uintptr, a0, a1, a2, a3, a4, a5 uintptr) (a0Out, a1Out uintptr)
}

func ecall0(c Ecaller, ext Extension, fid uintptr) (uintptr, error) {
	a0, a1 := c.Ecall(ext, fid, 0, 0, 0, 0, 0, 0)
	if err := errorFromA0(a0); err != nil {
		return 0, err
	}
	return a1, nil
}

func ecall1(c Ecaller, ext Extension, fid uintptr, arg0 uintptr) (uintptr, error) {
	a0, a1 := c.Ecall(ext, fid, arg0, 0, 0, 0, 0, 0)
	if err := errorFromA0(a0); err != nil {
		return 0, err
	}
	return a1, nil
}

// SpecVersion is the SBI specification version a firmware implements.
type SpecVersion struct {
	Major, Minor uint
}

// GetSpecVersion returns the SBI specification version the firmware implements.
func GetSpecVersion(c Ecaller) (SpecVersion, error) {
	v, err := ecall0(c, ExtBase, 0)
	if err != nil {
		return SpecVersion{}, err
	}
	return SpecVersion{Major: uint(v>>24) & 0x7f, Minor: uint(v) & 0xffffff}, nil
}

// GetImplID returns the firmware's SBI implementation ID.
func GetImplID(c Ecaller) (uintptr, error) { return ecall0(c, ExtBase, 1) }

// ProbeExtension reports a nonzero, implementation-defined value if
// ext is available, or 0 if it is not.
func ProbeExtension(c Ecaller, ext Extension) (uintptr, error) {
	return ecall1(c, ExtBase, 3, uintptr(ext))
}

// SetTimer programs the next timer interrupt for absolute time stime
// (in platform timebase ticks). Passing the maximum uint64 value masks
// the timer interrupt without needing to clear sie.STIE.
func SetTimer(c Ecaller, stime uint64) error {
	_, err := ecall1(c, ExtTimer, 0, uintptr(stime))
	return err
}

// PutChar writes a single byte to the firmware's legacy debug console.
// Used only for the earliest boot output, before drivers/console has
// mapped the real UART.
func PutChar(c Ecaller, ch byte) {
	c.Ecall(ExtLegacyPutChar, 0, uintptr(ch), 0, 0, 0, 0, 0)
}

// Reset types and reasons for the System Reset extension.
const (
	ResetTypeShutdown     uintptr = 0
	ResetTypeColdReboot   uintptr = 1
	ResetTypeWarmReboot   uintptr = 2
	ResetReasonNone       uintptr = 0
	ResetReasonSystemFail uintptr = 1
)

// SystemReset asks the firmware to reset the machine. It does not
// return on success — the call traps into firmware, which tears down
// the hart; the error return exists only for the (rare) case the
// firmware's System Reset extension itself rejects the request.
func SystemReset(c Ecaller, resetType, reason uintptr) error {
	a0, _ := c.Ecall(ExtSystemReset, 0, resetType, reason, 0, 0, 0, 0)
	return errorFromA0(a0)
}
