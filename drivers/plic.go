package drivers

import "rvos/mmio"

// SiFive PLIC register layout (shared by QEMU virt): a priority word
// per interrupt source, a pending-bit array, per-context enable-bit
// arrays, and per-context threshold/claim registers.
const (
	plicPriorityBase = 0x00_0000
	plicPendingBase  = 0x00_1000
	plicEnableBase   = 0x00_2000
	plicEnableStride = 0x80

	plicContextBase   = 0x20_0000
	plicContextStride = 0x1000
	plicThresholdOff  = 0x0
	plicClaimOff      = 0x4
)

// PLIC is the SiFive Platform-Level Interrupt Controller.
type PLIC struct {
	io *mmio.IoMapping
}

// NewPLIC wraps an existing MMIO mapping of the PLIC's register block.
func NewPLIC(io *mmio.IoMapping) *PLIC {
	return &PLIC{io: io}
}

// SetPriority sets interrupt source irq's priority (0 disables it
// regardless of its enable bit).
func (p *PLIC) SetPriority(irq uint32, priority uint32) error {
	return mmio.Write[uint32](p.io, uint64(plicPriorityBase+4*irq), priority)
}

// EnableForContext enables or disables irq's delivery to hart context
// ctx (context 0 is hart 0's M-mode context on QEMU virt's default
// layout; this kernel only ever targets hart 0 S-mode, context 1).
func (p *PLIC) EnableForContext(ctx, irq uint32, enable bool) error {
	off := uint64(plicEnableBase) + uint64(ctx)*plicEnableStride + uint64(irq/32)*4
	word, err := mmio.Read[uint32](p.io, off)
	if err != nil {
		return err
	}
	bit := uint32(1) << (irq % 32)
	if enable {
		word |= bit
	} else {
		word &^= bit
	}
	return mmio.Write[uint32](p.io, off, word)
}

// SetThreshold sets context ctx's priority threshold: interrupts at or
// below this priority are masked.
func (p *PLIC) SetThreshold(ctx uint32, threshold uint32) error {
	off := uint64(plicContextBase) + uint64(ctx)*plicContextStride + plicThresholdOff
	return mmio.Write[uint32](p.io, off, threshold)
}

// Claim returns the highest-priority pending interrupt for context
// ctx, or 0 if none is pending, and acknowledges receipt of it to the
// PLIC (the caller must later call Complete with the same id).
func (p *PLIC) Claim(ctx uint32) (uint32, error) {
	off := uint64(plicContextBase) + uint64(ctx)*plicContextStride + plicClaimOff
	return mmio.Read[uint32](p.io, off)
}

// Complete signals that context ctx has finished handling irq,
// allowing the PLIC to deliver it again.
func (p *PLIC) Complete(ctx uint32, irq uint32) error {
	off := uint64(plicContextBase) + uint64(ctx)*plicContextStride + plicClaimOff
	return mmio.Write[uint32](p.io, off, irq)
}
