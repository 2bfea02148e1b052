// Package drivers collects the MMIO device drivers this kernel needs
// at boot: the ns16550 serial console, the SiFive PLIC, and the
// syscon poweroff/reboot controller. Each driver is a thin wrapper
// over an mmio.IoMapping — no interrupt-driven I/O, no DMA, just the
// handful of register pokes boot needs.
package drivers

import "rvos/mmio"

// QEMU virt machine MMIO base addresses, recovered from the reference
// kernel's hand-written identity-map list (it has no FDT-driven probe
// for these three devices; they are mapped at fixed addresses before
// the device tree is even consulted).
const (
	Ns16550Base = 0x1000_0000
	Ns16550Len  = 0x100

	SysconBase = 0x0010_0000
	SysconLen  = 0x1000

	PlicBase = 0x0c00_0000
	PlicLen  = 0x0400_0000
)

// ns16550 register offsets (8-bit registers, byte-spaced).
const (
	regRTHR  = 0x0 // receiver buffer / transmitter holding register
	regIER   = 0x1
	regISFCR = 0x2
	regLCR   = 0x3
	regMCR   = 0x4
	regLSR   = 0x5
	regMSR   = 0x6
	regSPR   = 0x7

	lsrRxReady = 0x01
	lsrTxEmpty = 0x20
)

// Console is an ns16550-compatible UART.
type Console struct {
	io *mmio.IoMapping
}

// NewConsole wraps an existing MMIO mapping of the UART's register
// block. Callers obtain io via mmio.Mapper.Iomap(Ns16550Base, Ns16550Len).
func NewConsole(io *mmio.IoMapping) *Console {
	return &Console{io: io}
}

// PutByte writes one byte, spinning until the transmitter is idle.
// A '\n' is preceded by '\r', matching ordinary terminal conventions.
func (c *Console) PutByte(b byte) {
	if b == '\n' {
		c.putRaw('\r')
	}
	c.putRaw(b)
}

func (c *Console) putRaw(b byte) {
	for {
		lsr, err := mmio.Read[uint8](c.io, regLSR)
		if err != nil {
			return
		}
		if lsr&lsrTxEmpty != 0 {
			break
		}
	}
	mmio.Write[uint8](c.io, regRTHR, b)
}

// WriteString writes every byte of s via PutByte, satisfying io.StringWriter.
func (c *Console) WriteString(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		c.PutByte(s[i])
	}
	return len(s), nil
}

// Write satisfies io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	for _, b := range p {
		c.PutByte(b)
	}
	return len(p), nil
}

// ReadByte returns the next received byte and true, or false if the Rx
// FIFO is currently empty.
func (c *Console) ReadByte() (byte, bool) {
	lsr, err := mmio.Read[uint8](c.io, regLSR)
	if err != nil || lsr&lsrRxReady == 0 {
		return 0, false
	}
	v, err := mmio.Read[uint8](c.io, regRTHR)
	if err != nil {
		return 0, false
	}
	return v, true
}
