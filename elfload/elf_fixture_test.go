package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// buildELF64 assembles a minimal little-endian ELF64 RISC-V image with
// the given type and a single PT_LOAD segment carrying data at vaddr,
// padded in memory to memSize. There is no section header table —
// debug/elf tolerates that for program-header-only consumers the way
// this loader is.
func buildELF64(etype elf.Type, vaddr uint64, entry uint64, data []byte, memSize uint64, flags elf.ProgFlag, align uint64) []byte {
	const ehsize = 64
	const phentsize = 56
	fileOff := uint64(ehsize + phentsize)

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	buf.Write(ident[:])

	hdr := struct {
		Type      uint16
		Machine   uint16
		Version   uint32
		Entry     uint64
		Phoff     uint64
		Shoff     uint64
		Flags     uint32
		Ehsize    uint16
		Phentsize uint16
		Phnum     uint16
		Shentsize uint16
		Shnum     uint16
		Shstrndx  uint16
	}{
		Type:      uint16(etype),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
	}
	binary.Write(&buf, binary.LittleEndian, &hdr)

	phdr := struct {
		Type   uint32
		Flags  uint32
		Offset uint64
		Vaddr  uint64
		Paddr  uint64
		Filesz uint64
		Memsz  uint64
		Align  uint64
	}{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(flags),
		Offset: fileOff,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(data)),
		Memsz:  memSize,
		Align:  align,
	}
	binary.Write(&buf, binary.LittleEndian, &phdr)
	buf.Write(data)
	return buf.Bytes()
}
