// Package elfload implements the architecture-agnostic half of process
// loading: parsing an ELF64 image into a plan of page-aligned
// segments, then driving an ArchLoader through allocating the address
// space, mapping each segment, and copying/zeroing its bytes. The
// split exists so this package can be unit tested without an mmu.Walker
// or real memory at all — ArchLoader is satisfied by an in-memory fake
// in the tests, and by procenter's real implementation at boot.
package elfload

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"rvos/addr"
)

// SegmentFlags mirrors a PT_LOAD program header's permission bits.
type SegmentFlags uint32

const (
	FlagRead SegmentFlags = 1 << iota
	FlagWrite
	FlagExec
)

func (f SegmentFlags) String() string {
	s := [3]byte{'-', '-', '-'}
	if f&FlagRead != 0 {
		s[0] = 'r'
	}
	if f&FlagWrite != 0 {
		s[1] = 'w'
	}
	if f&FlagExec != 0 {
		s[2] = 'x'
	}
	return string(s[:])
}

// LoadSegment is one PT_LOAD entry, already validated and ready to
// hand to an ArchLoader.
type LoadSegment struct {
	Vaddr    addr.VirtAddr
	MemSize  uint64
	FileData []byte
	FileOff  uint64
	Flags    SegmentFlags
	Align    uint64
}

// LoadPlan is the output of parsing an ELF image: an entry point and
// the ordered set of segments to map.
type LoadPlan struct {
	Entry    addr.VirtAddr
	Segments []LoadSegment
}

// Policy bounds what BuildLoadPlan and LoadInto will accept.
type Policy struct {
	// AllowWX permits a segment to be both writable and executable.
	// Left false in every caller this module ships; kept configurable
	// because the field exists in the design this package is grounded
	// on and a kernel built with a JIT would need it.
	AllowWX bool
	// MaxSegments caps the number of PT_LOAD headers a single image
	// may declare, bounding the core loader's memory use regardless of
	// how large the untrusted ELF's program header table claims to be.
	MaxSegments int
}

var (
	ErrBadElf            = errors.New("elfload: malformed ELF image")
	ErrUnsupported       = errors.New("elfload: unsupported ELF image")
	ErrOutOfBounds       = errors.New("elfload: segment extends past file data")
	ErrMisaligned        = errors.New("elfload: segment alignment violates p_align")
	ErrTooManySegments   = errors.New("elfload: more PT_LOAD segments than policy allows")
	ErrAddressNotAllowed = errors.New("elfload: segment address range rejected by address space")
	ErrMapFailed         = errors.New("elfload: failed to map segment")
	ErrCopyFailed        = errors.New("elfload: failed to copy segment data")
	ErrZeroFailed        = errors.New("elfload: failed to zero segment tail")
)

// BuildLoadPlan parses raw into a LoadPlan, validating every PT_LOAD
// header against policy and the image's own declared sizes. It never
// allocates memory or touches an address space — that happens in
// LoadInto.
//
// ET_DYN (position-independent) images are rejected outright: this
// loader has no PIE base-selection policy to offer (no ASLR, no
// process table to coordinate a shared base across processes), so
// rather than carry a half-implemented choose_pie_base path this
// package only ever loads fixed-address ET_EXEC images.
func BuildLoadPlan(raw []byte, policy Policy) (*LoadPlan, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadElf, err)
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%w: not a 64-bit ELF", ErrUnsupported)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w: not a RISC-V ELF (machine=%v)", ErrUnsupported, f.Machine)
	}
	switch f.Type {
	case elf.ET_EXEC:
	case elf.ET_DYN:
		return nil, fmt.Errorf("%w: ET_DYN (PIE) images are not supported", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: ELF type %v is not loadable", ErrUnsupported, f.Type)
	}

	var segments []LoadSegment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if len(segments) >= policy.MaxSegments {
			return nil, ErrTooManySegments
		}

		align := prog.Align
		if align == 0 || align&(align-1) != 0 {
			return nil, fmt.Errorf("%w: p_align=%#x is not a power of two", ErrMisaligned, align)
		}
		va := addr.VirtAddr(prog.Vaddr)
		if !va.IsAligned(align) {
			return nil, fmt.Errorf("%w: p_vaddr=%#x is not aligned to p_align=%#x", ErrMisaligned, prog.Vaddr, align)
		}
		if prog.Filesz > prog.Memsz {
			return nil, fmt.Errorf("%w: p_filesz=%#x exceeds p_memsz=%#x", ErrOutOfBounds, prog.Filesz, prog.Memsz)
		}
		if prog.Off+prog.Filesz > uint64(len(raw)) {
			return nil, fmt.Errorf("%w: segment file range extends past the image", ErrOutOfBounds)
		}

		var flags SegmentFlags
		if prog.Flags&elf.PF_R != 0 {
			flags |= FlagRead
		}
		if prog.Flags&elf.PF_W != 0 {
			flags |= FlagWrite
		}
		if prog.Flags&elf.PF_X != 0 {
			flags |= FlagExec
		}

		segments = append(segments, LoadSegment{
			Vaddr:    va,
			MemSize:  prog.Memsz,
			FileData: raw[prog.Off : prog.Off+prog.Filesz],
			FileOff:  prog.Off,
			Flags:    flags,
			Align:    align,
		})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no PT_LOAD segments", ErrBadElf)
	}

	entry := addr.VirtAddr(f.Entry)
	withinAny := false
	for _, s := range segments {
		if entry.Raw() >= s.Vaddr.Raw() && entry.Raw() < s.Vaddr.Raw()+s.MemSize {
			withinAny = true
			break
		}
	}
	if !withinAny {
		return nil, fmt.Errorf("%w: entry point %#x falls outside every PT_LOAD segment", ErrOutOfBounds, f.Entry)
	}

	return &LoadPlan{Entry: entry, Segments: segments}, nil
}

// ExecRange names a mapped, executable virtual-address range, passed
// to ArchLoader.FinalizeImage so the implementation can issue a single
// fence.i (or equivalent) covering everything that was made executable
// during this load, rather than one per segment.
type ExecRange struct {
	Start, End addr.VirtAddr
}

// ArchLoader is the architecture-specific capability set the core
// loader drives. AS is an opaque address-space handle the arch side
// defines; the core loader never looks inside it.
type ArchLoader[AS any] interface {
	NewUserAddrSpace() (AS, error)
	ValidateUserRange(aspace AS, vaddr addr.VirtAddr, length uint64) error
	MapAnonymous(aspace AS, vaddr addr.VirtAddr, length uint64, flags SegmentFlags) error
	ProtectRange(aspace AS, vaddr addr.VirtAddr, length uint64, flags SegmentFlags) error
	CopyToUser(aspace AS, dst addr.VirtAddr, src []byte) error
	ZeroUser(aspace AS, dst addr.VirtAddr, length uint64) error
	FinalizeImage(aspace AS, mappedExecRanges []ExecRange) error
	PageSize() uint64
}

// LoadInto drives loader through mapping every segment of plan into
// aspace: validate the range, map it with the segment's own permissions
// plus write, copy the file bytes, zero the
// uninitialized tail (the .bss case), then drop write permission if
// the segment wasn't meant to keep it. Finally it calls FinalizeImage
// once with every executable range that was mapped.
func LoadInto[AS any](loader ArchLoader[AS], aspace AS, plan *LoadPlan, policy Policy) error {
	var execRanges []ExecRange

	for _, seg := range plan.Segments {
		if !policy.AllowWX && seg.Flags&FlagWrite != 0 && seg.Flags&FlagExec != 0 {
			return fmt.Errorf("%w: segment at %#x is both writable and executable", ErrUnsupported, seg.Vaddr.Raw())
		}

		page := loader.PageSize()
		mapStart, err := seg.Vaddr.AlignDown(page)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAddressNotAllowed, err)
		}
		mapEnd, err := addr.VirtAddr(seg.Vaddr.Raw() + seg.MemSize).AlignUp(page)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAddressNotAllowed, err)
		}
		mapLen := mapEnd.Raw() - mapStart.Raw()

		if err := loader.ValidateUserRange(aspace, mapStart, mapLen); err != nil {
			return fmt.Errorf("%w: %v", ErrAddressNotAllowed, err)
		}

		loadFlags := seg.Flags | FlagWrite
		if err := loader.MapAnonymous(aspace, mapStart, mapLen, loadFlags); err != nil {
			return fmt.Errorf("%w: %v", ErrMapFailed, err)
		}

		if len(seg.FileData) > 0 {
			if err := loader.CopyToUser(aspace, seg.Vaddr, seg.FileData); err != nil {
				return fmt.Errorf("%w: %v", ErrCopyFailed, err)
			}
		}

		if uint64(len(seg.FileData)) < seg.MemSize {
			zStart := addr.VirtAddr(seg.Vaddr.Raw() + uint64(len(seg.FileData)))
			zLen := seg.MemSize - uint64(len(seg.FileData))
			if err := loader.ZeroUser(aspace, zStart, zLen); err != nil {
				return fmt.Errorf("%w: %v", ErrZeroFailed, err)
			}
		}

		if seg.Flags != loadFlags {
			if err := loader.ProtectRange(aspace, mapStart, mapLen, seg.Flags); err != nil {
				return fmt.Errorf("%w: %v", ErrMapFailed, err)
			}
		}

		if seg.Flags&FlagExec != 0 {
			execRanges = append(execRanges, ExecRange{Start: mapStart, End: mapEnd})
		}
	}

	if err := loader.FinalizeImage(aspace, execRanges); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return nil
}

// Load is the convenience entry point: parse raw, allocate a fresh
// address space, and load the image into it in one call.
func Load[AS any](loader ArchLoader[AS], raw []byte, policy Policy) (AS, *LoadPlan, error) {
	var zero AS
	plan, err := BuildLoadPlan(raw, policy)
	if err != nil {
		return zero, nil, err
	}
	aspace, err := loader.NewUserAddrSpace()
	if err != nil {
		return zero, nil, fmt.Errorf("elfload: creating address space: %w", err)
	}
	if err := LoadInto(loader, aspace, plan, policy); err != nil {
		return zero, nil, err
	}
	return aspace, plan, nil
}
