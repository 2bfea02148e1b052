package proc

import (
	"debug/elf"
	"testing"

	"rvos/addr"
	"rvos/elfload"
)

type fakeAddrSpace struct {
	mapped map[uint64]uint64 // vaddr -> length, for assertions
}

type fakeLoader struct {
	page   uint64
	spaces []*fakeAddrSpace
}

func (l *fakeLoader) NewUserAddrSpace() (*fakeAddrSpace, error) {
	as := &fakeAddrSpace{mapped: map[uint64]uint64{}}
	l.spaces = append(l.spaces, as)
	return as, nil
}
func (l *fakeLoader) ValidateUserRange(aspace *fakeAddrSpace, vaddr addr.VirtAddr, length uint64) error {
	return nil
}
func (l *fakeLoader) MapAnonymous(aspace *fakeAddrSpace, vaddr addr.VirtAddr, length uint64, flags elfload.SegmentFlags) error {
	aspace.mapped[vaddr.Raw()] = length
	return nil
}
func (l *fakeLoader) ProtectRange(aspace *fakeAddrSpace, vaddr addr.VirtAddr, length uint64, flags elfload.SegmentFlags) error {
	return nil
}
func (l *fakeLoader) CopyToUser(aspace *fakeAddrSpace, dst addr.VirtAddr, src []byte) error {
	return nil
}
func (l *fakeLoader) ZeroUser(aspace *fakeAddrSpace, dst addr.VirtAddr, length uint64) error {
	return nil
}
func (l *fakeLoader) FinalizeImage(aspace *fakeAddrSpace, ranges []elfload.ExecRange) error {
	return nil
}
func (l *fakeLoader) PageSize() uint64 { return l.page }

func buildMinimalExec(t *testing.T) []byte {
	t.Helper()
	data := []byte{0x13, 0x00, 0x00, 0x00} // nop
	return buildELF64(t, elf.ET_EXEC, 0x1000, 0x1000, data, 0x1000, elf.PF_R|elf.PF_X, 0x1000)
}

func TestExecveMapsStackAtTop(t *testing.T) {
	loader := &fakeLoader{page: 4096}
	image := buildMinimalExec(t)

	p, err := Execve[*fakeAddrSpace](loader, image, addr.Sv39)
	if err != nil {
		t.Fatalf("Execve: %v", err)
	}
	if p.Entry.Raw() != 0x1000 {
		t.Fatalf("Entry = %#x, want 0x1000", p.Entry.Raw())
	}
	wantTop := userSpaceTop(addr.Sv39)
	if p.StackTop != wantTop {
		t.Fatalf("StackTop = %v, want %v", p.StackTop, wantTop)
	}
	stackBottom := wantTop.Raw() - StackSize
	if n, ok := p.AddrSpace.mapped[stackBottom]; !ok || n != StackSize {
		t.Fatalf("expected a StackSize mapping at %#x, got %v (ok=%v)", stackBottom, n, ok)
	}
}

func TestUserSpaceTopDiffersByMode(t *testing.T) {
	if userSpaceTop(addr.Sv39) == userSpaceTop(addr.Sv48) {
		t.Fatal("expected Sv39 and Sv48 user tops to differ")
	}
}
