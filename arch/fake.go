package arch

// Fake is an in-memory stand-in for CPU, used by every package's
// tests that would otherwise need real riscv64 hardware (trap entry,
// process enter). It records CSR writes and fence calls so tests can
// assert on the sequencing spec.md §4.9/§5 requires, without needing a
// hart.
type Fake struct {
	Satp     uint64
	Sepc     uint64
	Sscratch uint64
	Sstatus  uint64
	Scause   uint64
	Stval    uint64

	SfenceVMACount int
	FenceICount    int
	FenceRWCount   int
	EnterUserCalls int

	// EnterUserErr, if set, is returned by EnterUser instead of nil —
	// used by tests that want to simulate a failed transition without
	// a real hart to trap back from.
	EnterUserErr error
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) SfenceVMA() { f.SfenceVMACount++ }
func (f *Fake) FenceI()    { f.FenceICount++ }
func (f *Fake) FenceRW()   { f.FenceRWCount++ }

func (f *Fake) ReadSatp() uint64     { return f.Satp }
func (f *Fake) WriteSatp(v uint64)   { f.Satp = v }
func (f *Fake) WriteSepc(v uint64)   { f.Sepc = v }
func (f *Fake) ReadSepc() uint64     { return f.Sepc }
func (f *Fake) WriteSscratch(v uint64) { f.Sscratch = v }
func (f *Fake) ReadSscratch() uint64   { return f.Sscratch }
func (f *Fake) ReadSstatus() uint64    { return f.Sstatus }
func (f *Fake) WriteSstatus(v uint64)  { f.Sstatus = v }
func (f *Fake) ReadScause() uint64     { return f.Scause }
func (f *Fake) ReadStval() uint64      { return f.Stval }

func (f *Fake) EnterUser() error {
	f.EnterUserCalls++
	return f.EnterUserErr
}

var _ CPU = (*Fake)(nil)
