//go:build riscv64

package arch

// Real backs CPU with the actual RISC-V CSR and fence instructions.
// Every method here is implemented in riscv64.s; this file only
// declares the Go-visible signatures. Never instantiated on any other
// GOARCH — host tests use Fake instead.
type Real struct{}

func NewReal() *Real { return &Real{} }

func (r *Real) SfenceVMA() { sfenceVMA() }
func (r *Real) FenceI()    { fenceI() }
func (r *Real) FenceRW()   { fenceRW() }

func (r *Real) ReadSatp() uint64       { return readSatp() }
func (r *Real) WriteSatp(v uint64)     { writeSatp(v) }
func (r *Real) WriteSepc(v uint64)     { writeSepc(v) }
func (r *Real) ReadSepc() uint64       { return readSepc() }
func (r *Real) WriteSscratch(v uint64) { writeSscratch(v) }
func (r *Real) ReadSscratch() uint64   { return readSscratch() }
func (r *Real) ReadSstatus() uint64    { return readSstatus() }
func (r *Real) WriteSstatus(v uint64)  { writeSstatus(v) }
func (r *Real) ReadScause() uint64     { return readScause() }
func (r *Real) ReadStval() uint64      { return readStval() }

// EnterUser never returns on real hardware: it performs the
// csrrw sp, sscratch, sp / sret sequence documented in
// procenter.Enter. The error return exists only so Real satisfies the
// same CPU interface as Fake; on riscv64 this function does not return
// control to its caller at all.
func (r *Real) EnterUser() error {
	enterUser()
	panic("arch: EnterUser returned, which should be impossible on riscv64")
}

var _ CPU = (*Real)(nil)

// Declared in riscv64.s.
func sfenceVMA()
func fenceI()
func fenceRW()
func readSatp() uint64
func writeSatp(v uint64)
func writeSepc(v uint64)
func readSepc() uint64
func writeSscratch(v uint64)
func readSscratch() uint64
func readSstatus() uint64
func writeSstatus(v uint64)
func readScause() uint64
func readStval() uint64
func enterUser()
