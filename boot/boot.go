// Package boot holds the two values every RISC-V SBI boot protocol
// hands the kernel before anything else runs: which hart woke up, and
// where firmware placed the flattened device tree blob describing the
// machine. They arrive in a0/a1 at the kernel's entry point, before
// the Go runtime has even initialized — capturing them is the job of
// a linker-script-driven entry trampoline that lives outside this
// module (see DESIGN.md's boot-chain note), which stores them here
// before calling into runtime/main.
package boot

// HartID is the hardware thread ID SBI booted this kernel on.
var HartID uint64

// DTBPointer is the physical address of the flattened device tree
// blob firmware passed to the kernel.
var DTBPointer uint64
