// Package ksyms resolves kernel addresses to symbol names for panic
// and stack-trace output. The table itself is built at kernel-image
// build time by cmd/kallsymsgen and embedded into the kernel binary;
// this package only knows how to search it and demangle what it finds.
package ksyms

import (
	"sort"

	"github.com/ianlancetaylor/demangle"
)

// Symbol is one entry in the table: a starting address, a size in
// bytes, and the (possibly mangled) linker name.
type Symbol struct {
	Addr uint64
	Size uint64
	Name string
}

// Table is a read-only, address-sorted symbol table. The zero value is
// an empty table.
type Table struct {
	syms []Symbol
}

// NewTable builds a Table from an unsorted symbol slice, sorting a
// private copy by address so Resolve can binary search it.
func NewTable(syms []Symbol) *Table {
	t := &Table{syms: make([]Symbol, len(syms))}
	copy(t.syms, syms)
	sort.Slice(t.syms, func(i, j int) bool { return t.syms[i].Addr < t.syms[j].Addr })
	return t
}

// Resolve finds the symbol containing addr, if any, and returns its
// demangled name together with the byte offset from the symbol's
// start. ok is false if addr falls outside every known symbol's range.
func (t *Table) Resolve(addr uint64) (name string, offset uint64, ok bool) {
	// Find the last symbol whose Addr is <= addr.
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr })
	if i == 0 {
		return "", 0, false
	}
	sym := t.syms[i-1]
	if sym.Size != 0 && addr >= sym.Addr+sym.Size {
		return "", 0, false
	}
	return Demangle(sym.Name), addr - sym.Addr, true
}

// Demangle returns the human-readable form of a possibly-mangled
// symbol name, falling back to the raw name for anything the demangler
// doesn't recognize (e.g. plain Go function names, which aren't
// mangled in the Itanium C++ sense to begin with).
func Demangle(name string) string {
	if readable, err := demangle.ToString(name, demangle.NoParams); err == nil {
		return readable
	}
	return name
}

// Len reports how many symbols are in the table.
func (t *Table) Len() int { return len(t.syms) }
