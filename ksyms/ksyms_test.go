package ksyms

import "testing"

func testTable() *Table {
	return NewTable([]Symbol{
		{Addr: 0x8000_2000, Size: 0x100, Name: "trap_entry"},
		{Addr: 0x8000_1000, Size: 0x80, Name: "kmain"},
		{Addr: 0x8000_3000, Size: 0, Name: "_end"},
	})
}

func TestResolveWithinSymbol(t *testing.T) {
	tab := testTable()
	name, off, ok := tab.Resolve(0x8000_1010)
	if !ok || name != "kmain" || off != 0x10 {
		t.Fatalf("got name=%q off=%#x ok=%v", name, off, ok)
	}
}

func TestResolveAtExactStart(t *testing.T) {
	tab := testTable()
	name, off, ok := tab.Resolve(0x8000_2000)
	if !ok || name != "trap_entry" || off != 0 {
		t.Fatalf("got name=%q off=%#x ok=%v", name, off, ok)
	}
}

func TestResolveBeforeFirstSymbol(t *testing.T) {
	tab := testTable()
	if _, _, ok := tab.Resolve(0x1000); ok {
		t.Fatal("expected no match before the first symbol")
	}
}

func TestResolvePastSizedSymbol(t *testing.T) {
	tab := testTable()
	if _, _, ok := tab.Resolve(0x8000_1080); ok {
		t.Fatal("kmain is only 0x80 bytes; 0x8000_1080 is past its end")
	}
}

func TestResolveZeroSizeSymbolMatchesAnyDistance(t *testing.T) {
	tab := testTable()
	name, off, ok := tab.Resolve(0x8000_3fff)
	if !ok || name != "_end" || off != 0xfff {
		t.Fatalf("got name=%q off=%#x ok=%v", name, off, ok)
	}
}

func TestDemangleFallsBackOnPlainName(t *testing.T) {
	if got := Demangle("kmain"); got != "kmain" {
		t.Fatalf("expected plain name passthrough, got %q", got)
	}
}

func TestDemangleItaniumName(t *testing.T) {
	got := Demangle("_Z3fooi")
	if got == "_Z3fooi" {
		t.Fatal("expected demangling to change the Itanium-mangled name")
	}
}
