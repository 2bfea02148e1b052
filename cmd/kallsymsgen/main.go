// Program kallsymsgen builds the kernel's embedded symbol table: it
// loads the module's packages, collects every exported top-level
// function, and emits a sorted Go source file defining a []ksyms.Symbol
// literal for ksyms.NewTable. Real addresses and sizes only exist after linking, so the
// emitted table carries placeholder values in a stable, predictable
// order (0, 16, 32, ...) — a later build step (not this one) is
// expected to patch them in from the linked kernel image's own symbol
// table, the same two-pass arrangement `nm`+`kallsyms` tooling uses
// elsewhere.
//
// Usage: kallsymsgen -o zkallsyms.go ./...
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"log"
	"os"
	"sort"

	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"
)

type symbol struct {
	name string
	addr uint64
	size uint64
}

func main() {
	out := flag.String("o", "", "output path (default: stdout)")
	pkg := flag.String("pkg", "kallsyms", "package name for the generated file")
	flag.Parse()
	pattern := "./..."
	if flag.NArg() == 1 {
		pattern = flag.Arg(0)
	}

	modPath, err := readModulePath("go.mod")
	if err != nil {
		log.Fatalf("reading go.mod: %v", err)
	}

	syms, err := collectSymbols(pattern)
	if err != nil {
		log.Fatalf("collecting symbols: %v", err)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("creating %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := emit(w, *pkg, modPath, syms); err != nil {
		log.Fatalf("emitting generated source: %v", err)
	}
}

func readModulePath(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return "", err
	}
	if f.Module == nil {
		return "", fmt.Errorf("kallsymsgen: %s has no module directive", path)
	}
	return f.Module.Mod.Path, nil
}

func collectSymbols(pattern string) ([]symbol, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedSyntax | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("kallsymsgen: errors loading packages")
	}

	var names []string
	for _, p := range pkgs {
		for _, file := range p.Syntax {
			for _, decl := range file.Decls {
				fn, ok := decl.(*ast.FuncDecl)
				if !ok || fn.Recv != nil || !fn.Name.IsExported() {
					continue
				}
				names = append(names, p.PkgPath+"."+fn.Name.Name)
			}
		}
	}
	sort.Strings(names)

	const placeholderStride = 16
	syms := make([]symbol, len(names))
	for i, name := range names {
		syms[i] = symbol{name: name, addr: uint64(i) * placeholderStride, size: placeholderStride}
	}
	return syms, nil
}

func emit(w *os.File, pkgName, modPath string, syms []symbol) error {
	fmt.Fprintf(w, "// Code generated by kallsymsgen for module %s; DO NOT EDIT.\n\n", modPath)
	fmt.Fprintf(w, "package %s\n\n", pkgName)
	fmt.Fprintln(w, `import "rvos/ksyms"`)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "// Symbols is the generated kernel symbol table, consumed by")
	fmt.Fprintln(w, "// ksyms.NewTable at boot to resolve trap and panic backtraces.")
	fmt.Fprintln(w, "var Symbols = []ksyms.Symbol{")
	for _, s := range syms {
		fmt.Fprintf(w, "\t{Addr: %#x, Size: %#x, Name: %q},\n", s.addr, s.size, s.name)
	}
	fmt.Fprintln(w, "}")
	return nil
}
