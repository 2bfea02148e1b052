package kconsole

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintfWritesToInstalledWriter(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf)
	defer Init(nil)

	Printf("mapped %d pages at %#x", 4, 0x1000)
	if got := buf.String(); got != "mapped 4 pages at 0x1000" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintlnAddsNewline(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf)
	defer Init(nil)

	Println("boot complete")
	if got := buf.String(); got != "boot complete\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWithoutInitDiscardsOutput(t *testing.T) {
	Init(nil)
	Printf("should not panic or write anywhere")
}

func TestPanicWritesThenPanics(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf)
	defer Init(nil)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected Panic to panic")
		}
		if !strings.Contains(buf.String(), "fatal: out of frames") {
			t.Fatalf("expected message written before panic, got %q", buf.String())
		}
	}()
	Panic("fatal: out of frames")
}
