package kconsole

import (
	"bytes"
	"testing"
)

func TestRingBufferRetainsRecentBytesAfterWrap(t *testing.T) {
	r := newRingBuffer(4)
	r.Write([]byte("abcdef"))
	if got := string(r.Snapshot()); got != "cdef" {
		t.Fatalf("got %q, want %q", got, "cdef")
	}
}

func TestRingBufferBeforeFullReturnsOnlyWritten(t *testing.T) {
	r := newRingBuffer(8)
	r.Write([]byte("ab"))
	if got := string(r.Snapshot()); got != "ab" {
		t.Fatalf("got %q", got)
	}
}

func TestInitWithHistoryMirrorsConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithHistory(&buf, 16)
	defer Init(nil)

	Println("booted")
	if got := buf.String(); got != "booted\n" {
		t.Fatalf("console got %q", got)
	}
	if got := string(History()); got != "booted\n" {
		t.Fatalf("history got %q", got)
	}
}
