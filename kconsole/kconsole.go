// Package kconsole is the kernel's kprintln: a global, lock-protected
// line writer installed once at boot (normally over a drivers.Console)
// and used by every later subsystem to report what it is doing. It is
// deliberately built on plain fmt/io rather than a structured-logging
// library — there is nothing to parse this output downstream, it
// exists to be read off a serial port.
package kconsole

import (
	"fmt"
	"io"
	"sync"
)

var (
	mu      sync.Mutex
	out     io.Writer
	history *ringBuffer
)

// Init installs w as the console's backing writer. Until Init is
// called, Printf/Println silently discard their output rather than
// panic, so early-boot code can log before the real console is mapped.
func Init(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	history = nil
}

// InitWithHistory is like Init but additionally retains the last
// historyBytes of output in memory, recoverable with History even
// after the serial console itself has scrolled the lines away. Meant
// for panic handlers that want to print recent boot log alongside a
// backtrace.
func InitWithHistory(w io.Writer, historyBytes int) {
	mu.Lock()
	defer mu.Unlock()
	history = newRingBuffer(historyBytes)
	out = io.MultiWriter(w, history)
}

// History returns the bytes retained by InitWithHistory, oldest
// first. It returns nil if InitWithHistory was never called.
func History() []byte {
	mu.Lock()
	defer mu.Unlock()
	if history == nil {
		return nil
	}
	return history.Snapshot()
}

// Printf writes a formatted message with no trailing newline.
func Printf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		return
	}
	fmt.Fprintf(out, format, args...)
}

// Println writes a formatted message followed by a newline, matching
// fmt.Println's space-separated argument rendering.
func Println(args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		return
	}
	fmt.Fprintln(out, args...)
}

// Panic writes a formatted message, then panics with the same message.
// Used for conditions the kernel has no recovery path for.
func Panic(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Println(msg)
	panic(msg)
}
