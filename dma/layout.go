package dma

import "unsafe"

// sizeOf returns the in-memory size of a value of type T, used to size
// a DMA allocation for Object[T].
func sizeOf[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}

// ptrOf reinterprets the first bytes of a backing slice as a pointer
// to the caller's chosen type. Callers are responsible for the
// DmaObject invariant that T is POD (no pointers, no owning handles) —
// Go has no sealed trait to enforce this at compile time the way the
// reference kernel's DmaSafe marker trait does, so Object[T] documents
// the requirement instead of encoding it.
func ptrOf(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}
