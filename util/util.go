// Package util holds small generic helpers shared by the address, memory,
// and page-table packages. Kept deliberately tiny: alignment arithmetic is
// the one thing every layer of the memory-management core needs.
package util

// Int is satisfied by all built-in integer types, including address-sized
// ones (uintptr). Address and size types defined elsewhere in the module
// are themselves constrained to this set via ~ so Min/Rounddown/Roundup
// work directly on them without conversion.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b. b must be a power
// of two; callers that need to validate that invariant do so themselves
// (see addr.IsPowerOfTwo) since util has no error-reporting convention of
// its own.
func Rounddown[T Int](v, b T) T {
	return v &^ (b - 1)
}

// Roundup aligns v up to the nearest multiple of b. b must be a power of two.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}
