package utils

import "unsafe"

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities — Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged.
// Used for human-readable print paths.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// Itoa renders a non-negative int into a stack buffer and returns the string.
// Avoids strconv for the cold log paths that report sizes and ids.
func Itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

///////////////////////////////////////////////////////////////////////////////
// Fast Loaders — Unaligned Little-Endian Reads & Writes
///////////////////////////////////////////////////////////////////////////////

// Load64 reads an unaligned 64-bit word from a byte slice.
// ⚠️ Host byte order; used only for same-byte run comparisons, never for wire
// decoding.
//
//go:nosplit
//go:inline
func Load64(b []byte) uint64 {
	return *(*uint64)(unsafe.Pointer(&b[0]))
}

// Load16LE reads a little-endian uint16 from b.
//
//go:nosplit
//go:inline
func Load16LE(b []byte) uint16 {
	_ = b[1] // bounds check hint
	return uint16(b[0]) | uint16(b[1])<<8
}

// Load32LE reads a little-endian uint32 from b.
//
//go:nosplit
//go:inline
func Load32LE(b []byte) uint32 {
	_ = b[3] // bounds check hint
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Put16LE writes v into b in little-endian order.
//
//go:nosplit
//go:inline
func Put16LE(b []byte, v uint16) {
	_ = b[1]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// Put32LE writes v into b in little-endian order.
//
//go:nosplit
//go:inline
func Put32LE(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
