// rle.go — Run-length codec for full canvas snapshots
//
// Snapshot payload format: a sequence of (color: u8, run: u16 little-endian)
// pairs whose runs sum to exactly CanvasSize. Runs never exceed 65535; a
// longer same-color stretch splits into consecutive pairs.
//
// The encoder extends runs eight cells at a time by comparing an unaligned
// 64-bit load against the color replicated into every lane, falling back to
// byte steps at run boundaries. A uniform 1 MB canvas encodes in a few tens
// of microseconds, far inside the broadcast interval.

package canvas

import (
	"errors"

	"main/constants"
	"main/utils"
)

// ErrRLECorrupt is returned when a snapshot payload is truncated or its runs
// do not sum to the canvas size.
var ErrRLECorrupt = errors.New("canvas: corrupt RLE payload")

const maxRun = 0xFFFF

// AppendRLE appends the RLE encoding of src to dst and returns the extended
// slice. src is typically a full canvas; any length is accepted.
func AppendRLE(dst, src []byte) []byte {
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		run := 1
		i++
		lanes := uint64(c) * 0x0101010101010101
		for i+8 <= n && run+8 <= maxRun && utils.Load64(src[i:]) == lanes {
			run += 8
			i += 8
		}
		for i < n && run < maxRun && src[i] == c {
			run++
			i++
		}
		dst = append(dst, c, byte(run), byte(run>>8))
	}
	return dst
}

// DecodeRLE expands an RLE payload into dst, which must be CanvasSize long.
// It returns ErrRLECorrupt on truncated pairs, zero runs, or a run total
// different from the canvas size.
func DecodeRLE(dst, src []byte) error {
	if len(dst) != constants.CanvasSize {
		return ErrRLECorrupt
	}
	if len(src)%3 != 0 {
		return ErrRLECorrupt
	}
	pos := 0
	for i := 0; i < len(src); i += 3 {
		c := src[i]
		run := int(utils.Load16LE(src[i+1:]))
		if run == 0 || pos+run > constants.CanvasSize {
			return ErrRLECorrupt
		}
		for j := 0; j < run; j++ {
			dst[pos+j] = c
		}
		pos += run
	}
	if pos != constants.CanvasSize {
		return ErrRLECorrupt
	}
	return nil
}
