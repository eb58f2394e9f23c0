// ============================================================================
// DATAGRAM CODEC — ZERO-ALLOCATION WIRE PARSING & FRAMING
// ============================================================================
//
// Client → server: one PixelDatagram per QUIC datagram, a fixed 9-byte
// little-endian record parsed by direct field reads over the raw slice:
//
//	offset 0  x       u16
//	offset 2  y       u16
//	offset 4  color   u8
//	offset 5  user_id u32
//
// Server → client: frames on the server-push unidirectional stream, header
// {kind: u8, length: u32 LE} followed by length payload bytes:
//
//	0x01 RLE_SNAPSHOT    (color u8, run u16)* — runs sum to W·H
//	0x02 DIFF            count u32, count × (x u16, y u16, c u8)
//	0x03 COOLDOWN_REJECT user_id u32, remaining_ms u32
//
// Decode failures are counted by the caller and the packet discarded; no
// decode error ever propagates past the worker loop.

package codec

import (
	"errors"

	"main/constants"
	"main/utils"
)

// DatagramSize is the exact wire length of a PixelDatagram.
const DatagramSize = 9

// Frame kinds on the server-push stream.
const (
	KindRLESnapshot    = 0x01
	KindDiff           = 0x02
	KindCooldownReject = 0x03
)

// FrameHeaderSize is kind u8 + length u32.
const FrameHeaderSize = 5

// DiffEntrySize is one (x u16, y u16, c u8) triplet.
const DiffEntrySize = 5

// CooldownRejectSize is the full reject frame: header + user_id + remaining_ms.
const CooldownRejectSize = FrameHeaderSize + 8

// Decode failure classes. Callers switch on these only to pick a counter.
var (
	ErrLength = errors.New("codec: datagram length != 9")
	ErrCoord  = errors.New("codec: coordinate out of range")
	ErrColor  = errors.New("codec: color out of palette")
	ErrUser   = errors.New("codec: user id out of range")
)

// PixelDatagram is the decoded client pixel submission.
type PixelDatagram struct {
	X, Y   uint16
	Color  uint8
	UserID uint32
}

// ParsePixelDatagram decodes and validates b. Fail-fast order: length,
// coordinates, color, user id.
//
//go:nosplit
func ParsePixelDatagram(b []byte) (PixelDatagram, error) {
	if len(b) != DatagramSize {
		return PixelDatagram{}, ErrLength
	}
	d := PixelDatagram{
		X:      utils.Load16LE(b),
		Y:      utils.Load16LE(b[2:]),
		Color:  b[4],
		UserID: utils.Load32LE(b[5:]),
	}
	if d.X >= constants.CanvasWidth || d.Y >= constants.CanvasHeight {
		return PixelDatagram{}, ErrCoord
	}
	if d.Color >= constants.PaletteSize {
		return PixelDatagram{}, ErrColor
	}
	if d.UserID >= constants.MaxUserID {
		return PixelDatagram{}, ErrUser
	}
	return d, nil
}

// AppendDatagram appends the wire form of d to dst. Load generators and
// tests share the encoder with the server.
func AppendDatagram(dst []byte, d PixelDatagram) []byte {
	return append(dst,
		byte(d.X), byte(d.X>>8),
		byte(d.Y), byte(d.Y>>8),
		d.Color,
		byte(d.UserID), byte(d.UserID>>8), byte(d.UserID>>16), byte(d.UserID>>24),
	)
}

// ============================================================================
// SERVER-PUSH FRAMING
// ============================================================================

// AppendFrameHeader appends a frame header for a payload of length n.
func AppendFrameHeader(dst []byte, kind byte, n int) []byte {
	return append(dst, kind, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
}

// PatchFrameLength rewrites the length field of the header that starts at
// off in buf. Used when the payload is appended after the header.
func PatchFrameLength(buf []byte, off, n int) {
	utils.Put32LE(buf[off+1:], uint32(n))
}

// AppendDiffEntry appends one changed-cell triplet to a DIFF payload.
//
//go:nosplit
func AppendDiffEntry(dst []byte, x, y uint16, c byte) []byte {
	return append(dst, byte(x), byte(x>>8), byte(y), byte(y>>8), c)
}

// AppendCooldownReject appends a complete COOLDOWN_REJECT frame.
func AppendCooldownReject(dst []byte, user, remainingMS uint32) []byte {
	dst = AppendFrameHeader(dst, KindCooldownReject, 8)
	dst = append(dst, byte(user), byte(user>>8), byte(user>>16), byte(user>>24))
	return append(dst, byte(remainingMS), byte(remainingMS>>8), byte(remainingMS>>16), byte(remainingMS>>24))
}

// ParseFrameHeader decodes a frame header. ok is false when b is short.
func ParseFrameHeader(b []byte) (kind byte, length int, ok bool) {
	if len(b) < FrameHeaderSize {
		return 0, 0, false
	}
	return b[0], int(utils.Load32LE(b[1:])), true
}

// ParseDiff walks a DIFF payload, invoking fn per triplet. Returns false on a
// malformed payload. Test and client-side helper.
func ParseDiff(payload []byte, fn func(x, y uint16, c byte)) bool {
	if len(payload) < 4 {
		return false
	}
	count := int(utils.Load32LE(payload))
	body := payload[4:]
	if len(body) != count*DiffEntrySize {
		return false
	}
	for i := 0; i < count; i++ {
		e := body[i*DiffEntrySize:]
		fn(utils.Load16LE(e), utils.Load16LE(e[2:]), e[4])
	}
	return true
}
