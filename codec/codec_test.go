package codec

import (
	"testing"

	"main/constants"
)

// ============================================================================
// PIXEL DATAGRAM DECODE
// ============================================================================

// TestParsePixelDatagramBoundaries runs the accept/reject table at every
// field's edge.
func TestParsePixelDatagramBoundaries(t *testing.T) {
	cases := []struct {
		name string
		d    PixelDatagram
		err  error
	}{
		{"origin", PixelDatagram{0, 0, 0, 0}, nil},
		{"max-valid", PixelDatagram{999, 999, 15, constants.MaxUserID - 1}, nil},
		{"x-over", PixelDatagram{1000, 0, 0, 0}, ErrCoord},
		{"y-over", PixelDatagram{0, 1000, 0, 0}, ErrCoord},
		{"color-over", PixelDatagram{0, 0, 16, 0}, ErrColor},
		{"user-over", PixelDatagram{0, 0, 0, constants.MaxUserID}, ErrUser},
	}
	for _, tc := range cases {
		wire := AppendDatagram(nil, tc.d)
		got, err := ParsePixelDatagram(wire)
		if err != tc.err {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.err)
		}
		if err == nil && got != tc.d {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.d)
		}
	}
}

// TestParsePixelDatagramLength rejects every length except 9 before looking
// at any field.
func TestParsePixelDatagramLength(t *testing.T) {
	for _, n := range []int{0, 1, 8, 10, 1500} {
		if _, err := ParsePixelDatagram(make([]byte, n)); err != ErrLength {
			t.Fatalf("len %d: err = %v, want ErrLength", n, err)
		}
	}
}

// TestParsePixelDatagramWireLayout pins the little-endian byte positions so
// an independently written client interoperates.
func TestParsePixelDatagramWireLayout(t *testing.T) {
	wire := []byte{
		0x64, 0x00, // x = 100
		0xC8, 0x00, // y = 200
		0x07,                   // color = 7
		0x2A, 0x00, 0x00, 0x00, // user = 42
	}
	d, err := ParsePixelDatagram(wire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := PixelDatagram{X: 100, Y: 200, Color: 7, UserID: 42}
	if d != want {
		t.Fatalf("got %+v, want %+v", d, want)
	}
}

// ============================================================================
// SERVER-PUSH FRAMING
// ============================================================================

// TestFrameHeaderRoundTrip encodes and re-parses each frame kind's header.
func TestFrameHeaderRoundTrip(t *testing.T) {
	for _, kind := range []byte{KindRLESnapshot, KindDiff, KindCooldownReject} {
		b := AppendFrameHeader(nil, kind, 0x01020304)
		k, n, ok := ParseFrameHeader(b)
		if !ok || k != kind || n != 0x01020304 {
			t.Fatalf("kind %#x: got (%#x, %#x, %v)", kind, k, n, ok)
		}
	}
	if _, _, ok := ParseFrameHeader([]byte{1, 2}); ok {
		t.Fatal("short header accepted")
	}
}

// TestPatchFrameLength rewrites a placeholder header after the payload is
// appended, the way the diff builder works.
func TestPatchFrameLength(t *testing.T) {
	b := AppendFrameHeader(nil, KindDiff, 0)
	b = append(b, make([]byte, 25)...)
	PatchFrameLength(b, 0, 25)
	_, n, ok := ParseFrameHeader(b)
	if !ok || n != 25 {
		t.Fatalf("patched length = %d, want 25", n)
	}
}

// TestDiffPayloadRoundTrip builds a DIFF payload entry by entry and walks it
// back with ParseDiff.
func TestDiffPayloadRoundTrip(t *testing.T) {
	type cell struct {
		x, y uint16
		c    byte
	}
	cells := []cell{{100, 200, 7}, {0, 0, 0}, {999, 999, 15}}

	payload := []byte{byte(len(cells)), 0, 0, 0}
	for _, e := range cells {
		payload = AppendDiffEntry(payload, e.x, e.y, e.c)
	}

	var got []cell
	if !ParseDiff(payload, func(x, y uint16, c byte) {
		got = append(got, cell{x, y, c})
	}) {
		t.Fatal("valid payload rejected")
	}
	if len(got) != len(cells) {
		t.Fatalf("walked %d cells, want %d", len(got), len(cells))
	}
	for i := range cells {
		if got[i] != cells[i] {
			t.Fatalf("cell %d: got %+v, want %+v", i, got[i], cells[i])
		}
	}

	// Count/body mismatches must be rejected.
	if ParseDiff(payload[:len(payload)-1], func(x, y uint16, c byte) {}) {
		t.Fatal("truncated payload accepted")
	}
	if ParseDiff([]byte{9}, func(x, y uint16, c byte) {}) {
		t.Fatal("short payload accepted")
	}
}

// TestCooldownRejectLayout pins the full reject frame byte layout.
func TestCooldownRejectLayout(t *testing.T) {
	b := AppendCooldownReject(nil, 42, 1750)
	if len(b) != CooldownRejectSize {
		t.Fatalf("frame is %d bytes, want %d", len(b), CooldownRejectSize)
	}
	k, n, ok := ParseFrameHeader(b)
	if !ok || k != KindCooldownReject || n != 8 {
		t.Fatalf("header: (%#x, %d, %v)", k, n, ok)
	}
	body := b[FrameHeaderSize:]
	user := uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24
	rem := uint32(body[4]) | uint32(body[5])<<8 | uint32(body[6])<<16 | uint32(body[7])<<24
	if user != 42 || rem != 1750 {
		t.Fatalf("body: user=%d rem=%d", user, rem)
	}
}
