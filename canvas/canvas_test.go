package canvas

import (
	"testing"

	"main/constants"
)

// TestSetAtLastWriteWins applies two writes to one cell; the later write
// must be the observable value, and re-applying it must be idempotent.
func TestSetAtLastWriteWins(t *testing.T) {
	c := New()
	c.Set(5, 5, 2)
	c.Set(5, 5, 9)
	if got := c.At(5, 5); got != 9 {
		t.Fatalf("got %d, want 9", got)
	}
	c.Set(5, 5, 9)
	if got := c.At(5, 5); got != 9 {
		t.Fatalf("idempotent re-apply changed cell: got %d", got)
	}
}

// TestSetIgnoresOutOfRange writes past both edges and checks nothing leaks
// into the grid.
func TestSetIgnoresOutOfRange(t *testing.T) {
	c := New()
	c.Set(constants.CanvasWidth, 0, 5)
	c.Set(0, constants.CanvasHeight, 5)
	c.Set(-1, 0, 5)
	for i, v := range c.Bytes() {
		if v != 0 {
			t.Fatalf("cell %d polluted by out-of-range write", i)
		}
	}
}

// TestPackWriteRoundTrip checks field fidelity at the corners of every
// field's range.
func TestPackWriteRoundTrip(t *testing.T) {
	cases := []struct {
		x, y  uint16
		color byte
		user  uint32
	}{
		{0, 0, 0, 0},
		{999, 999, 15, constants.MaxUserID - 1},
		{100, 200, 7, 42},
	}
	for _, tc := range cases {
		x, y, color, user := UnpackWrite(PackWrite(tc.x, tc.y, tc.color, tc.user))
		if x != tc.x || y != tc.y || color != tc.color || user != tc.user {
			t.Fatalf("round-trip %v: got (%d,%d,%d,%d)", tc, x, y, color, user)
		}
	}
}

// TestRegionUnionAndPack grows a region from empty and round-trips the
// packed form.
func TestRegionUnionAndPack(t *testing.T) {
	r := EmptyRegion()
	if !r.Empty() {
		t.Fatal("fresh region not empty")
	}
	r.Union(10, 20)
	r.Union(5, 400)
	r.Union(900, 3)
	if r.Empty() {
		t.Fatal("unioned region reported empty")
	}
	want := Region{MinX: 5, MinY: 3, MaxX: 900, MaxY: 400}
	if r != want {
		t.Fatalf("got %+v, want %+v", r, want)
	}
	if got := UnpackRegion(r.Pack()); got != want {
		t.Fatalf("pack round-trip: got %+v", got)
	}
}

// TestPublisherSnapshotVisibility publishes a grid and reads it back through
// both reader paths.
func TestPublisherSnapshotVisibility(t *testing.T) {
	cv := New()
	cv.Set(100, 200, 7)
	p := NewPublisher()

	region := EmptyRegion()
	region.Union(100, 200)
	p.Publish(cv.Bytes(), 1, region)

	if p.Seq() != 1 {
		t.Fatalf("seq = %d, want 1", p.Seq())
	}

	// RLE path.
	buf := make([]byte, 0, constants.RLEWorstCase)
	payload, version, ok := p.SnapshotRLE(buf)
	if !ok || version != 1 {
		t.Fatalf("SnapshotRLE: ok=%v version=%d", ok, version)
	}
	dst := make([]byte, constants.CanvasSize)
	if err := DecodeRLE(dst, payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dst[200*constants.CanvasWidth+100] != 7 {
		t.Fatal("written cell missing from snapshot")
	}

	// Region path.
	local := make([]byte, constants.CanvasSize)
	version, got, ok := p.CopyRegion(local)
	if !ok || version != 1 {
		t.Fatalf("CopyRegion: ok=%v version=%d", ok, version)
	}
	if got != region {
		t.Fatalf("region: got %+v, want %+v", got, region)
	}
	if local[200*constants.CanvasWidth+100] != 7 {
		t.Fatal("region copy missed the written cell")
	}

	// Full path.
	full := make([]byte, constants.CanvasSize)
	if version, ok := p.CopyAll(full); !ok || version != 1 {
		t.Fatalf("CopyAll: ok=%v version=%d", ok, version)
	}
	if full[200*constants.CanvasWidth+100] != 7 {
		t.Fatal("full copy missed the written cell")
	}
}

// TestPublisherRegionRestriction ensures CopyRegion touches only the
// published rectangle: cells outside it keep the destination's prior value.
func TestPublisherRegionRestriction(t *testing.T) {
	cv := New()
	cv.Set(1, 1, 3)
	cv.Set(500, 500, 9)
	p := NewPublisher()

	region := EmptyRegion()
	region.Union(1, 1) // publish only the top-left write's rectangle
	p.Publish(cv.Bytes(), 1, region)

	local := make([]byte, constants.CanvasSize)
	if _, _, ok := p.CopyRegion(local); !ok {
		t.Fatal("CopyRegion failed")
	}
	if local[1*constants.CanvasWidth+1] != 3 {
		t.Fatal("in-region cell not copied")
	}
	if local[500*constants.CanvasWidth+500] != 0 {
		t.Fatal("out-of-region cell copied")
	}
}

// TestPublisherPoolRotation publishes more snapshots than the pool holds and
// verifies readers always observe the latest.
func TestPublisherPoolRotation(t *testing.T) {
	cv := New()
	p := NewPublisher()
	for v := uint64(1); v <= constants.SnapshotPoolSize+3; v++ {
		cv.Set(0, 0, byte(v%constants.PaletteSize))
		region := EmptyRegion()
		region.Union(0, 0)
		p.Publish(cv.Bytes(), v, region)
	}
	full := make([]byte, constants.CanvasSize)
	version, ok := p.CopyAll(full)
	if !ok {
		t.Fatal("CopyAll failed after rotation")
	}
	wantV := uint64(constants.SnapshotPoolSize + 3)
	if version != wantV {
		t.Fatalf("version = %d, want %d", version, wantV)
	}
	if full[0] != byte(wantV%constants.PaletteSize) {
		t.Fatalf("cell 0 = %d, want %d", full[0], byte(wantV%constants.PaletteSize))
	}
}
