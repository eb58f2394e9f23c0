package wheel

import (
	"testing"

	"main/constants"
)

// TestMarkAndMembership sets a handful of ids, including both ends of the id
// space, and checks membership plus the absence of neighbors.
func TestMarkAndMembership(t *testing.T) {
	w := New()
	ids := []uint32{0, 1, 63, 64, 4242, constants.MaxUserID - 1}
	for _, id := range ids {
		if w.IsOnCooldown(id) {
			t.Fatalf("id %d on cooldown before Mark", id)
		}
		w.Mark(id)
	}
	for _, id := range ids {
		if !w.IsOnCooldown(id) {
			t.Fatalf("id %d not on cooldown after Mark", id)
		}
	}
	for _, id := range []uint32{2, 62, 65, 4243} {
		if w.IsOnCooldown(id) {
			t.Fatalf("unmarked id %d reported on cooldown", id)
		}
	}
}

// TestCooldownWindowBoundary verifies the window edge: a user marked at
// tick 0 is still on cooldown after WheelSlots-1 advances and clear exactly
// at the WheelSlots-th advance.
func TestCooldownWindowBoundary(t *testing.T) {
	w := New()
	w.Mark(7)
	for i := 0; i < constants.WheelSlots-1; i++ {
		w.Advance()
		if !w.IsOnCooldown(7) {
			t.Fatalf("cooldown cleared early, after %d advances", i+1)
		}
	}
	w.Advance()
	if w.IsOnCooldown(7) {
		t.Fatalf("cooldown not cleared after %d advances", constants.WheelSlots)
	}
}

// TestRemarkAfterExpiry exercises the accept→reject→accept sequence a client
// experiences across one full window.
func TestRemarkAfterExpiry(t *testing.T) {
	w := New()
	w.Mark(100)
	w.Advance()
	if !w.IsOnCooldown(100) {
		t.Fatal("mid-window expiry")
	}
	for i := 0; i < constants.WheelSlots-1; i++ {
		w.Advance()
	}
	if w.IsOnCooldown(100) {
		t.Fatal("cooldown should have expired")
	}
	w.Mark(100)
	if !w.IsOnCooldown(100) {
		t.Fatal("re-mark after expiry failed")
	}
}

// TestRemainingTicks checks the reject-frame arithmetic: a fresh mark has
// the full window left, and each advance removes exactly one tick.
func TestRemainingTicks(t *testing.T) {
	w := New()
	if w.RemainingTicks(9) != 0 {
		t.Fatal("unmarked user has remaining ticks")
	}
	w.Mark(9)
	if got := w.RemainingTicks(9); got != constants.WheelSlots {
		t.Fatalf("fresh mark: got %d ticks, want %d", got, constants.WheelSlots)
	}
	for i := 1; i < constants.WheelSlots; i++ {
		w.Advance()
		if got := w.RemainingTicks(9); got != constants.WheelSlots-i {
			t.Fatalf("after %d advances: got %d ticks, want %d", i, got, constants.WheelSlots-i)
		}
	}
	w.Advance()
	if got := w.RemainingTicks(9); got != 0 {
		t.Fatalf("expired mark: got %d ticks, want 0", got)
	}
}

// TestRemainingMSScaling pins the milliseconds conversion to the tick period.
func TestRemainingMSScaling(t *testing.T) {
	w := New()
	w.Mark(5)
	want := uint32(constants.WheelSlots * constants.WheelTickMS)
	if got := w.RemainingMS(5); got != want {
		t.Fatalf("got %d ms, want %d", got, want)
	}
}

// TestSlotReuseDoesNotExtend marks a user, advances most of the window, and
// marks a different user; the first user's expiry must be unaffected by the
// second mark landing in a newer slot.
func TestSlotReuseDoesNotExtend(t *testing.T) {
	w := New()
	w.Mark(1)
	for i := 0; i < constants.WheelSlots-1; i++ {
		w.Advance()
	}
	w.Mark(2)
	w.Advance()
	if w.IsOnCooldown(1) {
		t.Fatal("user 1 cooldown extended by unrelated mark")
	}
	if !w.IsOnCooldown(2) {
		t.Fatal("user 2 cooldown lost")
	}
}
