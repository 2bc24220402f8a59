package netcode

import (
	"bytes"
	"errors"
	"testing"
)

func TestSavedStatesRoundtrip(t *testing.T) {
	ring := newSavedStates(8)
	state := []byte("frame three state")
	if err := ring.save(3, state, 0x1234); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := ring.load(3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.frame != 3 || !bytes.Equal(got.state, state) || got.checksum != 0x1234 {
		t.Fatalf("load = {%v %q %#x}", got.frame, got.state, got.checksum)
	}

	// The returned copy must not alias the ring's buffer.
	got.state[0] = 'X'
	again, err := ring.load(3)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !bytes.Equal(again.state, state) {
		t.Fatalf("ring buffer mutated through loaded copy: %q", again.state)
	}
}

func TestSavedStatesEviction(t *testing.T) {
	ring := newSavedStates(2) // 3 cells
	for f := Frame(0); f <= 3; f++ {
		if err := ring.save(f, []byte{byte(f)}, uint64(f)); err != nil {
			t.Fatalf("save(%v): %v", f, err)
		}
	}

	// Frame 0's slot now holds frame 3.
	if _, err := ring.load(0); !errors.Is(err, ErrFrameTooOld) {
		t.Fatalf("load(0) error = %v, want ErrFrameTooOld", err)
	}
	// Frame 5 hashes to frame 2's slot but was never saved.
	if _, err := ring.load(5); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("load(5) error = %v, want ErrStateNotFound", err)
	}
	if _, err := ring.load(3); err != nil {
		t.Fatalf("load(3): %v", err)
	}
}

func TestSavedStatesChecksumFor(t *testing.T) {
	ring := newSavedStates(4)
	if err := ring.save(7, []byte("s"), 0xbeef); err != nil {
		t.Fatalf("save: %v", err)
	}
	if sum, ok := ring.checksumFor(7); !ok || sum != 0xbeef {
		t.Fatalf("checksumFor(7) = %#x, %v", sum, ok)
	}
	if _, ok := ring.checksumFor(6); ok {
		t.Fatal("checksumFor(6) reported a checksum for an unsaved frame")
	}
	if _, ok := ring.checksumFor(NullFrame); ok {
		t.Fatal("checksumFor(null) reported a checksum")
	}
}

func TestSavedStatesRejectsNullFrame(t *testing.T) {
	ring := newSavedStates(4)
	if err := ring.save(NullFrame, nil, 0); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("save(null) error = %v, want ErrInvalidFrame", err)
	}
	if _, err := ring.load(NullFrame); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("load(null) error = %v, want ErrInvalidFrame", err)
	}
}
