package netcode

import (
	"errors"
	"testing"
)

func mustQueue(t *testing.T, queueLength, inputBytes int) *inputQueue {
	t.Helper()
	q, err := newInputQueue(0, queueLength, inputBytes)
	if err != nil {
		t.Fatalf("newInputQueue: %v", err)
	}
	return q
}

func addFrames(t *testing.T, q *inputQueue, from, to Frame, bits byte) {
	t.Helper()
	for f := from; f <= to; f++ {
		in := PlayerInput{Frame: f, Bits: []byte{bits, byte(f)}}
		if _, err := q.addInput(in); err != nil {
			t.Fatalf("addInput frame %v: %v", f, err)
		}
	}
}

func TestInputQueueSequentialAddAndFetch(t *testing.T) {
	q := mustQueue(t, 32, 2)
	addFrames(t, q, 0, 4, 0xaa)

	for f := Frame(0); f <= 4; f++ {
		in, status, err := q.input(f)
		if err != nil {
			t.Fatalf("input(%v): %v", f, err)
		}
		if status != InputConfirmed {
			t.Fatalf("input(%v) status = %v, want confirmed", f, status)
		}
		if in.Frame != f || in.Bits[1] != byte(f) {
			t.Fatalf("input(%v) = frame %v bits %v", f, in.Frame, in.Bits)
		}
	}
}

func TestInputQueueRejectsOutOfOrder(t *testing.T) {
	q := mustQueue(t, 32, 2)
	addFrames(t, q, 0, 2, 1)

	if _, err := q.addInput(PlayerInput{Frame: 1, Bits: []byte{1, 1}}); !errors.Is(err, ErrFrameTooOld) {
		t.Fatalf("duplicate frame error = %v, want ErrFrameTooOld", err)
	}
	if _, err := q.addInput(PlayerInput{Frame: 5, Bits: []byte{1, 5}}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("gap frame error = %v, want ErrInvalidFrame", err)
	}
}

func TestInputQueueRejectsWrongSize(t *testing.T) {
	q := mustQueue(t, 32, 2)
	if _, err := q.addInput(PlayerInput{Frame: 0, Bits: []byte{1}}); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("error = %v, want ErrMalformedInput", err)
	}
}

func TestInputQueuePredictionRepeatsLastConfirmed(t *testing.T) {
	q := mustQueue(t, 32, 2)
	addFrames(t, q, 0, 2, 0x0f)

	in, status, err := q.input(5)
	if err != nil {
		t.Fatalf("input(5): %v", err)
	}
	if status != InputPredicted {
		t.Fatalf("status = %v, want predicted", status)
	}
	if in.Bits[0] != 0x0f || in.Bits[1] != 2 {
		t.Fatalf("prediction bits = %v, want last confirmed {0x0f, 2}", in.Bits)
	}

	// The same request again must yield the identical prediction.
	again, status, err := q.input(5)
	if err != nil || status != InputPredicted {
		t.Fatalf("second input(5): %v status %v", err, status)
	}
	if !in.equalBits(again) {
		t.Fatalf("prediction changed between identical requests: %v vs %v", in.Bits, again.Bits)
	}
}

func TestInputQueuePredictionBeforeAnyInputIsBlank(t *testing.T) {
	q := mustQueue(t, 32, 2)
	in, status, err := q.input(0)
	if err != nil {
		t.Fatalf("input(0): %v", err)
	}
	if status != InputPredicted {
		t.Fatalf("status = %v, want predicted", status)
	}
	if in.Bits[0] != 0 || in.Bits[1] != 0 {
		t.Fatalf("blank prediction bits = %v", in.Bits)
	}
}

func TestInputQueueDetectsMisprediction(t *testing.T) {
	q := mustQueue(t, 32, 2)
	addFrames(t, q, 0, 1, 0x01)

	// Frames 2 and 3 come back predicted as a repeat of frame 1.
	for f := Frame(2); f <= 3; f++ {
		if _, status, err := q.input(f); err != nil || status != InputPredicted {
			t.Fatalf("input(%v): %v status %v", f, err, status)
		}
	}

	// Frame 2 arrives matching the prediction, frame 3 contradicting it.
	if _, err := q.addInput(PlayerInput{Frame: 2, Bits: []byte{0x01, 1}}); err != nil {
		t.Fatalf("addInput(2): %v", err)
	}
	if got := q.firstIncorrectFrame(); !got.IsNull() {
		t.Fatalf("firstIncorrect after correct prediction = %v, want null", got)
	}
	if _, err := q.addInput(PlayerInput{Frame: 3, Bits: []byte{0xff, 0xff}}); err != nil {
		t.Fatalf("addInput(3): %v", err)
	}
	if got := q.firstIncorrectFrame(); got != 3 {
		t.Fatalf("firstIncorrect = %v, want 3", got)
	}

	// Fetching with a pending misprediction is refused until a rollback.
	if _, _, err := q.input(4); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("input with pending misprediction error = %v, want ErrInvalidFrame", err)
	}

	q.resetPrediction()
	in, status, err := q.input(3)
	if err != nil {
		t.Fatalf("input(3) after reset: %v", err)
	}
	if status != InputConfirmed || in.Bits[0] != 0xff {
		t.Fatalf("input(3) after reset = %v status %v, want confirmed corrected bits", in.Bits, status)
	}
}

func TestInputQueueLeavesPredictionModeWhenCaughtUp(t *testing.T) {
	q := mustQueue(t, 32, 2)
	addFrames(t, q, 0, 0, 0x05)

	if _, status, _ := q.input(1); status != InputPredicted {
		t.Fatal("input(1) should be predicted")
	}
	// The real frame 1 input matches the repeat-last prediction.
	if _, err := q.addInput(PlayerInput{Frame: 1, Bits: []byte{0x05, 0}}); err != nil {
		t.Fatalf("addInput(1): %v", err)
	}
	if !q.firstIncorrectFrame().IsNull() {
		t.Fatalf("firstIncorrect = %v, want null", q.firstIncorrectFrame())
	}
	// New data past the caught-up point reads back confirmed.
	if _, err := q.addInput(PlayerInput{Frame: 2, Bits: []byte{0x06, 0}}); err != nil {
		t.Fatalf("addInput(2): %v", err)
	}
	if _, status, err := q.input(2); err != nil || status != InputConfirmed {
		t.Fatalf("input(2) = status %v err %v, want confirmed", status, err)
	}
}

func TestInputQueueFrameDelayGapFills(t *testing.T) {
	q := mustQueue(t, 32, 1)
	if err := q.setFrameDelay(2); err != nil {
		t.Fatalf("setFrameDelay: %v", err)
	}

	landed, err := q.addInput(PlayerInput{Frame: 0, Bits: []byte{0x09}})
	if err != nil {
		t.Fatalf("addInput: %v", err)
	}
	if landed != 2 {
		t.Fatalf("landed = %v, want 2", landed)
	}

	// Frames 0 and 1 were gap-filled with blanks, frame 2 holds the input.
	for f := Frame(0); f <= 1; f++ {
		in, err := q.confirmedInput(f)
		if err != nil {
			t.Fatalf("confirmedInput(%v): %v", f, err)
		}
		if in.Bits[0] != 0 {
			t.Fatalf("gap-filled frame %v bits = %v, want blank", f, in.Bits)
		}
	}
	in, err := q.confirmedInput(2)
	if err != nil {
		t.Fatalf("confirmedInput(2): %v", err)
	}
	if in.Bits[0] != 0x09 {
		t.Fatalf("frame 2 bits = %v, want 0x09", in.Bits)
	}
}

func TestInputQueueDelayShrinkRejectsOverlap(t *testing.T) {
	q := mustQueue(t, 32, 1)
	if err := q.setFrameDelay(3); err != nil {
		t.Fatalf("setFrameDelay: %v", err)
	}
	if _, err := q.addInput(PlayerInput{Frame: 0, Bits: []byte{1}}); err != nil {
		t.Fatalf("addInput(0): %v", err)
	}
	if err := q.setFrameDelay(0); err != nil {
		t.Fatalf("setFrameDelay(0): %v", err)
	}
	// Frame 1 now targets a slot that was already gap-filled at delay 3.
	if _, err := q.addInput(PlayerInput{Frame: 1, Bits: []byte{2}}); !errors.Is(err, ErrFrameTooOld) {
		t.Fatalf("error = %v, want ErrFrameTooOld", err)
	}
}

func TestInputQueueFrameDelayBounds(t *testing.T) {
	q := mustQueue(t, 8, 1)
	if err := q.setFrameDelay(-1); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("setFrameDelay(-1) error = %v, want ErrInvalidConfig", err)
	}
	if err := q.setFrameDelay(8); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("setFrameDelay(8) error = %v, want ErrInvalidConfig", err)
	}
	if err := q.setFrameDelay(7); err != nil {
		t.Fatalf("setFrameDelay(7): %v", err)
	}
}

func TestInputQueueBufferFull(t *testing.T) {
	q := mustQueue(t, 4, 1)
	addFrames4 := func() error {
		for f := Frame(0); f < 4; f++ {
			if _, err := q.addInput(PlayerInput{Frame: f, Bits: []byte{byte(f)}}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := addFrames4(); err != nil {
		t.Fatalf("filling queue: %v", err)
	}
	if _, err := q.addInput(PlayerInput{Frame: 4, Bits: []byte{4}}); !errors.Is(err, ErrInputBufferFull) {
		t.Fatalf("error = %v, want ErrInputBufferFull", err)
	}
}

func TestInputQueueDiscardRetainsPredictorBasis(t *testing.T) {
	q := mustQueue(t, 8, 2)
	addFrames(t, q, 0, 5, 0x01)
	q.confirmUpTo(5)

	// Nothing was requested yet; discard keeps only the newest entry.
	q.discardConfirmedFrames(5)
	if _, _, err := q.input(4); !errors.Is(err, ErrFrameTooOld) {
		t.Fatalf("input(4) after discard error = %v, want ErrFrameTooOld", err)
	}
	in, status, err := q.input(5)
	if err != nil || status != InputConfirmed {
		t.Fatalf("input(5) after discard = status %v err %v", status, err)
	}
	if in.Bits[1] != 5 {
		t.Fatalf("retained input bits = %v, want frame 5 payload", in.Bits)
	}
}

func TestInputQueueDiscardClampsToLastRequested(t *testing.T) {
	q := mustQueue(t, 8, 2)
	addFrames(t, q, 0, 5, 0x01)

	// A replay may still need frame 2; discard must not go past it.
	if _, _, err := q.input(2); err != nil {
		t.Fatalf("input(2): %v", err)
	}
	q.discardConfirmedFrames(5)
	if _, _, err := q.input(2); err != nil {
		t.Fatalf("input(2) after clamped discard: %v", err)
	}
}

func TestInputQueueConfirmNeverRegresses(t *testing.T) {
	q := mustQueue(t, 8, 2)
	q.confirmUpTo(7)
	q.confirmUpTo(3)
	if q.lastConfirmedFrame != 7 {
		t.Fatalf("lastConfirmedFrame = %v, want 7", q.lastConfirmedFrame)
	}
}
