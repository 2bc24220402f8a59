package netcode

import "fmt"

// inputQueue stores one player's inputs in a fixed-size ring indexed by frame
// order. It supplies an input for any frame at or below the current frame,
// synthesizing a repeat-last-confirmed prediction when the real value has not
// arrived, and remembers the first frame whose prediction turned out wrong so
// the session can roll back.
//
// The queue is owned exclusively by the sync layer and is only touched from
// the simulation goroutine, so it carries no locking.
type inputQueue struct {
	player     PlayerHandle
	inputBytes int

	head   int
	tail   int
	length int
	// firstFrame marks the edge case before any input was accepted.
	firstFrame bool

	lastAddedFrame     Frame
	firstIncorrect     Frame
	lastRequestedFrame Frame
	lastConfirmedFrame Frame
	frameDelay         int
	queueLength        int
	inputs             []PlayerInput
	prediction         PlayerInput
	lastConfirmedInput []byte
	haveConfirmedInput bool
}

func newInputQueue(player PlayerHandle, queueLength, inputBytes int) (*inputQueue, error) {
	if queueLength < 2 {
		return nil, fmt.Errorf("%w: queue length must be at least 2, got %d", ErrInvalidConfig, queueLength)
	}
	inputs := make([]PlayerInput, queueLength)
	for i := range inputs {
		inputs[i] = blankInput(NullFrame, inputBytes)
	}
	return &inputQueue{
		player:             player,
		inputBytes:         inputBytes,
		firstFrame:         true,
		lastAddedFrame:     NullFrame,
		firstIncorrect:     NullFrame,
		lastRequestedFrame: NullFrame,
		lastConfirmedFrame: NullFrame,
		queueLength:        queueLength,
		inputs:             inputs,
		prediction:         blankInput(NullFrame, inputBytes),
	}, nil
}

// maxFrameDelay is queueLength-1; a larger delay would let the head lap the
// tail while gap-filling.
func (q *inputQueue) maxFrameDelay() int {
	return q.queueLength - 1
}

func (q *inputQueue) setFrameDelay(delay int) error {
	if delay < 0 || delay > q.maxFrameDelay() {
		return fmt.Errorf("%w: frame delay %d outside [0, %d]", ErrInvalidConfig, delay, q.maxFrameDelay())
	}
	q.frameDelay = delay
	return nil
}

func (q *inputQueue) firstIncorrectFrame() Frame {
	return q.firstIncorrect
}

// resetPrediction clears all speculation state after a rollback corrected the
// timeline.
func (q *inputQueue) resetPrediction() {
	q.prediction.Frame = NullFrame
	q.firstIncorrect = NullFrame
	q.lastRequestedFrame = NullFrame
}

// input returns the stored input for the requested frame, or a prediction if
// the real value is unknown. Requesting the same unconfirmed frame twice
// before new data arrives yields the same prediction both times.
func (q *inputQueue) input(requested Frame) (PlayerInput, InputStatus, error) {
	// Fetching input while a known misprediction is pending would extend the
	// wrong timeline; the session must roll back first.
	if !q.firstIncorrect.IsNull() {
		return PlayerInput{}, 0, invalidFrameError(requested, "prediction error pending rollback")
	}

	// Remembered so discardConfirmedFrames never deletes data the simulation
	// may still replay, and so addInput can drop out of prediction mode.
	q.lastRequestedFrame = requested

	if requested < q.inputs[q.tail].Frame {
		return PlayerInput{}, 0, fmt.Errorf("%w: frame %v predates oldest retained frame %v",
			ErrFrameTooOld, requested, q.inputs[q.tail].Frame)
	}

	if q.prediction.Frame.IsNull() {
		offset := int(requested - q.inputs[q.tail].Frame)
		if offset < q.length {
			slot := (offset + q.tail) % q.queueLength
			if q.inputs[slot].Frame != requested {
				return PlayerInput{}, 0, invalidFrameError(requested, "ring index mismatch")
			}
			return q.inputs[slot].clone(), InputConfirmed, nil
		}

		// The frame is not in the queue: enter prediction mode, repeating the
		// last confirmed input. That value is synchronized across peers, so
		// every peer predicts identically for this player.
		q.prediction = blankInput(requested, q.inputBytes)
		if q.haveConfirmedInput {
			copy(q.prediction.Bits, q.lastConfirmedInput)
		}
	}

	return q.prediction.clone(), InputPredicted, nil
}

// confirmedInput returns the stored input for the frame without falling back
// to prediction.
func (q *inputQueue) confirmedInput(requested Frame) (PlayerInput, error) {
	if requested.IsNull() {
		return PlayerInput{}, invalidFrameError(requested, "null frame")
	}
	slot := int(requested) % q.queueLength
	if q.inputs[slot].Frame != requested {
		return PlayerInput{}, fmt.Errorf("%w: no confirmed input for frame %v", ErrStateNotFound, requested)
	}
	return q.inputs[slot].clone(), nil
}

// addInput stores a confirmed input, applying the configured frame delay.
// Returns the frame the input landed on, which differs from in.Frame when a
// delay is set. Inputs must arrive sequentially; stale or duplicate frames
// return ErrFrameTooOld and out-of-order future frames ErrInvalidFrame.
func (q *inputQueue) addInput(in PlayerInput) (Frame, error) {
	if len(in.Bits) != q.inputBytes {
		return NullFrame, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedInput, len(in.Bits), q.inputBytes)
	}
	// Sequential-delivery check, independent of the delay applied below.
	if !q.lastAddedFrame.IsNull() && in.Frame.Add(int32(q.frameDelay)) != q.lastAddedFrame.Next() {
		if in.Frame.Add(int32(q.frameDelay)) <= q.lastAddedFrame {
			return NullFrame, fmt.Errorf("%w: frame %v already recorded", ErrFrameTooOld, in.Frame)
		}
		return NullFrame, invalidFrameError(in.Frame, "inputs must be added sequentially")
	}

	newFrame, err := q.advanceQueueHead(in.Frame)
	if err != nil {
		return NullFrame, err
	}
	if newFrame.IsNull() {
		return NullFrame, nil
	}
	if err := q.addInputByFrame(in, newFrame); err != nil {
		return NullFrame, err
	}
	return newFrame, nil
}

// confirmUpTo irreversibly raises the confirmation watermark. Confirmation
// never regresses: calls with an older frame are no-ops.
func (q *inputQueue) confirmUpTo(frame Frame) {
	if frame > q.lastConfirmedFrame {
		q.lastConfirmedFrame = frame
	}
}

// discardConfirmedFrames drops entries strictly before the given frame. The
// most recent entry and anything at or after the last requested frame are
// always retained; the predictor and a potential replay still need them.
func (q *inputQueue) discardConfirmedFrames(frame Frame) {
	if frame < 0 {
		return
	}
	if !q.lastRequestedFrame.IsNull() {
		frame = minFrame(frame, q.lastRequestedFrame)
	}

	if frame >= q.lastAddedFrame {
		// Keep only the most recent input so the predictor has a basis.
		if q.head == 0 {
			q.tail = q.queueLength - 1
		} else {
			q.tail = q.head - 1
		}
		q.length = 1
		return
	}
	tailFrame := q.inputs[q.tail].Frame
	if frame <= tailFrame {
		return
	}
	offset := int(frame - tailFrame)
	q.tail = (q.tail + offset) % q.queueLength
	q.length -= offset
}

func (q *inputQueue) addInputByFrame(in PlayerInput, frame Frame) error {
	previous := q.previousSlot()

	if !q.lastAddedFrame.IsNull() && frame != q.lastAddedFrame.Next() {
		return invalidFrameError(frame, "non-sequential insert")
	}
	if frame != 0 && q.inputs[previous].Frame != frame.Sub(1) {
		return invalidFrameError(frame, "ring continuity broken")
	}
	if q.length == q.queueLength {
		return fmt.Errorf("%w: %d entries for %v", ErrInputBufferFull, q.length, q.player)
	}

	q.inputs[q.head] = in.clone()
	q.inputs[q.head].Frame = frame
	q.head = (q.head + 1) % q.queueLength
	q.length++
	q.firstFrame = false
	q.lastAddedFrame = frame

	// Every stored input is confirmed truth; it becomes the predictor basis.
	q.lastConfirmedInput = append(q.lastConfirmedInput[:0], in.Bits...)
	q.haveConfirmedInput = true

	if !q.prediction.Frame.IsNull() {
		if frame != q.prediction.Frame {
			return invalidFrameError(frame, "confirmed input does not line up with prediction frame")
		}
		// A confirmed input that disagrees with what we predicted marks the
		// rollback point.
		if q.firstIncorrect.IsNull() && !q.prediction.equalBits(in) {
			q.firstIncorrect = frame
		}
		if q.prediction.Frame == q.lastRequestedFrame && q.firstIncorrect.IsNull() {
			// Caught up with no misses: leave prediction mode.
			q.prediction.Frame = NullFrame
		} else {
			q.prediction.Frame = q.prediction.Frame.Next()
		}
	}
	return nil
}

// advanceQueueHead applies the frame delay, gap-filling with the previous
// input when the delay pushes the landing frame past the next expected one.
func (q *inputQueue) advanceQueueHead(frame Frame) (Frame, error) {
	expected := Frame(0)
	if !q.firstFrame {
		expected = q.inputs[q.previousSlot()].Frame.Next()
	}

	frame = frame.Add(int32(q.frameDelay))
	if expected > frame {
		// Delay shrank mid-stream; drop the input rather than rewrite history.
		return NullFrame, nil
	}

	for expected < frame {
		replicate := q.inputs[q.previousSlot()].clone()
		if err := q.addInputByFrame(replicate, expected); err != nil {
			return NullFrame, err
		}
		expected = expected.Next()
	}

	if frame != 0 && frame != q.inputs[q.previousSlot()].Frame.Next() {
		return NullFrame, invalidFrameError(frame, "sequencing broken after gap fill")
	}
	return frame, nil
}

func (q *inputQueue) previousSlot() int {
	if q.head == 0 {
		return q.queueLength - 1
	}
	return q.head - 1
}
