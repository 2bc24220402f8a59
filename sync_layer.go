package netcode

import "fmt"

// syncLayer owns the per-player input queues and the snapshot ring, and
// tracks the three frame cursors every invariant hangs off:
// confirmedFrame <= currentFrame and lastSavedFrame <= currentFrame, always.
// All methods run on the single simulation goroutine.
type syncLayer struct {
	numPlayers    int
	maxPrediction int
	inputBytes    int

	currentFrame   Frame
	confirmedFrame Frame
	lastSavedFrame Frame

	queues []*inputQueue
	states *savedStates
}

func newSyncLayer(numPlayers, maxPrediction, queueLength, inputBytes int) (*syncLayer, error) {
	queues := make([]*inputQueue, numPlayers)
	for i := range queues {
		q, err := newInputQueue(PlayerHandle(i), queueLength, inputBytes)
		if err != nil {
			return nil, err
		}
		queues[i] = q
	}
	return &syncLayer{
		numPlayers:     numPlayers,
		maxPrediction:  maxPrediction,
		inputBytes:     inputBytes,
		currentFrame:   0,
		confirmedFrame: NullFrame,
		lastSavedFrame: NullFrame,
		queues:         queues,
		states:         newSavedStates(maxPrediction),
	}, nil
}

func (s *syncLayer) advanceFrame() {
	s.currentFrame = s.currentFrame.Next()
}

// saveCurrentState records the host-produced snapshot for the current frame.
func (s *syncLayer) saveCurrentState(state []byte, checksum uint64) error {
	if err := s.states.save(s.currentFrame, state, checksum); err != nil {
		return err
	}
	s.lastSavedFrame = s.currentFrame
	return nil
}

// loadFrame rewinds the layer to a previously saved frame. The target must be
// strictly in the past and inside the prediction window; anything older is a
// fatal configuration violation, not a recoverable miss.
func (s *syncLayer) loadFrame(frame Frame) (savedState, error) {
	if frame.IsNull() {
		return savedState{}, invalidFrameError(frame, "cannot load the null frame")
	}
	if frame >= s.currentFrame {
		return savedState{}, invalidFrameError(frame, fmt.Sprintf("not in the past (current %v)", s.currentFrame))
	}
	if frame < s.currentFrame.Sub(int32(s.maxPrediction)) {
		return savedState{}, fmt.Errorf("%w: frame %v is more than %d frames behind %v",
			ErrPredictionWindowExceeded, frame, s.maxPrediction, s.currentFrame)
	}
	cell, err := s.states.load(frame)
	if err != nil {
		return savedState{}, err
	}
	s.currentFrame = frame
	// The loaded state is the new reference point for forward simulation.
	s.lastSavedFrame = frame
	return cell, nil
}

func (s *syncLayer) setFrameDelay(handle PlayerHandle, delay int) error {
	if !handle.Valid(s.numPlayers) {
		return invalidPlayerError(handle, s.numPlayers)
	}
	return s.queues[handle].setFrameDelay(delay)
}

func (s *syncLayer) resetPrediction() {
	for _, q := range s.queues {
		q.resetPrediction()
	}
}

// addLocalInput stores a local input, which must be tagged with the current
// frame; the configured input delay is applied inside the queue.
func (s *syncLayer) addLocalInput(handle PlayerHandle, in PlayerInput) (Frame, error) {
	if !handle.Valid(s.numPlayers) {
		return NullFrame, invalidPlayerError(handle, s.numPlayers)
	}
	if in.Frame != s.currentFrame {
		return NullFrame, invalidFrameError(in.Frame, fmt.Sprintf("local input must target current frame %v", s.currentFrame))
	}
	return s.queues[handle].addInput(in)
}

// addRemoteInput stores an input that already passed validation on the
// sending peer. Stale duplicates are dropped silently; the unreliable
// transport redelivers freely.
func (s *syncLayer) addRemoteInput(handle PlayerHandle, in PlayerInput) {
	if !handle.Valid(s.numPlayers) {
		return
	}
	_, _ = s.queues[handle].addInput(in)
}

// synchronizedInputs assembles the input set for the current frame: confirmed
// where known, predicted otherwise, blank for players disconnected before
// this frame.
func (s *syncLayer) synchronizedInputs(status []connectionStatus) ([]SynchronizedInput, error) {
	inputs := make([]SynchronizedInput, 0, s.numPlayers)
	for i, st := range status {
		handle := PlayerHandle(i)
		if st.Disconnected && st.LastFrame < s.currentFrame {
			inputs = append(inputs, SynchronizedInput{
				Player: handle,
				Input:  make([]byte, s.inputBytes),
				Status: InputDisconnected,
			})
			continue
		}
		in, inputStatus, err := s.queues[i].input(s.currentFrame)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, SynchronizedInput{Player: handle, Input: in.Bits, Status: inputStatus})
	}
	return inputs, nil
}

// confirmedInputs returns the known-true input set for a confirmed frame.
func (s *syncLayer) confirmedInputs(frame Frame, status []connectionStatus) ([]PlayerInput, error) {
	inputs := make([]PlayerInput, 0, s.numPlayers)
	for i, st := range status {
		if st.Disconnected && st.LastFrame < frame {
			inputs = append(inputs, blankInput(NullFrame, s.inputBytes))
			continue
		}
		in, err := s.queues[i].confirmedInput(frame)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// setLastConfirmedFrame raises the confirmation watermark and discards input
// history that can no longer be replayed. The watermark never regresses and
// never crosses a pending misprediction, the current frame, or data a replay
// still needs.
func (s *syncLayer) setLastConfirmedFrame(frame Frame) {
	firstIncorrect := NullFrame
	for _, q := range s.queues {
		firstIncorrect = maxFrame(firstIncorrect, q.firstIncorrectFrame())
	}

	frame = minFrame(frame, s.currentFrame)
	if !firstIncorrect.IsNull() {
		frame = minFrame(frame, firstIncorrect)
	}
	if frame <= s.confirmedFrame {
		return
	}

	s.confirmedFrame = frame
	if frame > 0 {
		for _, q := range s.queues {
			q.confirmUpTo(frame)
			q.discardConfirmedFrames(frame.Sub(1))
		}
	}
}

// checkSimulationConsistency returns the earliest frame known to have been
// simulated with a wrong prediction, or NullFrame when the timeline is clean.
// seed carries an externally detected divergence (e.g. a disconnect frame).
func (s *syncLayer) checkSimulationConsistency(seed Frame) Frame {
	first := seed
	for _, q := range s.queues {
		incorrect := q.firstIncorrectFrame()
		if !incorrect.IsNull() && (first.IsNull() || incorrect < first) {
			first = incorrect
		}
	}
	return first
}

func (s *syncLayer) savedChecksum(frame Frame) (uint64, bool) {
	return s.states.checksumFor(frame)
}
