package netcode

import "fmt"

// SyncTestSession is a single-machine determinism harness. Every tick it
// rolls the host back checkDistance frames and re-simulates forward through
// the callbacks, comparing the re-saved state checksums against the ones the
// original forward pass produced. Any difference means the host simulation is
// not a pure function of state and inputs.
//
// All players count as local; the host supplies input for every handle each
// frame. The tick loop matches Session:
//
//	session.AddLocalInput(handle, frame, input) // for every handle
//	inputs, err := session.SynchronizeInputs()
//	// host simulates one frame with inputs
//	frame, err := session.AdvanceFrame()
type SyncTestSession struct {
	cfg           Config
	callbacks     Callbacks
	checkDistance int

	sync        *syncLayer
	dummyStatus []connectionStatus

	localInputs  map[PlayerHandle]PlayerInput
	flushedFrame Frame

	// checksumHistory keeps the first checksum ever saved per frame; replays
	// must reproduce it exactly.
	checksumHistory map[Frame]uint64
}

// NewSyncTestSession builds a determinism harness. checkDistance is the
// rollback depth simulated every frame; it must fit the prediction window.
func NewSyncTestSession(cfg Config, callbacks Callbacks, checkDistance int) (*SyncTestSession, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := callbacks.validate(); err != nil {
		return nil, err
	}
	if checkDistance < 0 || checkDistance > cfg.MaxPrediction {
		return nil, fmt.Errorf("%w: check distance %d must be between 0 and MaxPrediction %d",
			ErrInvalidConfig, checkDistance, cfg.MaxPrediction)
	}

	sl, err := newSyncLayer(cfg.NumPlayers, cfg.MaxPrediction, cfg.QueueLength, cfg.InputBytes)
	if err != nil {
		return nil, err
	}
	for i := 0; i < cfg.NumPlayers; i++ {
		if err := sl.setFrameDelay(PlayerHandle(i), cfg.InputDelay); err != nil {
			return nil, err
		}
	}

	return &SyncTestSession{
		cfg:             cfg,
		callbacks:       callbacks,
		checkDistance:   checkDistance,
		sync:            sl,
		dummyStatus:     newConnectionStatuses(cfg.NumPlayers),
		localInputs:     make(map[PlayerHandle]PlayerInput),
		flushedFrame:    NullFrame,
		checksumHistory: make(map[Frame]uint64),
	}, nil
}

// AddLocalInput registers one player's input for the current frame. Inputs
// for all players must be registered before SynchronizeInputs.
func (s *SyncTestSession) AddLocalInput(handle PlayerHandle, frame Frame, input []byte) error {
	if !handle.Valid(s.cfg.NumPlayers) {
		return invalidPlayerError(handle, s.cfg.NumPlayers)
	}
	if len(input) != s.cfg.InputBytes {
		return fmt.Errorf("%w: input is %d bytes, expected %d", ErrMalformedInput, len(input), s.cfg.InputBytes)
	}
	if frame != s.sync.currentFrame {
		return invalidFrameError(frame, fmt.Sprintf("local input must target current frame %v", s.sync.currentFrame))
	}
	if s.flushedFrame == frame {
		return nil
	}

	s.localInputs[handle] = PlayerInput{Frame: frame, Bits: append([]byte(nil), input...)}
	if len(s.localInputs) == s.cfg.NumPlayers {
		for i := 0; i < s.cfg.NumPlayers; i++ {
			h := PlayerHandle(i)
			if _, err := s.sync.addLocalInput(h, s.localInputs[h]); err != nil {
				return err
			}
			delete(s.localInputs, h)
		}
		s.flushedFrame = frame
	}
	return nil
}

// SynchronizeInputs returns the input set for the current frame.
func (s *SyncTestSession) SynchronizeInputs() ([]SynchronizedInput, error) {
	if s.flushedFrame != s.sync.currentFrame {
		return nil, fmt.Errorf("%w: inputs for frame %v not registered for all players",
			ErrMissingInput, s.sync.currentFrame)
	}
	return s.sync.synchronizedInputs(s.dummyStatus)
}

// AdvanceFrame completes one tick after the host simulated the current frame,
// then performs the determinism check: roll back checkDistance frames, replay
// forward, and compare every re-saved checksum to the first one recorded.
// Returns ErrChecksumMismatch when any replayed frame diverged.
func (s *SyncTestSession) AdvanceFrame() (Frame, error) {
	if s.flushedFrame != s.sync.currentFrame {
		return NullFrame, fmt.Errorf("%w: inputs for frame %v not registered for all players",
			ErrMissingInput, s.sync.currentFrame)
	}

	s.sync.advanceFrame()

	if s.checkDistance == 0 {
		s.confirmAll()
		return s.sync.currentFrame, nil
	}

	if err := s.saveCurrentState(); err != nil {
		return NullFrame, err
	}
	s.confirmAll()

	current := s.sync.currentFrame
	if int32(current) <= int32(s.checkDistance) {
		return current, nil
	}

	frameTo := current.Sub(int32(s.checkDistance))
	if err := s.rollbackAndReplay(frameTo); err != nil {
		return NullFrame, err
	}

	var mismatched []Frame
	for frame := frameTo; frame <= current; frame++ {
		if !s.checksumConsistent(frame) {
			mismatched = append(mismatched, frame)
		}
	}
	if len(mismatched) > 0 {
		return NullFrame, fmt.Errorf("%w: frames %v re-simulated to different states at frame %v",
			ErrChecksumMismatch, mismatched, current)
	}
	return current, nil
}

// confirmAll pretends inputs for the current frame arrived from every player,
// keeping the sync layer from treating the harness as starved.
func (s *SyncTestSession) confirmAll() {
	for i := range s.dummyStatus {
		s.dummyStatus[i].LastFrame = s.sync.currentFrame
	}
	s.sync.setLastConfirmedFrame(s.sync.currentFrame.Sub(int32(s.checkDistance)))
}

func (s *SyncTestSession) saveCurrentState() error {
	state, err := s.callbacks.SaveState(s.sync.currentFrame)
	if err != nil {
		return fmt.Errorf("save state at frame %v: %w", s.sync.currentFrame, err)
	}
	return s.sync.saveCurrentState(state, ChecksumBytes(state))
}

func (s *SyncTestSession) rollbackAndReplay(frameTo Frame) error {
	start := s.sync.currentFrame
	count := int32(start) - int32(frameTo)

	cell, err := s.sync.loadFrame(frameTo)
	if err != nil {
		return err
	}
	if err := s.callbacks.LoadState(cell.frame, cell.state); err != nil {
		return fmt.Errorf("load state at frame %v: %w", cell.frame, err)
	}
	s.sync.resetPrediction()

	for i := int32(0); i < count; i++ {
		inputs, err := s.sync.synchronizedInputs(s.dummyStatus)
		if err != nil {
			return err
		}
		if err := s.callbacks.AdvanceFrame(inputs, true); err != nil {
			return fmt.Errorf("replay frame %v: %w", s.sync.currentFrame, err)
		}
		s.sync.advanceFrame()
		if err := s.saveCurrentState(); err != nil {
			return err
		}
	}
	return nil
}

// checksumConsistent records the frame's checksum on first sight and compares
// against that first record afterwards. Entries that fell out of the check
// window are discarded.
func (s *SyncTestSession) checksumConsistent(frame Frame) bool {
	oldest := s.sync.currentFrame.Sub(int32(s.checkDistance))
	for f := range s.checksumHistory {
		if f < oldest {
			delete(s.checksumHistory, f)
		}
	}

	checksum, ok := s.sync.savedChecksum(frame)
	if !ok {
		return true
	}
	if prev, seen := s.checksumHistory[frame]; seen {
		return prev == checksum
	}
	s.checksumHistory[frame] = checksum
	return true
}

// CurrentFrame returns the frame the host simulates next.
func (s *SyncTestSession) CurrentFrame() Frame { return s.sync.currentFrame }

// CheckDistance returns the rollback depth simulated every frame.
func (s *SyncTestSession) CheckDistance() int { return s.checkDistance }
