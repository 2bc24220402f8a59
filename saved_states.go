package netcode

import "fmt"

// savedState is one snapshot cell: serialized simulation state plus its
// checksum so desync detection never re-hashes on demand.
type savedState struct {
	frame    Frame
	state    []byte
	checksum uint64
}

// savedStates is the fixed-capacity snapshot ring used for rollback. Capacity
// is maxPrediction+1 so the session can rewind to the oldest predicted frame
// even when it has run the full window ahead; eviction is purely positional
// (frame modulo capacity overwrites the slot the frame hashes to).
type savedStates struct {
	cells []savedState
}

func newSavedStates(maxPrediction int) *savedStates {
	cells := make([]savedState, maxPrediction+1)
	for i := range cells {
		cells[i].frame = NullFrame
	}
	return &savedStates{cells: cells}
}

// save stores a snapshot for the frame, overwriting whatever occupied the
// slot. The caller owns scheduling; the ring itself never refuses a save.
func (s *savedStates) save(frame Frame, state []byte, checksum uint64) error {
	if frame < 0 {
		return invalidFrameError(frame, "cannot save a null frame")
	}
	slot := int(frame) % len(s.cells)
	cell := &s.cells[slot]
	cell.frame = frame
	cell.state = append(cell.state[:0], state...)
	cell.checksum = checksum
	return nil
}

// load returns the snapshot stored for the frame. A slot that was since
// overwritten by a newer frame means the request fell out of the rollback
// window.
func (s *savedStates) load(frame Frame) (savedState, error) {
	if frame < 0 {
		return savedState{}, invalidFrameError(frame, "cannot load a null frame")
	}
	cell := s.cells[int(frame)%len(s.cells)]
	if cell.frame != frame {
		if cell.frame > frame {
			return savedState{}, fmt.Errorf("%w: frame %v evicted (slot now holds %v)", ErrFrameTooOld, frame, cell.frame)
		}
		return savedState{}, fmt.Errorf("%w: frame %v", ErrStateNotFound, frame)
	}
	out := cell
	out.state = append([]byte(nil), cell.state...)
	return out, nil
}

// checksumFor returns the cached checksum for the frame, if still stored.
func (s *savedStates) checksumFor(frame Frame) (uint64, bool) {
	if frame < 0 {
		return 0, false
	}
	cell := s.cells[int(frame)%len(s.cells)]
	if cell.frame != frame {
		return 0, false
	}
	return cell.checksum, true
}
