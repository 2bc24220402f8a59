package netcode

import "bytes"

// InputStatus describes how the input returned by SynchronizeInputs was
// obtained.
type InputStatus int

const (
	// InputConfirmed means the real input for the frame is known.
	InputConfirmed InputStatus = iota
	// InputPredicted means the input is a local guess that may later be
	// corrected by a rollback.
	InputPredicted
	// InputDisconnected means the owning player left the session and a blank
	// input was substituted.
	InputDisconnected
)

func (s InputStatus) String() string {
	switch s {
	case InputConfirmed:
		return "confirmed"
	case InputPredicted:
		return "predicted"
	case InputDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PlayerInput couples one player's input payload with the frame it belongs
// to. The payload is a fixed-size byte slice; its length is set by
// Config.InputBytes and validated at the session boundary.
type PlayerInput struct {
	Frame Frame
	Bits  []byte
}

// blankInput returns a zeroed payload of the given size tagged with frame.
func blankInput(frame Frame, size int) PlayerInput {
	return PlayerInput{Frame: frame, Bits: make([]byte, size)}
}

// clone returns a deep copy so ring-buffer slots never alias caller memory.
func (p PlayerInput) clone() PlayerInput {
	out := PlayerInput{Frame: p.Frame}
	out.Bits = append([]byte(nil), p.Bits...)
	return out
}

// equalBits reports whether two inputs carry identical payloads, ignoring the
// frame tag. Used to compare predictions against later-confirmed truth.
func (p PlayerInput) equalBits(other PlayerInput) bool {
	return bytes.Equal(p.Bits, other.Bits)
}

// SynchronizedInput is one element of the per-frame input set handed to the
// host for simulation.
type SynchronizedInput struct {
	Player PlayerHandle
	Input  []byte
	Status InputStatus
}
