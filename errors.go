package netcode

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the session and its components. Callers should
// match with errors.Is; variants carrying context wrap these sentinels.
var (
	// ErrInvalidConfig indicates the session configuration failed validation.
	ErrInvalidConfig = errors.New("netcode: invalid configuration")
	// ErrInvalidPlayer indicates a player handle outside the configured range.
	ErrInvalidPlayer = errors.New("netcode: invalid player handle")
	// ErrInvalidFrame indicates a frame argument the component cannot serve.
	ErrInvalidFrame = errors.New("netcode: invalid frame")
	// ErrFrameTooOld indicates the requested frame predates retained history.
	ErrFrameTooOld = errors.New("netcode: frame outside retained history")
	// ErrInputBufferFull indicates a bounded input queue is exhausted.
	ErrInputBufferFull = errors.New("netcode: input buffer full")
	// ErrPredictionWindowExceeded indicates a rollback would need to reach
	// further back than MaxPrediction frames. Fatal for the match.
	ErrPredictionWindowExceeded = errors.New("netcode: prediction window exceeded")
	// ErrNotSynchronized indicates the session has not completed the peer
	// handshake yet.
	ErrNotSynchronized = errors.New("netcode: session not synchronized")
	// ErrMalformedInput indicates an input payload of the wrong size.
	ErrMalformedInput = errors.New("netcode: malformed input payload")
	// ErrStateNotFound indicates no snapshot is stored for the frame.
	ErrStateNotFound = errors.New("netcode: no saved state for frame")
	// ErrMissingInput indicates AdvanceFrame ran before all local inputs for
	// the current frame were supplied.
	ErrMissingInput = errors.New("netcode: missing local input")
	// ErrChecksumMismatch indicates a sync-test resimulation produced a state
	// that differs from the original pass.
	ErrChecksumMismatch = errors.New("netcode: resimulation checksum mismatch")
	// ErrDisconnected indicates the addressed peer already left the session.
	ErrDisconnected = errors.New("netcode: player disconnected")
)

func invalidPlayerError(handle PlayerHandle, numPlayers int) error {
	return fmt.Errorf("%w: %v (players: %d)", ErrInvalidPlayer, handle, numPlayers)
}

func invalidFrameError(frame Frame, reason string) error {
	return fmt.Errorf("%w: frame %v: %s", ErrInvalidFrame, frame, reason)
}
