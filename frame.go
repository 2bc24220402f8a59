package netcode

import (
	"fmt"
	"math"
)

// Frame identifies a single simulation tick. Frames are totally ordered and
// increase monotonically from zero; NullFrame marks "no frame yet".
type Frame int32

// NullFrame is the sentinel for an unset or invalid frame.
const NullFrame Frame = -1

// IsNull reports whether the frame is the null sentinel.
func (f Frame) IsNull() bool {
	return f == NullFrame
}

// Add returns f+n, saturating at the int32 bounds instead of wrapping. At 60
// frames per second an i32 lasts over a year, but a wrapped frame number would
// silently corrupt every ordering comparison downstream, so we clamp.
func (f Frame) Add(n int32) Frame {
	sum := int64(f) + int64(n)
	if sum > math.MaxInt32 {
		return Frame(math.MaxInt32)
	}
	if sum < math.MinInt32 {
		return Frame(math.MinInt32)
	}
	return Frame(sum)
}

// Sub returns f-n with the same saturation rules as Add.
func (f Frame) Sub(n int32) Frame {
	return f.Add(-n)
}

// Next returns the frame after f.
func (f Frame) Next() Frame {
	return f.Add(1)
}

func (f Frame) String() string {
	if f.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%d", int32(f))
}

func minFrame(a, b Frame) Frame {
	if a < b {
		return a
	}
	return b
}

func maxFrame(a, b Frame) Frame {
	if a > b {
		return a
	}
	return b
}

// PlayerHandle identifies a participant in a session. Handles are assigned
// densely from zero up to the configured player count.
type PlayerHandle int

// Valid reports whether the handle addresses one of numPlayers players.
func (h PlayerHandle) Valid(numPlayers int) bool {
	return h >= 0 && int(h) < numPlayers
}

func (h PlayerHandle) String() string {
	return fmt.Sprintf("player-%d", int(h))
}
