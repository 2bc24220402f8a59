package main

import (
	"encoding/json"

	"driftline/netcode"
)

// demoGame is a deliberately small deterministic simulation: each player
// steers a point on a grid with the low bits of their input byte, and a
// running mix value makes the state sensitive to every input ever applied.
type demoGame struct {
	Frame int32   `json:"frame"`
	X     []int64 `json:"x"`
	Y     []int64 `json:"y"`
	Mix   uint64  `json:"mix"`
}

func newDemoGame(numPlayers int) *demoGame {
	return &demoGame{
		X: make([]int64, numPlayers),
		Y: make([]int64, numPlayers),
	}
}

func (g *demoGame) step(inputs []netcode.SynchronizedInput) {
	for i, in := range inputs {
		if in.Status == netcode.InputDisconnected {
			continue
		}
		b := in.Input[0]
		if b&1 != 0 {
			g.X[i]++
		}
		if b&2 != 0 {
			g.X[i]--
		}
		if b&4 != 0 {
			g.Y[i]++
		}
		if b&8 != 0 {
			g.Y[i]--
		}
		g.Mix = g.Mix*31 + uint64(b) + uint64(i)
	}
	g.Frame++
}

// callbacks exposes the game to a session. Forward ticks are applied by the
// run loop itself; the session only steps the game during rollback replays.
func (g *demoGame) callbacks() netcode.Callbacks {
	return netcode.Callbacks{
		SaveState: func(frame netcode.Frame) ([]byte, error) {
			return json.Marshal(g)
		},
		LoadState: func(frame netcode.Frame, state []byte) error {
			return json.Unmarshal(state, g)
		},
		AdvanceFrame: func(inputs []netcode.SynchronizedInput, replay bool) error {
			g.step(inputs)
			return nil
		},
	}
}

// demoInput derives a player's input for a frame. Deterministic, so two
// netcoded peers in the same match produce identical input streams and any
// desync report points at the engine rather than the demo.
func demoInput(slot int, frame netcode.Frame, size int) []byte {
	bits := make([]byte, size)
	bits[0] = byte((int32(frame) + int32(slot)*7) & 0x0f)
	return bits
}
