package netcode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

// testGame is a deterministic toy simulation: every tick folds each player's
// first input byte into a running hash. Any wrong input at any frame changes
// every later state, which makes rollback mistakes visible in checksums.
type testGame struct {
	Frame int32
	Mix   uint64
}

func (g *testGame) step(inputs []SynchronizedInput) {
	for i, in := range inputs {
		if in.Status == InputDisconnected {
			continue
		}
		g.Mix = g.Mix*31 + uint64(in.Input[0]) + uint64(i+1)
	}
	g.Frame++
}

func (g *testGame) encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(g.Frame))
	binary.LittleEndian.PutUint64(buf[4:12], g.Mix)
	return buf
}

func (g *testGame) decode(state []byte) error {
	if len(state) != 12 {
		return fmt.Errorf("bad snapshot length %d", len(state))
	}
	g.Frame = int32(binary.LittleEndian.Uint32(state[0:4]))
	g.Mix = binary.LittleEndian.Uint64(state[4:12])
	return nil
}

// testPeer bundles one session with its host simulation.
type testPeer struct {
	session *Session
	game    *testGame
	local   PlayerHandle
	replays int
}

func (p *testPeer) callbacks() Callbacks {
	return Callbacks{
		SaveState: func(frame Frame) ([]byte, error) {
			return p.game.encode(), nil
		},
		LoadState: func(frame Frame, state []byte) error {
			return p.game.decode(state)
		},
		AdvanceFrame: func(inputs []SynchronizedInput, replay bool) error {
			if replay {
				p.replays++
			}
			p.game.step(inputs)
			return nil
		},
	}
}

// tick runs one full host iteration: poll, register local input, fetch the
// frame's input set, simulate, advance.
func (p *testPeer) tick() error {
	p.session.PollRemotePeers()
	frame := p.session.CurrentFrame()
	if err := p.session.AddLocalInput(p.local, frame, localInputBits(p.local, frame)); err != nil {
		return err
	}
	inputs, err := p.session.SynchronizeInputs()
	if err != nil {
		return err
	}
	p.game.step(inputs)
	_, err = p.session.AdvanceFrame(0)
	return err
}

func localInputBits(handle PlayerHandle, frame Frame) []byte {
	return []byte{byte(int32(frame)*3 + int32(handle)*5 + 1), byte(handle)}
}

// oracleChecksum is the ground truth: the state checksum at the beginning of
// the given frame when every input is known in advance.
func oracleChecksum(frame Frame) uint64 {
	g := &testGame{}
	for f := Frame(0); f < frame; f++ {
		g.step([]SynchronizedInput{
			{Player: 0, Input: localInputBits(0, f), Status: InputConfirmed},
			{Player: 1, Input: localInputBits(1, f), Status: InputConfirmed},
		})
	}
	return ChecksumBytes(g.encode())
}

func newTwoPeerMatch(t *testing.T, cfg Config) (a, b *testPeer, net *PipeNetwork) {
	t.Helper()
	net = NewPipeNetwork()

	a = &testPeer{game: &testGame{}}
	b = &testPeer{game: &testGame{}}

	sa, err := NewSession(cfg, a.callbacks(), net.Attach("a"))
	if err != nil {
		t.Fatalf("NewSession a: %v", err)
	}
	sb, err := NewSession(cfg, b.callbacks(), net.Attach("b"))
	if err != nil {
		t.Fatalf("NewSession b: %v", err)
	}
	a.session, b.session = sa, sb

	if a.local, err = sa.AddPlayer(LocalPlayer()); err != nil {
		t.Fatalf("a AddPlayer local: %v", err)
	}
	if _, err = sa.AddPlayer(RemotePlayer("b")); err != nil {
		t.Fatalf("a AddPlayer remote: %v", err)
	}
	if _, err = sb.AddPlayer(RemotePlayer("a")); err != nil {
		t.Fatalf("b AddPlayer remote: %v", err)
	}
	if b.local, err = sb.AddPlayer(LocalPlayer()); err != nil {
		t.Fatalf("b AddPlayer local: %v", err)
	}

	if err := sa.Start(); err != nil {
		t.Fatalf("a Start: %v", err)
	}
	if err := sb.Start(); err != nil {
		t.Fatalf("b Start: %v", err)
	}

	for i := 0; i < 32 && !(sa.State() == SessionRunning && sb.State() == SessionRunning); i++ {
		sa.PollRemotePeers()
		sb.PollRemotePeers()
	}
	if sa.State() != SessionRunning || sb.State() != SessionRunning {
		t.Fatalf("handshake stalled: a=%v b=%v", sa.State(), sb.State())
	}
	return a, b, net
}

func twoPeerConfig() Config {
	return Config{
		NumPlayers:    2,
		InputBytes:    2,
		MaxPrediction: 8,
	}
}

func TestSessionTwoPeerMatchStateAgreement(t *testing.T) {
	cfg := twoPeerConfig()
	cfg.DesyncInterval = 5
	a, b, _ := newTwoPeerMatch(t, cfg)

	for i := 0; i < 40; i++ {
		if err := a.tick(); err != nil {
			t.Fatalf("a tick %d: %v", i, err)
		}
		if err := b.tick(); err != nil {
			t.Fatalf("b tick %d: %v", i, err)
		}
	}

	confirmed := minFrame(a.session.ConfirmedFrame(), b.session.ConfirmedFrame())
	if confirmed < 10 {
		t.Fatalf("confirmed frame = %v, inputs are not flowing", confirmed)
	}

	want := oracleChecksum(confirmed)
	for name, peer := range map[string]*testPeer{"a": a, "b": b} {
		got, ok := peer.session.sync.savedChecksum(confirmed)
		if !ok {
			t.Fatalf("%s: no saved checksum at confirmed frame %v", name, confirmed)
		}
		if got != want {
			t.Fatalf("%s: checksum at frame %v = %#x, oracle %#x", name, confirmed, got, want)
		}
	}

	var sawRunning bool
	for _, ev := range append(a.session.Events(), b.session.Events()...) {
		switch ev.Type {
		case EventRunning:
			sawRunning = true
		case EventDesyncDetected:
			t.Fatalf("desync reported for deterministic peers: %+v", ev)
		}
	}
	if !sawRunning {
		t.Fatal("no running event emitted")
	}
}

func TestSessionPredictionWindowStallsAndRecovers(t *testing.T) {
	a, b, net := newTwoPeerMatch(t, twoPeerConfig())

	// Cut b's return traffic: a must predict b's inputs from nothing.
	net.Drop = func(from, to string, payload []byte) bool { return from == "b" }

	for i := 0; i < 8; i++ {
		if err := a.tick(); err != nil {
			t.Fatalf("tick %d during blackout: %v", i, err)
		}
	}
	// Frame 8 would be the ninth unconfirmed frame; the window is exhausted.
	if err := a.tick(); !errors.Is(err, ErrPredictionWindowExceeded) {
		t.Fatalf("tick past window: err = %v, want ErrPredictionWindowExceeded", err)
	}
	if a.session.CurrentFrame() != 8 {
		t.Fatalf("current frame = %v, want 8 (stalled)", a.session.CurrentFrame())
	}

	net.Drop = nil

	// b catches up and its real inputs contradict a's blank predictions,
	// forcing a rollback to frame 0 on a.
	for i := 0; i < 12; i++ {
		if err := b.tick(); err != nil {
			t.Fatalf("b tick %d: %v", i, err)
		}
		if err := a.tick(); err != nil {
			t.Fatalf("a tick %d after recovery: %v", i, err)
		}
	}
	if a.replays == 0 {
		t.Fatal("no replay ticks ran on a despite contradicted predictions")
	}

	confirmed := minFrame(a.session.ConfirmedFrame(), b.session.ConfirmedFrame())
	if confirmed < 8 {
		t.Fatalf("confirmed frame = %v after recovery", confirmed)
	}
	want := oracleChecksum(confirmed)
	gotA, okA := a.session.sync.savedChecksum(confirmed)
	gotB, okB := b.session.sync.savedChecksum(confirmed)
	if !okA || !okB {
		t.Fatalf("missing saved checksums at %v: a=%v b=%v", confirmed, okA, okB)
	}
	if gotA != want || gotB != want {
		t.Fatalf("checksums at frame %v: a=%#x b=%#x oracle=%#x", confirmed, gotA, gotB, want)
	}
}

func TestSessionDisconnectPlayer(t *testing.T) {
	a, b, _ := newTwoPeerMatch(t, twoPeerConfig())

	for i := 0; i < 10; i++ {
		if err := a.tick(); err != nil {
			t.Fatalf("a tick %d: %v", i, err)
		}
		if err := b.tick(); err != nil {
			t.Fatalf("b tick %d: %v", i, err)
		}
	}

	remote := a.session.RemotePlayerHandles()
	if len(remote) != 1 || remote[0] != 1 {
		t.Fatalf("remote handles = %v", remote)
	}

	if err := a.session.DisconnectPlayer(5); !errors.Is(err, ErrInvalidPlayer) {
		t.Fatalf("disconnect unknown handle: %v", err)
	}
	if err := a.session.DisconnectPlayer(a.local); !errors.Is(err, ErrInvalidPlayer) {
		t.Fatalf("disconnect local handle: %v", err)
	}
	if err := a.session.DisconnectPlayer(1); err != nil {
		t.Fatalf("DisconnectPlayer: %v", err)
	}
	if err := a.session.DisconnectPlayer(1); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("second disconnect: err = %v, want ErrDisconnected", err)
	}

	// The match continues; the absent player contributes blank inputs.
	var sawDisconnectedInput bool
	for i := 0; i < 6; i++ {
		a.session.PollRemotePeers()
		frame := a.session.CurrentFrame()
		if err := a.session.AddLocalInput(a.local, frame, localInputBits(a.local, frame)); err != nil {
			t.Fatalf("AddLocalInput after disconnect: %v", err)
		}
		inputs, err := a.session.SynchronizeInputs()
		if err != nil {
			t.Fatalf("SynchronizeInputs after disconnect: %v", err)
		}
		if inputs[1].Status == InputDisconnected {
			sawDisconnectedInput = true
		}
		a.game.step(inputs)
		next, err := a.session.AdvanceFrame(0)
		if err != nil {
			t.Fatalf("AdvanceFrame after disconnect: %v", err)
		}
		if next != frame.Next() {
			t.Fatalf("AdvanceFrame = %v, want %v", next, frame.Next())
		}
	}
	if !sawDisconnectedInput {
		t.Fatal("player 1 never reported as disconnected in the input set")
	}
}

func TestSessionLockstep(t *testing.T) {
	cfg := twoPeerConfig()
	cfg.MaxPrediction = 0
	a, b, _ := newTwoPeerMatch(t, cfg)

	var missing int
	for round := 0; round < 30; round++ {
		for _, p := range []*testPeer{a, b} {
			err := p.tick()
			switch {
			case err == nil:
			case errors.Is(err, ErrMissingInput):
				missing++
			default:
				t.Fatalf("round %d: %v", round, err)
			}
		}
	}
	if missing == 0 {
		t.Fatal("lockstep never waited for a confirmed input")
	}
	if a.session.CurrentFrame() < 10 || b.session.CurrentFrame() < 10 {
		t.Fatalf("lockstep made no progress: a=%v b=%v", a.session.CurrentFrame(), b.session.CurrentFrame())
	}
	if a.replays != 0 || b.replays != 0 {
		t.Fatalf("lockstep ran replays: a=%d b=%d", a.replays, b.replays)
	}

	// Both simulations walked the same confirmed timeline.
	if a.game.Frame == b.game.Frame && a.game.Mix != b.game.Mix {
		t.Fatalf("lockstep states diverged at frame %d: %#x vs %#x", a.game.Frame, a.game.Mix, b.game.Mix)
	}
}

func TestSessionDesyncDetection(t *testing.T) {
	cfg := twoPeerConfig()
	cfg.DesyncInterval = 4
	a, b, _ := newTwoPeerMatch(t, cfg)

	// b's simulation silently disagrees with a's from the first tick.
	base := b.callbacks()
	b.session.callbacks.AdvanceFrame = func(inputs []SynchronizedInput, replay bool) error {
		b.game.Mix++
		return base.AdvanceFrame(inputs, replay)
	}

	tickDivergent := func(p *testPeer, extra bool) error {
		p.session.PollRemotePeers()
		frame := p.session.CurrentFrame()
		if err := p.session.AddLocalInput(p.local, frame, localInputBits(p.local, frame)); err != nil {
			return err
		}
		inputs, err := p.session.SynchronizeInputs()
		if err != nil {
			return err
		}
		if extra {
			p.game.Mix++
		}
		p.game.step(inputs)
		_, err = p.session.AdvanceFrame(0)
		return err
	}

	var sawDesync bool
	for i := 0; i < 40 && !sawDesync; i++ {
		if err := tickDivergent(a, false); err != nil {
			t.Fatalf("a tick %d: %v", i, err)
		}
		if err := tickDivergent(b, true); err != nil {
			t.Fatalf("b tick %d: %v", i, err)
		}
		for _, ev := range append(a.session.Events(), b.session.Events()...) {
			if ev.Type == EventDesyncDetected {
				if ev.LocalChecksum == ev.RemoteChecksum {
					t.Fatalf("desync event with equal checksums: %+v", ev)
				}
				sawDesync = true
			}
		}
	}
	if !sawDesync {
		t.Fatal("diverging simulations were never reported as desynced")
	}
}

func TestSessionRejectsCallsBeforeSynchronized(t *testing.T) {
	net := NewPipeNetwork()
	p := &testPeer{game: &testGame{}}
	s, err := NewSession(twoPeerConfig(), p.callbacks(), net.Attach("a"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	p.session = s
	if p.local, err = s.AddPlayer(LocalPlayer()); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if _, err = s.AddPlayer(RemotePlayer("b")); err != nil {
		t.Fatalf("AddPlayer remote: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.AddLocalInput(p.local, 0, []byte{0, 0}); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("AddLocalInput: err = %v, want ErrNotSynchronized", err)
	}
	if _, err := s.SynchronizeInputs(); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("SynchronizeInputs: err = %v, want ErrNotSynchronized", err)
	}
	if _, err := s.AdvanceFrame(0); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("AdvanceFrame: err = %v, want ErrNotSynchronized", err)
	}
	if _, err := s.NetworkStats(1); err != nil {
		t.Fatalf("NetworkStats while synchronizing: %v", err)
	}
}

func TestSessionLocalOnlyRunsImmediately(t *testing.T) {
	net := NewPipeNetwork()
	p := &testPeer{game: &testGame{}}
	cfg := Config{NumPlayers: 1, InputBytes: 2, MaxPrediction: 8}
	s, err := NewSession(cfg, p.callbacks(), net.Attach("solo"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	p.session = s
	if p.local, err = s.AddPlayer(LocalPlayer()); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != SessionRunning {
		t.Fatalf("state = %v, want running", s.State())
	}

	for i := 0; i < 5; i++ {
		if err := p.tick(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if s.CurrentFrame() != 5 {
		t.Fatalf("current frame = %v, want 5", s.CurrentFrame())
	}
	if s.ConfirmedFrame() < 4 {
		t.Fatalf("confirmed frame = %v", s.ConfirmedFrame())
	}
}

func TestSessionConfirmedInputsForFrame(t *testing.T) {
	a, b, _ := newTwoPeerMatch(t, twoPeerConfig())
	for i := 0; i < 10; i++ {
		if err := a.tick(); err != nil {
			t.Fatalf("a tick: %v", err)
		}
		if err := b.tick(); err != nil {
			t.Fatalf("b tick: %v", err)
		}
	}

	confirmed := a.session.ConfirmedFrame()
	if confirmed < 2 {
		t.Fatalf("confirmed = %v", confirmed)
	}
	frame := confirmed.Sub(1)
	inputs, err := a.session.ConfirmedInputsForFrame(frame)
	if err != nil {
		t.Fatalf("ConfirmedInputsForFrame: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("len(inputs) = %d", len(inputs))
	}
	for h := PlayerHandle(0); h < 2; h++ {
		want := localInputBits(h, frame)
		if inputs[h][0] != want[0] || inputs[h][1] != want[1] {
			t.Fatalf("player %v input at %v = %v, want %v", h, frame, inputs[h], want)
		}
	}

	if _, err := a.session.ConfirmedInputsForFrame(a.session.CurrentFrame()); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("unconfirmed frame: err = %v, want ErrInvalidFrame", err)
	}
}

func TestNewSessionValidation(t *testing.T) {
	net := NewPipeNetwork()
	p := &testPeer{game: &testGame{}}

	if _, err := NewSession(Config{}, p.callbacks(), net.Attach("x")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("empty config: %v", err)
	}
	if _, err := NewSession(twoPeerConfig(), Callbacks{}, net.Attach("x")); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing callbacks: %v", err)
	}
	if _, err := NewSession(twoPeerConfig(), p.callbacks(), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil socket: %v", err)
	}
}

func TestSessionAddPlayerSlotRules(t *testing.T) {
	net := NewPipeNetwork()
	p := &testPeer{game: &testGame{}}
	s, err := NewSession(twoPeerConfig(), p.callbacks(), net.Attach("a"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.AddPlayer(LocalPlayer()); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Start with open slots: err = %v, want ErrInvalidConfig", err)
	}
	if _, err := s.AddPlayer(RemotePlayer("b")); err != nil {
		t.Fatalf("AddPlayer remote: %v", err)
	}
	if _, err := s.AddPlayer(RemotePlayer("c")); !errors.Is(err, ErrInvalidPlayer) {
		t.Fatalf("over-capacity AddPlayer: err = %v, want ErrInvalidPlayer", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.AddPlayer(LocalPlayer()); !errors.Is(err, ErrInvalidPlayer) {
		t.Fatalf("AddPlayer after Start: err = %v, want ErrInvalidPlayer", err)
	}
}
