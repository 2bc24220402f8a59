package netcode

import (
	"fmt"
	"math"
)

const (
	sessionRollbacksMetricKey     = "session_rollbacks_total"
	sessionRollbackDepthMetricKey = "session_rollback_depth_frames"
	sessionFramesAheadMetricKey   = "session_frames_ahead"
)

// Wait recommendations fire when we run at least minWaitRecommendation frames
// ahead of the slowest peer, at most once per recommendationInterval frames.
const (
	minWaitRecommendation  = 3
	recommendationInterval = 60
)

// Local checksum history kept for desync comparison. Reports older than this
// are uncomparable and silently skipped.
const maxLocalChecksumHistory = 32

// SessionState is the coarse lifecycle of a session. Per-peer disconnects do
// not change it; a session stays Running as long as the match continues.
type SessionState int

const (
	// SessionSynchronizing means the initial handshake with at least one
	// remote peer is still in progress.
	SessionSynchronizing SessionState = iota
	// SessionRunning means all peers completed the handshake and the session
	// accepts and exchanges inputs.
	SessionRunning
)

func (s SessionState) String() string {
	switch s {
	case SessionSynchronizing:
		return "synchronizing"
	case SessionRunning:
		return "running"
	default:
		return "unknown"
	}
}

// PlayerType describes one participant slot: either the local machine or a
// remote peer reachable at a transport address.
type PlayerType struct {
	remote bool
	addr   string
}

// LocalPlayer declares a participant playing on this machine.
func LocalPlayer() PlayerType {
	return PlayerType{}
}

// RemotePlayer declares a participant playing on the machine at addr. The
// address format is whatever the session's Socket understands.
func RemotePlayer(addr string) PlayerType {
	return PlayerType{remote: true, addr: addr}
}

// Remote reports whether the participant is a remote peer.
func (t PlayerType) Remote() bool { return t.remote }

// Addr returns the remote peer's transport address, or "" for local players.
func (t PlayerType) Addr() string { return t.addr }

// Session is a peer-to-peer rollback session. The host drives it once per
// simulation tick:
//
//	session.PollRemotePeers()
//	session.AddLocalInput(handle, frame, input)
//	inputs, err := session.SynchronizeInputs()
//	// host simulates one frame with inputs
//	frame, err := session.AdvanceFrame(checksum)
//
// All methods must be called from the same goroutine; transports deliver
// packets through ReceiveAll, never by mutating session state directly.
type Session struct {
	cfg       Config
	callbacks Callbacks
	socket    Socket

	sync *syncLayer

	players      []PlayerType
	localHandles []PlayerHandle
	endpoints    map[string]*peerEndpoint
	endpointList []*peerEndpoint

	state   SessionState
	started bool

	localConnectStatus []connectionStatus

	// localInputs buffers this frame's local inputs until every local handle
	// has supplied one; then the whole set enters the queues and the wire.
	localInputs  map[PlayerHandle]PlayerInput
	flushedFrame Frame

	// disconnectFrame seeds the next consistency check after a disconnect so
	// frames simulated with the absent player's predicted inputs get replayed.
	disconnectFrame Frame

	framesAhead          int32
	nextRecommendedSleep Frame

	lastSentChecksumFrame Frame
	checksumHistory       map[Frame]uint64

	events []Event
}

// NewSession validates the configuration and constructs a session. Players
// must then be registered with AddPlayer and the handshake started with Start.
func NewSession(cfg Config, callbacks Callbacks, socket Socket) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := callbacks.validate(); err != nil {
		return nil, err
	}
	if socket == nil {
		return nil, fmt.Errorf("%w: a transport socket is required", ErrInvalidConfig)
	}

	sl, err := newSyncLayer(cfg.NumPlayers, cfg.MaxPrediction, cfg.QueueLength, cfg.InputBytes)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:                   cfg,
		callbacks:             callbacks,
		socket:                socket,
		sync:                  sl,
		endpoints:             make(map[string]*peerEndpoint),
		state:                 SessionSynchronizing,
		localConnectStatus:    newConnectionStatuses(cfg.NumPlayers),
		localInputs:           make(map[PlayerHandle]PlayerInput),
		flushedFrame:          NullFrame,
		disconnectFrame:       NullFrame,
		lastSentChecksumFrame: NullFrame,
		checksumHistory:       make(map[Frame]uint64),
	}, nil
}

// AddPlayer registers the next participant slot and returns its handle.
// Handles are assigned in registration order, starting at zero, and must be
// assigned identically on every peer.
func (s *Session) AddPlayer(player PlayerType) (PlayerHandle, error) {
	if s.started {
		return 0, fmt.Errorf("%w: players must be registered before Start", ErrInvalidPlayer)
	}
	if len(s.players) >= s.cfg.NumPlayers {
		return 0, fmt.Errorf("%w: all %d player slots are assigned", ErrInvalidPlayer, s.cfg.NumPlayers)
	}

	handle := PlayerHandle(len(s.players))
	s.players = append(s.players, player)

	if !player.remote {
		s.localHandles = append(s.localHandles, handle)
		if err := s.sync.setFrameDelay(handle, s.cfg.InputDelay); err != nil {
			return 0, err
		}
		return handle, nil
	}

	if ep, ok := s.endpoints[player.addr]; ok {
		ep.addHandle(handle)
		return handle, nil
	}
	ep := newPeerEndpoint([]PlayerHandle{handle}, player.addr, s.cfg.NumPlayers, s.cfg)
	s.endpoints[player.addr] = ep
	s.endpointList = append(s.endpointList, ep)
	return handle, nil
}

// Start begins synchronizing with all remote peers. Sessions without remote
// peers go straight to Running.
func (s *Session) Start() error {
	if s.started {
		return fmt.Errorf("%w: session already started", ErrInvalidConfig)
	}
	if len(s.players) != s.cfg.NumPlayers {
		return fmt.Errorf("%w: %d of %d player slots assigned", ErrInvalidConfig, len(s.players), s.cfg.NumPlayers)
	}
	s.started = true

	if len(s.endpointList) == 0 {
		s.state = SessionRunning
		s.pushEvent(Event{Type: EventRunning})
		return nil
	}
	for _, ep := range s.endpointList {
		ep.synchronize()
		ep.sendAllMessages(s.socket)
	}
	return nil
}

// AddLocalInput registers the local player's input for the given frame, which
// must be the session's current frame. Once every local player has supplied
// an input for the frame, the set enters the input queues and is sent to all
// remote peers. Calling again for an already registered frame is a no-op.
func (s *Session) AddLocalInput(handle PlayerHandle, frame Frame, input []byte) error {
	if s.state != SessionRunning {
		return ErrNotSynchronized
	}
	if !handle.Valid(len(s.players)) || s.players[handle].remote {
		return fmt.Errorf("%w: %v is not a local player", ErrInvalidPlayer, handle)
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

	if s.cfg.MaxPrediction > 0 {
		framesAhead := int32(s.sync.currentFrame) - int32(s.confirmedFrameAcrossPeers())
		if framesAhead > int32(s.cfg.MaxPrediction) {
			return fmt.Errorf("%w: frame %v is %d frames past the last confirmed frame (window %d)",
				ErrPredictionWindowExceeded, frame, framesAhead, s.cfg.MaxPrediction)
		}
	}

	s.localInputs[handle] = PlayerInput{Frame: frame, Bits: append([]byte(nil), input...)}
	if len(s.localInputs) == len(s.localHandles) {
		return s.flushLocalInputs()
	}
	return nil
}

// flushLocalInputs moves the buffered frame of local inputs into the queues
// and onto the wire. Local handles are flushed in ascending order; remote
// peers decode the window with the same ordering.
func (s *Session) flushLocalInputs() error {
	batch := make([][]byte, 0, len(s.localHandles))
	sendFrame := NullFrame
	for _, handle := range s.localHandles {
		in := s.localInputs[handle]
		actual, err := s.sync.addLocalInput(handle, in)
		if err != nil {
			return err
		}
		s.localConnectStatus[handle].LastFrame = actual
		sendFrame = actual
		batch = append(batch, in.Bits)
	}
	s.flushedFrame = s.sync.currentFrame
	for handle := range s.localInputs {
		delete(s.localInputs, handle)
	}

	for _, ep := range s.endpointList {
		ep.sendInput(sendFrame, batch, s.localConnectStatus)
		ep.sendAllMessages(s.socket)
	}
	return nil
}

// SynchronizeInputs returns the input set the host must simulate the current
// frame with: confirmed inputs where known, predictions otherwise, blank
// inputs flagged Disconnected for players who dropped before this frame. In
// lockstep mode it returns ErrMissingInput until every input is confirmed.
func (s *Session) SynchronizeInputs() ([]SynchronizedInput, error) {
	if s.state != SessionRunning {
		return nil, ErrNotSynchronized
	}
	if len(s.localHandles) > 0 && s.flushedFrame != s.sync.currentFrame {
		return nil, fmt.Errorf("%w: local input for frame %v not registered", ErrMissingInput, s.sync.currentFrame)
	}

	lockstep := s.cfg.MaxPrediction == 0

	// Lockstep never predicts, so an unconfirmed frame must be rejected before
	// the input queues are asked for it; asking would put them into prediction
	// mode, and lockstep has no rollback to leave it again.
	if lockstep && s.confirmedFrameAcrossPeers() < s.sync.currentFrame {
		return nil, fmt.Errorf("%w: frame %v is not yet confirmed by all peers",
			ErrMissingInput, s.sync.currentFrame)
	}

	// The frame 0 snapshot is the floor every rollback can reach; capture it
	// before the host simulates anything.
	if !lockstep && s.sync.currentFrame == 0 && s.sync.lastSavedFrame.IsNull() {
		if err := s.saveHostState(0); err != nil {
			return nil, err
		}
	}

	// Remote inputs that arrived since the last tick may contradict earlier
	// predictions; correct the timeline before serving inputs from it.
	if err := s.fixSimulation(); err != nil {
		return nil, err
	}

	inputs, err := s.sync.synchronizedInputs(s.localConnectStatus)
	if err != nil {
		return nil, err
	}
	if lockstep {
		for _, in := range inputs {
			if in.Status == InputPredicted {
				return nil, fmt.Errorf("%w: frame %v is not yet confirmed by %v",
					ErrMissingInput, s.sync.currentFrame, in.Player)
			}
		}
	}
	return inputs, nil
}

// AdvanceFrame completes one simulation tick after the host stepped its state
// with the inputs from SynchronizeInputs. checksum optionally carries the
// host's own hash of its post-step state; pass zero to let the session hash
// the snapshot itself. The session snapshots the new state, rolls back and
// replays through the callbacks if any prediction proved wrong, raises the
// confirmed frame and returns the new current frame.
func (s *Session) AdvanceFrame(checksum uint64) (Frame, error) {
	s.PollRemotePeers()

	if s.state != SessionRunning {
		return NullFrame, ErrNotSynchronized
	}
	if len(s.localHandles) > 0 && s.flushedFrame != s.sync.currentFrame {
		return NullFrame, fmt.Errorf("%w: local input for frame %v not registered", ErrMissingInput, s.sync.currentFrame)
	}

	// Checksums must be compared before new frames get confirmed below, or a
	// frame could be confirmed between the comparison and its re-save.
	if s.cfg.DesyncInterval > 0 {
		s.sendChecksumReports()
		s.compareChecksums()
	}

	s.updatePlayerDisconnects()
	confirmed := s.confirmedFrameAcrossPeers()

	lockstep := s.cfg.MaxPrediction == 0
	if lockstep && confirmed < s.sync.currentFrame {
		return s.sync.currentFrame, fmt.Errorf("%w: frame %v is not yet confirmed by all peers",
			ErrMissingInput, s.sync.currentFrame)
	}

	s.sync.advanceFrame()

	if !lockstep {
		if err := s.saveHostState(checksum); err != nil {
			return NullFrame, err
		}
		if err := s.fixSimulation(); err != nil {
			return NullFrame, err
		}
	}

	s.sync.setLastConfirmedFrame(confirmed)
	s.checkWaitRecommendation()

	return s.sync.currentFrame, nil
}

// saveHostState snapshots the host state for the current frame. A zero
// checksum selects the session's own hash of the snapshot bytes.
func (s *Session) saveHostState(checksum uint64) error {
	state, err := s.callbacks.SaveState(s.sync.currentFrame)
	if err != nil {
		return fmt.Errorf("save state at frame %v: %w", s.sync.currentFrame, err)
	}
	if checksum == 0 {
		checksum = ChecksumBytes(state)
	}
	return s.sync.saveCurrentState(state, checksum)
}

// fixSimulation rolls back and replays if any frame was simulated with an
// input that later proved wrong.
func (s *Session) fixSimulation() error {
	if s.cfg.MaxPrediction == 0 {
		return nil
	}
	firstIncorrect := s.sync.checkSimulationConsistency(s.disconnectFrame)
	if firstIncorrect.IsNull() {
		return nil
	}
	if err := s.adjustGamestate(firstIncorrect); err != nil {
		return err
	}
	s.disconnectFrame = NullFrame
	return nil
}

// adjustGamestate rolls the host back to the first mispredicted frame and
// replays forward to the current frame with corrected inputs, re-saving every
// replayed frame.
func (s *Session) adjustGamestate(firstIncorrect Frame) error {
	current := s.sync.currentFrame
	if firstIncorrect >= current {
		// The misprediction is at a frame not yet simulated; corrected inputs
		// apply naturally on the next tick.
		s.sync.resetPrediction()
		return nil
	}

	count := int32(current) - int32(firstIncorrect)
	cell, err := s.sync.loadFrame(firstIncorrect)
	if err != nil {
		return err
	}
	if err := s.callbacks.LoadState(cell.frame, cell.state); err != nil {
		return fmt.Errorf("load state at frame %v: %w", cell.frame, err)
	}
	s.sync.resetPrediction()

	for i := int32(0); i < count; i++ {
		inputs, err := s.sync.synchronizedInputs(s.localConnectStatus)
		if err != nil {
			return err
		}
		if err := s.callbacks.AdvanceFrame(inputs, true); err != nil {
			return fmt.Errorf("replay frame %v: %w", s.sync.currentFrame, err)
		}
		s.sync.advanceFrame()
		if err := s.saveHostState(0); err != nil {
			return err
		}
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Add(sessionRollbacksMetricKey, 1)
		s.cfg.Metrics.Store(sessionRollbackDepthMetricKey, uint64(count))
	}
	return nil
}

// PollRemotePeers pumps the socket, dispatches packets to their endpoints,
// applies the resulting endpoint events and flushes outgoing packets. Call it
// at least once per tick; calling more often reduces input latency.
func (s *Session) PollRemotePeers() {
	for _, dgram := range s.socket.ReceiveAll() {
		ep, ok := s.endpoints[dgram.Addr]
		if !ok {
			continue
		}
		msg, err := decodeMessage(dgram.Payload)
		if err != nil {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Printf("[session] dropping undecodable packet from %s: %v", dgram.Addr, err)
			}
			continue
		}
		ep.handleMessage(msg)
	}

	for _, ep := range s.endpointList {
		if ep.isRunning() {
			ep.updateLocalFrameAdvantage(s.sync.currentFrame)
		}
	}

	for _, ep := range s.endpointList {
		for _, ev := range ep.poll(s.localConnectStatus) {
			s.handleEndpointEvent(ep, ev)
		}
	}

	for _, ep := range s.endpointList {
		ep.sendAllMessages(s.socket)
	}
}

func (s *Session) handleEndpointEvent(ep *peerEndpoint, ev endpointEvent) {
	switch ev.kind {
	case endpointEventSynchronizing:
		s.pushEvent(Event{Type: EventSynchronizing, Addr: ep.peerAddr, SyncCount: ev.count, SyncTotal: ev.total})
	case endpointEventSynchronized:
		s.pushEvent(Event{Type: EventSynchronized, Addr: ep.peerAddr})
		s.checkInitialSync()
	case endpointEventNetworkInterrupted:
		s.pushEvent(Event{
			Type:                    EventNetworkInterrupted,
			Addr:                    ep.peerAddr,
			DisconnectTimeoutMillis: ev.disconnectTimeout.Milliseconds(),
		})
	case endpointEventNetworkResumed:
		s.pushEvent(Event{Type: EventNetworkResumed, Addr: ep.peerAddr})
	case endpointEventDisconnected:
		for _, handle := range ep.handles {
			s.disconnectPlayerAtFrame(handle, s.localConnectStatus[handle].LastFrame)
			s.pushEvent(Event{Type: EventDisconnected, Player: handle, Addr: ep.peerAddr})
		}
	case endpointEventInput:
		s.applyRemoteInput(ev.player, ev.input)
	}
}

// applyRemoteInput feeds one remote input into the sync layer, enforcing
// strictly sequential delivery per player.
func (s *Session) applyRemoteInput(handle PlayerHandle, in PlayerInput) {
	if !handle.Valid(s.cfg.NumPlayers) {
		return
	}
	status := &s.localConnectStatus[handle]
	if status.Disconnected {
		return
	}
	if !status.LastFrame.IsNull() && status.LastFrame.Next() != in.Frame {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Printf("[session] out of sequence input from %v: have %v, got %v", handle, status.LastFrame, in.Frame)
		}
		return
	}
	status.LastFrame = in.Frame
	s.sync.addRemoteInput(handle, in)
}

// DisconnectPlayer removes a remote player from the match. All players
// sharing the peer's address are disconnected together; the session keeps
// running with the remaining peers.
func (s *Session) DisconnectPlayer(handle PlayerHandle) error {
	if !handle.Valid(len(s.players)) {
		return invalidPlayerError(handle, len(s.players))
	}
	if !s.players[handle].remote {
		return fmt.Errorf("%w: %v is a local player", ErrInvalidPlayer, handle)
	}
	if s.localConnectStatus[handle].Disconnected {
		return fmt.Errorf("%w: %v already disconnected", ErrDisconnected, handle)
	}
	s.disconnectPlayerAtFrame(handle, s.localConnectStatus[handle].LastFrame)
	return nil
}

// disconnectPlayerAtFrame freezes a remote player's input history at
// lastFrame and schedules a replay if frames past it were already simulated
// with predicted inputs.
func (s *Session) disconnectPlayerAtFrame(handle PlayerHandle, lastFrame Frame) {
	player := s.players[handle]
	if !player.remote {
		return
	}
	ep, ok := s.endpoints[player.addr]
	if !ok {
		return
	}

	for _, h := range ep.handles {
		s.localConnectStatus[h].Disconnected = true
		s.localConnectStatus[h].LastFrame = minFrame(s.localConnectStatus[h].LastFrame, lastFrame)
	}
	ep.disconnect()

	if s.sync.currentFrame > lastFrame {
		s.disconnectFrame = lastFrame.Next()
	}

	s.checkInitialSync()
}

// updatePlayerDisconnects reconciles disconnects observed by remote peers
// against our own view. A peer may know about a disconnect at an earlier
// frame than we recorded; the earliest frame wins.
func (s *Session) updatePlayerDisconnects() {
	for i := 0; i < s.cfg.NumPlayers; i++ {
		handle := PlayerHandle(i)
		connected := true
		minConfirmed := Frame(math.MaxInt32)

		for _, ep := range s.endpointList {
			if !ep.isRunning() {
				continue
			}
			st := ep.peerConnectStatus[i]
			connected = connected && !st.Disconnected
			minConfirmed = minFrame(minConfirmed, st.LastFrame)
		}

		local := s.localConnectStatus[i]
		if !local.Disconnected {
			minConfirmed = minFrame(minConfirmed, local.LastFrame)
		}
		if connected {
			continue
		}
		if !local.Disconnected || local.LastFrame > minConfirmed {
			s.disconnectPlayerAtFrame(handle, minConfirmed)
		}
	}
}

// confirmedFrameAcrossPeers returns the highest frame every connected player
// has supplied input for.
func (s *Session) confirmedFrameAcrossPeers() Frame {
	confirmed := Frame(math.MaxInt32)
	for i := range s.localConnectStatus {
		if !s.localConnectStatus[i].Disconnected {
			confirmed = minFrame(confirmed, s.localConnectStatus[i].LastFrame)
		}
	}
	if confirmed == Frame(math.MaxInt32) {
		return 0
	}
	return confirmed
}

// checkInitialSync flips the session to Running once every endpoint finished
// its handshake.
func (s *Session) checkInitialSync() {
	if s.state != SessionSynchronizing {
		return
	}
	for _, ep := range s.endpointList {
		if !ep.isSynchronized() {
			return
		}
	}
	s.state = SessionRunning
	s.pushEvent(Event{Type: EventRunning})
}

func (s *Session) checkWaitRecommendation() {
	s.framesAhead = 0
	for _, ep := range s.endpointList {
		for _, handle := range ep.handles {
			if s.localConnectStatus[handle].Disconnected {
				continue
			}
			if adv := ep.averageFrameAdvantage(); adv > s.framesAhead {
				s.framesAhead = adv
			}
		}
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Store(sessionFramesAheadMetricKey, uint64(max(0, int(s.framesAhead))))
	}

	if s.sync.currentFrame > s.nextRecommendedSleep && s.framesAhead >= minWaitRecommendation {
		s.nextRecommendedSleep = s.sync.currentFrame.Add(recommendationInterval)
		s.pushEvent(Event{Type: EventWaitRecommendation, SkipFrames: int(s.framesAhead)})
	}
}

// sendChecksumReports emits the state checksum for the next due confirmed
// frame to every peer and records it for comparison against their reports.
func (s *Session) sendChecksumReports() {
	next := Frame(s.cfg.DesyncInterval)
	if !s.lastSentChecksumFrame.IsNull() {
		next = s.lastSentChecksumFrame.Add(int32(s.cfg.DesyncInterval))
	}
	if next > s.sync.confirmedFrame || next > s.sync.lastSavedFrame {
		return
	}
	checksum, ok := s.sync.savedChecksum(next)
	if !ok {
		return
	}

	for _, ep := range s.endpointList {
		ep.sendChecksumReport(next, checksum)
	}
	s.lastSentChecksumFrame = next
	s.checksumHistory[next] = checksum

	if len(s.checksumHistory) > maxLocalChecksumHistory {
		oldest := next.Sub(int32(maxLocalChecksumHistory-1) * int32(s.cfg.DesyncInterval))
		for frame := range s.checksumHistory {
			if frame < oldest {
				delete(s.checksumHistory, frame)
			}
		}
	}
}

// compareChecksums matches peer checksum reports against local history. A
// mismatch at a confirmed frame means the host simulation is not
// deterministic; the event is fatal for the match and never retried.
func (s *Session) compareChecksums() {
	for _, ep := range s.endpointList {
		for _, frame := range ep.sortedPendingChecksumFrames() {
			if frame >= s.sync.confirmedFrame {
				// Inputs for this frame may still change; compare later.
				continue
			}
			remote := ep.pendingChecksums[frame]
			local, ok := s.checksumHistory[frame]
			if ok && local != remote {
				s.pushEvent(Event{
					Type:           EventDesyncDetected,
					Addr:           ep.peerAddr,
					Frame:          frame,
					LocalChecksum:  local,
					RemoteChecksum: remote,
				})
			}
			if ok {
				delete(ep.pendingChecksums, frame)
			}
		}
	}
}

func (s *Session) pushEvent(ev Event) {
	s.events = append(s.events, ev)
	if len(s.events) > maxEventQueue {
		s.events = s.events[len(s.events)-maxEventQueue:]
	}
}

// Events drains and returns the pending session events. When the host stops
// draining, the oldest events past the queue cap are discarded.
func (s *Session) Events() []Event {
	events := s.events
	s.events = nil
	return events
}

// NetworkStats reports connection quality for a remote player's link.
func (s *Session) NetworkStats(handle PlayerHandle) (NetworkStats, error) {
	if !handle.Valid(len(s.players)) || !s.players[handle].remote {
		return NetworkStats{}, fmt.Errorf("%w: %v is not a remote player", ErrInvalidPlayer, handle)
	}
	ep, ok := s.endpoints[s.players[handle].addr]
	if !ok {
		return NetworkStats{}, fmt.Errorf("%w: no endpoint for %v", ErrInvalidPlayer, handle)
	}
	return ep.networkStats()
}

// State returns the session lifecycle state.
func (s *Session) State() SessionState { return s.state }

// CurrentFrame returns the frame the host simulates next.
func (s *Session) CurrentFrame() Frame { return s.sync.currentFrame }

// ConfirmedFrame returns the highest frame whose inputs are final.
func (s *Session) ConfirmedFrame() Frame { return s.sync.confirmedFrame }

// FramesAhead estimates how many frames this session runs ahead of the
// slowest connected peer.
func (s *Session) FramesAhead() int32 { return s.framesAhead }

// LocalPlayerHandles returns the handles registered as local players.
func (s *Session) LocalPlayerHandles() []PlayerHandle {
	return append([]PlayerHandle(nil), s.localHandles...)
}

// RemotePlayerHandles returns the handles registered as remote players.
func (s *Session) RemotePlayerHandles() []PlayerHandle {
	handles := make([]PlayerHandle, 0, len(s.players))
	for i, p := range s.players {
		if p.remote {
			handles = append(handles, PlayerHandle(i))
		}
	}
	return handles
}

// ConfirmedInputsForFrame returns the final input set for a confirmed frame,
// one payload per player in handle order. The inputs are identical on every
// peer and suit host-level verification.
func (s *Session) ConfirmedInputsForFrame(frame Frame) ([][]byte, error) {
	if frame > s.sync.confirmedFrame {
		return nil, invalidFrameError(frame, fmt.Sprintf("not confirmed yet (confirmed %v)", s.sync.confirmedFrame))
	}
	inputs, err := s.sync.confirmedInputs(frame, s.localConnectStatus)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(inputs))
	for i, in := range inputs {
		out[i] = append([]byte(nil), in.Bits...)
	}
	return out, nil
}
