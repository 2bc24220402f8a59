package netcode

import (
	crand "crypto/rand"
	"encoding/binary"
	"sort"
	"time"

	"driftline/netcode/internal/telemetry"
)

const (
	protocolPacketsSentMetricKey   = "protocol_packets_sent_total"
	protocolPacketsRecvMetricKey   = "protocol_packets_received_total"
	protocolPacketsDropMetricKey   = "protocol_packets_rejected_total"
	protocolRTTMetricKey           = "protocol_round_trip_millis"
	protocolPendingOutputMetricKey = "protocol_pending_output_depth"
)

// pendingOutputLimit bounds the unacked input backlog per peer. A remote that
// stops acknowledging for this long is past saving; we disconnect it.
const pendingOutputLimit = 128

// protocolState is the per-peer connection state machine.
type protocolState int

const (
	protocolInitializing protocolState = iota
	protocolSynchronizing
	protocolRunning
	protocolDisconnected
	protocolShutdown
)

func (s protocolState) String() string {
	switch s {
	case protocolInitializing:
		return "initializing"
	case protocolSynchronizing:
		return "synchronizing"
	case protocolRunning:
		return "running"
	case protocolDisconnected:
		return "disconnected"
	case protocolShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// endpointEvent flows from a peer endpoint to the session on the simulation
// goroutine; it is how network input reaches the input queues.
type endpointEventKind int

const (
	endpointEventSynchronizing endpointEventKind = iota
	endpointEventSynchronized
	endpointEventInput
	endpointEventDisconnected
	endpointEventNetworkInterrupted
	endpointEventNetworkResumed
)

type endpointEvent struct {
	kind  endpointEventKind
	count int
	total int
	// input delivery
	player PlayerHandle
	input  PlayerInput
	// network interruption
	disconnectTimeout time.Duration
}

// pendingInput is one not-yet-acknowledged frame of local inputs, one payload
// per local handle in ascending handle order.
type pendingInput struct {
	frame  Frame
	inputs [][]byte
}

// peerEndpoint speaks the wire protocol with a single remote peer: handshake,
// input exchange with sliding-window acknowledgment, quality reports,
// keep-alives, and checksum reports for desync detection. It never touches
// simulation state directly; everything surfaces as endpointEvents the
// session applies on its own goroutine.
type peerEndpoint struct {
	handles    []PlayerHandle
	peerAddr   string
	numPlayers int
	inputBytes int

	cfg     Config
	logger  telemetry.Logger
	metrics telemetry.Metrics
	clock   func() time.Time

	state         protocolState
	magic         uint16
	remoteMagic   uint16
	syncRemaining int
	syncNonces    map[uint32]bool

	sendQueue  []*message
	eventQueue []endpointEvent

	peerConnectStatus []connectionStatus

	pendingOutput []pendingInput
	lastAckedFrame Frame
	lastRecvFrame  Frame

	timeSync             timeSync
	localFrameAdvantage  int32
	remoteFrameAdvantage int32
	roundTripTime        time.Duration

	lastSendTime      time.Time
	lastRecvTime      time.Time
	lastQualityReport time.Time
	lastInputRecv     time.Time
	shutdownAt        time.Time

	disconnectNotifySent bool
	disconnectEventSent  bool

	pendingChecksums map[Frame]uint64
}

func newPeerEndpoint(handles []PlayerHandle, peerAddr string, numPlayers int, cfg Config) *peerEndpoint {
	sorted := append([]PlayerHandle(nil), handles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	now := time.Now()
	return &peerEndpoint{
		handles:           sorted,
		peerAddr:          peerAddr,
		numPlayers:        numPlayers,
		inputBytes:        cfg.InputBytes,
		cfg:               cfg,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		clock:             time.Now,
		state:             protocolInitializing,
		magic:             randomMagic(),
		syncRemaining:     cfg.NumSyncRoundtrips,
		syncNonces:        make(map[uint32]bool),
		peerConnectStatus: newConnectionStatuses(numPlayers),
		lastAckedFrame:    NullFrame,
		lastRecvFrame:     NullFrame,
		lastSendTime:      now,
		lastRecvTime:      now,
		lastQualityReport: now,
		lastInputRecv:     now,
		pendingChecksums:  make(map[Frame]uint64),
	}
}

// randomMagic draws the nonzero endpoint identifier used to reject
// cross-session packets. Handshake randomness never feeds the simulation, so
// OS entropy is fine here.
func randomMagic() uint16 {
	var buf [2]byte
	for {
		if _, err := crand.Read(buf[:]); err != nil {
			// Entropy exhaustion is not a real failure mode; fall back to a
			// time-derived value rather than aborting the handshake.
			return uint16(time.Now().UnixNano())&0xfffe + 1
		}
		magic := binary.LittleEndian.Uint16(buf[:])
		if magic != 0 {
			return magic
		}
	}
}

func randomNonce() uint32 {
	var buf [4]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// addHandle registers another player hosted at this peer's address. The
// handle list stays sorted; it defines the input payload order on the wire.
func (p *peerEndpoint) addHandle(handle PlayerHandle) {
	p.handles = append(p.handles, handle)
	sort.Slice(p.handles, func(i, j int) bool { return p.handles[i] < p.handles[j] })
}

// synchronize kicks off the handshake.
func (p *peerEndpoint) synchronize() {
	if p.state != protocolInitializing {
		return
	}
	p.state = protocolSynchronizing
	p.syncRemaining = p.cfg.NumSyncRoundtrips
	p.sendSyncRequest()
}

func (p *peerEndpoint) isSynchronized() bool {
	return p.state == protocolRunning || p.state == protocolDisconnected || p.state == protocolShutdown
}

func (p *peerEndpoint) isRunning() bool {
	return p.state == protocolRunning
}

// disconnect moves the endpoint to Disconnected and schedules its shutdown.
func (p *peerEndpoint) disconnect() {
	if p.state == protocolShutdown {
		return
	}
	p.state = protocolDisconnected
	p.shutdownAt = p.clock().Add(p.cfg.ShutdownDelay)
}

// poll runs the endpoint's timers and returns accumulated events. status is
// the session's local connection table, piggy-backed on retransmissions.
func (p *peerEndpoint) poll(status []connectionStatus) []endpointEvent {
	now := p.clock()
	switch p.state {
	case protocolSynchronizing:
		if p.lastSendTime.Add(p.cfg.SyncRetryInterval).Before(now) {
			p.sendSyncRequest()
		}
	case protocolRunning:
		if p.lastInputRecv.Add(p.cfg.RunningRetryInterval).Before(now) {
			p.sendPendingOutput(status)
			p.lastInputRecv = now
		}
		if p.lastQualityReport.Add(p.cfg.QualityReportInterval).Before(now) {
			p.sendQualityReport()
		}
		if p.lastSendTime.Add(p.cfg.KeepAliveInterval).Before(now) {
			p.queueMessage(&message{Kind: msgKeepAlive})
		}
		if !p.disconnectNotifySent && p.lastRecvTime.Add(p.cfg.DisconnectNotifyStart).Before(now) {
			p.disconnectNotifySent = true
			p.eventQueue = append(p.eventQueue, endpointEvent{
				kind:              endpointEventNetworkInterrupted,
				disconnectTimeout: p.cfg.DisconnectTimeout - p.cfg.DisconnectNotifyStart,
			})
		}
		if !p.disconnectEventSent && p.lastRecvTime.Add(p.cfg.DisconnectTimeout).Before(now) {
			p.disconnectEventSent = true
			p.eventQueue = append(p.eventQueue, endpointEvent{kind: endpointEventDisconnected})
		}
	case protocolDisconnected:
		if p.shutdownAt.Before(now) {
			p.state = protocolShutdown
		}
	case protocolInitializing, protocolShutdown:
	}

	events := p.eventQueue
	p.eventQueue = nil
	return events
}

// sendInput registers one frame of local inputs (ascending handle order) and
// transmits the full unacked window.
func (p *peerEndpoint) sendInput(frame Frame, inputs [][]byte, status []connectionStatus) {
	if p.state != protocolRunning {
		return
	}

	p.timeSync.advanceFrame(frame, p.localFrameAdvantage, p.remoteFrameAdvantage)
	p.pendingOutput = append(p.pendingOutput, pendingInput{frame: frame, inputs: inputs})
	if p.metrics != nil {
		p.metrics.Store(protocolPendingOutputMetricKey, uint64(len(p.pendingOutput)))
	}

	// A peer that never acks is unrecoverable once the backlog passes the
	// limit; treat it like a timeout.
	if len(p.pendingOutput) > pendingOutputLimit {
		if !p.disconnectEventSent {
			p.disconnectEventSent = true
			p.eventQueue = append(p.eventQueue, endpointEvent{kind: endpointEventDisconnected})
		}
		return
	}

	p.sendPendingOutput(status)
}

func (p *peerEndpoint) sendPendingOutput(status []connectionStatus) {
	if len(p.pendingOutput) == 0 {
		return
	}
	front := p.pendingOutput[0]
	if !p.lastAckedFrame.IsNull() && p.lastAckedFrame.Next() != front.frame {
		if p.logger != nil {
			p.logger.Printf("[protocol] pending output out of sequence: lastAcked=%v front=%v", p.lastAckedFrame, front.frame)
		}
		return
	}

	body := &inputBody{
		StartFrame:          front.frame,
		AckFrame:            p.lastRecvFrame,
		DisconnectRequested: p.state == protocolDisconnected,
		PeerStatus:          append([]connectionStatus(nil), status...),
	}
	for _, pend := range p.pendingOutput {
		for _, in := range pend.inputs {
			body.Inputs = append(body.Inputs, in)
		}
	}
	body.Checksum = body.payloadChecksum()
	p.queueMessage(&message{Kind: msgInput, Input: body})
}

func (p *peerEndpoint) sendInputAck() {
	p.queueMessage(&message{Kind: msgInputAck, InputAck: &inputAckBody{AckFrame: p.lastRecvFrame}})
}

func (p *peerEndpoint) sendSyncRequest() {
	nonce := randomNonce()
	p.syncNonces[nonce] = true
	p.queueMessage(&message{Kind: msgSyncRequest, SyncRequest: &syncRequestBody{Nonce: nonce}})
}

func (p *peerEndpoint) sendQualityReport() {
	p.lastQualityReport = p.clock()
	p.queueMessage(&message{Kind: msgQualityReport, QualityReport: &qualityReportBody{
		FrameAdvantage: p.localFrameAdvantage,
		Ping:           p.clock().UnixMilli(),
	}})
}

func (p *peerEndpoint) sendChecksumReport(frame Frame, checksum uint64) {
	p.queueMessage(&message{Kind: msgChecksumReport, ChecksumReport: &checksumReportBody{
		Frame:    frame,
		Checksum: checksum,
	}})
}

func (p *peerEndpoint) queueMessage(msg *message) {
	msg.Magic = p.magic
	p.lastSendTime = p.clock()
	p.sendQueue = append(p.sendQueue, msg)
	if p.metrics != nil {
		p.metrics.Add(protocolPacketsSentMetricKey, 1)
	}
}

// sendAllMessages flushes the queue to the socket. Encoding failures drop the
// message; the retransmission timers recover anything that mattered.
func (p *peerEndpoint) sendAllMessages(socket Socket) {
	if p.state == protocolShutdown {
		p.sendQueue = nil
		return
	}
	for _, msg := range p.sendQueue {
		payload, err := encodeMessage(msg)
		if err != nil {
			if p.logger != nil {
				p.logger.Printf("[protocol] dropping unencodable %s message: %v", msg.Kind, err)
			}
			continue
		}
		socket.SendTo(payload, p.peerAddr)
	}
	p.sendQueue = nil
}

// handleMessage processes one decoded message from this peer.
func (p *peerEndpoint) handleMessage(msg *message) {
	if p.state == protocolShutdown {
		return
	}
	// Once the handshake pinned the peer's magic, anything else is stale or
	// cross-session traffic.
	if p.remoteMagic != 0 && msg.Magic != p.remoteMagic {
		if p.metrics != nil {
			p.metrics.Add(protocolPacketsDropMetricKey, 1)
		}
		return
	}
	p.lastRecvTime = p.clock()
	if p.metrics != nil {
		p.metrics.Add(protocolPacketsRecvMetricKey, 1)
	}

	if p.disconnectNotifySent && p.state == protocolRunning {
		p.disconnectNotifySent = false
		p.eventQueue = append(p.eventQueue, endpointEvent{kind: endpointEventNetworkResumed})
	}

	switch msg.Kind {
	case msgSyncRequest:
		p.onSyncRequest(msg.SyncRequest)
	case msgSyncReply:
		p.onSyncReply(msg.Magic, msg.SyncReply)
	case msgInput:
		p.onInput(msg.Input)
	case msgInputAck:
		p.popPendingOutput(msg.InputAck.AckFrame)
	case msgQualityReport:
		p.onQualityReport(msg.QualityReport)
	case msgQualityReply:
		p.onQualityReply(msg.QualityReply)
	case msgChecksumReport:
		p.onChecksumReport(msg.ChecksumReport)
	case msgKeepAlive:
	}
}

func (p *peerEndpoint) onSyncRequest(body *syncRequestBody) {
	p.queueMessage(&message{Kind: msgSyncReply, SyncReply: &syncReplyBody{Nonce: body.Nonce}})
}

func (p *peerEndpoint) onSyncReply(remoteMagic uint16, body *syncReplyBody) {
	if p.state != protocolSynchronizing {
		return
	}
	if !p.syncNonces[body.Nonce] {
		return
	}
	delete(p.syncNonces, body.Nonce)

	p.syncRemaining--
	if p.syncRemaining > 0 {
		p.eventQueue = append(p.eventQueue, endpointEvent{
			kind:  endpointEventSynchronizing,
			count: p.cfg.NumSyncRoundtrips - p.syncRemaining,
			total: p.cfg.NumSyncRoundtrips,
		})
		p.sendSyncRequest()
		return
	}

	p.state = protocolRunning
	p.remoteMagic = remoteMagic
	p.eventQueue = append(p.eventQueue, endpointEvent{kind: endpointEventSynchronized})
}

func (p *peerEndpoint) onInput(body *inputBody) {
	// The ack rides along on every input packet.
	p.popPendingOutput(body.AckFrame)

	if body.DisconnectRequested {
		if p.state != protocolDisconnected && !p.disconnectEventSent {
			p.disconnectEventSent = true
			p.eventQueue = append(p.eventQueue, endpointEvent{kind: endpointEventDisconnected})
		}
	} else {
		// Merge the peer's connection table; disconnects are sticky and
		// last-frame never regresses.
		for i := range p.peerConnectStatus {
			if i >= len(body.PeerStatus) {
				break
			}
			p.peerConnectStatus[i].Disconnected = p.peerConnectStatus[i].Disconnected || body.PeerStatus[i].Disconnected
			p.peerConnectStatus[i].LastFrame = maxFrame(p.peerConnectStatus[i].LastFrame, body.PeerStatus[i].LastFrame)
		}
	}

	if body.Checksum != body.payloadChecksum() {
		if p.metrics != nil {
			p.metrics.Add(protocolPacketsDropMetricKey, 1)
		}
		return
	}

	stride := len(p.handles)
	if stride == 0 || len(body.Inputs)%stride != 0 {
		if p.metrics != nil {
			p.metrics.Add(protocolPacketsDropMetricKey, 1)
		}
		return
	}
	for _, in := range body.Inputs {
		if len(in) != p.inputBytes {
			if p.metrics != nil {
				p.metrics.Add(protocolPacketsDropMetricKey, 1)
			}
			return
		}
	}

	// A window starting beyond the next expected frame cannot be applied
	// sequentially; drop it and let retransmission fill the gap. Windows
	// overlapping already-received frames are deduplicated below.
	if !p.lastRecvFrame.IsNull() && p.lastRecvFrame.Next() < body.StartFrame {
		return
	}

	p.lastInputRecv = p.clock()
	frames := len(body.Inputs) / stride
	for i := 0; i < frames; i++ {
		frame := body.StartFrame.Add(int32(i))
		if frame <= p.lastRecvFrame {
			continue
		}
		p.lastRecvFrame = frame
		for j, handle := range p.handles {
			bits := append([]byte(nil), body.Inputs[i*stride+j]...)
			p.eventQueue = append(p.eventQueue, endpointEvent{
				kind:   endpointEventInput,
				player: handle,
				input:  PlayerInput{Frame: frame, Bits: bits},
			})
		}
	}

	p.sendInputAck()
}

func (p *peerEndpoint) onQualityReport(body *qualityReportBody) {
	p.remoteFrameAdvantage = body.FrameAdvantage
	p.queueMessage(&message{Kind: msgQualityReply, QualityReply: &qualityReplyBody{Pong: body.Ping}})
}

func (p *peerEndpoint) onQualityReply(body *qualityReplyBody) {
	millis := p.clock().UnixMilli() - body.Pong
	if millis < 0 {
		millis = 0
	}
	p.roundTripTime = time.Duration(millis) * time.Millisecond
	if p.metrics != nil {
		p.metrics.Store(protocolRTTMetricKey, uint64(millis))
	}
}

func (p *peerEndpoint) onChecksumReport(body *checksumReportBody) {
	// Bound the history; stale entries mean the peer raced far ahead of our
	// confirmations and will be compared later or never.
	const maxChecksumHistory = 32
	if len(p.pendingChecksums) >= maxChecksumHistory {
		oldest := body.Frame.Sub(int32(maxChecksumHistory-1) * int32(maxInt(p.cfg.DesyncInterval, 1)))
		for frame := range p.pendingChecksums {
			if frame < oldest {
				delete(p.pendingChecksums, frame)
			}
		}
	}
	p.pendingChecksums[body.Frame] = body.Checksum
}

// popPendingOutput discards buffered inputs up to and including ackFrame.
func (p *peerEndpoint) popPendingOutput(ackFrame Frame) {
	for len(p.pendingOutput) > 0 && p.pendingOutput[0].frame <= ackFrame {
		p.lastAckedFrame = p.pendingOutput[0].frame
		p.pendingOutput = p.pendingOutput[1:]
	}
	if p.metrics != nil {
		p.metrics.Store(protocolPendingOutputMetricKey, uint64(len(p.pendingOutput)))
	}
}

// updateLocalFrameAdvantage estimates how far behind the remote peer we run,
// from its last reported frame plus half the round trip expressed in frames.
func (p *peerEndpoint) updateLocalFrameAdvantage(localFrame Frame) {
	if localFrame.IsNull() || p.lastRecvFrame.IsNull() {
		return
	}
	pingFrames := int32(p.roundTripTime.Milliseconds()/2) * int32(p.cfg.FPS) / 1000
	remoteFrame := p.lastRecvFrame.Add(pingFrames)
	p.localFrameAdvantage = int32(remoteFrame) - int32(localFrame)
}

func (p *peerEndpoint) averageFrameAdvantage() int32 {
	return p.timeSync.averageFrameAdvantage()
}

// sortedPendingChecksumFrames returns checksum report frames in ascending
// order; map iteration order must never influence which mismatch is reported
// first.
func (p *peerEndpoint) sortedPendingChecksumFrames() []Frame {
	frames := make([]Frame, 0, len(p.pendingChecksums))
	for frame := range p.pendingChecksums {
		frames = append(frames, frame)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// NetworkStats is a point-in-time snapshot of one peer link's quality.
type NetworkStats struct {
	// Ping is the measured round-trip time.
	Ping time.Duration
	// SendQueueLen is the number of unacknowledged input frames.
	SendQueueLen int
	// LocalFramesBehind is how many frames behind the remote peer we run.
	LocalFramesBehind int32
	// RemoteFramesBehind is how many frames behind us the remote peer runs.
	RemoteFramesBehind int32
}

func (p *peerEndpoint) networkStats() (NetworkStats, error) {
	if p.state != protocolSynchronizing && p.state != protocolRunning {
		return NetworkStats{}, ErrNotSynchronized
	}
	return NetworkStats{
		Ping:               p.roundTripTime,
		SendQueueLen:       len(p.pendingOutput),
		LocalFramesBehind:  p.localFrameAdvantage,
		RemoteFramesBehind: p.remoteFrameAdvantage,
	}, nil
}
