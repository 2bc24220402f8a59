package netcode

// EventType discriminates session events surfaced to the host.
type EventType string

const (
	// EventSynchronizing reports handshake progress with one peer.
	EventSynchronizing EventType = "synchronizing"
	// EventSynchronized reports that one peer finished the handshake.
	EventSynchronized EventType = "synchronized"
	// EventRunning reports that every peer finished the handshake and the
	// session accepts inputs.
	EventRunning EventType = "running"
	// EventDisconnected reports that a peer left or timed out. Non-fatal:
	// the session keeps running with the remaining peers.
	EventDisconnected EventType = "disconnected"
	// EventNetworkInterrupted reports that a peer went silent long enough
	// that a disconnect is imminent unless traffic resumes.
	EventNetworkInterrupted EventType = "network_interrupted"
	// EventNetworkResumed reports traffic from a previously silent peer.
	EventNetworkResumed EventType = "network_resumed"
	// EventWaitRecommendation suggests the host skip frames to let slower
	// peers catch up. Advisory only.
	EventWaitRecommendation EventType = "wait_recommendation"
	// EventDesyncDetected reports a checksum mismatch at a confirmed frame.
	// Fatal for the match: both sides agree on the inputs yet computed
	// different states, so the host simulation is not deterministic.
	EventDesyncDetected EventType = "desync_detected"
)

// Event is a session-level notification. Fields are populated per Type.
type Event struct {
	Type EventType
	// Player is set for peer-scoped events.
	Player PlayerHandle
	// Addr is the transport address of the peer concerned, if any.
	Addr string

	// Handshake progress (EventSynchronizing).
	SyncCount int
	SyncTotal int

	// EventWaitRecommendation: frames the host should skip.
	SkipFrames int

	// EventNetworkInterrupted: time until forced disconnect, in milliseconds.
	DisconnectTimeoutMillis int64

	// EventDesyncDetected.
	Frame          Frame
	LocalChecksum  uint64
	RemoteChecksum uint64
}

// maxEventQueue caps the session event backlog; the oldest events are
// discarded first once the host stops draining.
const maxEventQueue = 100
