package netcode

// protocolVersion gates the wire format; decoders reject anything else.
const protocolVersion = 1

// connectionStatus is the per-player view piggy-backed on every input packet
// so disconnects propagate without a dedicated broadcast.
type connectionStatus struct {
	Disconnected bool  `json:"disconnected"`
	LastFrame    Frame `json:"lastFrame"`
}

func newConnectionStatuses(n int) []connectionStatus {
	status := make([]connectionStatus, n)
	for i := range status {
		status[i].LastFrame = NullFrame
	}
	return status
}

type messageKind string

const (
	msgSyncRequest    messageKind = "syncRequest"
	msgSyncReply      messageKind = "syncReply"
	msgInput          messageKind = "input"
	msgInputAck       messageKind = "inputAck"
	msgQualityReport  messageKind = "qualityReport"
	msgQualityReply   messageKind = "qualityReply"
	msgChecksumReport messageKind = "checksumReport"
	msgKeepAlive      messageKind = "keepAlive"
)

// syncRequestBody carries a nonce the peer must echo back; enough matching
// roundtrips establish identity agreement.
type syncRequestBody struct {
	Nonce uint32 `json:"nonce"`
}

type syncReplyBody struct {
	Nonce uint32 `json:"nonce"`
}

// inputBody carries every not-yet-acknowledged local input starting at
// StartFrame, one fixed-size payload per frame. AckFrame acknowledges the
// newest remote input we have seen (sliding-window ack, no per-packet ack),
// and PeerStatus relays our whole connection table.
type inputBody struct {
	StartFrame          Frame              `json:"startFrame"`
	AckFrame            Frame              `json:"ackFrame"`
	DisconnectRequested bool               `json:"disconnectRequested"`
	PeerStatus          []connectionStatus `json:"peerStatus"`
	Inputs              [][]byte           `json:"inputs"`
	// Checksum guards the payload bytes against transport corruption; it is
	// unrelated to desync detection.
	Checksum uint16 `json:"checksum"`
}

func (b *inputBody) payloadChecksum() uint16 {
	var all []byte
	for _, in := range b.Inputs {
		all = append(all, in...)
	}
	return fletcher16(all)
}

type inputAckBody struct {
	AckFrame Frame `json:"ackFrame"`
}

// qualityReportBody carries our frame advantage and a wall-clock ping
// timestamp the peer echoes back for RTT measurement.
type qualityReportBody struct {
	FrameAdvantage int32 `json:"frameAdvantage"`
	Ping           int64 `json:"ping"`
}

type qualityReplyBody struct {
	Pong int64 `json:"pong"`
}

type checksumReportBody struct {
	Frame    Frame  `json:"frame"`
	Checksum uint64 `json:"checksum"`
}

// message is the wire envelope. Magic identifies the sending endpoint within
// a session; after the handshake, packets bearing an unknown magic are
// dropped, which rejects cross-session and stale traffic.
type message struct {
	Ver   int         `json:"ver"`
	Magic uint16      `json:"magic"`
	Kind  messageKind `json:"kind"`

	SyncRequest    *syncRequestBody    `json:"syncRequest,omitempty"`
	SyncReply      *syncReplyBody      `json:"syncReply,omitempty"`
	Input          *inputBody          `json:"input,omitempty"`
	InputAck       *inputAckBody       `json:"inputAck,omitempty"`
	QualityReport  *qualityReportBody  `json:"qualityReport,omitempty"`
	QualityReply   *qualityReplyBody   `json:"qualityReply,omitempty"`
	ChecksumReport *checksumReportBody `json:"checksumReport,omitempty"`
}
