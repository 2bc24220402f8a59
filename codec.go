package netcode

import (
	"encoding/json"
	"fmt"
)

// encodeMessage serializes a wire message. The envelope always carries the
// protocol version so old peers reject new traffic instead of misparsing it.
func encodeMessage(msg *message) ([]byte, error) {
	msg.Ver = protocolVersion
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}
	return data, nil
}

// decodeMessage parses a wire message, rejecting unknown versions and
// envelopes whose body does not match the declared kind. Payload validation
// beyond shape (input sizes, frame ranges) belongs to the endpoint.
func decodeMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Ver != protocolVersion {
		return nil, fmt.Errorf("decode message: unsupported protocol version %d", msg.Ver)
	}
	var ok bool
	switch msg.Kind {
	case msgSyncRequest:
		ok = msg.SyncRequest != nil
	case msgSyncReply:
		ok = msg.SyncReply != nil
	case msgInput:
		ok = msg.Input != nil
	case msgInputAck:
		ok = msg.InputAck != nil
	case msgQualityReport:
		ok = msg.QualityReport != nil
	case msgQualityReply:
		ok = msg.QualityReply != nil
	case msgChecksumReport:
		ok = msg.ChecksumReport != nil
	case msgKeepAlive:
		ok = true
	default:
		return nil, fmt.Errorf("decode message: unknown kind %q", msg.Kind)
	}
	if !ok {
		return nil, fmt.Errorf("decode message: %s envelope missing body", msg.Kind)
	}
	return &msg, nil
}
