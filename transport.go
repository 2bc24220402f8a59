package netcode

import (
	"errors"
	"net"

	"driftline/netcode/internal/telemetry"
)

// Datagram is one raw packet together with the transport address it came
// from. Payloads are owned by the receiver.
type Datagram struct {
	Addr    string
	Payload []byte
}

// Socket is the unreliable, unordered datagram transport the session runs
// on. Implementations must be non-blocking from the simulation's point of
// view: SendTo is fire-and-forget and ReceiveAll only drains what already
// arrived. Sockets may drop, duplicate, and reorder packets freely; the
// protocol layer tolerates all three.
type Socket interface {
	// SendTo transmits the payload to the given peer address. Errors are
	// swallowed by design: a lost packet and a failed send are the same
	// event to the protocol.
	SendTo(payload []byte, addr string)
	// ReceiveAll returns every datagram received since the previous call.
	ReceiveAll() []Datagram
	// Close releases the underlying resources.
	Close() error
}

const udpRecvQueueDepth = 256

// UDPSocket adapts a net.UDPConn to the Socket interface. A dedicated reader
// goroutine parks on the blocking read and hands packets to the simulation
// goroutine through a buffered channel; when the channel is full the packet
// is dropped, which UDP allows anyway.
type UDPSocket struct {
	conn   *net.UDPConn
	recv   chan Datagram
	done   chan struct{}
	logger telemetry.Logger
}

// NewUDPSocket binds a UDP socket on the given local address
// (e.g. "0.0.0.0:7000") and starts its reader goroutine.
func NewUDPSocket(bindAddr string, logger telemetry.Logger) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	s := &UDPSocket{
		conn:   conn,
		recv:   make(chan Datagram, udpRecvQueueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.readLoop()
	return s, nil
}

// LocalAddr reports the bound address, useful when binding to port 0.
func (s *UDPSocket) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// SendTo implements Socket.
func (s *UDPSocket) SendTo(payload []byte, addr string) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("[udp] unresolvable peer address %q: %v", addr, err)
		}
		return
	}
	if _, err := s.conn.WriteToUDP(payload, udpAddr); err != nil && s.logger != nil {
		s.logger.Printf("[udp] send to %s failed: %v", addr, err)
	}
}

// ReceiveAll implements Socket.
func (s *UDPSocket) ReceiveAll() []Datagram {
	var out []Datagram
	for {
		select {
		case d := <-s.recv:
			out = append(out, d)
		default:
			return out
		}
	}
}

// Close implements Socket.
func (s *UDPSocket) Close() error {
	close(s.done)
	return s.conn.Close()
}

func (s *UDPSocket) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case s.recv <- Datagram{Addr: from.String(), Payload: payload}:
		default:
			// Receive queue saturated; drop like any other lost packet.
		}
	}
}

var _ Socket = (*UDPSocket)(nil)
