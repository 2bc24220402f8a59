package netcode

import "sync"

// PipeNetwork is an in-memory transport fabric for tests and local sessions.
// Sockets attached to the same network exchange datagrams deterministically
// in send order. Optional Drop and Duplicate hooks inject the failure modes
// an unreliable transport exhibits.
type PipeNetwork struct {
	mu    sync.Mutex
	boxes map[string][]Datagram

	// Drop, when set, is consulted per packet; returning true discards it.
	Drop func(from, to string, payload []byte) bool
	// Duplicate, when set, is consulted per packet; returning true delivers
	// the packet twice.
	Duplicate func(from, to string, payload []byte) bool
}

// NewPipeNetwork creates an empty fabric.
func NewPipeNetwork() *PipeNetwork {
	return &PipeNetwork{boxes: make(map[string][]Datagram)}
}

// Attach returns a Socket bound to the given address on this network.
func (n *PipeNetwork) Attach(addr string) *PipeSocket {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.boxes[addr]; !ok {
		n.boxes[addr] = nil
	}
	return &PipeSocket{network: n, addr: addr}
}

func (n *PipeNetwork) deliver(from, to string, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Drop != nil && n.Drop(from, to, payload) {
		return
	}
	copies := 1
	if n.Duplicate != nil && n.Duplicate(from, to, payload) {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		buf := append([]byte(nil), payload...)
		n.boxes[to] = append(n.boxes[to], Datagram{Addr: from, Payload: buf})
	}
}

func (n *PipeNetwork) drain(addr string) []Datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.boxes[addr]
	n.boxes[addr] = nil
	return out
}

// PipeSocket is one endpoint on a PipeNetwork.
type PipeSocket struct {
	network *PipeNetwork
	addr    string
}

// Addr returns the address this socket is attached as.
func (s *PipeSocket) Addr() string {
	return s.addr
}

// SendTo implements Socket.
func (s *PipeSocket) SendTo(payload []byte, addr string) {
	s.network.deliver(s.addr, addr, payload)
}

// ReceiveAll implements Socket.
func (s *PipeSocket) ReceiveAll() []Datagram {
	return s.network.drain(s.addr)
}

// Close implements Socket.
func (s *PipeSocket) Close() error {
	return nil
}

var _ Socket = (*PipeSocket)(nil)
