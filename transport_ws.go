package netcode

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"driftline/netcode/internal/telemetry"
)

const wsRecvQueueDepth = 256

// WebSocketSocket carries session datagrams over websocket connections. It
// trades UDP's loss model for TCP ordering, which the protocol tolerates
// without caring, and lets peers connect through proxies and browsers.
//
// Outbound peers are addressed by ws:// URL and dialed lazily on first send.
// Inbound peers connect to Handler and identify themselves with a "peer"
// query parameter; that name becomes their datagram address.
type WebSocketSocket struct {
	localName string
	logger    telemetry.Logger
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*websocket.Conn
	recv  chan Datagram
	done  chan struct{}
}

// NewWebSocketSocket creates a websocket transport. localName is the
// identity announced when dialing out.
func NewWebSocketSocket(localName string, logger telemetry.Logger) *WebSocketSocket {
	return &WebSocketSocket{
		localName: localName,
		logger:    logger,
		conns:     make(map[string]*websocket.Conn),
		recv:      make(chan Datagram, wsRecvQueueDepth),
		done:      make(chan struct{}),
	}
}

// Handler accepts inbound peer connections.
func (s *WebSocketSocket) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := r.URL.Query().Get("peer")
		if peer == "" {
			http.Error(w, "missing peer parameter", http.StatusBadRequest)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("[ws] upgrade from %s failed: %v", r.RemoteAddr, err)
			}
			return
		}
		s.register(peer, conn)
	})
}

// SendTo implements Socket. Unknown ws:// addresses are dialed on first use.
func (s *WebSocketSocket) SendTo(payload []byte, addr string) {
	conn := s.connFor(addr)
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		if s.logger != nil {
			s.logger.Printf("[ws] send to %s failed: %v", addr, err)
		}
		s.drop(addr)
	}
}

// ReceiveAll implements Socket.
func (s *WebSocketSocket) ReceiveAll() []Datagram {
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
func (s *WebSocketSocket) Close() error {
	close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, addr)
	}
	return nil
}

func (s *WebSocketSocket) connFor(addr string) *websocket.Conn {
	s.mu.Lock()
	if conn, ok := s.conns[addr]; ok {
		s.mu.Unlock()
		return conn
	}
	s.mu.Unlock()

	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		if s.logger != nil {
			s.logger.Printf("[ws] not a dialable peer address: %q", addr)
		}
		return nil
	}
	q := u.Query()
	q.Set("peer", s.localName)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("[ws] dial %s failed: %v", addr, err)
		}
		return nil
	}
	s.register(addr, conn)
	return conn
}

func (s *WebSocketSocket) register(addr string, conn *websocket.Conn) {
	s.mu.Lock()
	if old, ok := s.conns[addr]; ok {
		_ = old.Close()
	}
	s.conns[addr] = conn
	s.mu.Unlock()
	go s.readLoop(addr, conn)
}

func (s *WebSocketSocket) drop(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[addr]; ok {
		_ = conn.Close()
		delete(s.conns, addr)
	}
}

func (s *WebSocketSocket) readLoop(addr string, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if s.logger != nil {
					s.logger.Printf("[ws] read from %s ended: %v", addr, err)
				}
				s.drop(addr)
			}
			return
		}
		select {
		case s.recv <- Datagram{Addr: addr, Payload: payload}:
		default:
			// Queue saturated; shed the packet like a lossy link would.
		}
	}
}

var _ Socket = (*WebSocketSocket)(nil)
