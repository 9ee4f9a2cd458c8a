// Package monitor provides a read-only diagnostics mirror of the
// controller's outbound protocol traffic over WebSocket. Operators
// attach a browser or websocat to watch the line stream without
// touching the serial link itself.
package monitor

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"mountctl/pkg/log"
)

// clientBuffer bounds the per-client send queue; a stalled viewer is
// disconnected rather than allowed to block the mirror.
const clientBuffer = 64

// Server mirrors outbound lines to attached WebSocket clients.
type Server struct {
	addr   string
	logger *log.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[int64]chan string
	nextID  int64

	running atomic.Bool
}

// New creates a monitor server listening on addr (e.g. ":9180").
func New(addr string, logger *log.Logger) *Server {
	s := &Server{
		addr:    addr,
		logger:  logger,
		clients: make(map[int64]chan string),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", s.handleWatch)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	s.running.Store(true)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("monitor server: %v", err)
		}
	}()
	s.logger.Info("monitor listening on %s", s.addr)
}

// Stop shuts the server down and disconnects all clients.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.mu.Lock()
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

// Mirror fans one outbound line out to every client. Safe to install
// directly as the transport's Mirror hook; it never blocks the control
// loop, a client that cannot keep up just loses lines.
func (s *Server) Mirror(line string) {
	if !s.running.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- line:
		default:
		}
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("monitor upgrade: %v", err)
		return
	}
	ch := make(chan string, clientBuffer)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.clients[id] = ch
	s.mu.Unlock()
	s.logger.Info("monitor client %d connected from %s", id, r.RemoteAddr)

	// Discard inbound frames; the mirror is one-way. Reading also
	// detects the disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				if c, ok := s.clients[id]; ok {
					close(c)
					delete(s.clients, id)
				}
				s.mu.Unlock()
				return
			}
		}
	}()

	for line := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			s.mu.Lock()
			if c, ok := s.clients[id]; ok {
				close(c)
				delete(s.clients, id)
			}
			s.mu.Unlock()
			break
		}
	}
	conn.Close()
	s.logger.Info("monitor client %d disconnected", id)
}
