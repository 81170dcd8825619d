// Package bridge carries CAN frames over TCP so that independent
// processes can share one logical bus. The server side broadcasts every
// outbound frame to all connected peers; the client side dials in and
// exposes the stream as a can.Bus.
package bridge

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/shaunagostinho/autopulse/internal/can"
)

// Server accepts reader connections and relays frames between them and
// the simulator. Frames received from any peer are queued on a single
// request channel; Broadcast fans a frame out to every connected peer.
type Server struct {
	addr string

	mu      sync.Mutex
	ln      net.Listener
	clients map[net.Conn]struct{}
	closed  bool

	requests chan can.Frame
}

// NewServer creates a server that will listen on addr.
func NewServer(addr string) *Server {
	return &Server{
		addr:     addr,
		clients:  make(map[net.Conn]struct{}),
		requests: make(chan can.Frame, 256),
	}
}

// Requests returns the queue of frames received from bridge peers,
// in per-connection arrival order.
func (s *Server) Requests() <-chan can.Frame {
	return s.requests
}

// Addr returns the bound listen address, valid after Run has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listen binds the listen socket without accepting yet, so callers can
// learn the port before starting Run.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Printf("[bridge] listening on %s", ln.Addr())
	return nil
}

// Run accepts connections until the context is cancelled or the
// listener fails. Each peer gets its own receive goroutine; one peer's
// failure never disturbs the others.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.addClient(conn)
		go s.recvLoop(conn)
	}
}

// Broadcast encodes the frame once and writes it to every connected
// peer. A failed write removes that peer but delivery to the remaining
// peers continues.
func (s *Server) Broadcast(f can.Frame) {
	buf, err := f.MarshalBinary()
	if err != nil {
		log.Printf("[bridge] refusing to broadcast: %v", err)
		return
	}

	s.mu.Lock()
	targets := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if _, err := c.Write(buf); err != nil {
			log.Printf("[bridge] write to %s failed: %v", c.RemoteAddr(), err)
			s.dropClient(c)
		}
	}
}

// ClientCount returns the number of connected peers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops the listener and disconnects all peers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.clients = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) addClient(conn net.Conn) {
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	log.Printf("[bridge] client connected from %s (%d total)", conn.RemoteAddr(), n)
}

// dropClient removes the peer exactly once and closes its socket.
func (s *Server) dropClient(conn net.Conn) {
	s.mu.Lock()
	_, present := s.clients[conn]
	delete(s.clients, conn)
	n := len(s.clients)
	s.mu.Unlock()
	if present {
		conn.Close()
		log.Printf("[bridge] client %s removed (%d total)", conn.RemoteAddr(), n)
	}
}

// recvLoop decodes frames from one peer into the request queue. Any
// read error, including a short read mid-frame, terminates the
// connection; there is no resynchronization.
func (s *Server) recvLoop(conn net.Conn) {
	defer s.dropClient(conn)
	for {
		f, err := can.ReadFrame(conn)
		if err != nil {
			return
		}
		s.requests <- f
	}
}
