// Package server implements the diagnostics gateway: it attaches to
// the CAN bridge as one more peer, watches broadcast traffic for
// trouble-code frames and exposes them over HTTP and WebSocket, along
// with a proxy to the explanation backend.
package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/autopulse/internal/can"
	"github.com/shaunagostinho/autopulse/internal/config"
	"github.com/shaunagostinho/autopulse/internal/dtc"
	"github.com/shaunagostinho/autopulse/internal/explain"
)

// maxQueuedCodes bounds the latest-DTC queue; the oldest entry is
// dropped once a browser stops polling.
const maxQueuedCodes = 64

// Server is the diagnostics gateway.
type Server struct {
	cfg     config.GatewayConfig
	bus     can.Bus
	explain *explain.Client
	webFS   fs.FS

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}

	upgrader websocket.Upgrader

	mu    sync.Mutex
	codes []string // FIFO of codes seen on the bus
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Event is the JSON structure pushed to WebSocket clients whenever a
// trouble code appears on the bus.
type Event struct {
	Code  string `json:"code"`
	Desc  string `json:"desc,omitempty"`
	Stamp int64  `json:"stamp"` // Unix ms
}

// New creates a gateway reading frames from bus.
func New(cfg config.GatewayConfig, bus can.Bus, ex *explain.Client, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		bus:     bus,
		explain: ex,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the bus watcher and the HTTP server, and blocks until the
// context is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/latest_dtc", s.handleLatestDTC)
	mux.HandleFunc("/analyze", s.handleAnalyze)

	go s.watchBus(ctx)

	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[gateway] listening on %s", s.cfg.ListenAddr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// watchBus scans broadcast frames for mode 0x43 responses and queues
// every non-zero code pair they carry.
func (s *Server) watchBus(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.bus.Frames():
			if !ok {
				log.Printf("[gateway] bridge connection closed")
				return
			}
			s.HandleFrame(f)
		}
	}
}

// HandleFrame extracts trouble codes from one frame, if it is a
// read-DTCs response. Other traffic is ignored.
func (s *Server) HandleFrame(f can.Frame) {
	if f.Len < 2 || f.Data[1] != 0x43 {
		return
	}
	for i := 2; i+1 < int(f.Len); i += 2 {
		c := dtc.Code{High: f.Data[i], Low: f.Data[i+1]}
		if c.IsZero() {
			continue
		}
		code := c.String()
		log.Printf("[gateway] received DTC %s", code)
		s.pushCode(code)
		s.broadcast(Event{
			Code:  code,
			Desc:  dtc.Describe(code),
			Stamp: time.Now().UnixMilli(),
		})
	}
}

func (s *Server) pushCode(code string) {
	s.mu.Lock()
	s.codes = append(s.codes, code)
	if len(s.codes) > maxQueuedCodes {
		s.codes = s.codes[1:]
	}
	s.mu.Unlock()
}

// popCode removes and returns the oldest queued code, if any.
func (s *Server) popCode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return "", false
	}
	code := s.codes[0]
	s.codes = s.codes[1:]
	return code, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	log.Printf("[ws] client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive only)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleLatestDTC(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if code, ok := s.popCode(); ok {
		json.NewEncoder(w).Encode(map[string]string{"code": code})
		return
	}
	w.Write([]byte(`{"code":null}` + "\n"))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	result, err := s.explain.Analyze(r.Context(), req.Code)
	if err != nil {
		log.Printf("[gateway] analyze %s failed: %v", req.Code, err)
		http.Error(w, "analysis backend unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func allowCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
