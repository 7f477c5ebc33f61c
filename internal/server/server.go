// Package server exposes a link over HTTP: pin events stream to websocket
// clients, and a small JSON API writes pins and edits the configuration.
package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/config"
	"github.com/shaunagostinho/ardulink-go/internal/observability"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// Device is the part of a link the server drives.
type Device interface {
	SwitchDigitalPin(p pin.Pin, on bool) error
	SwitchAnalogPin(p pin.Pin, value int) error
	StartListening(p pin.Pin) error
	StopListening(p pin.Pin) error
}

// Server broadcasts pin events to WebSocket clients and serves the API.
type Server struct {
	cfg   *config.Config
	dev   Device
	webFS fs.FS
	log   zerolog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	stateMu sync.RWMutex
	values  map[pin.Pin]int
	status  string
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to WebSocket clients.
type Frame struct {
	Pin    string         `json:"pin,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	Value  *int           `json:"value,omitempty"`
	Status string         `json:"status,omitempty"` // "connecting", "ready", "lost", "reconnected"
	Values map[string]int `json:"values,omitempty"` // snapshot sent on connect
	Stamp  int64          `json:"stamp"`            // Unix ms
}

// Link status values reported in frames.
const (
	StatusConnecting  = "connecting"
	StatusReady       = "ready"
	StatusLost        = "lost"
	StatusReconnected = "reconnected"
)

// New creates a Server. dev may be nil until SetDevice is called.
func New(cfg *config.Config, dev Device, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		dev:     dev,
		webFS:   webFS,
		log:     observability.Component("server"),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		values: make(map[pin.Pin]int),
		status: StatusConnecting,
	}
}

// SetDevice attaches the link once it is connected.
func (s *Server) SetDevice(dev Device) {
	s.stateMu.Lock()
	s.dev = dev
	s.stateMu.Unlock()
}

func (s *Server) device() Device {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.dev
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("GET /api/pins", s.handlePins)
	mux.HandleFunc("POST /api/pins/{pin}", s.handleWritePin)
	mux.HandleFunc("POST /api/pins/{pin}/listen", s.handleListen)
	mux.HandleFunc("DELETE /api/pins/{pin}/listen", s.handleListen)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// PinChanged records and broadcasts a pin event.
func (s *Server) PinChanged(e proto.PinChanged) {
	s.stateMu.Lock()
	s.values[e.Pin] = e.Value
	s.stateMu.Unlock()

	v := e.Value
	s.broadcast(Frame{Pin: e.Pin.String(), Kind: e.Pin.Kind.String(), Value: &v, Stamp: time.Now().UnixMilli()})
}

func (s *Server) ConnectionReady()         { s.setStatus(StatusReady) }
func (s *Server) ConnectionLost(err error) { s.setStatus(StatusLost) }
func (s *Server) Reconnected()             { s.setStatus(StatusReconnected) }

func (s *Server) setStatus(status string) {
	s.stateMu.Lock()
	s.status = status
	s.stateMu.Unlock()
	s.broadcast(Frame{Status: status, Stamp: time.Now().UnixMilli()})
}

func (s *Server) snapshot() Frame {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	values := make(map[string]int, len(s.values))
	for p, v := range s.values {
		values[p.String()] = v
	}
	return Frame{Status: s.status, Values: values, Stamp: time.Now().UnixMilli()}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	if data, err := json.Marshal(s.snapshot()); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info().Int("clients", n).Msg("client connected")

	// Writer
	go func() {
		defer conn.Close()
		for msg := range client.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader, for keep-alive and close detection
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Info().Int("clients", n).Msg("client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Error().Err(err).Msg("config save failed")
		}
		writeOK(w)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePins(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

type writeRequest struct {
	Value int `json:"value"`
}

func (s *Server) handleWritePin(w http.ResponseWriter, r *http.Request) {
	p, dev, ok := s.pinRequest(w, r)
	if !ok {
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var err error
	if p.IsDigital() {
		err = dev.SwitchDigitalPin(p, req.Value != 0)
	} else {
		err = dev.SwitchAnalogPin(p, req.Value)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeOK(w)
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	p, dev, ok := s.pinRequest(w, r)
	if !ok {
		return
	}
	var err error
	if r.Method == http.MethodDelete {
		err = dev.StopListening(p)
	} else {
		err = dev.StartListening(p)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeOK(w)
}

func (s *Server) pinRequest(w http.ResponseWriter, r *http.Request) (pin.Pin, Device, bool) {
	p, err := pin.Parse(r.PathValue("pin"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return pin.Pin{}, nil, false
	}
	dev := s.device()
	if dev == nil {
		http.Error(w, "device not connected", http.StatusServiceUnavailable)
		return pin.Pin{}, nil, false
	}
	return p, dev, true
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
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
