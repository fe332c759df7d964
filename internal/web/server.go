// Package web serves a browser view of a running pipeline: PNG frames and
// status over a websocket plus a small JSON control API.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guidoenr/scopekit/internal/chroma"
	"github.com/guidoenr/scopekit/internal/media"
	"github.com/guidoenr/scopekit/internal/params"
	"github.com/guidoenr/scopekit/internal/pipeline"
	"github.com/guidoenr/scopekit/internal/render"
	"github.com/rs/zerolog"
)

//go:embed static/index.html
var static embed.FS

const (
	maxUploadBytes = 256 << 20

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	defaultStatusInterval = 500 * time.Millisecond
)

// Controller runs fn on the goroutine that owns the pipeline.
type Controller interface {
	Do(ctx context.Context, fn func(p *pipeline.Coordinator) error) error
}

// Config configures a Server.
type Config struct {
	Controller Controller
	// FrameInterval is the minimum gap between frames pushed to clients.
	FrameInterval  time.Duration
	StatusInterval time.Duration
	Log            zerolog.Logger
}

// Status is the JSON view of the pipeline.
type Status struct {
	State     string  `json:"state"`
	Source    string  `json:"source,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Frames    uint64  `json:"frames"`
	Mode      string  `json:"mode"`
	Theme     string  `json:"theme"`
	Zoom      float64 `json:"zoom"`
	Smoothing float64 `json:"smoothing"`
	ChromaKey string  `json:"chromaKey"`
	Tolerance float64 `json:"tolerance"`
}

// UpdateRequest is a partial settings change. Absent fields keep their
// current value.
type UpdateRequest struct {
	Mode      *string  `json:"mode,omitempty"`
	Theme     *string  `json:"theme,omitempty"`
	Zoom      *float64 `json:"zoom,omitempty"`
	Smoothing *float64 `json:"smoothing,omitempty"`
	ChromaKey *string  `json:"chromaKey,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
}

type message struct {
	kind int
	data []byte
}

type client struct {
	conn   *websocket.Conn
	send   chan message
	server *Server
}

// Server is both an HTTP handler and a pipeline.FrameSink.
type Server struct {
	ctrl           Controller
	log            zerolog.Logger
	frameInterval  time.Duration
	statusInterval time.Duration

	mu        sync.Mutex
	clients   map[*client]struct{}
	broadcast chan message
	upgrader  websocket.Upgrader

	// frame encoding state, owned by the pipeline goroutine
	lastSent time.Time
	buf      bytes.Buffer
	encoder  png.Encoder
}

// NewServer creates a server. Call Start, or ListenAndServe, to run the
// broadcast loops.
func NewServer(cfg Config) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	return &Server{
		ctrl:           cfg.Controller,
		log:            cfg.Log,
		frameInterval:  cfg.FrameInterval,
		statusInterval: cfg.StatusInterval,
		clients:        make(map[*client]struct{}),
		broadcast:      make(chan message, 16),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		encoder: png.Encoder{CompressionLevel: png.BestSpeed},
	}
}

// SetController attaches the pipeline owner when it is created after the
// server. Call before serving.
func (s *Server) SetController(c Controller) { s.ctrl = c }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/update", s.handleUpdate)
	mux.HandleFunc("GET /api/themes", s.handleThemes)
	mux.HandleFunc("POST /api/open", s.handleOpen)
	mux.HandleFunc("POST /api/play", s.handleTransport)
	mux.HandleFunc("POST /api/pause", s.handleTransport)
	mux.HandleFunc("POST /api/stop", s.handleTransport)
	mux.HandleFunc("POST /api/microphone", s.handleMicrophone)
	mux.HandleFunc("DELETE /api/microphone", s.handleMicrophone)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start runs the broadcast and status loops until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.broadcastLoop(ctx)
	go s.statusLoop(ctx)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", "http://"+addr).Msg("web server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Present encodes the frame as PNG and queues it for every client. Frames
// closer together than the frame interval are skipped, and frames are
// dropped rather than blocking the pipeline when clients fall behind.
func (s *Server) Present(f pipeline.Frame) error {
	if f.Canvas == nil || s.Clients() == 0 {
		return nil
	}
	if !s.lastSent.IsZero() && f.At.Sub(s.lastSent) < s.frameInterval {
		return nil
	}
	s.lastSent = f.At

	s.buf.Reset()
	if err := s.encoder.Encode(&s.buf, f.Canvas); err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Index, err)
	}
	s.publish(message{kind: websocket.BinaryMessage, data: bytes.Clone(s.buf.Bytes())})
	return nil
}

func (s *Server) publish(m message) {
	select {
	case s.broadcast <- m:
	default:
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, render.ThemeNames())
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	apply, err := req.mutation()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var st Status
	err = s.ctrl.Do(r.Context(), func(p *pipeline.Coordinator) error {
		if err := p.Update(apply); err != nil {
			return err
		}
		st = statusOf(p)
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// mutation parses the request fields up front so the settings closure
// cannot fail halfway.
func (req UpdateRequest) mutation() (func(*params.Settings), error) {
	var mode params.Mode
	if req.Mode != nil {
		m, err := params.ParseMode(*req.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}
	var key *chroma.Settings
	if req.ChromaKey != nil {
		c, err := chroma.ParseHexColor(*req.ChromaKey)
		if err != nil {
			return nil, err
		}
		key = &chroma.Settings{Key: c}
	}
	return func(s *params.Settings) {
		if req.Mode != nil {
			s.Render.Mode = mode
		}
		if req.Theme != nil {
			s.Render.Theme = *req.Theme
		}
		if req.Zoom != nil {
			s.Render.Zoom = *req.Zoom
		}
		if req.Smoothing != nil {
			s.Smoothing = *req.Smoothing
		}
		if key != nil {
			s.Chroma.Key = key.Key
		}
		if req.Tolerance != nil {
			s.Chroma.Tolerance = *req.Tolerance
		}
	}, nil
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	// read before handing off so the pipeline goroutine never waits on the network
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	var st Status
	err = s.ctrl.Do(r.Context(), func(p *pipeline.Coordinator) error {
		if err := p.OpenFile(name, bytes.NewReader(data)); err != nil {
			return err
		}
		if err := p.Play(); err != nil {
			return err
		}
		st = statusOf(p)
		return nil
	})
	switch {
	case errors.Is(err, media.ErrUnsupportedMedia):
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	var st Status
	err := s.ctrl.Do(r.Context(), func(p *pipeline.Coordinator) error {
		var err error
		switch r.URL.Path {
		case "/api/play":
			err = p.Play()
		case "/api/pause":
			err = p.Pause()
		default:
			p.Stop()
		}
		st = statusOf(p)
		return err
	})
	switch {
	case errors.Is(err, pipeline.ErrNoSource):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleMicrophone(w http.ResponseWriter, r *http.Request) {
	var st Status
	err := s.ctrl.Do(r.Context(), func(p *pipeline.Coordinator) error {
		var err error
		if r.Method == http.MethodDelete {
			err = p.StopMicrophone()
		} else {
			err = p.StartMicrophone(r.Context())
		}
		st = statusOf(p)
		return err
	})
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, media.ErrDeviceUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan message, 8),
		server: s,
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	go c.writePump()
	go c.readPump()
}

func (s *Server) status(ctx context.Context) (Status, error) {
	var st Status
	err := s.ctrl.Do(ctx, func(p *pipeline.Coordinator) error {
		st = statusOf(p)
		return nil
	})
	return st, err
}

func statusOf(p *pipeline.Coordinator) Status {
	set := p.Settings()
	st := Status{
		State:     p.State().String(),
		Frames:    p.Frames(),
		Mode:      string(set.Render.Mode),
		Theme:     set.Render.Theme,
		Zoom:      set.Render.Zoom,
		Smoothing: set.Smoothing,
		ChromaKey: chroma.FormatHexColor(set.Chroma.Key),
		Tolerance: set.Chroma.Tolerance,
	}
	if src := p.Source(); src != nil {
		st.Source = src.Name()
		st.Kind = src.Kind().String()
	}
	return st
}

// unregister removes c and closes its send channel exactly once.
func (s *Server) unregister(c *client) {
	s.mu.Lock()
	s.removeLocked(c)
	s.mu.Unlock()
}

func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for c := range s.clients {
				s.removeLocked(c)
			}
			s.mu.Unlock()
			return
		case m := <-s.broadcast:
			s.mu.Lock()
			for c := range s.clients {
				select {
				case c.send <- m:
				default:
					// slow client
					s.removeLocked(c)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.Clients() == 0 {
			continue
		}
		st, err := s.status(ctx)
		if err != nil {
			continue
		}
		data, err := json.Marshal(st)
		if err != nil {
			continue
		}
		s.publish(message{kind: websocket.TextMessage, data: data})
	}
}

func (c *client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case m, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(m.kind, m.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
