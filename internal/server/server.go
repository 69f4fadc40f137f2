// Package server exposes the translation engine over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/capture"
	"github.com/mucsbr/Screen-Translate/internal/config"
	"github.com/mucsbr/Screen-Translate/internal/engine"
	"github.com/mucsbr/Screen-Translate/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

// CommandMessage carries an inbound start/stop/ping command.
type CommandMessage struct {
	Type    string `json:"type"`
	Mode    string `json:"mode,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// AckMessage confirms a processed command.
type AckMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	State   string `json:"state"`
}

// EventMessage relays one engine event envelope.
type EventMessage struct {
	Type  string       `json:"type"`
	Event engine.Event `json:"event"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StatusResponse reports the engine state over REST.
type StatusResponse struct {
	State       string `json:"state"`
	UptimeMS    int64  `json:"uptime_ms"`
	Subscribers int    `json:"subscribers"`
}

// StartRequest optionally selects the run mode.
type StartRequest struct {
	Mode string `json:"mode"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Engine is the slice of the translation engine the server drives.
type Engine interface {
	Start(cfg engine.Config) error
	Stop()
	State() engine.State
	StartedAt() time.Time
	Subscribe() (<-chan engine.Event, func())
	Subscribers() int
	History(limit int) []engine.HistoryEntry
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	engine  Engine
	manager *config.Manager
	runtime config.Runtime

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server.
func New(eng Engine, manager *config.Manager, rt config.Runtime) *Server {
	return &Server{
		engine:     eng,
		manager:    manager,
		runtime:    rt,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleConfigGet)
	mux.HandleFunc("PUT /api/config", s.handleConfigPut)
	mux.HandleFunc("POST /api/engine/start", s.handleEngineStart)
	mux.HandleFunc("POST /api/engine/stop", s.handleEngineStop)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Shutdown closes every live WebSocket connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// engineConfig maps the current file config and runtime settings onto a
// run snapshot.
func (s *Server) engineConfig(mode engine.Mode) engine.Config {
	cfg := s.manager.Config()
	return engine.Config{
		Mode: mode,
		SourceRegion: capture.Region{
			X:      cfg.SourceRegion.X,
			Y:      cfg.SourceRegion.Y,
			Width:  cfg.SourceRegion.Width,
			Height: cfg.SourceRegion.Height,
		},
		Interval:            time.Duration(cfg.Translation.IntervalMS) * time.Millisecond,
		SourceLanguage:      cfg.Translation.SourceLanguage,
		TargetLanguage:      cfg.Translation.TargetLanguage,
		APIEndpoint:         cfg.API.Endpoint,
		APIKey:              cfg.API.APIKey,
		Model:               cfg.API.Model,
		SystemPrompt:        cfg.API.SystemPrompt,
		TessdataPath:        s.runtime.TessdataPath,
		SpeechServerURL:     s.runtime.SpeechServerURL,
		TranscribeServerURL: s.runtime.TranscribeServerURL,
		AudioDeviceIndex:    s.runtime.AudioDeviceIndex,
		AudioDeviceKeywords: s.runtime.AudioDeviceKeywords,
	}
}

func (s *Server) startEngine(mode string) error {
	m := engine.ModeScreen
	if mode != "" {
		m = engine.Mode(mode)
	}
	return s.engine.Start(s.engineConfig(m))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	events, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()
	go s.relayEvents(baseCtx, conn, events)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "start":
			var cmd CommandMessage
			if err := json.Unmarshal(raw, &cmd); err != nil {
				continue
			}
			s.handleStartCommand(commandContext(baseCtx, cmd.TraceID), conn, cmd.Mode)
		case "stop":
			s.handleStopCommand(commandContext(baseCtx, ""), conn)
		case "ping":
			_ = wsjson.Write(baseCtx, conn, PongMessage{Type: "pong"})
		}
	}
}

// commandContext resumes the client's trace when the command carries
// one, otherwise keeps or mints the connection's own.
func commandContext(ctx context.Context, traceID string) context.Context {
	if traceID != "" {
		tc := trace.NewChild(trace.Context{TraceID: traceID})
		return trace.WithContext(ctx, tc)
	}
	ctx, _ = trace.EnsureContext(ctx)
	return ctx
}

func (s *Server) handleStartCommand(ctx context.Context, conn *websocket.Conn, mode string) {
	ctx, span := trace.StartSpan(ctx, "engine_start")
	defer span.End()

	log := trace.Logger(ctx)
	if err := s.startEngine(mode); err != nil {
		span.SetAttr("error", err.Error())
		log.Error("engine start failed", "error", err)
		_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
		return
	}
	log.Info("engine started", "mode", mode)
	_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Command: "start", State: string(s.engine.State())})
}

func (s *Server) handleStopCommand(ctx context.Context, conn *websocket.Conn) {
	ctx, span := trace.StartSpan(ctx, "engine_stop")
	defer span.End()

	s.engine.Stop()
	trace.Logger(ctx).Info("engine stopped")
	_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Command: "stop", State: string(s.engine.State())})
}

// relayEvents forwards engine events to one connection until the
// subscription or the connection goes away.
func (s *Server) relayEvents(ctx context.Context, conn *websocket.Conn, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, EventMessage{Type: "event", Event: ev})
			cancel()
			if err != nil {
				slog.Debug("websocket event write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := StatusResponse{
		State:       string(s.engine.State()),
		Subscribers: s.engine.Subscribers(),
	}
	if started := s.engine.StartedAt(); !started.IsZero() {
		st.UptimeMS = time.Since(started).Milliseconds()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Config())
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	// Decode over the current snapshot so a partial document only
	// touches the fields it names.
	cfg := s.manager.Config()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, r, apperr.Wrap(err, apperr.CodeConfig, "parse config body"))
		return
	}
	if err := s.manager.Update(cfg); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Config())
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperr.Wrap(err, apperr.CodeConfig, "parse start request"))
		return
	}
	if err := s.startEngine(req.Mode); err != nil {
		writeError(w, r, err)
		return
	}
	trace.Logger(r.Context()).Info("engine started", "mode", req.Mode)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "state": string(s.engine.State())})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	trace.Logger(r.Context()).Info("engine stopped")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "state": string(s.engine.State())})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, apperr.Newf(apperr.CodeConfig, "invalid history limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.engine.History(limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.FromError(err)
	trace.Logger(r.Context()).Error("request failed", "code", ae.Code, "error", err)
	writeJSON(w, ae.HTTPStatus(), map[string]string{
		"error": ae.Message,
		"code":  string(ae.Code),
	})
}
