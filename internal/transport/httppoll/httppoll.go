// Package httppoll is the HTTP long-poll transport (spec.md §4.6.2):
// stateless register/unregister/send_event calls plus a poll endpoint
// that blocks against an internal/queue.AgentQueue until an event
// arrives or the wait elapses.
package httppoll

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/queue"
	"github.com/openagents/network/internal/router"
	"github.com/openagents/network/internal/topology"
)

// Config controls the HTTP transport's listen address, auth, and
// per-agent queue sizing.
type Config struct {
	ListenAddr string
	// AuthToken, if non-empty, is required as a Bearer token on every
	// request except /api/health and CORS preflight OPTIONS requests.
	AuthToken     string
	QueueCapacity int
	// DefaultWait is used when a poll request omits wait_ms.
	DefaultWait time.Duration
	// MaxWait bounds how long a single poll call may block.
	MaxWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = queue.DefaultCapacity
	}
	if c.DefaultWait <= 0 {
		c.DefaultWait = 25 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	return c
}

// Transport is the HTTP long-poll transport.
type Transport struct {
	cfg    Config
	router *router.Router
	topo   *topology.Topology
	mods   *modpipeline.Pipeline
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue.AgentQueue

	server *http.Server
}

// New builds an HTTP long-poll Transport.
func New(cfg Config, r *router.Router, topo *topology.Topology, mods *modpipeline.Pipeline, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg.withDefaults(),
		router: r,
		topo:   topo,
		mods:   mods,
		logger: logger,
		queues: make(map[string]*queue.AgentQueue),
	}
}

// Start binds and begins serving in the background.
func (t *Transport) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", t.handleRegister)
	mux.HandleFunc("/api/unregister", t.handleUnregister)
	mux.HandleFunc("/api/send_event", t.handleSendEvent)
	mux.HandleFunc("/api/poll", t.handlePoll)
	mux.HandleFunc("/api/health", t.handleHealth)

	t.server = &http.Server{
		Addr:    t.cfg.ListenAddr,
		Handler: t.withMiddleware(mux),
	}
	ln, err := newListener(t.cfg.ListenAddr)
	if err != nil {
		return err
	}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Info("httppoll server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully within ctx's deadline.
func (t *Transport) Stop(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *Transport) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if t.cfg.AuthToken != "" && r.URL.Path != "/api/health" {
			if !validBearer(r.Header.Get("Authorization"), t.cfg.AuthToken) {
				writeError(w, http.StatusUnauthorized, event.ErrNotAuthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func validBearer(header, token string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimPrefix(header, prefix) == token
}

type registerRequest struct {
	AgentID       string         `json:"agent_id"`
	Metadata      map[string]any `json:"metadata"`
	Capabilities  []string       `json:"capabilities"`
	Subscriptions []string       `json:"subscriptions"`
	Reclaim       bool           `json:"reclaim"`
}

func (t *Transport) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, event.ErrInvalidEvent, "POST required")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, event.ErrInvalidEvent, "agent_id is required")
		return
	}

	q := queue.New(t.cfg.QueueCapacity)
	t.mu.Lock()
	t.queues[req.AgentID] = q
	t.mu.Unlock()

	ok, reason := t.topo.RegisterAgent(req.AgentID, req.Metadata, req.Capabilities, topology.Binding{
		Transport: "httppoll",
		Deliver:   func(e *event.Event) error { q.Enqueue(e); return nil },
		Close:     func() { q.Close() },
	}, req.Reclaim)
	if !ok {
		writeError(w, http.StatusConflict, event.ErrInvalidEvent, string(reason))
		return
	}
	if len(req.Subscriptions) > 0 {
		t.topo.UpdateSubscriptions(req.AgentID, req.Subscriptions)
	}
	t.mods.NotifyRegisterAgent(req.AgentID, req.Metadata)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type unregisterRequest struct {
	AgentID string `json:"agent_id"`
}

func (t *Transport) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, event.ErrInvalidEvent, "agent_id is required")
		return
	}
	t.topo.UnregisterAgent(req.AgentID)
	t.mods.NotifyUnregisterAgent(req.AgentID)
	t.mu.Lock()
	if q, ok := t.queues[req.AgentID]; ok {
		q.Close()
		delete(t.queues, req.AgentID)
	}
	t.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (t *Transport) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, event.ErrInvalidEvent, "POST required")
		return
	}
	var e event.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, event.ErrInvalidEvent, "malformed event body")
		return
	}
	if e.SourceID == "" {
		writeError(w, http.StatusBadRequest, event.ErrInvalidEvent, "source_id is required")
		return
	}
	e.SourceType = event.SourceAgent

	resp, err := t.router.Route(r.Context(), &e)
	if err != nil {
		var invalid *event.InvalidEventError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, event.ErrInvalidEvent, invalid.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, event.ErrUnavailable, err.Error())
		return
	}
	if resp == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (t *Transport) handlePoll(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, event.ErrInvalidEvent, "agent_id is required")
		return
	}
	t.mu.Lock()
	q, ok := t.queues[agentID]
	t.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, event.ErrUnknownAgent, "agent is not registered")
		return
	}

	max := 50
	if v := r.URL.Query().Get("max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	wait := t.cfg.DefaultWait
	if v := r.URL.Query().Get("wait_ms"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			wait = time.Duration(n) * time.Millisecond
		}
	}
	if wait > t.cfg.MaxWait {
		wait = t.cfg.MaxWait
	}

	events, err := q.Poll(r.Context(), max, wait)
	if err != nil {
		if errors.Is(err, queue.ErrBusy) {
			writeError(w, http.StatusConflict, event.ErrBusy, "a poll is already pending for this agent")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": []any{}, "dropped_count": q.DroppedCount()})
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": events, "dropped_count": q.DroppedCount()})
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code event.ErrorCode, message string) {
	writeJSON(w, status, event.EventResponse{Success: false, ErrorCode: code, Message: message})
}
