package a2arpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/openagents/network/internal/clock"
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/router"
	"github.com/openagents/network/internal/topology"
)

// rpcError mirrors the JSON-RPC 2.0 error object plus the custom
// codes spec.md §4.6.3 adds on top of the standard ones.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAuthRequired   = -32001
	codeTaskNotFound   = -32002
	codeTaskNotCancel  = -32003
)

func invalidParams(msg string) *rpcError    { return &rpcError{Code: codeInvalidParams, Message: msg} }
func internalError(msg string) *rpcError    { return &rpcError{Code: codeInternalError, Message: msg} }
func authRequired() *rpcError               { return &rpcError{Code: codeAuthRequired, Message: "bearer token required"} }
func taskNotFound(id string) *rpcError      { return &rpcError{Code: codeTaskNotFound, Message: "task not found", Data: id} }
func taskNotCancellable(id string) *rpcError {
	return &rpcError{Code: codeTaskNotCancel, Message: "task cannot be cancelled from its current state", Data: id}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

// Transport is the JSON-RPC / A2A HTTP transport.
type Transport struct {
	cfg     Config
	svc     *service
	logger  *slog.Logger
	server  *http.Server
}

// New builds a Transport.
func New(cfg Config, r *router.Router, topo *topology.Topology, mods *modpipeline.Pipeline, clk clock.Clock, ids clock.IDGenerator, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{cfg: cfg, svc: newService(cfg, r, topo, mods, clk, ids), logger: logger}
}

// Start binds and serves in the background.
func (t *Transport) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", t.handleAgentCard)
	mux.HandleFunc("/", t.handleRPC)

	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return err
	}
	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Info("a2arpc server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (t *Transport) Stop(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *Transport) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.cfg.Card)
}

func (t *Transport) authorize(r *http.Request) bool {
	if t.cfg.AuthToken == "" {
		return true
	}
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	return strings.HasPrefix(h, prefix) && strings.TrimPrefix(h, prefix) == t.cfg.AuthToken
}

func (t *Transport) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidRequest, Message: "POST required"}})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: err.Error()}})
		return
	}

	if req.Method != "agent/card" && !t.authorize(r) {
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: authRequired()})
		return
	}

	result, rpcErr := t.dispatch(r.Context(), req)
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Result: result, Error: rpcErr, ID: req.ID})
}

func (t *Transport) dispatch(ctx context.Context, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "agent/card":
		return t.cfg.Card, nil

	case "message/send":
		var p struct {
			From string `json:"from_agent_id"`
			messageSendParams
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
		return t.svc.messageSend(ctx, p.From, p.messageSendParams)

	case "tasks/get":
		var p struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
		return t.svc.tasksGet(p.TaskID)

	case "tasks/list":
		var p tasksListParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, invalidParams(err.Error())
			}
		}
		return t.svc.tasksList(p), nil

	case "tasks/cancel":
		var p struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
		return t.svc.tasksCancel(p.TaskID)

	case "agents/announce":
		var p announceParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
		if rpcErr := t.svc.agentsAnnounce(p); rpcErr != nil {
			return nil, rpcErr
		}
		return map[string]any{"success": true}, nil

	case "agents/withdraw":
		var p struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
		t.svc.agentsWithdraw(p.AgentID)
		return map[string]any{"success": true}, nil

	case "agents/list":
		var p struct {
			Capability string `json:"capability"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, invalidParams(err.Error())
			}
		}
		return t.svc.agentsList(p.Capability), nil

	case "events/send":
		var p struct {
			Event event.Event `json:"event"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
		return t.svc.eventsSend(ctx, &p.Event)

	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
