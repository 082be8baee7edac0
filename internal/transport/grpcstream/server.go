package grpcstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/router"
	"github.com/openagents/network/internal/topology"
	"github.com/openagents/network/internal/wire"
)

// SystemHandler services "system.*" events, which bypass the Mod
// Pipeline entirely (spec.md §4.6.1, carried from the original
// Python connector's system-command dispatch).
type SystemHandler func(ctx context.Context, agentID string, e *event.Event) *event.EventResponse

// Transport is the gRPC streaming transport; it implements
// wire.AgentLinkServer and owns the grpc.Server lifecycle, mirroring
// the teacher's AgentHubServer wrapper shape (internal/agenthub/grpc.go)
// generalized from a task broker to the generic event Router.
type Transport struct {
	cfg     Config
	router  *router.Router
	topo    *topology.Topology
	mods    *modpipeline.Pipeline
	logger  *slog.Logger
	tracer  trace.Tracer
	onSystem SystemHandler

	serverOpts []grpc.ServerOption

	mu       sync.Mutex
	listener net.Listener
	server   *grpc.Server
}

// New builds a streaming Transport. extraOpts are appended to the
// transport's own (message-size, codec) server options, letting the
// Network façade inject grpc.StatsHandler(otelgrpc.NewServerHandler())
// the way the teacher's NewAgentHubServer does.
func New(cfg Config, r *router.Router, topo *topology.Topology, mods *modpipeline.Pipeline, logger *slog.Logger, tracer trace.Tracer, onSystem SystemHandler, extraOpts ...grpc.ServerOption) *Transport {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:        cfg,
		router:     r,
		topo:       topo,
		mods:       mods,
		logger:     logger,
		tracer:     tracer,
		onSystem:   onSystem,
		serverOpts: extraOpts,
	}
}

// Start binds the listener and begins serving in a background
// goroutine; it returns once the listener is bound.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lis, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("grpcstream: listen %s: %w", t.cfg.ListenAddr, err)
	}

	opts := append([]grpc.ServerOption{
		grpc.ForceServerCodec(wire.Codec),
		grpc.MaxRecvMsgSize(t.cfg.MaxMessageSize),
		grpc.MaxSendMsgSize(t.cfg.MaxMessageSize),
	}, t.serverOpts...)

	srv := grpc.NewServer(opts...)
	srv.RegisterService(&wire.ServiceDesc, t)

	t.listener = lis
	t.server = srv

	go func() {
		if err := srv.Serve(lis); err != nil {
			t.logger.Info("grpcstream server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server, honoring ctx's deadline by
// falling back to a hard stop if graceful stop doesn't finish first.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		srv.Stop()
		return ctx.Err()
	}
}

// Connect implements wire.AgentLinkServer: one call per connected
// agent for the lifetime of its session.
func (t *Transport) Connect(stream wire.AgentLink_ConnectServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Kind != wire.KindRegister || first.AgentID == "" {
		return status.Error(codes.InvalidArgument, "first envelope must be a register with a non-empty agent_id")
	}
	agentID := first.AgentID

	outbox := make(chan *event.Event, 256)
	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { close(done) }) }

	binding := topology.Binding{
		Transport: "grpcstream",
		Deliver: func(e *event.Event) error {
			select {
			case outbox <- e:
				return nil
			case <-done:
				return errors.New("grpcstream: connection closed")
			case <-time.After(5 * time.Second):
				return errors.New("grpcstream: delivery timed out")
			}
		},
		Close: closeConn,
	}

	ok, reason := t.topo.RegisterAgent(agentID, first.Metadata, first.Capabilities, binding, first.Reclaim)
	if !ok {
		_ = stream.Send(&wire.Envelope{Kind: wire.KindError, ErrorCode: event.ErrInvalidEvent, ErrorMessage: string(reason)})
		return status.Errorf(codes.AlreadyExists, "agent %s already connected", agentID)
	}
	if len(first.Subscriptions) > 0 {
		t.topo.UpdateSubscriptions(agentID, first.Subscriptions)
	}
	t.mods.NotifyRegisterAgent(agentID, first.Metadata)
	defer func() {
		closeConn()
		t.topo.UnregisterAgent(agentID)
		t.mods.NotifyUnregisterAgent(agentID)
	}()

	if err := stream.Send(&wire.Envelope{Kind: wire.KindAck, AgentID: agentID}); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go t.writeLoop(stream, outbox, done, errCh)
	go t.watchdog(agentID, done, errCh)

	for {
		env, err := stream.Recv()
		if err != nil {
			return err
		}
		switch env.Kind {
		case wire.KindHeartbeat:
			t.topo.MarkHeartbeat(agentID, time.Now())
		case wire.KindEvent:
			t.handleInbound(stream, agentID, env)
		case wire.KindResponse, wire.KindError:
			// Agent-originated responses/errors to a Router-initiated
			// requires_response event are logged; no in-process waiter
			// correlates on them in this transport (mods needing a
			// synchronous reply use the JSON-RPC transport's Task model
			// instead, per spec.md §4.6.3).
			t.logger.Debug("grpcstream received out-of-band envelope", "agent_id", agentID, "kind", env.Kind)
		}

		select {
		case err := <-errCh:
			return err
		default:
		}
	}
}

func (t *Transport) writeLoop(stream wire.AgentLink_ConnectServer, outbox <-chan *event.Event, done <-chan struct{}, errCh chan<- error) {
	for {
		select {
		case e := <-outbox:
			if err := stream.Send(&wire.Envelope{Kind: wire.KindEvent, Event: e}); err != nil {
				errCh <- err
				return
			}
		case <-done:
			return
		case <-stream.Context().Done():
			return
		}
	}
}

func (t *Transport) watchdog(agentID string, done <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rec, ok := t.topo.Lookup(agentID)
			if !ok {
				return
			}
			if time.Since(rec.LastSeen) > t.cfg.HeartbeatTimeout {
				errCh <- fmt.Errorf("grpcstream: agent %s missed heartbeat deadline", agentID)
				return
			}
		case <-done:
			return
		}
	}
}

func (t *Transport) handleInbound(stream wire.AgentLink_ConnectServer, agentID string, env *wire.Envelope) {
	if env.Event == nil {
		return
	}
	e := env.Event
	e.SourceID = agentID
	e.SourceType = event.SourceAgent

	ctx := stream.Context()

	if strings.HasPrefix(e.EventName, "system.") && t.onSystem != nil {
		resp := t.onSystem(ctx, agentID, e)
		if e.RequiresResponse && resp != nil {
			_ = stream.Send(&wire.Envelope{Kind: wire.KindResponse, CorrelationID: e.EventID, Response: resp})
		}
		return
	}

	resp, err := t.router.Route(ctx, e)
	if err != nil {
		t.logger.Warn("grpcstream route error", "agent_id", agentID, "event_name", e.EventName, "error", err)
	}
	if e.RequiresResponse && resp != nil {
		_ = stream.Send(&wire.Envelope{Kind: wire.KindResponse, CorrelationID: e.EventID, Response: resp})
	}
}
