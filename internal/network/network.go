// Package network is the façade that assembles a NetworkDescriptor
// (spec.md §6) into a running network: Topology, Mod Pipeline,
// Router, and whichever transports the descriptor lists, wired
// together and started/stopped as one unit. It is the single place
// that knows how every other internal package fits together; only
// cmd/networkd imports it.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/openagents/network/internal/clock"
	"github.com/openagents/network/internal/config"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/observability"
	"github.com/openagents/network/internal/router"
	"github.com/openagents/network/internal/topology"
	"github.com/openagents/network/internal/transport/a2arpc"
	"github.com/openagents/network/internal/transport/grpcstream"
	"github.com/openagents/network/internal/transport/httppoll"
)

// defaultHeartbeatTimeout is the Topology's sweep threshold when no
// transport-specific heartbeat config overrides it; spec.md §4.2
// defaults this to 3x a 30s heartbeat interval.
const defaultHeartbeatTimeout = 90 * time.Second

// transport is the subset of the three transport packages' APIs the
// façade needs for lifecycle management.
type transport interface {
	Start() error
	Stop(ctx context.Context) error
}

// Network is one running instance of the descriptor's network.
type Network struct {
	descriptor *config.NetworkDescriptor

	topo     *topology.Topology
	pipeline *modpipeline.Pipeline
	router   *router.Router

	obs          *observability.Observability
	metrics      *observability.MetricsManager
	healthServer *observability.HealthServer

	transports []transport
	logger     *slog.Logger

	// heartbeatSweep is true only when a grpc transport is configured;
	// httppoll and a2a agents never call Topology.MarkHeartbeat (they
	// rely on explicit register/unregister instead), so sweeping their
	// LastSeen against a heartbeat timeout would evict them spuriously.
	heartbeatSweep bool
}

// Build loads a NetworkDescriptor from path, validates it, and wires
// every component the descriptor names, without starting any
// transport yet (that happens in Start).
func Build(path string) (*Network, error) {
	descriptor, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	return BuildFromDescriptor(descriptor)
}

// BuildFromDescriptor wires a Network from an already-loaded and
// validated descriptor, letting callers (tests, cmd/networkd) build
// one from a programmatically constructed descriptor too.
func BuildFromDescriptor(descriptor *config.NetworkDescriptor) (*Network, error) {
	obs, err := observability.NewObservability(observability.ConfigFromDescriptor(descriptor.Name, descriptor.Observability))
	if err != nil {
		return nil, fmt.Errorf("network: observability: %w", err)
	}

	metrics, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, fmt.Errorf("network: metrics: %w", err)
	}

	mods := make([]modpipeline.Mod, 0, len(descriptor.Mods))
	for _, mc := range descriptor.Mods {
		m, err := buildMod(mc.Name)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	pipeline := modpipeline.New(mods)

	topo := topology.New(heartbeatTimeoutFor(descriptor))

	var channels router.ChannelMembership
	if messagingMod, ok := pipeline.ByName("messaging"); ok {
		if cm, ok := messagingMod.(router.ChannelMembership); ok {
			channels = cm
		}
	}

	r := router.New(topo, pipeline, channels, clock.System{}, clock.UUIDGenerator{}, obs.Logger, metrics)

	deps := modpipeline.Dependencies{
		Workspace: descriptor.Workspace,
		Logger:    obs.Logger,
		Emit:      r.Emit,
	}
	if err := pipeline.InitializeAll(context.Background(), deps); err != nil {
		return nil, fmt.Errorf("network: mod initialization: %w", err)
	}

	healthServer := observability.NewHealthServer(descriptor.Observability.PrometheusPort, descriptor.Name, descriptor.Observability.ServiceVersion)
	healthServer.AddChecker("router", observability.NewBasicHealthChecker("router", func(ctx context.Context) error { return nil }))

	n := &Network{
		descriptor:   descriptor,
		topo:         topo,
		pipeline:     pipeline,
		router:       r,
		obs:          obs,
		metrics:      metrics,
		healthServer: healthServer,
		logger:       obs.Logger,
	}

	for _, tc := range descriptor.Transports {
		t, err := n.buildTransport(tc)
		if err != nil {
			return nil, err
		}
		n.transports = append(n.transports, t)
		if tc.Type == "grpc" {
			n.heartbeatSweep = true
		}
	}

	return n, nil
}

func heartbeatTimeoutFor(descriptor *config.NetworkDescriptor) time.Duration {
	for _, tc := range descriptor.Transports {
		if tc.Type == "grpc" {
			return grpcstream.DefaultConfig(tc.ListenAddr).HeartbeatTimeout
		}
	}
	return defaultHeartbeatTimeout
}

func (n *Network) buildTransport(tc config.TransportConfig) (transport, error) {
	switch tc.Type {
	case "grpc":
		cfg := grpcstream.DefaultConfig(tc.ListenAddr)
		onSystem := newSystemHandler(n.topo, n.pipeline)
		return grpcstream.New(cfg, n.router, n.topo, n.pipeline, n.logger, n.obs.Tracer, onSystem,
			grpc.StatsHandler(otelgrpc.NewServerHandler())), nil

	case "http":
		cfg := httppoll.Config{ListenAddr: tc.ListenAddr, AuthToken: tc.AuthToken}
		return httppoll.New(cfg, n.router, n.topo, n.pipeline, n.logger), nil

	case "a2a":
		cfg := a2arpc.Config{ListenAddr: tc.ListenAddr, AuthToken: tc.AuthToken, Card: n.agentCard(tc.ListenAddr)}
		return a2arpc.New(cfg, n.router, n.topo, n.pipeline, clock.System{}, clock.UUIDGenerator{}, n.logger), nil

	default:
		return nil, fmt.Errorf("network: unknown transport type %q", tc.Type)
	}
}

func (n *Network) agentCard(listenAddr string) a2arpc.AgentCard {
	skills := make([]a2arpc.AgentSkill, 0, len(n.pipeline.Mods()))
	for _, m := range n.pipeline.Mods() {
		skills = append(skills, a2arpc.AgentSkill{ID: m.Name(), Name: m.Name(), Description: "mod: " + m.Name()})
	}
	return a2arpc.AgentCard{
		Name:        n.descriptor.Name,
		Description: "OpenAgents network " + n.descriptor.Name,
		URL:         "http://" + listenAddr,
		Version:     n.descriptor.Observability.ServiceVersion,
		Skills:      skills,
	}
}

// Start begins serving every configured transport and the health
// server. It returns once every transport has bound its listener.
func (n *Network) Start(ctx context.Context) error {
	for _, t := range n.transports {
		if err := t.Start(); err != nil {
			return err
		}
	}
	go func() {
		if err := n.healthServer.Start(ctx); err != nil {
			n.logger.Info("health server stopped", "error", err)
		}
	}()
	n.logger.Info("network started", "name", n.descriptor.Name, "transports", len(n.transports), "mods", len(n.pipeline.Mods()))
	return nil
}

// Stop drains the Router, stops every transport, shuts the mods down,
// and shuts observability down, in that order so in-flight work
// finishes before state disappears out from under it.
func (n *Network) Stop(ctx context.Context) error {
	n.router.SetDraining(true)

	for _, t := range n.transports {
		if err := t.Stop(ctx); err != nil {
			n.logger.Warn("transport stop failed", "error", err)
		}
	}
	if err := n.healthServer.Shutdown(ctx); err != nil {
		n.logger.Warn("health server stop failed", "error", err)
	}
	for _, err := range n.pipeline.ShutdownAll(ctx) {
		n.logger.Warn("mod shutdown failed", "error", err)
	}
	return n.obs.Shutdown(ctx)
}

// Tick runs the Mod Pipeline's periodic housekeeping and sweeps the
// Topology for expired heartbeats; callers run this on a fixed
// interval (cmd/networkd does so every --tick-interval, default 10s).
func (n *Network) Tick(ctx context.Context) {
	n.pipeline.TickAll(ctx)
	if !n.heartbeatSweep {
		return
	}
	for _, agentID := range n.topo.SweepExpired(time.Now()) {
		n.pipeline.NotifyUnregisterAgent(agentID)
		n.logger.Info("agent evicted on heartbeat timeout", "agent_id", agentID)
	}
}
