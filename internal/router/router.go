// Package router implements the Router described in spec.md §4.5: it
// validates an Event, runs it through the Mod Pipeline, resolves
// recipients from the destination and visibility rules, delivers to
// each live recipient's transport binding, and synthesizes a default
// EventResponse when one is required and none was produced.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openagents/network/internal/clock"
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/topology"
)

// MetricsRecorder is the subset of observability.MetricsManager's event
// metrics Route needs; kept as an interface (like ChannelMembership) so
// this package doesn't import internal/observability directly.
type MetricsRecorder interface {
	IncrementEventsProcessed(ctx context.Context, eventType, source string, success bool)
	RecordEventProcessingDuration(ctx context.Context, eventType, source string, duration time.Duration)
	IncrementEventErrors(ctx context.Context, eventType, source, errorType string)
}

// ChannelMembership is consulted for channel-destination recipient
// resolution; the messaging mod implements it and the Network façade
// wires it in, keeping channel ownership out of the Topology
// (DESIGN.md "channel membership ownership" decision).
type ChannelMembership interface {
	Members(channel string) []string
}

// RoutingError wraps the spec.md §7 error taxonomy for a failed Route
// call (as opposed to a per-recipient delivery failure, which is
// logged and skipped and does not change the EventResponse).
type RoutingError struct {
	Code    event.ErrorCode
	Message string
}

func (e *RoutingError) Error() string { return string(e.Code) + ": " + e.Message }

// Router is safe for concurrent use.
type Router struct {
	topo     *topology.Topology
	pipeline *modpipeline.Pipeline
	channels ChannelMembership
	clk      clock.Clock
	ids      clock.IDGenerator
	logger   *slog.Logger
	metrics  MetricsRecorder

	draining int32
	depth    int32 // per-goroutine-call-tree nesting via atomics is an approximation; see Route.

	emitMu    sync.Mutex
	emitQueue []*event.Event
}

// New builds a Router over the given Topology and Mod Pipeline. metrics
// may be nil, in which case Route records nothing.
func New(topo *topology.Topology, pipeline *modpipeline.Pipeline, channels ChannelMembership, clk clock.Clock, ids clock.IDGenerator, logger *slog.Logger, metrics MetricsRecorder) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{topo: topo, pipeline: pipeline, channels: channels, clk: clk, ids: ids, logger: logger, metrics: metrics}
}

// Emit lets a mod publish an event back into the network; it is
// handed to mods as modpipeline.Dependencies.Emit. Emitted events are
// queued and routed after the triggering Route call's own pipeline
// run completes, never re-entrantly inside it.
func (r *Router) Emit(e *event.Event) {
	r.emitMu.Lock()
	r.emitQueue = append(r.emitQueue, e)
	r.emitMu.Unlock()
}

// SetDraining toggles shutdown draining mode; while draining, Route
// rejects new events with ErrUnavailable so in-flight work finishes
// without accepting more.
func (r *Router) SetDraining(draining bool) {
	v := int32(0)
	if draining {
		v = 1
	}
	atomic.StoreInt32(&r.draining, v)
}

// Route validates, pipelines, and delivers e, returning the
// EventResponse when one is required (either produced by a mod or
// synthesized as a default) and nil otherwise.
func (r *Router) Route(ctx context.Context, e *event.Event) (*event.EventResponse, error) {
	top := atomic.AddInt32(&r.depth, 1) == 1
	defer atomic.AddInt32(&r.depth, -1)

	start := time.Now()
	resp, err := r.routeOnce(ctx, e)
	r.recordMetrics(ctx, e, resp, err, time.Since(start))

	if top {
		r.drainEmits(ctx)
	}
	return resp, err
}

func (r *Router) recordMetrics(ctx context.Context, e *event.Event, resp *event.EventResponse, err error, dur time.Duration) {
	if r.metrics == nil || e == nil {
		return
	}
	success := err == nil && (resp == nil || resp.Success)
	r.metrics.IncrementEventsProcessed(ctx, e.EventName, e.SourceID, success)
	r.metrics.RecordEventProcessingDuration(ctx, e.EventName, e.SourceID, dur)
	if !success {
		code := "routing_error"
		if resp != nil && resp.ErrorCode != "" {
			code = string(resp.ErrorCode)
		}
		r.metrics.IncrementEventErrors(ctx, e.EventName, e.SourceID, code)
	}
}

func (r *Router) routeOnce(ctx context.Context, e *event.Event) (*event.EventResponse, error) {
	if atomic.LoadInt32(&r.draining) == 1 {
		return r.errorResponse(e, event.ErrUnavailable, "network is draining"), nil
	}

	if err := e.Validate(); err != nil {
		return r.errorResponse(e, event.ErrInvalidEvent, err.Error()), &RoutingError{Code: event.ErrInvalidEvent, Message: err.Error()}
	}
	if e.EventID == "" && r.ids != nil {
		e.EventID = r.ids.NewID()
	}
	if e.Timestamp == 0 && r.clk != nil {
		e.Timestamp = float64(r.clk.Now().UnixNano()) / 1e9
	}

	if modName, ok := e.IsModDestination(); ok {
		return r.routeToMod(ctx, e, modName)
	}

	final, modResp, verdict := r.pipeline.Run(ctx, e)
	switch verdict {
	case modpipeline.Respond:
		return modResp, nil
	case modpipeline.Absorb:
		if e.RequiresResponse {
			return &event.EventResponse{Success: true}, nil
		}
		return nil, nil
	}

	recipients, resolveErr := r.resolveRecipients(final)
	if resolveErr != nil {
		return r.errorResponse(final, resolveErr.Code, resolveErr.Message), nil
	}

	delivered := 0
	for _, agentID := range recipients {
		binding, ok := r.topo.Binding(agentID)
		if !ok || binding.Deliver == nil {
			continue
		}
		if err := binding.Deliver(final); err != nil {
			r.logger.Warn("event delivery failed", "agent_id", agentID, "event_name", final.EventName, "error", err)
			continue
		}
		delivered++
	}

	if !final.RequiresResponse {
		return nil, nil
	}
	if delivered == 0 && len(recipients) == 0 {
		return &event.EventResponse{Success: true, Data: map[string]any{"recipients": 0}}, nil
	}
	return &event.EventResponse{Success: true}, nil
}

func (r *Router) routeToMod(ctx context.Context, e *event.Event, modName string) (*event.EventResponse, error) {
	m, ok := r.pipeline.ByName(modName)
	if !ok {
		return r.errorResponse(e, event.ErrUnknownAgent, "no mod registered as "+modName), nil
	}
	res := m.ProcessEvent(ctx, e)
	switch res.Verdict {
	case modpipeline.Respond:
		return res.Response, nil
	case modpipeline.Absorb:
		if e.RequiresResponse {
			return &event.EventResponse{Success: true}, nil
		}
		return nil, nil
	default:
		if e.RequiresResponse {
			return &event.EventResponse{Success: true}, nil
		}
		return nil, nil
	}
}

// resolveRecipients maps a post-pipeline event's destination and
// visibility onto a concrete, live agent-id list (spec.md §4.2/§4.5).
func (r *Router) resolveRecipients(e *event.Event) ([]string, *RoutingError) {
	switch {
	case e.IsBroadcast():
		return r.filterByVisibility(e, r.topo.BroadcastRecipients(e.SourceID)), nil

	case e.Visibility == event.VisibilityChannel:
		name, _ := e.ChannelName()
		if r.channels == nil {
			return nil, &RoutingError{Code: event.ErrUnavailable, Message: "no channel membership provider configured"}
		}
		members := r.topo.FilterLive(r.channels.Members(name))
		return r.filterByVisibility(e, members), nil

	default:
		if agentID, ok := e.TargetAgentID(); ok {
			if !r.topo.IsLive(agentID) {
				return nil, &RoutingError{Code: event.ErrUnknownAgent, Message: "agent " + agentID + " is not connected"}
			}
			return []string{agentID}, nil
		}
		// Empty destination: subscription-only delivery.
		return r.filterByVisibility(e, r.topo.MatchSubscribers(e.EventName, e.SourceID)), nil
	}
}

func (r *Router) filterByVisibility(e *event.Event, candidates []string) []string {
	if e.Visibility != event.VisibilityPrivate || len(e.AllowedAgents) == 0 {
		return candidates
	}
	allowed := make(map[string]struct{}, len(e.AllowedAgents))
	for _, a := range e.AllowedAgents {
		allowed[a] = struct{}{}
	}
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) errorResponse(e *event.Event, code event.ErrorCode, msg string) *event.EventResponse {
	if e == nil || !e.RequiresResponse {
		return nil
	}
	return &event.EventResponse{Success: false, ErrorCode: code, Message: msg}
}

// drainEmits routes every event a mod queued via Emit during the
// outermost Route call's pipeline run, iteratively so nested emits
// are processed without recursing through Route's own drain step.
func (r *Router) drainEmits(ctx context.Context) {
	for {
		r.emitMu.Lock()
		batch := r.emitQueue
		r.emitQueue = nil
		r.emitMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			if _, err := r.Route(ctx, e); err != nil {
				r.logger.Warn("emitted event routing failed", "event_name", e.EventName, "error", err)
			}
		}
	}
}
