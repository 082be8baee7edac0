package network

import (
	"context"
	"strings"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/topology"
)

// newSystemHandler builds the grpcstream.SystemHandler that answers
// "system.*" events directly, without ever invoking the Mod Pipeline
// (spec.md §4.6.1, §7's reserved system event-name set).
func newSystemHandler(topo *topology.Topology, pipeline *modpipeline.Pipeline) func(ctx context.Context, agentID string, e *event.Event) *event.EventResponse {
	return func(ctx context.Context, agentID string, e *event.Event) *event.EventResponse {
		switch strings.TrimPrefix(e.EventName, "system.") {
		case "register", "unregister":
			// The wire handshake in internal/transport/grpcstream already
			// performed registration before any in-stream event reaches
			// here; treat a redundant system.register/unregister as a
			// no-op acknowledgement.
			return &event.EventResponse{Success: true}

		case "list_agents":
			filter := topology.AgentFilter{IncludeLocal: true, IncludeRemote: true}
			if v, ok := e.Payload["capability"].(string); ok {
				filter.Capability = v
			}
			if v, ok := e.Payload["event_pattern"].(string); ok {
				filter.EventPattern = v
			}
			summaries := topo.ListAgents(filter)
			agents := make([]map[string]any, 0, len(summaries))
			for _, s := range summaries {
				agents = append(agents, map[string]any{
					"agent_id":     s.AgentID,
					"metadata":     s.Metadata,
					"capabilities": s.Capabilities,
					"skills":       s.Skills,
					"is_remote":    s.IsRemote,
				})
			}
			return &event.EventResponse{Success: true, Data: map[string]any{"agents": agents}}

		case "list_mods":
			names := make([]string, 0)
			for _, m := range pipeline.Mods() {
				names = append(names, m.Name())
			}
			return &event.EventResponse{Success: true, Data: map[string]any{"mods": names}}

		case "get_mod_manifest":
			name, _ := e.Payload["mod"].(string)
			_, present := pipeline.ByName(name)
			return &event.EventResponse{Success: true, Data: map[string]any{"mod": name, "present": present}}

		case "ping_agent":
			target, _ := e.Payload["agent_id"].(string)
			return &event.EventResponse{Success: true, Data: map[string]any{"agent_id": target, "live": topo.IsLive(target)}}

		case "claim_agent_id":
			target, _ := e.Payload["agent_id"].(string)
			return &event.EventResponse{Success: !topo.IsLive(target), Data: map[string]any{"agent_id": target}}

		case "validate_certificate":
			// No PKI is wired into this network; every certificate is
			// accepted. A deployment needing real validation plugs a
			// mod in ahead of this bypass by not using the system.*
			// prefix for its own credential events.
			return &event.EventResponse{Success: true}

		case "poll_messages":
			return &event.EventResponse{Success: false, ErrorCode: event.ErrUnavailable, Message: "poll_messages is served by the httppoll transport's /api/poll endpoint, not the streaming transport"}

		default:
			return &event.EventResponse{Success: false, ErrorCode: event.ErrInvalidEvent, Message: "unknown system event: " + e.EventName}
		}
	}
}
