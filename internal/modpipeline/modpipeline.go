// Package modpipeline runs the ordered chain of Mods described in
// spec.md §4.4 over every Event the Router accepts, before recipient
// resolution and delivery.
package modpipeline

import (
	"context"
	"log/slog"

	"github.com/openagents/network/internal/event"
)

// Verdict is a mod's disposition of the event it just examined.
type Verdict int

const (
	// Pass lets the event continue to the next mod (and, after the
	// last mod, to recipient resolution). The mod may have mutated a
	// clone of the event; Result.Event carries the version to use.
	Pass Verdict = iota
	// Absorb stops the pipeline; the event is never delivered to any
	// recipient. Used for moderation/validation mods that consume an
	// event entirely (spec.md §4.4 rule 2).
	Absorb
	// Respond stops the pipeline and supplies the EventResponse sent
	// back to the source in place of delivery, for events the mod
	// itself fully services (e.g. a retrieval query).
	Respond
)

// Result is what ProcessEvent returns for a single mod's turn.
type Result struct {
	Verdict  Verdict
	Event    *event.Event
	Response *event.EventResponse
}

// Dependencies are the handles a mod receives at Initialize time; it
// must not reach outside of them to talk to the rest of the network,
// keeping mods testable in isolation.
type Dependencies struct {
	Workspace string
	Logger    *slog.Logger
	// Emit lets a mod publish an event back into the network (e.g. a
	// notification to other agents) without re-entering the pipeline
	// synchronously; the Router queues these for delivery
	// after the current pipeline run completes (DESIGN.md "mod
	// re-entrancy" decision).
	Emit func(*event.Event)
}

// Mod is the interface every mod archetype (messaging, document,
// wiki, forum, task delegation, ...) implements. Mods run in the
// order a NetworkDescriptor lists them.
type Mod interface {
	// Name identifies the mod for routing ("mod:<name>" destinations)
	// and logging.
	Name() string
	Initialize(ctx context.Context, deps Dependencies) error
	Shutdown(ctx context.Context) error
	OnRegisterAgent(agentID string, metadata map[string]any)
	OnUnregisterAgent(agentID string)
	ProcessEvent(ctx context.Context, e *event.Event) Result
	// Tick runs periodic housekeeping (lock expiry, history trimming);
	// the Network façade calls it on a fixed interval. Mods with no
	// periodic work implement it as a no-op.
	Tick(ctx context.Context)
}

// Pipeline runs an ordered list of Mods over an Event.
type Pipeline struct {
	mods []Mod
}

// New builds a Pipeline in the given order; order is significant and
// comes from the network descriptor's mods[] list (spec.md §6).
func New(mods []Mod) *Pipeline {
	return &Pipeline{mods: append([]Mod(nil), mods...)}
}

// Mods returns the ordered mod list, for lookups by name (mod
// destination routing) and lifecycle fan-out.
func (p *Pipeline) Mods() []Mod { return p.mods }

// ByName returns the mod registered under name, if any.
func (p *Pipeline) ByName(name string) (Mod, bool) {
	for _, m := range p.mods {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Run passes e through each mod in order. It stops at the first
// Absorb or Respond verdict; otherwise it returns the (possibly
// mutated) event after the last mod ran, for the Router to deliver.
func (p *Pipeline) Run(ctx context.Context, e *event.Event) (*event.Event, *event.EventResponse, Verdict) {
	current := e
	for _, m := range p.mods {
		res := m.ProcessEvent(ctx, current)
		switch res.Verdict {
		case Absorb:
			return nil, nil, Absorb
		case Respond:
			return nil, res.Response, Respond
		default:
			if res.Event != nil {
				current = res.Event
			}
		}
	}
	return current, nil, Pass
}

// InitializeAll initializes every mod, stopping and returning the
// first error encountered; mods already initialized are left running
// so the caller can decide whether to shut the partial set back down.
func (p *Pipeline) InitializeAll(ctx context.Context, deps Dependencies) error {
	for _, m := range p.mods {
		if err := m.Initialize(ctx, deps); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll shuts down every mod in reverse initialization order,
// collecting rather than short-circuiting on error so one mod's
// failure doesn't strand another's state.
func (p *Pipeline) ShutdownAll(ctx context.Context) []error {
	var errs []error
	for i := len(p.mods) - 1; i >= 0; i-- {
		if err := p.mods[i].Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// NotifyRegisterAgent fans out an agent registration to every mod.
func (p *Pipeline) NotifyRegisterAgent(agentID string, metadata map[string]any) {
	for _, m := range p.mods {
		m.OnRegisterAgent(agentID, metadata)
	}
}

// NotifyUnregisterAgent fans out an agent departure to every mod.
func (p *Pipeline) NotifyUnregisterAgent(agentID string) {
	for _, m := range p.mods {
		m.OnUnregisterAgent(agentID)
	}
}

// TickAll runs periodic housekeeping across every mod.
func (p *Pipeline) TickAll(ctx context.Context) {
	for _, m := range p.mods {
		m.Tick(ctx)
	}
}
