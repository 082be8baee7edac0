// Package topology is the in-memory registry of connected agents,
// their transport bindings, capabilities, and subscriptions
// described in spec.md §4.2. It has no knowledge of event routing
// policy beyond resolving subscription matches and broadcast/agent
// recipient sets; channel membership is owned by the messaging mod
// and consulted by the Router through the ChannelMembership
// interface.
package topology

import (
	"sync"
	"time"

	"github.com/openagents/network/internal/event"
)

// Liveness is the connection state of an agent record.
type Liveness string

const (
	LiveConnected Liveness = "connected"
	LiveDraining  Liveness = "draining"
	LiveDead      Liveness = "dead"
)

// Binding is the opaque handle a transport registers so the Router
// can hand an Event back to whichever transport owns the recipient,
// without the Topology needing to know transport internals.
type Binding struct {
	Transport string
	Deliver   func(*event.Event) error
	Close     func()
}

// AgentRecord is the per-agent entry the Topology owns exclusively;
// transports and mods mutate it only through Topology methods.
type AgentRecord struct {
	AgentID       string
	Metadata      map[string]any
	Capabilities  []string
	Skills        []string
	IsRemote      bool
	Binding       Binding
	Subscriptions map[string]struct{}
	LastSeen      time.Time
	Liveness      Liveness
}

func (r *AgentRecord) snapshot() *AgentRecord {
	cp := *r
	cp.Metadata = cloneAnyMap(r.Metadata)
	cp.Capabilities = append([]string(nil), r.Capabilities...)
	cp.Skills = append([]string(nil), r.Skills...)
	cp.Subscriptions = make(map[string]struct{}, len(r.Subscriptions))
	for p := range r.Subscriptions {
		cp.Subscriptions[p] = struct{}{}
	}
	return &cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// RejectReason explains why RegisterAgent refused a registration.
type RejectReason string

const (
	RejectDuplicateAgent RejectReason = "duplicate_agent_id"
)

// AgentFilter narrows ListAgents results.
type AgentFilter struct {
	IncludeLocal  bool
	IncludeRemote bool
	Capability    string
	EventPattern  string
}

// Topology is safe for concurrent use; a single RWMutex guards the
// agent map, satisfying the "no I/O under lock" rule since every
// operation below is pure in-memory bookkeeping.
type Topology struct {
	mu              sync.RWMutex
	agents          map[string]*AgentRecord
	heartbeatTimeout time.Duration
}

// New creates an empty Topology. heartbeatTimeout is the duration
// after which a missed heartbeat evicts an agent; spec.md §4.2
// defaults this to 3x the heartbeat interval.
func New(heartbeatTimeout time.Duration) *Topology {
	return &Topology{
		agents:           make(map[string]*AgentRecord),
		heartbeatTimeout: heartbeatTimeout,
	}
}

// RegisterAgent adds or reclaims an agent record. When reclaim is
// true and an agent with the same id is already live, the previous
// binding is closed and evicted before the new one takes over;
// otherwise a duplicate live agent-id is rejected.
func (t *Topology) RegisterAgent(agentID string, metadata map[string]any, capabilities []string, binding Binding, reclaim bool) (bool, RejectReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.agents[agentID]; ok && existing.Liveness != LiveDead {
		if !reclaim {
			return false, RejectDuplicateAgent
		}
		if existing.Binding.Close != nil {
			existing.Binding.Close()
		}
	}

	t.agents[agentID] = &AgentRecord{
		AgentID:       agentID,
		Metadata:      cloneAnyMap(metadata),
		Capabilities:  append([]string(nil), capabilities...),
		Binding:       binding,
		Subscriptions: make(map[string]struct{}),
		LastSeen:      time.Now(),
		Liveness:      LiveConnected,
	}
	return true, ""
}

// UnregisterAgent removes an agent; idempotent.
func (t *Topology) UnregisterAgent(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, agentID)
}

// UpdateMetadata merges keys into an agent's metadata, last-writer-wins.
func (t *Topology) UpdateMetadata(agentID string, metadata map[string]any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return false
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
	return true
}

// UpdateSubscriptions merges subscription patterns into an agent's
// set; storage deduplicates automatically since it is a set.
func (t *Topology) UpdateSubscriptions(agentID string, patterns []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return false
	}
	for _, p := range patterns {
		rec.Subscriptions[p] = struct{}{}
	}
	return true
}

// RemoveSubscriptions drops subscription patterns from an agent's set.
func (t *Topology) RemoveSubscriptions(agentID string, patterns []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return false
	}
	for _, p := range patterns {
		delete(rec.Subscriptions, p)
	}
	return true
}

// AnnounceSkills merges skill names into an agent's advertised set.
func (t *Topology) AnnounceSkills(agentID string, skills []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return false
	}
	have := make(map[string]struct{}, len(rec.Skills))
	for _, s := range rec.Skills {
		have[s] = struct{}{}
	}
	for _, s := range skills {
		if _, dup := have[s]; !dup {
			rec.Skills = append(rec.Skills, s)
			have[s] = struct{}{}
		}
	}
	return true
}

// MarkRemote flags an agent record as remote (announced through the
// JSON-RPC transport rather than holding a live push binding); remote
// agents are excluded from the heartbeat eviction sweep and from
// push-based recipient resolution unless their binding delivers.
func (t *Topology) MarkRemote(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return false
	}
	rec.IsRemote = true
	return true
}

// MarkHeartbeat refreshes an agent's last-seen timestamp.
func (t *Topology) MarkHeartbeat(agentID string, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return false
	}
	rec.LastSeen = ts
	return true
}

// Lookup returns a read-only snapshot of a live agent record.
func (t *Topology) Lookup(agentID string) (*AgentRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// IsLive reports whether an agent-id currently has a live binding.
func (t *Topology) IsLive(agentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.agents[agentID]
	return ok
}

// Binding returns the delivery binding for a live agent.
func (t *Topology) Binding(agentID string) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.agents[agentID]
	if !ok {
		return Binding{}, false
	}
	return rec.Binding, true
}

// BroadcastRecipients returns every live agent-id except exclude.
func (t *Topology) BroadcastRecipients(exclude string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.agents))
	for id := range t.agents {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// MatchSubscribers returns every live agent (except exclude) whose
// subscription set matches eventName under the spec.md §4.1 rule.
func (t *Topology) MatchSubscribers(eventName, exclude string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, rec := range t.agents {
		if id == exclude {
			continue
		}
		for pattern := range rec.Subscriptions {
			if event.MatchPattern(pattern, eventName) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// FilterLive keeps only the ids that are currently live, preserving
// order; used to strip stale members out of a channel roster at
// resolution time (spec.md §4.2 invariant).
func (t *Topology) FilterLive(ids []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.agents[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// ListAgents returns summaries for every agent matching filter.
func (t *Topology) ListAgents(filter AgentFilter) []AgentSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []AgentSummary
	for _, rec := range t.agents {
		if rec.IsRemote && !filter.IncludeRemote {
			continue
		}
		if !rec.IsRemote && !filter.IncludeLocal {
			continue
		}
		if filter.Capability != "" && !containsString(rec.Capabilities, filter.Capability) {
			continue
		}
		if filter.EventPattern != "" {
			matched := false
			for p := range rec.Subscriptions {
				if p == filter.EventPattern {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, AgentSummary{
			AgentID:      rec.AgentID,
			Metadata:     cloneAnyMap(rec.Metadata),
			Capabilities: append([]string(nil), rec.Capabilities...),
			Skills:       append([]string(nil), rec.Skills...),
			IsRemote:     rec.IsRemote,
		})
	}
	return out
}

// AgentSummary is the read-only projection returned by ListAgents.
type AgentSummary struct {
	AgentID      string         `json:"agent_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Skills       []string       `json:"skills,omitempty"`
	IsRemote     bool           `json:"is_remote"`
}

// SweepExpired evicts every agent whose last heartbeat is older than
// the configured timeout, closing its binding and returning the
// evicted ids so the caller can notify liveness subscribers.
func (t *Topology) SweepExpired(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []string
	for id, rec := range t.agents {
		if rec.IsRemote {
			continue
		}
		if now.Sub(rec.LastSeen) > t.heartbeatTimeout {
			if rec.Binding.Close != nil {
				rec.Binding.Close()
			}
			delete(t.agents, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
