// Package messaging implements the threaded messaging mod
// (SPEC_FULL.md §5.1), grounded on
// original_source/src/openagents/mods/communication/thread_messaging/mod.py:
// channel and direct messages, five-level-deep threaded replies,
// reactions, quoting, an ephemeral file store, and paginated history
// retrieval, all addressed under the "thread." event-name prefix.
package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

// MaxThreadDepth is the maximum number of reply levels a thread may
// reach (levels 0-4, five total) — a reply to a level-4 message is
// rejected, mirroring the original mod's `parent_level >= 4` guard.
const MaxThreadDepth = 4

// MaxHistory caps how many messages a channel or direct conversation
// retains before the oldest are dropped in a batch.
const MaxHistory = 2000

// HistoryDropBatch is how many of the oldest messages are evicted at
// once when MaxHistory is exceeded, to avoid evicting on every insert.
const HistoryDropBatch = 200

const eventPrefix = "thread."

// Mod is the threaded messaging mod.
type Mod struct {
	deps modpipeline.Dependencies

	mu       sync.RWMutex
	channels map[string]*conversation // keyed by channel name
	directs  map[string]*conversation // keyed by sorted "a|b" agent pair
	files    map[string]*storedFile
	members  map[string]map[string]struct{} // channel -> agent-id set

	snapshotPath string
}

// New builds an empty messaging mod.
func New() *Mod {
	return &Mod{
		channels: make(map[string]*conversation),
		directs:  make(map[string]*conversation),
		files:    make(map[string]*storedFile),
		members:  make(map[string]map[string]struct{}),
	}
}

func (m *Mod) Name() string { return "messaging" }

func (m *Mod) Initialize(ctx context.Context, deps modpipeline.Dependencies) error {
	m.deps = deps
	if deps.Workspace != "" {
		m.snapshotPath = filepath.Join(deps.Workspace, "messaging_snapshot.json")
		m.loadSnapshot()
	}
	return nil
}

func (m *Mod) Shutdown(ctx context.Context) error {
	return m.saveSnapshot()
}

// OnRegisterAgent joins a newly registered agent to every known
// channel, creating "general" first if no channel exists yet — the
// studio-UI contract (spec.md §4.8, SPEC_FULL.md §5.1) that every
// agent receives channel messages without an explicit join call.
func (m *Mod) OnRegisterAgent(agentID string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.channels) == 0 {
		m.channels["general"] = newConversation()
	}
	for channel := range m.channels {
		if m.members[channel] == nil {
			m.members[channel] = make(map[string]struct{})
		}
		m.members[channel][agentID] = struct{}{}
	}
}

func (m *Mod) OnUnregisterAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, members := range m.members {
		delete(members, agentID)
	}
}

// Tick has no periodic housekeeping for this mod.
func (m *Mod) Tick(ctx context.Context) {}

// Members implements router.ChannelMembership.
func (m *Mod) Members(channel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.members[channel]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (m *Mod) ProcessEvent(ctx context.Context, e *event.Event) modpipeline.Result {
	switch e.EventName {
	case eventPrefix + "channel.join":
		return m.handleChannelJoin(e)
	case eventPrefix + "channel.leave":
		return m.handleChannelLeave(e)
	case eventPrefix + "channel_message.post":
		return m.handleChannelMessage(e)
	case eventPrefix + "direct_message.send":
		return m.handleDirectMessage(e)
	case eventPrefix + "reply.post":
		return m.handleReply(e)
	case eventPrefix + "reaction.add":
		return m.handleReaction(e)
	case eventPrefix + "history.get":
		return m.handleHistoryGet(e)
	case eventPrefix + "channel.info":
		return m.handleChannelInfo(e)
	case eventPrefix + "file.upload":
		return m.handleFileUpload(e)
	case eventPrefix + "file.download":
		return m.handleFileDownload(e)
	default:
		return modpipeline.Result{Verdict: modpipeline.Pass, Event: e}
	}
}

func (m *Mod) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("messaging: discarding unreadable snapshot", "error", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Channels != nil {
		m.channels = snap.Channels
	}
	if snap.Directs != nil {
		m.directs = snap.Directs
	}
	if snap.Members != nil {
		m.members = snap.Members
	}
}

func (m *Mod) saveSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}
	m.mu.RLock()
	snap := snapshot{Channels: m.channels, Directs: m.directs, Members: m.members}
	m.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// Best-effort: a failed snapshot write never blocks shutdown.
	if err := os.WriteFile(m.snapshotPath, data, 0o600); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("messaging: snapshot write failed", "error", err)
		} else {
			slog.Default().Warn("messaging: snapshot write failed", "error", err)
		}
	}
	return nil
}

type snapshot struct {
	Channels map[string]*conversation        `json:"channels"`
	Directs  map[string]*conversation        `json:"directs"`
	Members  map[string]map[string]struct{}  `json:"members"`
}
