// Package forum implements the forum mod (SPEC_FULL.md §5.4): threads
// with an opening post, replies, and per-post upvote/downvote tallies,
// exposed under the "forum." event-name prefix. Supplemented from
// spec.md §4.8's "other mods" mention, built to the same
// validate-mutate-notify-persist shape as mods/messaging and mods/wiki.
package forum

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

const eventPrefix = "forum."

// Post is a single thread-opening post or reply.
type Post struct {
	PostID    string         `json:"post_id"`
	ThreadID  string         `json:"thread_id"`
	AuthorID  string         `json:"author_id"`
	Text      string         `json:"text"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Votes     map[string]int `json:"votes"` // agent_id -> +1/-1
}

func (p *Post) score() int {
	total := 0
	for _, v := range p.Votes {
		total += v
	}
	return total
}

// Thread is an opening post plus its replies.
type Thread struct {
	ThreadID string  `json:"thread_id"`
	Title    string  `json:"title"`
	Opening  *Post   `json:"opening"`
	Replies  []*Post `json:"replies"`
}

// Mod is the forum mod.
type Mod struct {
	deps modpipeline.Dependencies

	mu      sync.RWMutex
	threads map[string]*Thread // thread_id -> thread
	posts   map[string]*Post   // post_id -> post, for vote lookups

	snapshotPath string
}

// New builds an empty forum mod.
func New() *Mod {
	return &Mod{
		threads: make(map[string]*Thread),
		posts:   make(map[string]*Post),
	}
}

func (m *Mod) Name() string { return "forum" }

func (m *Mod) Initialize(ctx context.Context, deps modpipeline.Dependencies) error {
	m.deps = deps
	if deps.Workspace != "" {
		m.snapshotPath = filepath.Join(deps.Workspace, "forum_snapshot.json")
		m.loadSnapshot()
	}
	return nil
}

func (m *Mod) Shutdown(ctx context.Context) error {
	return m.saveSnapshot()
}

func (m *Mod) OnRegisterAgent(agentID string, metadata map[string]any) {}
func (m *Mod) OnUnregisterAgent(agentID string)                        {}
func (m *Mod) Tick(ctx context.Context)                                {}

func (m *Mod) ProcessEvent(ctx context.Context, e *event.Event) modpipeline.Result {
	switch e.EventName {
	case eventPrefix + "thread.create":
		return m.handleThreadCreate(e)
	case eventPrefix + "reply.post":
		return m.handleReplyPost(e)
	case eventPrefix + "vote.cast":
		return m.handleVoteCast(e)
	case eventPrefix + "thread.list":
		return m.handleThreadList(e)
	default:
		return modpipeline.Result{Verdict: modpipeline.Pass, Event: e}
	}
}

func newID() string { return uuid.NewString() }

func (m *Mod) indexPost(p *Post) {
	m.posts[p.PostID] = p
}

func (m *Mod) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		return
	}
	var threads map[string]*Thread
	if err := json.Unmarshal(data, &threads); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("forum: discarding unreadable snapshot", "error", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = threads
	for _, t := range threads {
		if t.Opening != nil {
			m.indexPost(t.Opening)
		}
		for _, r := range t.Replies {
			m.indexPost(r)
		}
	}
}

func (m *Mod) saveSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}
	m.mu.RLock()
	data, err := json.Marshal(m.threads)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.snapshotPath, data, 0o600); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("forum: snapshot write failed", "error", err)
		} else {
			slog.Default().Warn("forum: snapshot write failed", "error", err)
		}
	}
	return nil
}
