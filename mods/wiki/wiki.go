// Package wiki implements the wiki mod (SPEC_FULL.md §5.3): pages
// keyed by title, each with an append-only revision history, exposed
// under the "wiki." event-name prefix. Not present in spec.md's
// archetype list but named as an "other mod" and present in the
// original Python repo's mod set; built to the same validate-mutate-
// notify-persist shape as the messaging mod.
package wiki

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

const eventPrefix = "wiki."

// Revision is one entry in a page's append-only history.
type Revision struct {
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

// Page is a title-keyed document with its full revision history.
type Page struct {
	Title     string      `json:"title"`
	Revisions []*Revision `json:"revisions"`
}

func (p *Page) current() *Revision {
	if len(p.Revisions) == 0 {
		return nil
	}
	return p.Revisions[len(p.Revisions)-1]
}

// Mod is the wiki mod.
type Mod struct {
	deps modpipeline.Dependencies

	mu    sync.RWMutex
	pages map[string]*Page // title -> page

	snapshotPath string
}

// New builds an empty wiki mod.
func New() *Mod {
	return &Mod{pages: make(map[string]*Page)}
}

func (m *Mod) Name() string { return "wiki" }

func (m *Mod) Initialize(ctx context.Context, deps modpipeline.Dependencies) error {
	m.deps = deps
	if deps.Workspace != "" {
		m.snapshotPath = filepath.Join(deps.Workspace, "wiki_snapshot.json")
		m.loadSnapshot()
	}
	return nil
}

func (m *Mod) Shutdown(ctx context.Context) error {
	return m.saveSnapshot()
}

func (m *Mod) OnRegisterAgent(agentID string, metadata map[string]any)   {}
func (m *Mod) OnUnregisterAgent(agentID string)                          {}
func (m *Mod) Tick(ctx context.Context)                                  {}

func (m *Mod) ProcessEvent(ctx context.Context, e *event.Event) modpipeline.Result {
	switch e.EventName {
	case eventPrefix + "page.get":
		return m.handleGet(e)
	case eventPrefix + "page.put":
		return m.handlePut(e)
	case eventPrefix + "page.history":
		return m.handleHistory(e)
	case eventPrefix + "page.list":
		return m.handleList(e)
	default:
		return modpipeline.Result{Verdict: modpipeline.Pass, Event: e}
	}
}

func (m *Mod) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		return
	}
	var pages map[string]*Page
	if err := json.Unmarshal(data, &pages); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("wiki: discarding unreadable snapshot", "error", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = pages
}

func (m *Mod) saveSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}
	m.mu.RLock()
	data, err := json.Marshal(m.pages)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.snapshotPath, data, 0o600); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("wiki: snapshot write failed", "error", err)
		} else {
			slog.Default().Warn("wiki: snapshot write failed", "error", err)
		}
	}
	return nil
}
