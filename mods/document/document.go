// Package document implements the shared document mod (SPEC_FULL.md
// §5.2), grounded on
// original_source/src/openagents/mods/work/shared_document/mod.py:
// line-addressed collaborative documents with per-line authorship,
// 30-second advisory line locks, line-shifting comments, cursor
// presence, a version counter, and a paginated operation history, all
// addressed under the "document." event-name prefix.
package document

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

// LockTimeout is how long an uncontested line lock stays valid before
// it is treated as abandoned.
const LockTimeout = 30 * time.Second

const eventPrefix = "document."

// Mod is the shared document mod.
type Mod struct {
	deps modpipeline.Dependencies

	mu        sync.RWMutex
	documents map[string]*Document          // document_id -> document
	sessions  map[string]map[string]struct{} // agent_id -> {document_id}
}

// New builds an empty shared document mod.
func New() *Mod {
	return &Mod{
		documents: make(map[string]*Document),
		sessions:  make(map[string]map[string]struct{}),
	}
}

func (m *Mod) Name() string { return "shared_document" }

func (m *Mod) Initialize(ctx context.Context, deps modpipeline.Dependencies) error {
	m.deps = deps
	return nil
}

func (m *Mod) Shutdown(ctx context.Context) error { return nil }

func (m *Mod) OnRegisterAgent(agentID string, metadata map[string]any) {}

// OnUnregisterAgent releases every lock the agent held and marks it
// inactive on every document it had open.
func (m *Mod) OnUnregisterAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID := range m.sessions[agentID] {
		if doc, ok := m.documents[docID]; ok {
			doc.mu.Lock()
			doc.releaseAllAgentLocks(agentID)
			doc.removeAgent(agentID)
			doc.mu.Unlock()
		}
	}
	delete(m.sessions, agentID)
}

// Tick has no periodic housekeeping beyond lazy lock-expiry, which is
// evaluated on access.
func (m *Mod) Tick(ctx context.Context) {}

func (m *Mod) ProcessEvent(ctx context.Context, e *event.Event) modpipeline.Result {
	switch e.EventName {
	case eventPrefix + "create":
		return m.handleCreate(e)
	case eventPrefix + "list":
		return m.handleList(e)
	case eventPrefix + "open":
		return m.handleOpen(e)
	case eventPrefix + "close":
		return m.handleClose(e)
	case eventPrefix + "insert_lines":
		return m.handleInsertLines(e)
	case eventPrefix + "remove_lines":
		return m.handleRemoveLines(e)
	case eventPrefix + "replace_lines":
		return m.handleReplaceLines(e)
	case eventPrefix + "add_comment":
		return m.handleAddComment(e)
	case eventPrefix + "remove_comment":
		return m.handleRemoveComment(e)
	case eventPrefix + "update_cursor":
		return m.handleUpdateCursor(e)
	case eventPrefix + "acquire_lock":
		return m.handleAcquireLock(e)
	case eventPrefix + "release_lock":
		return m.handleReleaseLock(e)
	case eventPrefix + "get_content":
		return m.handleGetContent(e)
	case eventPrefix + "get_history":
		return m.handleGetHistory(e)
	case eventPrefix + "get_presence":
		return m.handleGetPresence(e)
	default:
		return modpipeline.Result{Verdict: modpipeline.Pass, Event: e}
	}
}

func newDocumentID() string { return uuid.NewString() }
