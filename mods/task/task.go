// Package task implements the work-delegation mod (SPEC_FULL.md
// §5.5): one agent assigns work to another with a deadline and
// description, and the assignee accepts, rejects, or completes it.
// Distinct from the JSON-RPC transport's Task type
// (internal/transport/a2arpc.Task), which tracks message/send request
// lifecycles rather than inter-agent delegation. Mirrors the A2A task
// state machine's cancellable-state rule from spec.md §3: a delegated
// task in a terminal state cannot be re-accepted, re-rejected, or
// re-completed.
package task

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

const eventPrefix = "task."

// State is the delegated-task state machine.
type State string

const (
	StatePending   State = "pending"
	StateAccepted  State = "accepted"
	StateRejected  State = "rejected"
	StateCompleted State = "completed"
)

// Terminal reports whether a task in this state can no longer transition.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCompleted:
		return true
	default:
		return false
	}
}

// DelegatedTask is one unit of work assigned from one agent to another.
type DelegatedTask struct {
	TaskID      string         `json:"task_id"`
	AssignerID  string         `json:"assigner_id"`
	AssigneeID  string         `json:"assignee_id"`
	Description string         `json:"description"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	Status      State          `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Mod is the task delegation mod.
type Mod struct {
	deps modpipeline.Dependencies

	mu    sync.RWMutex
	tasks map[string]*DelegatedTask

	snapshotPath string
}

// New builds an empty task delegation mod.
func New() *Mod {
	return &Mod{tasks: make(map[string]*DelegatedTask)}
}

func (m *Mod) Name() string { return "task" }

func (m *Mod) Initialize(ctx context.Context, deps modpipeline.Dependencies) error {
	m.deps = deps
	if deps.Workspace != "" {
		m.snapshotPath = filepath.Join(deps.Workspace, "task_snapshot.json")
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
	case eventPrefix + "delegate":
		return m.handleDelegate(e)
	case eventPrefix + "accept":
		return m.handleAccept(e)
	case eventPrefix + "reject":
		return m.handleReject(e)
	case eventPrefix + "complete":
		return m.handleComplete(e)
	case eventPrefix + "list":
		return m.handleList(e)
	default:
		return modpipeline.Result{Verdict: modpipeline.Pass, Event: e}
	}
}

func newTaskID() string { return uuid.NewString() }

func (m *Mod) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		return
	}
	var tasks map[string]*DelegatedTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("task: discarding unreadable snapshot", "error", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = tasks
}

func (m *Mod) saveSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}
	m.mu.RLock()
	data, err := json.Marshal(m.tasks)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.snapshotPath, data, 0o600); err != nil {
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("task: snapshot write failed", "error", err)
		} else {
			slog.Default().Warn("task: snapshot write failed", "error", err)
		}
	}
	return nil
}
