// Package a2arpc is the JSON-RPC 2.0 / A2A transport (spec.md
// §4.6.3): agent discovery via AgentCard, and a Task lifecycle
// layered on top of Router.Route for agents that want request/response
// semantics instead of raw event delivery.
package a2arpc

// TaskState is the A2A task state machine (spec.md §4.6.3, mirroring
// the teacher's a2a_broker.go TaskStatus transitions).
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input_required"
	TaskCompleted     TaskState = "completed"
	TaskCanceled      TaskState = "canceled"
	TaskFailed        TaskState = "failed"
	TaskRejected      TaskState = "rejected"
)

// Terminal reports whether a task in this state can no longer transition
// (spec.md §3 cancellable-state rule: completed/failed/canceled tasks
// cannot be re-cancelled).
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskCanceled, TaskFailed, TaskRejected:
		return true
	default:
		return false
	}
}

// Task is the unit the JSON-RPC transport tracks across message/send
// calls; it is distinct from the mod-level task delegation primitive
// in mods/task (SPEC_FULL.md §5.5).
type Task struct {
	TaskID    string           `json:"task_id"`
	ContextID string           `json:"context_id"`
	AgentID   string           `json:"agent_id"`
	Status    TaskState        `json:"status"`
	Messages  []map[string]any `json:"messages,omitempty"`
	Artifacts []map[string]any `json:"artifacts,omitempty"`
	CreatedAt float64          `json:"created_at"`
	UpdatedAt float64          `json:"updated_at"`
}

func (t *Task) clone() *Task {
	cp := *t
	cp.Messages = append([]map[string]any(nil), t.Messages...)
	cp.Artifacts = append([]map[string]any(nil), t.Artifacts...)
	return &cp
}

// AgentSkill advertises one capability an AgentCard exposes.
type AgentSkill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AgentCard is returned from agent/card and .well-known/agent.json,
// per the A2A discovery convention the teacher's a2a_broker.go
// GetAgentCard implements.
type AgentCard struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Version     string       `json:"version"`
	Skills      []AgentSkill `json:"skills"`
}
