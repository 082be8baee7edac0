package task

import (
	"time"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func respond(success bool, code event.ErrorCode, message string, data map[string]any) modpipeline.Result {
	return modpipeline.Result{
		Verdict: modpipeline.Respond,
		Response: &event.EventResponse{
			Success:   success,
			Message:   message,
			ErrorCode: code,
			Data:      data,
		},
	}
}

func (m *Mod) notify(taskID, eventName, assigneeID string, extra map[string]any) {
	if m.deps.Emit == nil {
		return
	}
	payload := map[string]any{"task_id": taskID}
	for k, v := range extra {
		payload[k] = v
	}
	m.deps.Emit(&event.Event{
		EventName:       eventName,
		SourceID:        "task",
		SourceType:      event.SourceMod,
		DestinationID:   "agent:" + assigneeID,
		RelevantMod:     m.Name(),
		RelevantAgentID: assigneeID,
		Payload:         payload,
	})
}

func (m *Mod) handleDelegate(e *event.Event) modpipeline.Result {
	assigneeID := getString(e.Payload, "assignee_id")
	description := getString(e.Payload, "description")
	if assigneeID == "" || description == "" {
		return respond(false, event.ErrInvalidEvent, "assignee_id and description are required", nil)
	}

	var deadline *time.Time
	if raw := getString(e.Payload, "deadline"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			deadline = &t
		} else {
			return respond(false, event.ErrInvalidEvent, "deadline must be RFC3339", nil)
		}
	}

	now := time.Now()
	t := &DelegatedTask{
		TaskID:      newTaskID(),
		AssignerID:  e.SourceID,
		AssigneeID:  assigneeID,
		Description: description,
		Deadline:    deadline,
		Status:      StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.tasks[t.TaskID] = t
	m.mu.Unlock()

	m.notify(t.TaskID, eventPrefix+"delegated", assigneeID, map[string]any{
		"assigner_id": e.SourceID,
		"description": description,
	})
	return respond(true, "", "delegated", map[string]any{"task_id": t.TaskID})
}

func (m *Mod) transition(e *event.Event, agentIDField string, allowed func(*DelegatedTask) bool, apply func(*DelegatedTask)) modpipeline.Result {
	taskID := getString(e.Payload, "task_id")
	if taskID == "" {
		return respond(false, event.ErrInvalidEvent, "task_id is required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return respond(false, event.ErrTaskNotFound, "task not found: "+taskID, nil)
	}
	if t.AssigneeID != e.SourceID {
		return respond(false, event.ErrModRejected, "only the assignee may update this task", nil)
	}
	if t.Status.Terminal() {
		return respond(false, event.ErrTaskNotCancellable, "task is already "+string(t.Status), nil)
	}
	if !allowed(t) {
		return respond(false, event.ErrModRejected, "task cannot transition from "+string(t.Status), nil)
	}
	apply(t)
	t.UpdatedAt = time.Now()
	return respond(true, "", "ok", map[string]any{"task_id": taskID, "status": string(t.Status)})
}

func (m *Mod) handleAccept(e *event.Event) modpipeline.Result {
	res := m.transition(e,
		"assignee_id",
		func(t *DelegatedTask) bool { return t.Status == StatePending },
		func(t *DelegatedTask) { t.Status = StateAccepted },
	)
	if res.Response.Success {
		m.mu.RLock()
		t := m.tasks[getString(e.Payload, "task_id")]
		m.mu.RUnlock()
		if t != nil {
			m.notifyAssigner(t, eventPrefix+"accepted", nil)
		}
	}
	return res
}

func (m *Mod) handleReject(e *event.Event) modpipeline.Result {
	res := m.transition(e,
		"assignee_id",
		func(t *DelegatedTask) bool { return t.Status == StatePending || t.Status == StateAccepted },
		func(t *DelegatedTask) { t.Status = StateRejected },
	)
	if res.Response.Success {
		m.mu.RLock()
		t := m.tasks[getString(e.Payload, "task_id")]
		m.mu.RUnlock()
		if t != nil {
			m.notifyAssigner(t, eventPrefix+"rejected", nil)
		}
	}
	return res
}

func (m *Mod) handleComplete(e *event.Event) modpipeline.Result {
	result, _ := e.Payload["result"].(map[string]any)
	res := m.transition(e,
		"assignee_id",
		func(t *DelegatedTask) bool { return t.Status == StateAccepted },
		func(t *DelegatedTask) { t.Status = StateCompleted; t.Result = result },
	)
	if res.Response.Success {
		m.mu.RLock()
		t := m.tasks[getString(e.Payload, "task_id")]
		m.mu.RUnlock()
		if t != nil {
			m.notifyAssigner(t, eventPrefix+"completed", map[string]any{"result": result})
		}
	}
	return res
}

func (m *Mod) notifyAssigner(t *DelegatedTask, eventName string, extra map[string]any) {
	if m.deps.Emit == nil {
		return
	}
	payload := map[string]any{"task_id": t.TaskID}
	for k, v := range extra {
		payload[k] = v
	}
	m.deps.Emit(&event.Event{
		EventName:       eventName,
		SourceID:        "task",
		SourceType:      event.SourceMod,
		DestinationID:   "agent:" + t.AssignerID,
		RelevantMod:     m.Name(),
		RelevantAgentID: t.AssignerID,
		Payload:         payload,
	})
}

func (m *Mod) handleList(e *event.Event) modpipeline.Result {
	asAssignee := getString(e.Payload, "role") != "assigner"

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DelegatedTask, 0)
	for _, t := range m.tasks {
		if asAssignee && t.AssigneeID == e.SourceID {
			out = append(out, t)
		} else if !asAssignee && t.AssignerID == e.SourceID {
			out = append(out, t)
		}
	}
	return respond(true, "", "ok", map[string]any{"tasks": out})
}
