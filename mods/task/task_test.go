package task

import (
	"context"
	"testing"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMod(t *testing.T) *Mod {
	t.Helper()
	m := New()
	require.NoError(t, m.Initialize(context.Background(), modpipeline.Dependencies{}))
	return m
}

func send(m *Mod, eventName, sourceID string, payload map[string]any) modpipeline.Result {
	e := &event.Event{EventID: "e", EventName: eventName, SourceID: sourceID, Payload: payload, RequiresResponse: true}
	return m.ProcessEvent(context.Background(), e)
}

func delegate(t *testing.T, m *Mod) string {
	t.Helper()
	res := send(m, "task.delegate", "alice", map[string]any{"assignee_id": "bob", "description": "do it"})
	require.True(t, res.Response.Success)
	return res.Response.Data["task_id"].(string)
}

func TestDelegateAcceptComplete(t *testing.T) {
	m := newTestMod(t)
	taskID := delegate(t, m)

	res := send(m, "task.accept", "bob", map[string]any{"task_id": taskID})
	require.True(t, res.Response.Success)
	assert.Equal(t, "accepted", res.Response.Data["status"])

	res = send(m, "task.complete", "bob", map[string]any{"task_id": taskID, "result": map[string]any{"ok": true}})
	require.True(t, res.Response.Success)
	assert.Equal(t, "completed", res.Response.Data["status"])
}

func TestCompleteWithoutAcceptRejected(t *testing.T) {
	m := newTestMod(t)
	taskID := delegate(t, m)

	res := send(m, "task.complete", "bob", map[string]any{"task_id": taskID})
	assert.False(t, res.Response.Success)
	assert.Equal(t, event.ErrModRejected, res.Response.ErrorCode)
}

func TestTerminalTaskCannotTransitionAgain(t *testing.T) {
	m := newTestMod(t)
	taskID := delegate(t, m)
	send(m, "task.reject", "bob", map[string]any{"task_id": taskID})

	res := send(m, "task.accept", "bob", map[string]any{"task_id": taskID})
	assert.False(t, res.Response.Success)
	assert.Equal(t, event.ErrTaskNotCancellable, res.Response.ErrorCode)
}

func TestOnlyAssigneeMayTransition(t *testing.T) {
	m := newTestMod(t)
	taskID := delegate(t, m)

	res := send(m, "task.accept", "carol", map[string]any{"task_id": taskID})
	assert.False(t, res.Response.Success)
	assert.Equal(t, event.ErrModRejected, res.Response.ErrorCode)
}

func TestListFiltersByRole(t *testing.T) {
	m := newTestMod(t)
	delegate(t, m)

	res := send(m, "task.list", "bob", nil)
	require.True(t, res.Response.Success)
	tasks := res.Response.Data["tasks"].([]*DelegatedTask)
	assert.Len(t, tasks, 1)

	res = send(m, "task.list", "alice", map[string]any{"role": "assigner"})
	require.True(t, res.Response.Success)
	tasks = res.Response.Data["tasks"].([]*DelegatedTask)
	assert.Len(t, tasks, 1)
}

func TestUnknownTaskIDFails(t *testing.T) {
	m := newTestMod(t)
	res := send(m, "task.accept", "bob", map[string]any{"task_id": "missing"})
	assert.False(t, res.Response.Success)
	assert.Equal(t, event.ErrTaskNotFound, res.Response.ErrorCode)
}

func TestUnknownEventPassesThrough(t *testing.T) {
	m := newTestMod(t)
	e := &event.Event{EventID: "x", EventName: "unrelated.event", SourceID: "alice"}
	res := m.ProcessEvent(context.Background(), e)
	assert.Equal(t, modpipeline.Pass, res.Verdict)
}
