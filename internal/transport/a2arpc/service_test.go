package a2arpc

import (
	"context"
	"testing"
	"time"

	"github.com/openagents/network/internal/clock"
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/router"
	"github.com/openagents/network/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return "t" + string(rune('0'+s.n))
}

func newTestService(t *testing.T) *service {
	t.Helper()
	topo := topology.New(time.Minute)
	pipeline := modpipeline.New(nil)
	topo.RegisterAgent("bob", nil, nil, topology.Binding{
		Transport: "test",
		Deliver:   func(e *event.Event) error { return nil },
	}, false)
	r := router.New(topo, pipeline, nil, clock.System{}, &seqIDs{}, nil, nil)
	return newService(Config{}, r, topo, pipeline, fixedClock{time.Unix(2000, 0)}, &seqIDs{})
}

func TestMessageSendCompletesTaskOnDelivery(t *testing.T) {
	svc := newTestService(t)
	task, rpcErr := svc.messageSend(context.Background(), "alice", messageSendParams{
		ToAgentID: "bob",
		Message:   map[string]any{"text": "hi"},
	})
	require.Nil(t, rpcErr)
	require.NotNil(t, task)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Len(t, task.Messages, 1)
}

func TestMessageSendFailsTaskOnUnknownAgent(t *testing.T) {
	svc := newTestService(t)
	task, rpcErr := svc.messageSend(context.Background(), "alice", messageSendParams{ToAgentID: "ghost", Message: map[string]any{}})
	require.NotNil(t, rpcErr)
	require.Nil(t, task)

	got, rpcErr := svc.tasksList(tasksListParams{AgentID: "ghost"}), (*rpcError)(nil)
	require.Nil(t, rpcErr)
	require.Len(t, got, 1)
	assert.Equal(t, TaskFailed, got[0].Status)
}

func TestTasksCancelTerminalRejected(t *testing.T) {
	svc := newTestService(t)
	task, rpcErr := svc.messageSend(context.Background(), "alice", messageSendParams{ToAgentID: "bob", Message: map[string]any{}})
	require.Nil(t, rpcErr)

	_, rpcErr = svc.tasksCancel(task.TaskID)
	require.NotNil(t, rpcErr)
	assert.Equal(t, codeTaskNotCancel, rpcErr.Code)
}

func TestTasksGetNotFound(t *testing.T) {
	svc := newTestService(t)
	_, rpcErr := svc.tasksGet("missing")
	require.NotNil(t, rpcErr)
	assert.Equal(t, codeTaskNotFound, rpcErr.Code)
}
