package forum

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

func TestThreadCreateAndReply(t *testing.T) {
	m := newTestMod(t)
	res := send(m, "forum.thread.create", "alice", map[string]any{"title": "hello", "text": "first post"})
	require.True(t, res.Response.Success)
	threadID := res.Response.Data["thread_id"].(string)

	res = send(m, "forum.reply.post", "bob", map[string]any{"thread_id": threadID, "text": "reply"})
	require.True(t, res.Response.Success)

	res = send(m, "forum.thread.list", "alice", nil)
	require.True(t, res.Response.Success)
	threads := res.Response.Data["threads"].([]map[string]any)
	require.Len(t, threads, 1)
	assert.Equal(t, 1, threads[0]["reply_count"])
}

func TestVoteCastAccumulatesScore(t *testing.T) {
	m := newTestMod(t)
	res := send(m, "forum.thread.create", "alice", map[string]any{"title": "t", "text": "op"})
	require.True(t, res.Response.Success)
	postID := res.Response.Data["post_id"].(string)

	res = send(m, "forum.vote.cast", "bob", map[string]any{"post_id": postID, "direction": 1})
	require.True(t, res.Response.Success)
	assert.Equal(t, 1, res.Response.Data["score"])

	res = send(m, "forum.vote.cast", "carol", map[string]any{"post_id": postID, "direction": 1})
	require.True(t, res.Response.Success)
	assert.Equal(t, 2, res.Response.Data["score"])

	res = send(m, "forum.vote.cast", "bob", map[string]any{"post_id": postID, "direction": -1})
	require.True(t, res.Response.Success)
	assert.Equal(t, 0, res.Response.Data["score"])
}

func TestReplyToUnknownThreadFails(t *testing.T) {
	m := newTestMod(t)
	res := send(m, "forum.reply.post", "alice", map[string]any{"thread_id": "missing", "text": "x"})
	assert.False(t, res.Response.Success)
}

func TestUnknownEventPassesThrough(t *testing.T) {
	m := newTestMod(t)
	e := &event.Event{EventID: "x", EventName: "unrelated.event", SourceID: "alice"}
	res := m.ProcessEvent(context.Background(), e)
	assert.Equal(t, modpipeline.Pass, res.Verdict)
}
