package wiki

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

func TestPutThenGetReturnsLatestRevision(t *testing.T) {
	m := newTestMod(t)
	res := send(m, "wiki.page.put", "alice", map[string]any{"title": "Home", "content": "v1"})
	require.True(t, res.Response.Success)
	assert.Equal(t, 1, res.Response.Data["version"])

	res = send(m, "wiki.page.put", "bob", map[string]any{"title": "Home", "content": "v2"})
	require.True(t, res.Response.Success)
	assert.Equal(t, 2, res.Response.Data["version"])

	res = send(m, "wiki.page.get", "alice", map[string]any{"title": "Home"})
	require.True(t, res.Response.Success)
	assert.Equal(t, "v2", res.Response.Data["content"])
	assert.Equal(t, "bob", res.Response.Data["author_id"])
}

func TestHistoryNewestFirst(t *testing.T) {
	m := newTestMod(t)
	send(m, "wiki.page.put", "alice", map[string]any{"title": "Home", "content": "v1"})
	send(m, "wiki.page.put", "alice", map[string]any{"title": "Home", "content": "v2"})
	send(m, "wiki.page.put", "alice", map[string]any{"title": "Home", "content": "v3"})

	res := send(m, "wiki.page.history", "alice", map[string]any{"title": "Home", "limit": 2})
	require.True(t, res.Response.Success)
	revs := res.Response.Data["revisions"].([]*Revision)
	require.Len(t, revs, 2)
	assert.Equal(t, "v3", revs[0].Content)
	assert.Equal(t, "v2", revs[1].Content)
	assert.Equal(t, 3, res.Response.Data["total"])
}

func TestGetUnknownPageFails(t *testing.T) {
	m := newTestMod(t)
	res := send(m, "wiki.page.get", "alice", map[string]any{"title": "Missing"})
	assert.False(t, res.Response.Success)
}

func TestListPages(t *testing.T) {
	m := newTestMod(t)
	send(m, "wiki.page.put", "alice", map[string]any{"title": "A", "content": "1"})
	send(m, "wiki.page.put", "alice", map[string]any{"title": "B", "content": "1"})

	res := send(m, "wiki.page.list", "alice", nil)
	require.True(t, res.Response.Success)
	pages := res.Response.Data["pages"].([]map[string]any)
	assert.Len(t, pages, 2)
}

func TestUnknownEventPassesThrough(t *testing.T) {
	m := newTestMod(t)
	e := &event.Event{EventID: "x", EventName: "unrelated.event", SourceID: "alice"}
	res := m.ProcessEvent(context.Background(), e)
	assert.Equal(t, modpipeline.Pass, res.Verdict)
}
