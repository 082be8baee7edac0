package document

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
	e := &event.Event{EventID: "e-" + eventName, EventName: eventName, SourceID: sourceID, Payload: payload, RequiresResponse: true}
	return m.ProcessEvent(context.Background(), e)
}

func createDoc(t *testing.T, m *Mod, creator, initial string) string {
	t.Helper()
	res := send(m, "document.create", creator, map[string]any{"document_name": "doc", "initial_content": initial})
	require.True(t, res.Response.Success)
	return res.Response.Data["document_id"].(string)
}

func TestCreateAndGetContent(t *testing.T) {
	m := newTestMod(t)
	docID := createDoc(t, m, "alice", "one\ntwo\nthree")

	res := send(m, "document.get_content", "alice", map[string]any{"document_id": docID})
	require.True(t, res.Response.Success)
	content := res.Response.Data["content"].([]string)
	assert.Equal(t, []string{"one", "two", "three"}, content)
	assert.Equal(t, 1, res.Response.Data["version"])
}

func TestInsertShiftsAuthorsAndComments(t *testing.T) {
	m := newTestMod(t)
	docID := createDoc(t, m, "alice", "one\ntwo\nthree")

	res := send(m, "document.add_comment", "alice", map[string]any{"document_id": docID, "line_number": 2, "comment_text": "note"})
	require.True(t, res.Response.Success)

	res = send(m, "document.insert_lines", "alice", map[string]any{"document_id": docID, "line_number": 1, "content": []any{"zero"}})
	require.True(t, res.Response.Success)

	doc, ok := m.lookup(docID)
	require.True(t, ok)
	doc.mu.Lock()
	defer doc.mu.Unlock()
	assert.Equal(t, []string{"zero", "one", "two", "three"}, doc.Content)
	assert.Len(t, doc.LineAuthors, 4)
	assert.Equal(t, "alice", doc.LineAuthors[4])
	comments, ok := doc.Comments[3]
	require.True(t, ok, "comment should have shifted to line 3")
	assert.Equal(t, "note", comments[0].Text)
}

func TestWritePermissionEnforced(t *testing.T) {
	m := newTestMod(t)
	docID := createDoc(t, m, "alice", "one")

	res := send(m, "document.open", "bob", map[string]any{"document_id": docID})
	assert.False(t, res.Response.Success)

	res = send(m, "document.insert_lines", "bob", map[string]any{"document_id": docID, "line_number": 1, "content": []any{"x"}})
	assert.False(t, res.Response.Success)
	assert.Equal(t, event.ErrModRejected, res.Response.ErrorCode)
}

func TestLineLockBlocksOtherAgent(t *testing.T) {
	m := newTestMod(t)
	docID := createDoc(t, m, "alice", "one\ntwo")

	doc, _ := m.lookup(docID)
	doc.mu.Lock()
	doc.Permissions["bob"] = "read_write"
	doc.mu.Unlock()

	res := send(m, "document.acquire_lock", "alice", map[string]any{"document_id": docID, "line_number": 1})
	require.True(t, res.Response.Success)

	res = send(m, "document.replace_lines", "bob", map[string]any{"document_id": docID, "start_line": 1, "end_line": 1, "content": []any{"nope"}})
	assert.False(t, res.Response.Success)

	res = send(m, "document.release_lock", "alice", map[string]any{"document_id": docID, "line_number": 1})
	require.True(t, res.Response.Success)

	res = send(m, "document.replace_lines", "bob", map[string]any{"document_id": docID, "start_line": 1, "end_line": 1, "content": []any{"yep"}})
	assert.True(t, res.Response.Success)
}

func TestUnregisterReleasesLocksAndClosesSessions(t *testing.T) {
	m := newTestMod(t)
	docID := createDoc(t, m, "alice", "one")
	send(m, "document.acquire_lock", "alice", map[string]any{"document_id": docID, "line_number": 1})

	m.OnUnregisterAgent("alice")

	doc, _ := m.lookup(docID)
	doc.mu.Lock()
	_, locked := doc.locks[1]
	_, active := doc.Active["alice"]
	doc.mu.Unlock()
	assert.False(t, locked)
	assert.False(t, active)
}

func TestGetHistoryNewestFirst(t *testing.T) {
	m := newTestMod(t)
	docID := createDoc(t, m, "alice", "one")
	send(m, "document.insert_lines", "alice", map[string]any{"document_id": docID, "line_number": 2, "content": []any{"two"}})
	send(m, "document.insert_lines", "alice", map[string]any{"document_id": docID, "line_number": 3, "content": []any{"three"}})

	res := send(m, "document.get_history", "alice", map[string]any{"document_id": docID, "limit": 10})
	require.True(t, res.Response.Success)
	ops := res.Response.Data["operations"].([]*Operation)
	require.Len(t, ops, 2)
	assert.Equal(t, "insert_lines", ops[0].Type)
}

func TestUnknownEventPassesThrough(t *testing.T) {
	m := newTestMod(t)
	e := &event.Event{EventID: "x", EventName: "unrelated.event", SourceID: "alice"}
	res := m.ProcessEvent(context.Background(), e)
	assert.Equal(t, modpipeline.Pass, res.Verdict)
}
