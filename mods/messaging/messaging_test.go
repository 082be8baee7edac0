package messaging

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

func post(m *Mod, id, eventName, sourceID string, payload map[string]any) modpipeline.Result {
	e := &event.Event{EventID: id, EventName: eventName, SourceID: sourceID, Payload: payload, RequiresResponse: true}
	return m.ProcessEvent(context.Background(), e)
}

func TestChannelMessageRoundTrip(t *testing.T) {
	m := newTestMod(t)
	res := post(m, "m1", "thread.channel_message.post", "alice", map[string]any{"channel": "general", "text": "hello"})
	require.Equal(t, modpipeline.Respond, res.Verdict)
	require.True(t, res.Response.Success)

	res = post(m, "m2", "thread.history.get", "alice", map[string]any{"channel": "general"})
	require.True(t, res.Response.Success)
	msgs := res.Response.Data["messages"].([]*storedMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestReplyThreadDepthCap(t *testing.T) {
	m := newTestMod(t)
	post(m, "root", "thread.channel_message.post", "alice", map[string]any{"channel": "general", "text": "root"})

	parent := "root"
	for i := 0; i < MaxThreadDepth; i++ {
		id := "reply" + string(rune('0'+i))
		res := post(m, id, "thread.reply.post", "bob", map[string]any{"channel": "general", "reply_to": parent, "text": "reply"})
		require.True(t, res.Response.Success, "reply %d should succeed", i)
		parent = id
	}

	res := post(m, "too-deep", "thread.reply.post", "bob", map[string]any{"channel": "general", "reply_to": parent, "text": "one too many"})
	assert.False(t, res.Response.Success)
	assert.Equal(t, errThreadDepthExceeded, res.Response.ErrorCode)
}

func TestReactionDeduplicates(t *testing.T) {
	m := newTestMod(t)
	post(m, "m1", "thread.channel_message.post", "alice", map[string]any{"channel": "general", "text": "hi"})

	res := post(m, "r1", "thread.reaction.add", "bob", map[string]any{"channel": "general", "message_id": "m1", "emoji": "👍"})
	require.True(t, res.Response.Success)
	res = post(m, "r2", "thread.reaction.add", "bob", map[string]any{"channel": "general", "message_id": "m1", "emoji": "👍"})
	require.True(t, res.Response.Success)

	conv := m.channels["general"]
	msg, ok := conv.byID("m1")
	require.True(t, ok)
	assert.Len(t, msg.Reactions["👍"], 1)
}

func TestFileUploadDownloadRoundTrip(t *testing.T) {
	m := newTestMod(t)
	res := post(m, "f1", "thread.file.upload", "alice", map[string]any{"name": "a.txt", "data_base64": "aGVsbG8="})
	require.True(t, res.Response.Success)

	res = post(m, "f2", "thread.file.download", "bob", map[string]any{"file_id": "f1"})
	require.True(t, res.Response.Success)
	assert.Equal(t, "aGVsbG8=", res.Response.Data["data_base64"])
}

func TestDirectMessageHistoryIsPerPair(t *testing.T) {
	m := newTestMod(t)
	post(m, "d1", "thread.direct_message.send", "alice", map[string]any{"to_agent_id": "bob", "text": "hi bob"})

	res := post(m, "d2", "thread.history.get", "bob", map[string]any{"to_agent_id": "alice"})
	require.True(t, res.Response.Success)
	msgs := res.Response.Data["messages"].([]*storedMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi bob", msgs[0].Text)
}

func TestOnRegisterAgentJoinsKnownChannels(t *testing.T) {
	m := newTestMod(t)
	m.OnRegisterAgent("alice", nil)
	assert.Contains(t, m.Members("general"), "alice")

	m.mu.Lock()
	m.channels["dev"] = newConversation()
	m.mu.Unlock()

	m.OnRegisterAgent("bob", nil)
	assert.Contains(t, m.Members("general"), "bob")
	assert.Contains(t, m.Members("dev"), "bob")
}

func TestChannelMessageNotifiesOtherMembers(t *testing.T) {
	m := newTestMod(t)
	var emitted []*event.Event
	m.deps.Emit = func(e *event.Event) { emitted = append(emitted, e) }

	m.OnRegisterAgent("alice", nil)
	m.OnRegisterAgent("bob", nil)
	m.OnRegisterAgent("carol", nil)

	res := post(m, "m1", "thread.channel_message.post", "alice", map[string]any{"channel": "general", "text": "hello"})
	require.True(t, res.Response.Success)

	require.Len(t, emitted, 2)
	recipients := map[string]bool{}
	for _, e := range emitted {
		assert.Equal(t, "thread.channel_message.notification", e.EventName)
		assert.Equal(t, "alice", e.SourceID)
		assert.Equal(t, "hello", e.Payload["text"])
		recipients[e.RelevantAgentID] = true
	}
	assert.True(t, recipients["bob"])
	assert.True(t, recipients["carol"])
	assert.False(t, recipients["alice"])
}

func TestReactionToggleRemovesAndNotifies(t *testing.T) {
	m := newTestMod(t)
	var emitted []*event.Event
	m.deps.Emit = func(e *event.Event) { emitted = append(emitted, e) }

	m.OnRegisterAgent("alice", nil)
	m.OnRegisterAgent("bob", nil)
	post(m, "m1", "thread.channel_message.post", "alice", map[string]any{"channel": "general", "text": "hi"})

	res := post(m, "r1", "thread.reaction.add", "bob", map[string]any{"channel": "general", "message_id": "m1", "emoji": "👍", "action": "toggle"})
	require.True(t, res.Response.Success)
	assert.Equal(t, "add", res.Response.Data["action"])

	res = post(m, "r2", "thread.reaction.add", "bob", map[string]any{"channel": "general", "message_id": "m1", "emoji": "👍", "action": "toggle"})
	require.True(t, res.Response.Success)
	assert.Equal(t, "remove", res.Response.Data["action"])

	conv := m.channels["general"]
	msg, ok := conv.byID("m1")
	require.True(t, ok)
	assert.Len(t, msg.Reactions["👍"], 0)
	require.NotEmpty(t, emitted)
	last := emitted[len(emitted)-1]
	assert.Equal(t, "thread.reaction.notification", last.EventName)
}

func TestUnknownEventPassesThrough(t *testing.T) {
	m := newTestMod(t)
	e := &event.Event{EventID: "x", EventName: "unrelated.event", SourceID: "alice"}
	res := m.ProcessEvent(context.Background(), e)
	assert.Equal(t, modpipeline.Pass, res.Verdict)
}
