package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmptyName(t *testing.T) {
	e := &Event{SourceID: "a"}
	err := e.Validate()
	require.Error(t, err)
	var invalid *InvalidEventError
	assert.ErrorAs(t, err, &invalid)
}

func TestValidateChannelDestinationCoercesVisibility(t *testing.T) {
	e := &Event{EventName: "thread.channel_message.post", DestinationID: "channel:general"}
	require.NoError(t, e.Validate())
	assert.Equal(t, VisibilityChannel, e.Visibility)
}

func TestValidatePrivateRequiresAllowedAgents(t *testing.T) {
	e := &Event{EventName: "agent.message", Visibility: VisibilityPrivate}
	err := e.Validate()
	require.Error(t, err)

	e.AllowedAgents = []string{"bob"}
	require.NoError(t, e.Validate())
}

func TestCloneIsIndependent(t *testing.T) {
	e := &Event{
		EventName: "x",
		Payload:   map[string]any{"text": "hi"},
	}
	clone := e.Clone()
	clone.Payload["text"] = "bye"
	assert.Equal(t, "hi", e.Payload["text"])
	assert.Equal(t, "bye", clone.Payload["text"])
}

func TestTargetAgentID(t *testing.T) {
	cases := []struct {
		dest string
		want string
		ok   bool
	}{
		{"agent:bob", "bob", true},
		{"bob", "bob", true},
		{"agent:broadcast", "", false},
		{"channel:general", "", false},
		{"mod:thread_messaging", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		e := &Event{DestinationID: c.dest}
		got, ok := e.TargetAgentID()
		assert.Equal(t, c.ok, ok, c.dest)
		assert.Equal(t, c.want, got, c.dest)
	}
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, MatchPattern("*", "anything"))
	assert.True(t, MatchPattern("allowed.event", "allowed.event"))
	assert.False(t, MatchPattern("allowed.event", "allowed.event2"))
	assert.True(t, MatchPattern("test.subscription.*", "test.subscription.message"))
	assert.False(t, MatchPattern("test.subscription.*", "test.subscription"))
	assert.False(t, MatchPattern("test.subscription.*", "test.other.message"))
}
