package router

import (
	"context"
	"testing"
	"time"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return "id-" + string(rune('0'+s.n))
}

type fakeChannels struct{ members map[string][]string }

func (f fakeChannels) Members(channel string) []string { return f.members[channel] }

func newTestRouter(t *testing.T, mods []modpipeline.Mod, channels ChannelMembership) (*Router, *topology.Topology) {
	t.Helper()
	topo := topology.New(time.Minute)
	pipeline := modpipeline.New(mods)
	r := New(topo, pipeline, channels, fixedClock{time.Unix(1000, 0)}, &seqIDs{}, nil, nil)
	return r, topo
}

func registerAgent(topo *topology.Topology, id string) *[]*event.Event {
	delivered := &[]*event.Event{}
	topo.RegisterAgent(id, nil, nil, topology.Binding{
		Transport: "test",
		Deliver: func(e *event.Event) error {
			*delivered = append(*delivered, e)
			return nil
		},
	}, false)
	return delivered
}

func TestRouteDirectDeliveryToLiveAgent(t *testing.T) {
	r, topo := newTestRouter(t, nil, nil)
	got := registerAgent(topo, "bob")

	resp, err := r.Route(context.Background(), &event.Event{
		EventName:     "agent.message",
		SourceID:      "alice",
		DestinationID: "agent:bob",
	})
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.Len(t, *got, 1)
	assert.Equal(t, "agent.message", (*got)[0].EventName)
}

func TestRouteUnknownAgentWithResponseRequired(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	resp, err := r.Route(context.Background(), &event.Event{
		EventName:        "agent.message",
		SourceID:         "alice",
		DestinationID:    "agent:ghost",
		RequiresResponse: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, event.ErrUnknownAgent, resp.ErrorCode)
}

func TestRouteBroadcastExcludesSource(t *testing.T) {
	r, topo := newTestRouter(t, nil, nil)
	gotBob := registerAgent(topo, "bob")
	gotAlice := registerAgent(topo, "alice")

	_, err := r.Route(context.Background(), &event.Event{
		EventName:     "announce",
		SourceID:      "alice",
		DestinationID: event.DestBroadcastPrefix,
	})
	require.NoError(t, err)
	assert.Len(t, *gotBob, 1)
	assert.Empty(t, *gotAlice)
}

func TestRouteChannelFiltersLiveMembers(t *testing.T) {
	channels := fakeChannels{members: map[string][]string{"general": {"bob", "ghost"}}}
	r, topo := newTestRouter(t, nil, channels)
	gotBob := registerAgent(topo, "bob")

	_, err := r.Route(context.Background(), &event.Event{
		EventName:     "chat",
		SourceID:      "alice",
		DestinationID: "channel:general",
	})
	require.NoError(t, err)
	assert.Len(t, *gotBob, 1)
}

func TestRoutePrivateVisibilityFiltersAllowedAgents(t *testing.T) {
	r, topo := newTestRouter(t, nil, nil)
	gotBob := registerAgent(topo, "bob")
	gotCarol := registerAgent(topo, "carol")

	_, err := r.Route(context.Background(), &event.Event{
		EventName:     "secret",
		SourceID:      "alice",
		DestinationID: event.DestBroadcastPrefix,
		Visibility:    event.VisibilityPrivate,
		AllowedAgents: []string{"bob"},
	})
	require.NoError(t, err)
	assert.Len(t, *gotBob, 1)
	assert.Empty(t, *gotCarol)
}

type absorbMod struct{ seen int }

func (m *absorbMod) Name() string { return "absorb" }
func (m *absorbMod) Initialize(ctx context.Context, deps modpipeline.Dependencies) error { return nil }
func (m *absorbMod) Shutdown(ctx context.Context) error                                 { return nil }
func (m *absorbMod) OnRegisterAgent(agentID string, metadata map[string]any)             {}
func (m *absorbMod) OnUnregisterAgent(agentID string)                                    {}
func (m *absorbMod) Tick(ctx context.Context)                                            {}
func (m *absorbMod) ProcessEvent(ctx context.Context, e *event.Event) modpipeline.Result {
	m.seen++
	return modpipeline.Result{Verdict: modpipeline.Absorb}
}

func TestRouteAbsorbedEventNeverDelivered(t *testing.T) {
	mod := &absorbMod{}
	r, topo := newTestRouter(t, []modpipeline.Mod{mod}, nil)
	got := registerAgent(topo, "bob")

	resp, err := r.Route(context.Background(), &event.Event{
		EventName:     "moderated",
		SourceID:      "alice",
		DestinationID: "agent:bob",
	})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Empty(t, *got)
	assert.Equal(t, 1, mod.seen)
}

func TestRouteInvalidEventReturnsError(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)
	_, err := r.Route(context.Background(), &event.Event{SourceID: "alice"})
	require.Error(t, err)
}

func TestDrainingRejectsNewEvents(t *testing.T) {
	r, topo := newTestRouter(t, nil, nil)
	got := registerAgent(topo, "bob")
	r.SetDraining(true)

	resp, err := r.Route(context.Background(), &event.Event{
		EventName:        "agent.message",
		SourceID:         "alice",
		DestinationID:    "agent:bob",
		RequiresResponse: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, event.ErrUnavailable, resp.ErrorCode)
	assert.Empty(t, *got)
}
