package modpipeline

import (
	"context"
	"testing"

	"github.com/openagents/network/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMod struct {
	name     string
	verdict  Verdict
	mutate   func(*event.Event)
	response *event.EventResponse
	seen     []*event.Event
}

func (f *fakeMod) Name() string { return f.name }
func (f *fakeMod) Initialize(ctx context.Context, deps Dependencies) error { return nil }
func (f *fakeMod) Shutdown(ctx context.Context) error                     { return nil }
func (f *fakeMod) OnRegisterAgent(agentID string, metadata map[string]any) {}
func (f *fakeMod) OnUnregisterAgent(agentID string)                        {}
func (f *fakeMod) Tick(ctx context.Context)                                {}

func (f *fakeMod) ProcessEvent(ctx context.Context, e *event.Event) Result {
	f.seen = append(f.seen, e)
	out := e
	if f.mutate != nil {
		clone := e.Clone()
		f.mutate(clone)
		out = clone
	}
	return Result{Verdict: f.verdict, Event: out, Response: f.response}
}

func TestPipelinePassesThroughInOrder(t *testing.T) {
	a := &fakeMod{name: "a", verdict: Pass, mutate: func(e *event.Event) {
		e.Metadata = map[string]any{"a": true}
	}}
	b := &fakeMod{name: "b", verdict: Pass}
	p := New([]Mod{a, b})

	final, resp, verdict := p.Run(context.Background(), &event.Event{EventName: "x"})
	require.Equal(t, Pass, verdict)
	assert.Nil(t, resp)
	require.NotNil(t, final)
	assert.Equal(t, true, final.Metadata["a"])
	require.Len(t, b.seen, 1)
	assert.Equal(t, true, b.seen[0].Metadata["a"])
}

func TestPipelineStopsOnAbsorb(t *testing.T) {
	a := &fakeMod{name: "a", verdict: Absorb}
	b := &fakeMod{name: "b", verdict: Pass}
	p := New([]Mod{a, b})

	final, resp, verdict := p.Run(context.Background(), &event.Event{EventName: "x"})
	assert.Equal(t, Absorb, verdict)
	assert.Nil(t, final)
	assert.Nil(t, resp)
	assert.Empty(t, b.seen)
}

func TestPipelineStopsOnRespond(t *testing.T) {
	want := &event.EventResponse{Success: true, Message: "done"}
	a := &fakeMod{name: "a", verdict: Respond, response: want}
	b := &fakeMod{name: "b", verdict: Pass}
	p := New([]Mod{a, b})

	final, resp, verdict := p.Run(context.Background(), &event.Event{EventName: "x"})
	assert.Equal(t, Respond, verdict)
	assert.Nil(t, final)
	assert.Same(t, want, resp)
	assert.Empty(t, b.seen)
}

func TestByName(t *testing.T) {
	a := &fakeMod{name: "messaging"}
	p := New([]Mod{a})
	m, ok := p.ByName("messaging")
	require.True(t, ok)
	assert.Equal(t, a, m)

	_, ok = p.ByName("missing")
	assert.False(t, ok)
}

func TestLifecycleFanOut(t *testing.T) {
	a := &fakeMod{name: "a"}
	b := &fakeMod{name: "b"}
	p := New([]Mod{a, b})

	require.NoError(t, p.InitializeAll(context.Background(), Dependencies{}))
	p.NotifyRegisterAgent("bob", nil)
	p.NotifyUnregisterAgent("bob")
	p.TickAll(context.Background())
	errs := p.ShutdownAll(context.Background())
	assert.Empty(t, errs)
}
