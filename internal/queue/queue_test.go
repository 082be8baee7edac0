package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openagents/network/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePollFIFO(t *testing.T) {
	q := New(10)
	q.Enqueue(&event.Event{EventName: "a"})
	q.Enqueue(&event.Event{EventName: "b"})

	got, err := q.Poll(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EventName)
	assert.Equal(t, "b", got[1].EventName)
}

func TestPollRespectsMax(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		q.Enqueue(&event.Event{EventName: "x"})
	}
	got, err := q.Poll(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 3, q.Len())
}

func TestOverflowDropsOldest(t *testing.T) {
	q := New(2)
	q.Enqueue(&event.Event{EventName: "1"})
	q.Enqueue(&event.Event{EventName: "2"})
	q.Enqueue(&event.Event{EventName: "3"})

	assert.EqualValues(t, 1, q.DroppedCount())
	got, err := q.Poll(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].EventName)
	assert.Equal(t, "3", got[1].EventName)
}

func TestPollBlocksUntilEnqueue(t *testing.T) {
	q := New(10)
	var wg sync.WaitGroup
	wg.Add(1)
	start := time.Now()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(&event.Event{EventName: "late"})
	}()

	got, err := q.Poll(context.Background(), 1, time.Second)
	wg.Wait()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].EventName)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPollTimesOutEmpty(t *testing.T) {
	q := New(10)
	got, err := q.Poll(context.Background(), 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPollReturnsOnContextCancel(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := q.Poll(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseWakesPoll(t *testing.T) {
	q := New(10)
	done := make(chan struct{})
	go func() {
		got, err := q.Poll(context.Background(), 1, time.Second)
		assert.NoError(t, err)
		assert.Empty(t, got)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not wake after Close")
	}
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	q := New(10)
	q.Close()
	q.Enqueue(&event.Event{EventName: "x"})
	assert.Equal(t, 0, q.Len())
}
