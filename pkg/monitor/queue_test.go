package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueFIFO(t *testing.T) {
	q := newEventQueue()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.True(t, q.push(i))
	}
	assert.Equal(t, 1000, q.len())

	for i := 0; i < 1000; i++ {
		ev, ok := q.pop(ctx)
		require.True(t, ok)
		assert.Equal(t, i, ev)
	}
	assert.Zero(t, q.len())
}

func TestEventQueuePopWaitsForPush(t *testing.T) {
	q := newEventQueue()
	got := make(chan interface{}, 1)

	go func() {
		ev, _ := q.pop(context.Background())
		got <- ev
	}()

	time.Sleep(10 * time.Millisecond)
	q.push("late")

	select {
	case ev := <-got:
		assert.Equal(t, "late", ev)
	case <-time.After(time.Second):
		t.Fatal("pop did not observe push")
	}
}

func TestEventQueueClose(t *testing.T) {
	q := newEventQueue()
	q.push("dropped")
	q.close()

	_, ok := q.pop(context.Background())
	assert.False(t, ok)
	assert.False(t, q.push("after close"))
}

func TestEventQueueContextCancel(t *testing.T) {
	q := newEventQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.pop(ctx)
	assert.False(t, ok)
}
