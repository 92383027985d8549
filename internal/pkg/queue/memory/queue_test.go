package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/relay/internal/pkg/queue"
)

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(4)

	require.NoError(t, q.Enqueue(ctx, queue.Event{ID: "1"}))
	require.NoError(t, q.Enqueue(ctx, queue.Event{ID: "2"}))

	size, _ := q.Size(ctx)
	assert.Equal(t, int64(2), size)

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", first.ID)

	second, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2", second.ID)
}

func TestQueueTimeoutReturnsNil(t *testing.T) {
	q := NewQueue(1)
	evt, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, evt)
}

func TestQueueFullDropsOldest(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(2)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, q.Enqueue(ctx, queue.Event{ID: id}))
	}

	size, _ := q.Size(ctx)
	assert.Equal(t, int64(2), size)
	assert.Equal(t, int64(1), q.Dropped())

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2", first.ID)
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(4)

	got := make(chan string, 1)
	go func() {
		evt, err := q.Dequeue(ctx, 2*time.Second)
		if err == nil && evt != nil {
			got <- evt.ID
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, queue.Event{ID: "tarde"}))

	select {
	case id := <-got:
		assert.Equal(t, "tarde", id)
	case <-time.After(time.Second):
		t.Fatal("Dequeue não acordou")
	}
}

func TestQueueClosedDrainsThenFails(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(2)
	require.NoError(t, q.Enqueue(ctx, queue.Event{ID: "1"}))

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, queue.Event{ID: "2"}), queue.ErrClosed)

	evt, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", evt.ID)

	_, err = q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, queue.ErrClosed)
}
