package layerpubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xshapira/fast-channels/layer"
)

func TestLocalQueueFIFO(t *testing.T) {
	q := newLocalQueue(10, nil)
	q.push(layer.Message{"type": "t", "i": 1})
	q.push(layer.Message{"type": "t", "i": 2})

	ctx := context.Background()
	m1, err := q.pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m1["i"])

	m2, err := q.pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m2["i"])
}

func TestLocalQueueDropsOldestOnOverflow(t *testing.T) {
	overflowed := 0
	q := newLocalQueue(2, func() { overflowed++ })

	q.push(layer.Message{"type": "t", "i": 1})
	q.push(layer.Message{"type": "t", "i": 2})
	q.push(layer.Message{"type": "t", "i": 3})

	assert.Equal(t, 1, overflowed)

	ctx := context.Background()
	m, err := q.pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m["i"], "oldest entry must have been dropped")

	m, err = q.pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, m["i"])
}

func TestLocalQueuePopBlocksUntilPush(t *testing.T) {
	q := newLocalQueue(10, nil)
	done := make(chan layer.Message, 1)
	go func() {
		m, err := q.pop(context.Background())
		require.NoError(t, err)
		done <- m
	}()

	time.Sleep(20 * time.Millisecond)
	q.push(layer.Message{"type": "t", "i": 1})

	select {
	case m := <-done:
		assert.Equal(t, 1, m["i"])
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after push")
	}
}

func TestLocalQueuePopRespectsContext(t *testing.T) {
	q := newLocalQueue(10, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalQueueCloseUnblocksPop(t *testing.T) {
	q := newLocalQueue(10, nil)
	done := make(chan error, 1)
	go func() {
		_, err := q.pop(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, layer.ErrLayerClosed)
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after close")
	}
}
