package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	q := NewInMemoryQueue(2)

	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.True(t, errors.Is(q.Enqueue("c"), ErrQueueFull))
	assert.Equal(t, 2, q.Size())

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", item)

	require.NoError(t, q.Enqueue("c"))
	items, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b", "c"}, items)
	assert.Equal(t, 0, q.Size())

	require.NoError(t, q.Enqueue("d"))
	q.ClearQueue()
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueueDequeueCanceled(t *testing.T) {
	q := NewInMemoryQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
