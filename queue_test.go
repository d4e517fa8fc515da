package corerun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFOOrder(t *testing.T) {
	q := NewTaskQueue("q", 0)
	assert.True(t, q.Empty())

	headers := make([]*Header, 3)
	for i := range headers {
		headers[i] = &Header{}
		q.Push(Task{h: headers[i]})
	}
	assert.False(t, q.Empty())

	for i := range headers {
		task, ok := q.Pop()
		require.True(t, ok)
		assert.Same(t, headers[i], task.h)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

func TestTaskQueue_ChunkRollover(t *testing.T) {
	q := NewTaskQueue("q", 0)
	n := queueChunkSize*2 + 5
	headers := make([]*Header, n)
	for i := range headers {
		headers[i] = &Header{}
		q.Push(Task{h: headers[i]})
	}
	for i := range headers {
		task, ok := q.Pop()
		require.True(t, ok)
		assert.Same(t, headers[i], task.h)
	}
	assert.True(t, q.Empty())
}

func TestTaskQueue_ActiveBit(t *testing.T) {
	q := NewTaskQueue("q", 0)
	assert.False(t, q.IsActive())

	q.Push(Task{h: &Header{}})
	q.active = true
	assert.True(t, q.IsActive())

	q.Pop()
	q.ResetActive()
	assert.False(t, q.IsActive(), "queue must deactivate once drained")

	q.Push(Task{h: &Header{}})
	q.active = true
	q.ResetActive()
	assert.True(t, q.IsActive(), "queue with remaining work stays active")
}

func TestTaskQueue_InterleavedPushPop(t *testing.T) {
	q := NewTaskQueue("q", 0)
	a, b, c := &Header{}, &Header{}, &Header{}

	q.Push(Task{h: a})
	q.Push(Task{h: b})
	first, _ := q.Pop()
	assert.Same(t, a, first.h)

	q.Push(Task{h: c})
	second, _ := q.Pop()
	assert.Same(t, b, second.h)
	third, _ := q.Pop()
	assert.Same(t, c, third.h)
	assert.True(t, q.Empty())
}
