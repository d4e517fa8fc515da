package corerun

import "sync"

const queueChunkSize = 128

// queueChunk is one node of the task queue's backing linked list, sized to
// amortize allocation the way the teacher's ChunkedIngress chunks do.
type queueChunk struct {
	tasks   [queueChunkSize]Task
	readPos int
	pos     int
	next    *queueChunk
}

var queueChunkPool = sync.Pool{New: func() any { return new(queueChunk) }}

func getQueueChunk() *queueChunk {
	c := queueChunkPool.Get().(*queueChunk)
	c.readPos, c.pos, c.next = 0, 0, nil
	return c
}

func putQueueChunk(c *queueChunk) {
	for i := range c.tasks {
		c.tasks[i] = Task{}
	}
	queueChunkPool.Put(c)
}

// QueueHandle is a stable, dense integer index naming an installed
// [TaskQueue], as used by spec.md §3.3/§4.4's handle→queue map.
type QueueHandle int

// TaskQueue is a FIFO of ready tasks plus the active bit and priority key
// from spec.md §3.2/§4.3. Not safe for concurrent use: all mutation happens
// on the owning executor's goroutine.
type TaskQueue struct {
	Name string

	head, tail *queueChunk
	len        int

	active   bool
	priority int
	seq      uint64 // insertion counter, used to break heap ties

	index int // position in the queue manager's heap, -1 when absent
}

// NewTaskQueue constructs an empty, inactive queue.
func NewTaskQueue(name string, priority int) *TaskQueue {
	c := getQueueChunk()
	return &TaskQueue{Name: name, priority: priority, head: c, tail: c, index: -1}
}

// Push appends task to the queue (spec §4.3 push).
func (q *TaskQueue) Push(t Task) {
	if q.tail.pos == queueChunkSize {
		n := getQueueChunk()
		q.tail.next = n
		q.tail = n
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.len++
}

// Pop removes and returns the front task, if any (spec §4.3 pop).
func (q *TaskQueue) Pop() (Task, bool) {
	if q.len == 0 {
		return Task{}, false
	}
	for q.head.readPos == q.head.pos && q.head.next != nil {
		done := q.head
		q.head = q.head.next
		putQueueChunk(done)
	}
	if q.head.readPos == q.head.pos {
		return Task{}, false
	}
	t := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = Task{}
	q.head.readPos++
	q.len--
	return t, true
}

// Empty reports whether the queue currently holds no ready tasks.
func (q *TaskQueue) Empty() bool { return q.len == 0 }

// IsActive implements spec §4.3 is_active.
func (q *TaskQueue) IsActive() bool { return q.active }

// ResetActive implements spec §4.3 reset_active: active becomes
// !queue.empty() after a run round.
func (q *TaskQueue) ResetActive() { q.active = !q.Empty() }
