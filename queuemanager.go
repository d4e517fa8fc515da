package corerun

import "container/heap"

// QueueManager holds the set of all installed queues, the ready heap, and
// the currently-executing queue (spec §3.3/§4.4). The heap orders by the
// fixed integer priority each queue was created with, highest first, and
// breaks ties by activation order; no runtime-based weighting is applied.
type QueueManager struct {
	byHandle []*TaskQueue // dense handle -> queue, index == QueueHandle
	ready    readyHeap
	nextSeq  uint64
	current  *TaskQueue
}

// NewQueueManager returns an empty manager with no installed queues.
func NewQueueManager() *QueueManager {
	return &QueueManager{}
}

// Install implements spec §4.4 install(handle, queue), assigning the next
// dense handle.
func (m *QueueManager) Install(q *TaskQueue) QueueHandle {
	h := QueueHandle(len(m.byHandle))
	m.byHandle = append(m.byHandle, q)
	return h
}

// Lookup implements spec §4.4 lookup(handle) -> queue.
func (m *QueueManager) Lookup(h QueueHandle) (*TaskQueue, error) {
	if int(h) < 0 || int(h) >= len(m.byHandle) || m.byHandle[h] == nil {
		return nil, ErrQueueHandleUnknown
	}
	return m.byHandle[h], nil
}

// Current returns the queue currently executing, if any.
func (m *QueueManager) Current() *TaskQueue { return m.current }

// MaybeActivate implements spec §4.4 maybe_activate: if the queue is not
// already active, mark it active and push it onto the ready heap.
func (m *QueueManager) MaybeActivate(q *TaskQueue) {
	if q.active {
		return
	}
	q.active = true
	m.nextSeq++
	q.seq = m.nextSeq
	heap.Push(&m.ready, q)
}

// PopNextActive implements spec §4.4 pop_next_active: remove the heap root
// and set it as currently-executing.
func (m *QueueManager) PopNextActive() (*TaskQueue, bool) {
	if m.ready.Len() == 0 {
		return nil, false
	}
	q := heap.Pop(&m.ready).(*TaskQueue)
	m.current = q
	return q, true
}

// ClearExecuting implements spec §4.4 clear_executing, called after a round.
func (m *QueueManager) ClearExecuting() { m.current = nil }

// readyHeap is a container/heap max-heap (by priority, ties by insertion
// order) of active task queues — the direct Go analogue of the teacher's
// timer min-heap in loop.go, inverted for priority-highest-first.
type readyHeap []*TaskQueue

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *readyHeap) Push(x any) {
	q := x.(*TaskQueue)
	q.index = len(*h)
	*h = append(*h, q)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	q.index = -1
	*h = old[:n-1]
	return q
}
