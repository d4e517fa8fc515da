package corerun

import (
	"context"
	"sync"
	"sync/atomic"
)

// uint64Counter hands out dense, monotonically increasing executor ids.
type uint64Counter struct{ v atomic.Uint64 }

func (c *uint64Counter) next() uint64 { return c.v.Add(1) }

// executorRegistry is the thread-local scoped slot spec §4.5 describes: the
// currently-running executor, published only for the duration of Run, keyed
// by goroutine id so nested Run calls on the same goroutine are detectable
// (the teacher's isLoopThread check, generalized to a lookup table since more
// than one Executor can legitimately run concurrently, each on its own
// goroutine).
var executorRegistry sync.Map // goroutine id (uint64) -> *Executor

func publish(ex *Executor) (unpublish func(), err error) {
	id := currentGoroutineID()
	if _, loaded := executorRegistry.LoadOrStore(id, ex); loaded {
		return nil, ErrReentrantRun
	}
	return func() { executorRegistry.Delete(id) }, nil
}

// current returns the Executor published on the calling goroutine, or
// [ErrExecutorNotRunning] if none is (spec §6: current_task_queue,
// executor_id, get_reactor are all only meaningful inside a running Run).
func current() (*Executor, error) {
	v, ok := executorRegistry.Load(currentGoroutineID())
	if !ok {
		return nil, ErrExecutorNotRunning
	}
	return v.(*Executor), nil
}

// Executor is the per-thread local executor (spec §4.5): the queue manager
// and its reactor, plus the placement and id it was built with. It must only
// ever be driven by one goroutine at a time via Run.
type Executor struct {
	id        uint64
	placement Placement
	logger    Logger

	queues   *QueueManager
	defaultQ *TaskQueue
	reactor  *Reactor
}

var executorIDSeq uint64Counter

// NewExecutor constructs an Executor with at least one default queue
// installed at handle index 0 (spec §4.5), and its own reactor/kernel ring.
func NewExecutor(opts ...ExecutorOption) (*Executor, error) {
	o, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}
	id := executorIDSeq.next()
	re, err := newReactor(o)
	if err != nil {
		return nil, err
	}
	ex := &Executor{
		id:        id,
		placement: o.placement,
		logger:    o.logger,
		queues:    NewQueueManager(),
		reactor:   re,
	}
	ex.defaultQ = NewTaskQueue("default", 0)
	h := ex.queues.Install(ex.defaultQ)
	if h != 0 {
		panic("corerun: default queue must install at handle 0")
	}
	return ex, nil
}

// ID returns this executor's identifier (spec §6 executor_id()).
func (ex *Executor) ID() uint64 { return ex.id }

// Reactor returns this executor's reactor (spec §6 get_reactor()).
func (ex *Executor) Reactor() *Reactor { return ex.reactor }

// CurrentTaskQueue returns the handle of the queue currently executing on
// this executor, or false outside of a task's run (spec §6
// current_task_queue()).
func (ex *Executor) CurrentTaskQueue() (QueueHandle, bool) {
	cur := ex.queues.Current()
	if cur == nil {
		return 0, false
	}
	return ex.handleOf(cur), true
}

func (ex *Executor) handleOf(q *TaskQueue) QueueHandle {
	for i, candidate := range ex.queues.byHandle {
		if candidate == q {
			return QueueHandle(i)
		}
	}
	return 0
}

// InstallQueue installs a new task queue, returning its stable handle, for
// use with SpawnInto.
func (ex *Executor) InstallQueue(name string, priority int) QueueHandle {
	return ex.queues.Install(NewTaskQueue(name, priority))
}

// scheduleOnto builds the schedule closure spec §4.5 describes: push onto
// the queue's ready sequence, then maybe_activate it through this executor.
// Go's garbage collector makes the "weak reference to avoid cycles" moot: it
// collects the queue -> task -> closure -> queue cycle like any other, so the
// closure simply closes over the queue pointer directly. Installed queues
// are never removed from byHandle, so the closure never sees a gone queue.
func (ex *Executor) scheduleOnto(q *TaskQueue) func(Task) {
	return func(t Task) {
		q.Push(t)
		ex.queues.MaybeActivate(q)
	}
}

// spawnOn implements spec §4.5 spawn(future): target = currently-executing
// queue if any, else the default queue.
func spawnOn[R any](ex *Executor, future Future[R]) *JoinHandle[R] {
	target := ex.queues.Current()
	if target == nil {
		target = ex.defaultQ
	}
	task, handle := allocateTask(future, ex.scheduleOnto(target), currentGoroutineID())
	task.scheduleSelf()
	return handle
}

// spawnInto implements spec §4.5 spawn_into(future, handle).
func spawnInto[R any](ex *Executor, h QueueHandle, future Future[R]) (*JoinHandle[R], error) {
	q, err := ex.queues.Lookup(h)
	if err != nil {
		return nil, err
	}
	task, handle := allocateTask(future, ex.scheduleOnto(q), currentGoroutineID())
	task.scheduleSelf()
	return handle, nil
}

// SpawnLocal implements spec §6 spawn_local(future): schedules future on the
// executor published on the calling goroutine. Panics with
// [ErrExecutorNotRunning] if called outside of Run, matching the Rust
// original's behavior of panicking when invoked outside a running executor.
func SpawnLocal[R any](future Future[R]) *JoinHandle[R] {
	ex, err := current()
	if err != nil {
		panic(err)
	}
	return spawnOn(ex, future)
}

// SpawnInto implements spec §6 spawn_into targeting an explicit queue handle
// on the currently-published executor.
func SpawnInto[R any](h QueueHandle, future Future[R]) (*JoinHandle[R], error) {
	ex, err := current()
	if err != nil {
		return nil, err
	}
	return spawnInto(ex, h, future)
}

// CurrentTaskQueue implements spec §6 current_task_queue() as a free
// function, for symmetry with SpawnLocal.
func CurrentTaskQueue() (QueueHandle, bool) {
	ex, err := current()
	if err != nil {
		return 0, false
	}
	return ex.CurrentTaskQueue()
}

// ExecutorID implements spec §6 executor_id().
func ExecutorID() (uint64, bool) {
	ex, err := current()
	if err != nil {
		return 0, false
	}
	return ex.id, true
}

// GetReactor implements spec §6 get_reactor().
func GetReactor() (*Reactor, error) {
	ex, err := current()
	if err != nil {
		return nil, err
	}
	return ex.reactor, nil
}

// drainQueue runs every ready task currently queued on q, including ones
// pushed by tasks this same call runs (a task spawning a sibling onto its
// own queue must see that sibling picked up without waiting for a future
// round), and reports how many it ran.
func (ex *Executor) drainQueue(q *TaskQueue) int {
	n := 0
	for {
		t, ok := q.Pop()
		if !ok {
			break
		}
		t.h.ops.run(t.h)
		n++
		// A preemption check belongs here (spec §9 design note); this
		// implementation has no budget to enforce, so it always drains the
		// queue fully before yielding to the next one.
	}
	return n
}

// runOneTaskQueue implements spec §4.5.1 run_one_task_queue: pop the next
// active queue, drain its ready sequence task-by-task, then reset its active
// bit and, if still non-empty, push it back onto the ready heap.
//
// A task body can call [JoinHandle.Await] on a sibling it just spawned onto
// its own queue, which re-enters here from inside ex.queues.PopNextActive's
// queue — already removed from the ready heap by the outer, still-running
// call. The heap has nothing left to pop in that case, so falling straight
// through to "no active queue" would deadlock: the sibling task sits ready
// in a queue the reentrant call can no longer see. Falling back to whatever
// queue ex.queues.Current() reports lets the reentrant call keep draining
// that same queue on the outer call's behalf.
func (ex *Executor) runOneTaskQueue() bool {
	q, ok := ex.queues.PopNextActive()
	if ok {
		ex.drainQueue(q)
		q.ResetActive()
		ex.queues.ClearExecuting()
		if q.IsActive() {
			ex.queues.MaybeActivate(q)
		}
		return true
	}
	if cur := ex.queues.Current(); cur != nil {
		return ex.drainQueue(cur) > 0
	}
	return false
}

// runTaskQueues implements spec §4.5.1 run_task_queues: keep running queues
// until none are active.
func (ex *Executor) runTaskQueues() {
	for ex.runOneTaskQueue() {
	}
}

// pumpUntil drains queues and the reactor in a loop until predicate reports
// true, the mechanism [JoinHandle.Await] uses for nested, in-task awaiting
// (spec scenario 3: spawn_local + .await from inside another task's body).
// It must only ever be called from the goroutine that published ex.
func (ex *Executor) pumpUntil(predicate func() bool) {
	for !predicate() {
		ex.runTaskQueues()
		if predicate() {
			return
		}
		if _, err := ex.reactor.Wait(true); err != nil {
			logAt(ex.logger, LevelError, "executor", "reactor wait failed", err)
			return
		}
	}
}

// Run implements spec §4.5 run(future): publishes ex into the thread-local
// scope for the duration of the call, spawns future, then loops {poll the
// join handle with a dummy waker; drain queues; reactor submit+drain} until
// the join handle resolves or ctx is cancelled.
func Run[T any](ctx context.Context, ex *Executor, future Future[T]) (T, error) {
	var zero T

	unpublish, err := publish(ex)
	if err != nil {
		return zero, err
	}
	defer unpublish()

	handle := spawnOn(ex, future)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ex.reactor.Wake()
		case <-done:
		}
	}()

	// allocate a dummy no-op waker (spec §4.5 run()): JoinHandle.Poll clones
	// and stores it as the top-level task's awaiter when not yet ready, so
	// it must tolerate being woken without ever touching real schedule
	// state. Marking it HANDLE-owned makes dropRef a no-op forever, and its
	// scheduleFn is a true no-op, so a stray wake neither panics nor
	// resurrects a queue entry.
	dummy := newNoopWaker(currentGoroutineID())

	for {
		if out, ready := handle.Poll(dummy); ready {
			return out, nil
		}
		// A panicked root future is Closed without Completed: Poll will keep
		// reporting ready=false forever (spec §7's "None"), which otherwise
		// looks identical to ordinary Pending and would spin/block here
		// indefinitely. handle.Err() distinguishes the two so Run can return
		// instead of waiting on a reactor that nothing will ever wake again.
		if err := handle.Err(); err != nil {
			handle.Drop()
			return zero, err
		}
		if err := ctx.Err(); err != nil {
			handle.Drop()
			return zero, err
		}
		ex.runTaskQueues()
		if out, ready := handle.Poll(dummy); ready {
			return out, nil
		}
		if err := handle.Err(); err != nil {
			handle.Drop()
			return zero, err
		}
		if _, err := ex.reactor.Wait(true); err != nil {
			return zero, err
		}
	}
}

// Shutdown releases the executor's reactor (kernel ring, registry, wake fd).
// It must be called after Run returns; Run does not call it automatically,
// since an Executor may be reused across multiple sequential Run calls.
func (ex *Executor) Shutdown() error {
	return ex.reactor.Close()
}
