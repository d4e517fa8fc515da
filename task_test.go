package corerun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncFuture_ReadyOnFirstPoll(t *testing.T) {
	f := FuncFuture[int](func() int { return 42 })
	out, ready := f.Poll(nil)
	assert.True(t, ready)
	assert.Equal(t, 42, out)
}

// runToCompletion drives a freshly-allocated task cell synchronously by
// invoking scheduleSelf and then its run closure directly, the way a single
// queue drain round would, bypassing the full Executor to isolate the state
// machine.
func runToCompletion[R any](t *testing.T, future Future[R]) (*JoinHandle[R], R) {
	t.Helper()
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	task, handle := allocateTask(future, schedule, currentGoroutineID())
	task.scheduleSelf()
	require.Len(t, scheduled, 1)

	scheduled[0].h.ops.run(scheduled[0].h)

	out, ok := handle.Poll(nil)
	require.True(t, ok)
	return handle, out
}

func TestTaskCell_RunToCompletion(t *testing.T) {
	handle, out := runToCompletion[int](t, FuncFuture[int](func() int { return 1 + 2 }))
	assert.Equal(t, 3, out)

	// A second Poll after the output has been consumed must not panic and
	// must report not-ready (output already drained per spec §4.2 poll).
	_, ready := handle.Poll(nil)
	assert.False(t, ready)
}

func TestTaskCell_StateTransitions(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := FuncFuture[string](func() string { return "done" })
	task, handle := allocateTask(future, schedule, currentGoroutineID())

	assert.Equal(t, Scheduled|Handle, task.h.state.load())

	task.scheduleSelf()
	require.Len(t, scheduled, 1)
	assert.Equal(t, int32(1), task.h.references.Load())

	scheduled[0].h.ops.run(scheduled[0].h)

	s := task.h.state.load()
	assert.True(t, s.has(Completed))
	assert.False(t, s.has(Running))
	assert.False(t, s.has(Scheduled))

	out, ok := handle.Poll(nil)
	assert.True(t, ok)
	assert.Equal(t, "done", out)
}

// suspendOnceFuture returns Pending on the first poll (cloning the waker so
// the caller can wake it later) and Ready on the second.
type suspendOnceFuture struct {
	polls int
	waker *Waker
}

func (f *suspendOnceFuture) Poll(w *Waker) (int, bool) {
	f.polls++
	if f.polls == 1 {
		f.waker = w.Clone()
		return 0, false
	}
	return 99, true
}

func TestTaskCell_SuspendThenWake(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := &suspendOnceFuture{}
	task, handle := allocateTask[int](future, schedule, currentGoroutineID())
	task.scheduleSelf()
	require.Len(t, scheduled, 1)

	// First run: future returns Pending, registers its own waker clone.
	requeued := runTaskCell(handle.cell)
	assert.False(t, requeued)
	require.NotNil(t, future.waker)
	assert.Len(t, scheduled, 1, "no wake happened yet, so no second schedule")

	_, ready := handle.Poll(nil)
	assert.False(t, ready)

	// Waking reschedules the task.
	require.NoError(t, future.waker.WakeByRef())
	require.Len(t, scheduled, 2)

	// Second run: future completes.
	runTaskCell(handle.cell)
	out, ok := handle.Poll(nil)
	require.True(t, ok)
	assert.Equal(t, 99, out)
}

func TestWaker_CrossThreadWakeFails(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := &suspendOnceFuture{}
	task, handle := allocateTask[int](future, schedule, currentGoroutineID())
	task.scheduleSelf()
	runTaskCell(handle.cell)
	require.NotNil(t, future.waker)

	errCh := make(chan error, 1)
	go func() {
		errCh <- future.waker.WakeByRef()
	}()
	err := <-errCh
	assert.ErrorIs(t, err, ErrCrossThreadWake)

	// The failed cross-thread wake must not have corrupted task state: a
	// same-thread wake afterwards still works exactly once.
	require.NoError(t, future.waker.WakeByRef())
	assert.Len(t, scheduled, 2)
}

func TestWaker_WakeIsIdempotentWhileScheduled(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := &suspendOnceFuture{}
	task, handle := allocateTask[int](future, schedule, currentGoroutineID())
	task.scheduleSelf()
	runTaskCell(handle.cell)
	require.NotNil(t, future.waker)

	require.NoError(t, future.waker.WakeByRef())
	require.Len(t, scheduled, 2)
	// Waking again before the rescheduled run happens must be a no-op: the
	// task is already SCHEDULED.
	require.NoError(t, future.waker.Clone().WakeByRef())
	assert.Len(t, scheduled, 2)
}

// panicFuture panics on its first poll, with a sentinel value a test can
// match against.
type panicFuture struct{ value any }

func (f *panicFuture) Poll(*Waker) (int, bool) { panic(f.value) }

func TestTaskCell_PanicDuringPollDoesNotCrashAndResolvesJoinHandleToNone(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := &panicFuture{value: "boom"}
	task, handle := allocateTask[int](future, schedule, currentGoroutineID())
	task.scheduleSelf()
	require.Len(t, scheduled, 1)

	assert.NotPanics(t, func() {
		requeued := scheduled[0].h.ops.run(scheduled[0].h)
		assert.False(t, requeued, "a panicked task must not be rescheduled")
	})

	s := handle.cell.Header.state.load()
	assert.True(t, s.has(Closed))
	assert.False(t, s.has(Completed))
	assert.False(t, s.has(Scheduled))
	assert.False(t, s.has(Running))

	out, ok := handle.Poll(nil)
	assert.False(t, ok, "a panicked task's join handle must resolve to None")
	assert.Equal(t, 0, out)

	require.Error(t, handle.Err())
	var panicErr *PanicError
	require.ErrorAs(t, handle.Err(), &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
}

func TestTaskCell_PanicDoesNotPreventOtherTasksFromRunning(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	panicking, panicHandle := allocateTask[int](&panicFuture{value: "boom"}, schedule, currentGoroutineID())
	ok, okHandle := allocateTask[int](FuncFuture[int](func() int { return 7 }), schedule, currentGoroutineID())

	panicking.scheduleSelf()
	ok.scheduleSelf()
	require.Len(t, scheduled, 2)

	for _, task := range scheduled {
		assert.NotPanics(t, func() { task.h.ops.run(task.h) })
	}

	_, ready := panicHandle.Poll(nil)
	assert.False(t, ready)

	out, ready := okHandle.Poll(nil)
	require.True(t, ready, "a sibling task must still complete normally after another task panics")
	assert.Equal(t, 7, out)
}

func TestDropJoinHandle_BeforeRun_ReleasesCell(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := FuncFuture[int](func() int { return 1 })
	task, handle := allocateTask(future, schedule, currentGoroutineID())
	task.scheduleSelf()
	require.Len(t, scheduled, 1)

	handle.Drop()
	// references is still 1 (held by the scheduled entry); dropping the
	// handle before the task ran must not destroy the cell out from under
	// the pending run.
	assert.False(t, handle.cell.Header.state.load().has(Handle))
}
