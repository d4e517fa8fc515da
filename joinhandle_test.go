package corerun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinHandle_DropAfterCompletionWithoutPoll(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := FuncFuture[int](func() int { return 7 })
	task, handle := allocateTask(future, schedule, currentGoroutineID())
	task.scheduleSelf()
	runTaskCell(handle.cell)

	require.True(t, handle.cell.Header.state.load().has(Completed))

	// Drop without ever calling Poll: spec §4.2 drop on a completed-but-
	// unread handle must tear the cell down (Closed set, references settle
	// at zero, no panic).
	handle.Drop()
	s := handle.cell.Header.state.load()
	assert.True(t, s.has(Closed))
	assert.False(t, s.has(Handle))
}

func TestJoinHandle_DropPendingWithOutstandingRefDefersClose(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := &suspendOnceFuture{}
	task, handle := allocateTask[int](future, schedule, currentGoroutineID())
	task.scheduleSelf()
	runTaskCell(handle.cell) // suspends; future.waker now holds the one outstanding reference

	require.NotNil(t, future.waker)
	require.False(t, handle.cell.Header.state.load().has(Completed))
	require.Equal(t, int32(1), handle.cell.Header.references.Load())

	// Spec §4.2 drop: not completed, refs != 0, not closed -> the fallback
	// branch just clears HANDLE; it cannot force-cancel while a future's
	// waker still holds a reference.
	handle.Drop()
	s := handle.cell.Header.state.load()
	assert.False(t, s.has(Handle))
	assert.False(t, s.has(Closed))

	// Once that outstanding reference is itself released, refs hits zero
	// with HANDLE already clear: dropRef takes over and schedules the task
	// once more purely so the executor can drop the future (spec §9).
	dropWakerRef(future.waker.h)
	require.Len(t, scheduled, 2, "dropping the last ref with no handle must schedule a close run")

	runTaskCell(handle.cell)
	assert.Equal(t, 1, future.polls, "a closed task must not be polled again")
	assert.True(t, handle.cell.Header.state.load().has(Closed))
}

func TestJoinHandle_DoubleDropIsSafe(t *testing.T) {
	var scheduled []Task
	schedule := func(task Task) { scheduled = append(scheduled, task) }

	future := FuncFuture[int](func() int { return 1 })
	task, handle := allocateTask(future, schedule, currentGoroutineID())
	task.scheduleSelf()
	runTaskCell(handle.cell)

	handle.Drop()
	assert.NotPanics(t, func() { handle.Drop() })
}
