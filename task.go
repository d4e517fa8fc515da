package corerun

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Future is the suspending computation a task cell drives. Poll is called at
// most once per schedule round: it must either return a final value
// (ready=true) or register w (via Waker.Clone, so the registration survives
// past this call) against whatever it is waiting on and return ready=false.
//
// Futures that never suspend (plain synchronous work) can return ready=true
// on the very first call; see FuncFuture.
type Future[R any] interface {
	Poll(w *Waker) (out R, ready bool)
}

// FuncFuture adapts a plain function into a [Future] that completes on its
// first poll. This is the shape ordinary task bodies take; only code that
// genuinely suspends (I/O, see pollable.go) needs to implement [Future]
// directly.
type FuncFuture[R any] func() R

// Poll implements Future.
func (f FuncFuture[R]) Poll(*Waker) (R, bool) { return f(), true }

// Header is the fixed-size prefix of a task cell (spec §3.1). It is embedded
// in every taskCell[R] instantiation, which is itself the task's single heap
// allocation: Go's compiler lays out the embedded Header, the schedule
// closure, and the future/output fields contiguously in one allocation, the
// same way the original manual (Header, Schedule, union{Future,Output})
// layout does, without requiring raw pointer-offset arithmetic (see
// DESIGN.md).
type Header struct {
	state      atomicState
	references atomic.Int32

	// ownerGID is the goroutine id of the executor that owns this task,
	// captured when the cell is allocated (always on that same goroutine:
	// spawning only happens from inside a running Run). It is distinct from
	// Executor.ID(), the user-facing identifier spec §6 executor_id()
	// exposes; this field exists purely for the cross-thread-wake check.
	ownerGID uint64

	awaiterMu sync.Mutex
	awaiter   *Waker

	// panicErr is set, once, by runTaskCell if the future's Poll panicked
	// instead of returning. Only ever written from the owning goroutine
	// (mirroring ownerGID's single-writer assumption), and always before
	// the Closed bit is set via an atomic op, so a reader that
	// observes Closed via the state word has also synchronized-with this
	// write per the Go memory model.
	panicErr error

	// scheduleFn is the user-supplied schedule closure (spec §3.1: "the
	// schedule closure"), invoked by scheduleSelf with a Task handle.
	scheduleFn func(Task)

	// ops is this task's vtable: a set of closures over the concrete
	// (R) type parameter, created once in allocate and never reassigned.
	// This is the Go analogue of the static vtable pointer: Go's generic
	// instantiation already specializes run/destroy per concrete type, so
	// the closures need no further caching. The other operations (schedule,
	// wake, clone, drop) do not depend on R and are plain functions and
	// methods on Task, Waker and Header.
	ops *taskOps
}

type taskOps struct {
	run func(*Header) (requeued bool)
	// destroy clears the future and output slots. Go has no manual
	// deallocation: this is the point at which the cell becomes eligible
	// for GC once the last reference (this closure's capture aside) drops.
	destroy func(*Header)
}

// Task is an opaque reference to a task cell, the shape a schedule closure
// and a task queue operate on without knowing the concrete future/output
// types.
type Task struct{ h *Header }

// Waker is a cloneable, type-erased handle that can re-schedule the task it
// was cloned from. Wakers may be held across goroutine boundaries in
// principle (hence the atomic reference count) but MUST only ever be woken
// from the goroutine that owns the task's executor; see [ErrCrossThreadWake].
type Waker struct{ h *Header }

// taskCell is the concrete, single-allocation task: Header + schedule
// closure + future/output storage for one future type R.
type taskCell[R any] struct {
	Header
	future Future[R]
	output R
}

// allocateTask is the generic form of spec §4.1's allocate(future, schedule,
// executor_id). It returns the opaque Task reference (consumed immediately
// by the caller's schedule() call) and the typed JoinHandle sharing the cell.
func allocateTask[R any](future Future[R], schedule func(Task), ownerGID uint64) (Task, *JoinHandle[R]) {
	c := &taskCell[R]{future: future}
	c.Header.state.store(Scheduled | Handle)
	c.Header.ownerGID = ownerGID
	c.Header.scheduleFn = schedule
	c.Header.ops = &taskOps{
		run: func(h *Header) bool { return runTaskCell(c) },
		destroy: func(*Header) {
			var zeroF Future[R]
			var zeroR R
			c.future = zeroF
			c.output = zeroR
		},
	}
	return Task{h: &c.Header}, &JoinHandle[R]{cell: c}
}

// newNoopWaker returns a Waker that tolerates Wake/WakeByRef/Clone without
// ever touching real schedule state: its Header carries HANDLE permanently
// (so dropRef always short-circuits) and a schedule closure that does
// nothing. Used as the top-level dummy waker spec §4.5 run() allocates to
// poll the root join handle.
func newNoopWaker(ownerGID uint64) *Waker {
	h := &Header{ownerGID: ownerGID, scheduleFn: func(Task) {}}
	h.state.store(Handle)
	return &Waker{h: h}
}

// currentGoroutineID returns the id of the calling goroutine, parsed from
// runtime.Stack, the same technique the teacher's isLoopThread check uses.
// It stands in for an OS-thread id: the executor is driven by one goroutine
// (the one that called Run), which the Go runtime may move between OS
// threads, so the goroutine id rather than a thread id identifies the owning
// executor when detecting a wake attempted from outside it.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// scheduleSelf implements spec §4.1 schedule(ptr): increments refcount, then
// invokes the user-supplied schedule closure with a task handle.
func (t Task) scheduleSelf() {
	t.h.references.Add(1)
	t.h.scheduleFn(t)
}

// runTaskCell is the state machine's heart (spec §4.1 run). It is generic
// over R so it can poll the concrete future and write the concrete output.
func runTaskCell[R any](c *taskCell[R]) (requeued bool) {
	h := &c.Header

	pre := h.state.load()
	if pre.has(Closed) {
		c.future = nil
		h.state.andNot(Scheduled)
		dropTaskRef(h)
		return false
	}

	h.state.update(func(s State) State {
		return (s | Running) &^ Scheduled
	})

	// The waker passed to Poll is borrowed: it shares the reference this
	// run call already holds (added by scheduleSelf), and is only "owned"
	// by the future if it explicitly calls Clone.
	w := &Waker{h: h}

	out, ready, panicErr := pollFuture(c.future, w)

	if panicErr != nil {
		// spec §7: a panicking future propagates up, but only as far as this
		// task — it is not rescheduled, and the join handle resolves to None
		// (Closed without Completed, the same terminal shape a cancelled,
		// never-run task reaches; see JoinHandle.Poll's Closed branch).
		c.future = nil
		var zero R
		c.output = zero
		h.panicErr = panicErr
		h.state.update(func(s State) State {
			return (s &^ (Running | Scheduled)) | Closed
		})
		notifyAwaiter(h)
		logTaskPanic(panicErr)
		dropTaskRef(h)
		return false
	}

	if ready {
		c.future = nil
		c.output = out
		pre := h.state.load()
		if pre.has(Handle) {
			h.state.or(Completed)
		} else {
			h.state.or(Completed | Closed)
			var zero R
			c.output = zero
		}
		notifyAwaiter(h)
		h.state.andNot(Running)
	} else {
		rescheduled := false
		h.state.update(func(s State) State {
			s = s &^ Running
			if s.has(Scheduled) {
				rescheduled = true
			}
			return s
		})
		if rescheduled {
			Task{h: h}.scheduleSelf()
			requeued = true
		}
		if h.state.load().has(Closed) {
			c.future = nil
			notifyAwaiter(h)
		}
	}

	// drop_task: undo the reference held for this scheduled run.
	dropTaskRef(h)
	return requeued
}

// pollFuture polls f, recovering any panic so that a single misbehaving
// future cannot take down the owning executor goroutine (spec §7/§8: a task
// panic must not terminate other tasks). A non-nil panicErr means out/ready
// are meaningless; the caller must treat the task as terminally closed
// instead of inspecting them.
func pollFuture[R any](f Future[R], w *Waker) (out R, ready bool, panicErr error) {
	if f == nil {
		var zero R
		return zero, true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			panicErr = newPanicError(r)
			var zero R
			out = zero
			ready = false
		}
	}()
	out, ready = f.Poll(w)
	return out, ready, nil
}

// logTaskPanic records a recovered task panic against whatever executor is
// published on the calling goroutine. runTaskCell only ever runs on the
// goroutine that published its owning executor (spec §5: no cross-thread
// task migration), so this always finds the right logger.
func logTaskPanic(err error) {
	if ex, lookupErr := current(); lookupErr == nil {
		logAt(ex.logger, LevelError, "task", "task panicked", err)
	}
}

func notifyAwaiter(h *Header) {
	h.awaiterMu.Lock()
	a := h.awaiter
	h.awaiter = nil
	h.awaiterMu.Unlock()
	if a != nil {
		_ = a.Wake()
	}
}

// WakeByRef implements spec §4.1 wake_by_ref: does not consume the waker.
func (w *Waker) WakeByRef() error {
	if w.h.ownerGID != currentGoroutineID() {
		return ErrCrossThreadWake
	}
	s := w.h.state.load()
	if s.has(Completed) || s.has(Closed) {
		return nil
	}
	prev := w.h.state.or(Scheduled)
	if prev.has(Scheduled) {
		return nil // idempotent wake
	}
	if !prev.has(Running) {
		Task{h: w.h}.scheduleSelf()
	}
	return nil
}

// Wake implements spec §4.1 wake: wake_by_ref, then drops this waker's ref.
func (w *Waker) Wake() error {
	err := w.WakeByRef()
	dropWakerRef(w.h)
	return err
}

// Clone implements spec §4.1 clone_waker.
func (w *Waker) Clone() *Waker {
	w.h.references.Add(1)
	return &Waker{h: w.h}
}

// dropWakerRef and dropTaskRef both implement spec §4.1 drop_waker/drop_task:
// decrement refcount, and if it reaches zero with HANDLE clear, either
// schedule one last close-and-drop round or destroy the cell outright.
func dropWakerRef(h *Header) { dropRef(h) }
func dropTaskRef(h *Header)  { dropRef(h) }

func dropRef(h *Header) {
	if h.references.Add(-1) != 0 {
		return
	}
	s := h.state.load()
	if s.has(Handle) {
		return
	}
	if !s.has(Completed) && !s.has(Closed) {
		prev := h.state.or(Scheduled | Closed)
		if !prev.has(Scheduled) {
			// scheduleSelf adds the reference for the new scheduled run
			// itself; if the task was already SCHEDULED, the reference that
			// scheduled run holds already covers this close, so no new ref
			// is needed at all.
			Task{h: h}.scheduleSelf()
		}
		return
	}
	h.ops.destroy(h)
}
