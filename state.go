package corerun

import "sync/atomic"

// State is the task header's bitfield. Transitions are CAS-based so a waker
// on another goroutine can race the owning executor without a lock; the
// reference count (see Header) is a separate atomic word for the same reason.
type State uint32

const (
	// Scheduled is set while the task is (or is about to be) inside exactly
	// one task queue.
	Scheduled State = 1 << iota
	// Running is set while exactly one run() is in progress.
	Running
	// Completed is set once the future has produced an output and the output
	// slot holds a valid value, until Closed is also set or the handle reads it.
	Completed
	// Closed is set once the future slot no longer holds a valid future
	// (either the future ran to completion and was dropped, or it was
	// cancelled before running).
	Closed
	// Handle is set for as long as the JoinHandle half of the task has not
	// been dropped.
	Handle
)

func (s State) String() string {
	if s == 0 {
		return "none"
	}
	var out string
	for _, f := range []struct {
		flag State
		name string
	}{
		{Scheduled, "SCHEDULED"},
		{Running, "RUNNING"},
		{Completed, "COMPLETED"},
		{Closed, "CLOSED"},
		{Handle, "HANDLE"},
	} {
		if s&f.flag != 0 {
			if out != "" {
				out += "|"
			}
			out += f.name
		}
	}
	return out
}

func (s State) has(flag State) bool { return s&flag != 0 }

// atomicState is a cache-line-padded atomic word holding a State, following
// the same false-sharing precaution as the teacher's FastState.
type atomicState struct {
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func (a *atomicState) load() State { return State(a.v.Load()) }

func (a *atomicState) store(s State) { a.v.Store(uint32(s)) }

// cas attempts from -> to and reports whether it succeeded.
func (a *atomicState) cas(from, to State) bool {
	return a.v.CompareAndSwap(uint32(from), uint32(to))
}

// or atomically sets the given bits and returns the state prior to the set.
func (a *atomicState) or(bits State) State {
	for {
		old := a.v.Load()
		if a.v.CompareAndSwap(old, old|uint32(bits)) {
			return State(old)
		}
	}
}

// andNot atomically clears the given bits and returns the state prior to the clear.
func (a *atomicState) andNot(bits State) State {
	for {
		old := a.v.Load()
		if a.v.CompareAndSwap(old, old&^uint32(bits)) {
			return State(old)
		}
	}
}

// update applies fn to the current state in a CAS loop and returns the state
// observed immediately before the update (i.e. the pre-image).
func (a *atomicState) update(fn func(State) State) State {
	for {
		old := State(a.v.Load())
		next := fn(old)
		if a.v.CompareAndSwap(uint32(old), uint32(next)) {
			return old
		}
	}
}
