package corerun

import "sync"

// JoinHandle is a pollable proxy for a task's eventual output (spec §4.2).
// Polling it returns (value, true) once the task has completed, or
// (zero, false) if the task panicked or was cancelled before completing.
type JoinHandle[R any] struct {
	cell    *taskCell[R]
	dropped bool
	dropMu  sync.Mutex
}

// Poll implements spec §4.2's poll logic.
func (h *JoinHandle[R]) Poll(w *Waker) (out R, ready bool) {
	c := h.cell
	hdr := &c.Header

	s := hdr.state.load()
	if s.has(Closed) {
		if s.has(Scheduled) || s.has(Running) {
			registerAwaiter(hdr, w)
			return out, false
		}
		notifyAwaiter(hdr)
		return out, false
	}
	if !s.has(Completed) {
		registerAwaiter(hdr, w)
		return out, false
	}

	hdr.state.or(Closed)
	notifyAwaiter(hdr)
	out = c.output
	var zero R
	c.output = zero
	return out, true
}

// Err returns the panic that terminated this task without completing it, or
// nil if the task has not panicked (it may be pending, running, or have
// completed normally instead). Run uses this to stop polling a task that can
// never become ready again.
func (h *JoinHandle[R]) Err() error {
	return h.cell.Header.panicErr
}

// Await blocks the calling task's body by repeatedly pumping the owning
// executor (queue drain + reactor wait) until this handle settles. It is the
// synchronous convenience used from a [FuncFuture] body, mirroring how an
// async fn would simply `.await` the handle.
func (h *JoinHandle[R]) Await() (out R, ok bool) {
	ex, err := current()
	if err != nil {
		panic(err)
	}
	ex.pumpUntil(func() bool {
		s := h.cell.Header.state.load()
		return s.has(Completed) || (s.has(Closed) && !s.has(Scheduled) && !s.has(Running))
	})
	out, ok = h.Poll(nil)
	return out, ok
}

// Drop implements spec §4.2's drop logic. Callers that never call Await or
// Poll to completion must call Drop to release the handle half of the cell;
// it is safe (a no-op beyond clearing HANDLE) to call after a successful
// Await/Poll-to-ready as well.
func (h *JoinHandle[R]) Drop() {
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	if h.dropped {
		return
	}
	h.dropped = true

	hdr := &h.cell.Header
	s := hdr.state.load()

	// Common shortcut: spawned, never awaited, never run yet.
	if s == Scheduled|Handle && hdr.references.Load() == 0 {
		hdr.state.andNot(Handle)
		return
	}

	if s.has(Completed) && !s.has(Closed) {
		hdr.state.or(Closed)
		var zero R
		h.cell.output = zero
		hdr.state.andNot(Handle)
		if hdr.references.Load() == 0 {
			hdr.ops.destroy(hdr)
		}
		return
	}

	if !s.has(Completed) && hdr.references.Load() == 0 && !s.has(Closed) {
		prev := hdr.state.or(Scheduled | Closed)
		if !prev.has(Scheduled) {
			// scheduleSelf supplies the new reference; see dropRef's
			// identical comment for why no extra bump belongs here.
			Task{h: hdr}.scheduleSelf()
		}
		return
	}

	hdr.state.andNot(Handle)
	if hdr.references.Load() == 0 {
		hdr.ops.destroy(hdr)
	}
}

func registerAwaiter(h *Header, w *Waker) {
	if w == nil {
		return
	}
	clone := w.Clone()
	h.awaiterMu.Lock()
	prev := h.awaiter
	h.awaiter = clone
	h.awaiterMu.Unlock()
	if prev != nil {
		dropWakerRef(prev.h)
	}
}
