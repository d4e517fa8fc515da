package corerun

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// ioReadinessFuture implements Future[struct{}] by registering with the
// reactor on first poll and completing once woken, the Go equivalent of
// original_source's Source::readable()/writable() poll_fn.
type ioReadinessFuture struct {
	re    *Reactor
	s     *Source
	write bool
	reg   bool
}

func (f *ioReadinessFuture) Poll(w *Waker) (struct{}, bool) {
	if f.s.hasResult {
		f.s.hasResult = false
		// Each registration is one-shot (the reactor clears interest once it
		// delivers a completion): reset reg so a readWithFuture that reuses
		// this same instance across another WouldBlock retry re-registers
		// instead of finding reg still true and silently skipping interest,
		// which would park the task with no outstanding kernel request ever
		// able to wake it again.
		f.reg = false
		return struct{}{}, true
	}
	if !f.reg {
		if f.write {
			f.s.writers = append(f.s.writers, w.Clone())
		} else {
			f.s.readers = append(f.s.readers, w.Clone())
		}
		_ = f.re.Interest(f.s, !f.write, f.write)
		f.reg = true
	}
	return struct{}{}, false
}

// Async wraps a raw file descriptor with the reactor, exposing suspending
// Readable/Writable waits and a WouldBlock-retrying helper (spec §6 Async
// I/O wrapper contract; grounded on original_source/src/pollable.rs).
type Async[T io.Closer] struct {
	Source *Source
	reactor *Reactor
	io      T
}

// NewAsync registers fd (obtained from conn) with the reactor.
func NewAsync[T io.Closer](re *Reactor, fd int, conn T) (*Async[T], error) {
	s, err := re.InsertPollableIO(fd)
	if err != nil {
		return nil, err
	}
	return &Async[T]{Source: s, reactor: re, io: conn}, nil
}

// Get returns the wrapped value.
func (a *Async[T]) Get() T { return a.io }

// Close closes the wrapped value.
func (a *Async[T]) Close() error { return a.io.Close() }

// Readable returns a [Future] that completes once the descriptor is
// readable.
func (a *Async[T]) Readable() Future[struct{}] {
	return &ioReadinessFuture{re: a.reactor, s: a.Source}
}

// Writable returns a [Future] that completes once the descriptor is
// writable.
func (a *Async[T]) Writable() Future[struct{}] {
	return &ioReadinessFuture{re: a.reactor, s: a.Source, write: true}
}

// IOResult is what [ReadWith]/[WriteWith] resolve to: the op's return value
// and error, once it is something other than EAGAIN/EWOULDBLOCK.
type IOResult[V any] struct {
	Value V
	Err   error
}

// readWithFuture composes an inner readiness future with a retry loop,
// translating original_source/src/pollable.rs's read_with loop { match
// op() { WouldBlock => {}, res => return res }; readable().await } directly
// into an explicit Poll-based state machine: no recursion into the
// scheduler is needed, since readable (a [ioReadinessFuture]) itself just
// registers interest and returns Pending the first time it's polled.
type readWithFuture[V any] struct {
	op       func() (V, error)
	ready    Future[struct{}]
	awaiting bool
}

func (f *readWithFuture[V]) Poll(w *Waker) (IOResult[V], bool) {
	for {
		if f.awaiting {
			if _, ready := f.ready.Poll(w); !ready {
				return IOResult[V]{}, false
			}
			f.awaiting = false
		}
		v, err := f.op()
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			f.awaiting = true
			continue
		}
		return IOResult[V]{Value: v, Err: err}, true
	}
}

// ReadWith retries op on EAGAIN/EWOULDBLOCK after awaiting Readable,
// returning any other result unchanged (spec §6 read_with).
func ReadWith[T io.Closer, V any](a *Async[T], op func() (V, error)) Future[IOResult[V]] {
	return &readWithFuture[V]{op: op, ready: a.Readable()}
}

// WriteWith is ReadWith's Writable-gated counterpart.
func WriteWith[T io.Closer, V any](a *Async[T], op func() (V, error)) Future[IOResult[V]] {
	return &readWithFuture[V]{op: op, ready: a.Writable()}
}
