package corerun

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Misuse-class errors (spec: nested run, cross-thread wake, double-completion
// read). These indicate a bug in the caller, not a runtime condition. They
// are returned to the caller that hit them (Run returns ErrReentrantRun,
// Waker.Wake/WakeByRef return ErrCrossThreadWake); the executor neither logs
// them nor panics on them. The exceptions: the reactor logs
// ErrDoubleCompletionRead and skips that completion, and SpawnLocal and
// JoinHandle.Await, which have no error result, panic with
// ErrExecutorNotRunning.
var (
	ErrReentrantRun         = errors.New("corerun: run already published on this goroutine")
	ErrCrossThreadWake      = errors.New("corerun: wake invoked from a goroutine that does not own the task's executor")
	ErrDoubleCompletionRead = errors.New("corerun: completion queue entry resolved to a source already removed from the registry")
	ErrExecutorNotRunning   = errors.New("corerun: no executor is published on this goroutine")
	ErrPlacementInvalidCPU  = errors.New("corerun: fixed placement names a cpu index that does not exist")
	ErrQueueHandleUnknown   = errors.New("corerun: queue handle has no installed queue")
)

// PanicError wraps a recovered task panic. The JoinHandle observing a task
// that panicked resolves to (zero, false); the Logger records a PanicError
// before the task cell is torn down, and [JoinHandle.Err] exposes the same
// value to callers that want to distinguish "panicked" from merely pending.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("corerun: task panic: %v", e.Value)
}

// newPanicError builds a PanicError from a recover() value, capturing the
// stack at the point of recovery (the only place it is still available).
func newPanicError(r any) *PanicError {
	return &PanicError{Value: r, Stack: debug.Stack()}
}

// Unwrap exposes the panic value itself when it is an error, so callers can
// errors.As/errors.Is through a panic(fmt.Errorf(...)) the same way they
// would through any other wrapped error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RegistrationError is a Registration-class error (spec §7): an invalid fd or
// a kernel-resource exhaustion surfaced while registering a source with the
// reactor, before any submission is attempted.
type RegistrationError struct {
	FD  int
	Op  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("corerun: register fd %d for %s: %v", e.FD, e.Op, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// SubmissionError is a Kernel-submission-class error (spec §7): propagated
// from submitting SQEs to the kernel ring as the inner I/O error.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("corerun: submit %s: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// WrapError annotates cause with message, preserving the chain for
// errors.Is/errors.As, matching the teacher's error-wrapping convention.
func WrapError(message string, cause error) error {
	if cause == nil {
		return errors.New(message)
	}
	return fmt.Errorf("%s: %w", message, cause)
}
