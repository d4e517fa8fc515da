package corerun

import (
	"fmt"
	"runtime"
	"time"
)

// Placement describes where an executor's goroutine should run (spec §6
// External Interfaces: Executor builder surface). The core only validates
// and stores this; actually pinning the goroutine's OS thread is the
// out-of-scope builder's job.
type Placement struct {
	fixed bool
	cpu   int
}

// Unbound places the executor on no particular CPU.
var Unbound = Placement{}

// Fixed places the executor on the given CPU index. Constructing an
// executor with a Fixed placement naming a nonexistent CPU is a
// construction error (spec §6), surfaced from NewExecutor.
func Fixed(cpu int) Placement { return Placement{fixed: true, cpu: cpu} }

type executorOptions struct {
	placement       Placement
	ringDepth       uint32
	logger          Logger
	submissionRater *submissionRateLimiter
}

const defaultRingDepth = 256

func defaultExecutorOptions() *executorOptions {
	return &executorOptions{
		placement: Unbound,
		ringDepth: defaultRingDepth,
		logger:    defaultLogger,
	}
}

// ExecutorOption configures a [NewExecutor] call, mirroring the teacher's
// functional-options shape (LoopOption / resolveLoopOptions).
type ExecutorOption interface {
	applyExecutor(*executorOptions) error
}

type executorOptionFunc func(*executorOptions) error

func (f executorOptionFunc) applyExecutor(o *executorOptions) error { return f(o) }

// WithPlacement sets the executor's CPU placement.
func WithPlacement(p Placement) ExecutorOption {
	return executorOptionFunc(func(o *executorOptions) error {
		if p.fixed && (p.cpu < 0 || p.cpu >= runtime.NumCPU()) {
			return fmt.Errorf("%w: cpu %d, have %d", ErrPlacementInvalidCPU, p.cpu, runtime.NumCPU())
		}
		o.placement = p
		return nil
	})
}

// WithRingDepth sets the submission/completion ring's depth (number of
// entries). Must be a power of two; zero selects the default.
func WithRingDepth(depth uint32) ExecutorOption {
	return executorOptionFunc(func(o *executorOptions) error {
		if depth == 0 {
			depth = defaultRingDepth
		}
		if depth&(depth-1) != 0 {
			return fmt.Errorf("corerun: ring depth %d is not a power of two", depth)
		}
		o.ringDepth = depth
		return nil
	})
}

// WithLogger overrides the executor's [Logger].
func WithLogger(l Logger) ExecutorOption {
	return executorOptionFunc(func(o *executorOptions) error {
		if l != nil {
			o.logger = l
		}
		return nil
	})
}

// WithSubmissionRateLimiter caps how often the reactor logs a "ring full,
// backpressure applied" warning (spec §4.7 batching policy), using
// catrate so a saturated ring doesn't log once per Wait() call.
func WithSubmissionRateLimiter(window time.Duration, limit int) ExecutorOption {
	return executorOptionFunc(func(o *executorOptions) error {
		if window <= 0 || limit <= 0 {
			return fmt.Errorf("corerun: invalid rate limit window=%s limit=%d", window, limit)
		}
		o.submissionRater = newSubmissionRateLimiter(window, limit)
		return nil
	})
}

func resolveExecutorOptions(opts []ExecutorOption) (*executorOptions, error) {
	o := defaultExecutorOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(o); err != nil {
			return nil, err
		}
	}
	if o.submissionRater == nil {
		o.submissionRater = newSubmissionRateLimiter(time.Second, 1)
	}
	return o, nil
}
