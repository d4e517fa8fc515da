package corerun

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/sys/unix"
)

// completionEvent is the backend-neutral shape both the io_uring ring and
// the epoll fallback ring produce: a user_data identifier (0 reserved for
// "ignore", spec §4.6) and a raw poll-bitmask result. EPOLL* and POLL*
// constants share bit positions on Linux, so callers can test res against
// unix.POLLIN/POLLOUT/POLLERR/POLLHUP regardless of which ring produced it.
type completionEvent struct {
	userData uint64
	res      int32
}

// kernelRing is the submission/completion ring abstraction spec §6 names:
// acquire an SQE (stage), submit SQEs (submitStaged), peek at a CQE (poll).
type kernelRing interface {
	stage(fd int, userData uint64, events uint32) (staged bool, err error)
	submitStaged() error
	poll(block bool) ([]completionEvent, error)
	close() error
}

func newKernelRing(depth uint32, logger Logger) (kernelRing, error) {
	if r, err := newURingRing(depth); err == nil {
		return r, nil
	} else {
		logAt(logger, LevelWarn, "reactor", "io_uring unavailable, falling back to epoll", err)
	}
	return newEpollRing()
}

// submissionRateLimiter throttles the reactor's "ring full, backpressure
// applied" warning using catrate, so a saturated ring logs at a bounded
// rate instead of once per Wait() call.
type submissionRateLimiter struct {
	limiter  *catrate.Limiter
	category string
}

func newSubmissionRateLimiter(window time.Duration, limit int) *submissionRateLimiter {
	return &submissionRateLimiter{
		limiter:  catrate.NewLimiter(map[time.Duration]int{window: limit}),
		category: "ring-backpressure",
	}
}

func (r *submissionRateLimiter) allow() bool {
	_, ok := r.limiter.Allow(r.category)
	return ok
}

// Reactor is the single main ring plus its pending submission queue and a
// reference to the source registry (spec §4.7).
type Reactor struct {
	ring   kernelRing
	reg    *registry
	logger Logger
	rater  *submissionRateLimiter

	pending []submissionDescriptor

	wakeFD int
}

// submissionDescriptor is spec §3.5: a pending request for the kernel ring.
type submissionDescriptor struct {
	fd       int
	events   uint32
	userData uint64
}

func newReactor(opts *executorOptions) (*Reactor, error) {
	ring, err := newKernelRing(opts.ringDepth, opts.logger)
	if err != nil {
		return nil, err
	}
	wakeFD, err := createWakeFD()
	if err != nil {
		_ = ring.close()
		return nil, &RegistrationError{FD: -1, Op: "eventfd", Err: err}
	}
	re := &Reactor{
		ring:   ring,
		reg:    newRegistry(),
		logger: opts.logger,
		rater:  opts.submissionRater,
		wakeFD: wakeFD,
	}
	if _, err := re.ring.stage(wakeFD, 0, unix.POLLIN); err != nil {
		_ = ring.close()
		_ = unix.Close(wakeFD)
		return nil, err
	}
	if err := re.ring.submitStaged(); err != nil {
		_ = ring.close()
		_ = unix.Close(wakeFD)
		return nil, err
	}
	return re, nil
}

// Wake interrupts a blocked Wait(true) call from any goroutine, used by Run's
// ctx.Done() watcher to break out of the reactor without a real completion
// (spec §6 thread-local discipline: this is the one cross-goroutine call the
// reactor supports, precisely because it never touches task state).
func (re *Reactor) Wake() error {
	return writeWakeFD(re.wakeFD)
}

// InsertPollableIO sets fd non-blocking and returns a new [Source] ready to
// be registered for interest (spec §6 Async I/O wrapper contract).
func (re *Reactor) InsertPollableIO(fd int) (*Source, error) {
	if err := setNonblock(fd); err != nil {
		return nil, &RegistrationError{FD: fd, Op: "set_nonblock", Err: err}
	}
	return &Source{FD: fd, Type: SourceTypePollableFD}, nil
}

// Interest implements spec §4.7 interest(source, readable, writable).
func (re *Reactor) Interest(s *Source, readable, writable bool) error {
	events := pollEventsFromFlags(readable, writable)
	id := re.reg.register(s)
	re.pending = append(re.pending, submissionDescriptor{fd: s.FD, events: events, userData: id})
	return nil
}

// Wait implements spec §4.7 wait(): drain completions (waking waiters),
// then drain the pending submission queue, then always submit. While
// submissions are pending, block is ignored for that call, so interest
// registered before a blocking Wait reaches the kernel instead of being
// stuck behind a wait that nothing can end.
func (re *Reactor) Wait(block bool) (woken int, err error) {
	completions, err := re.ring.poll(block && len(re.pending) == 0)
	if err != nil {
		return 0, err
	}
	for _, c := range completions {
		if c.userData == 0 {
			drainWakeFD(re.wakeFD)
			re.pending = append(re.pending, submissionDescriptor{fd: re.wakeFD, events: unix.POLLIN, userData: 0})
			continue // wake signal, not a real completion: drop and re-arm
		}
		src, ok := re.reg.remove(c.userData)
		if !ok {
			logAt(re.logger, LevelError, "reactor", "completion for unknown source id", ErrDoubleCompletionRead)
			continue
		}
		src.result, src.hasResult = c.res, true
		woken += wakeSource(src, c.res)
	}

	for len(re.pending) > 0 {
		d := re.pending[0]
		staged, stageErr := re.ring.stage(d.fd, d.userData, d.events)
		if stageErr != nil {
			logAt(re.logger, LevelError, "reactor", "registration error", stageErr)
			re.pending = re.pending[1:]
			continue
		}
		if !staged {
			if re.rater != nil && re.rater.allow() {
				logAt(re.logger, LevelWarn, "reactor", "submission ring full, backpressure applied", nil)
			}
			break
		}
		re.pending = re.pending[1:]
	}

	// Batching policy: always attempt to submit after draining, regardless
	// of whether draining finished cleanly (spec §4.7).
	if subErr := re.ring.submitStaged(); subErr != nil {
		return woken, subErr
	}
	return woken, nil
}

func wakeSource(s *Source, res int32) int {
	woken := 0
	if res&int32(unix.POLLIN|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		for _, w := range s.readers {
			_ = w.Wake()
			woken++
		}
		s.readers = nil
	}
	if res&int32(unix.POLLOUT|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		for _, w := range s.writers {
			_ = w.Wake()
			woken++
		}
		s.writers = nil
	}
	return woken
}

func (re *Reactor) Close() error {
	_ = unix.Close(re.wakeFD)
	return re.ring.close()
}
