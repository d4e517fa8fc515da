//go:build linux

package corerun

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// epollRing is the portable fallback [kernelRing], used when io_uring_setup
// fails (old kernels, seccomp profiles, containers without the syscall
// allowed). It is adapted from the teacher's FastPoller: same direct,
// cache-line-padded fd-indexed design, but feeding the reactor's uniform
// completionEvent shape instead of invoking per-fd callbacks directly, so
// the rest of the reactor (registry, wait()) does not need to know which
// kernel backend is in play.
type epollRing struct {
	_    [64]byte
	epfd int32
	_    [60]byte
	version atomic.Uint64
	_       [56]byte

	mu      sync.Mutex
	pending map[int]uint64 // fd -> user_data of its one outstanding interest

	eventBuf [256]unix.EpollEvent
	closed   atomic.Bool
}

func newEpollRing() (*epollRing, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollRing{epfd: int32(epfd), pending: make(map[int]uint64)}, nil
}

func pollEventsFromFlags(readable, writable bool) uint32 {
	var ev uint32 = unix.EPOLLERR | unix.EPOLLHUP
	if readable {
		ev |= unix.EPOLLIN
	}
	if writable {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// stage registers (or re-registers, oneshot) fd's interest; epoll has no
// ring-capacity limit the way io_uring does, so this only ever fails on a
// genuine registration error.
func (p *epollRing) stage(fd int, userData uint64, events uint32) (bool, error) {
	ev := &unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}

	p.mu.Lock()
	_, exists := p.pending[fd]
	p.pending[fd] = userData
	p.mu.Unlock()

	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	err := unix.EpollCtl(int(p.epfd), op, fd, ev)
	if err == unix.EEXIST {
		// fd is still in the epoll set from an earlier oneshot interest whose
		// event was already delivered: re-arm it in place.
		err = unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
	}
	if err != nil {
		return false, &RegistrationError{FD: fd, Op: "epoll_ctl", Err: err}
	}
	return true, nil
}

func (p *epollRing) submitStaged() error { return nil } // epoll_ctl already applied in stage

func (p *epollRing) poll(block bool) ([]completionEvent, error) {
	timeout := 0
	if block {
		timeout = -1
	}
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]completionEvent, 0, n)
	p.mu.Lock()
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Fd)
		userData, ok := p.pending[fd]
		if !ok {
			continue
		}
		delete(p.pending, fd)
		out = append(out, completionEvent{userData: userData, res: int32(ev.Events)})
	}
	p.mu.Unlock()
	return out, nil
}

func (p *epollRing) close() error {
	p.closed.Store(true)
	return unix.Close(int(p.epfd))
}
