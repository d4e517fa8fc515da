//go:build linux

package corerun

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// io_uring kernel ABI constants (linux/io_uring.h). Only the subset this
// reactor needs (ring setup + IORING_OP_POLL_ADD) is reproduced here,
// following the raw-syscall, no-cgo convention the cloudwego-gopkg
// reference establishes.
const (
	ioUringOpPollAdd = 6

	ioSqringOff    = 0
	ioCqringOff    = 0x8000000
	ioSqesOff      = 0x10000000
	ioUringEnterGetEvents = 1 << 0
)

// ioUringParams mirrors struct io_uring_params.
type ioUringParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCPU  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        ioSqringOffsets
	CqOff        ioCqringOffsets
}

// ioSqringOffsets mirrors struct io_sqring_offsets.
type ioSqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

// ioCqringOffsets mirrors struct io_cqring_offsets.
type ioCqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

// ioUringSQE mirrors struct io_uring_sqe, for the fields PollAdd needs.
type ioUringSQE struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	FD          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	PollEvents  uint32 // union with rw_flags etc; poll_add uses this as poll_events
	UserData    uint64
	_pad        [3]uint64
}

// ioUringCQE mirrors struct io_uring_cqe.
type ioUringCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// uringSetup wraps the io_uring_setup(2) syscall.
func uringSetup(entries uint32, params *ioUringParams) (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(r1), nil
}

// uringEnter wraps the io_uring_enter(2) syscall.
func uringEnter(fd int, toSubmit, minComplete uint32, flags uint32) (int, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(r1), nil
}

// uringRing is a submission/completion ring, the io_uring-class kernel
// boundary spec §6 names (acquire an SQE, submit SQEs, peek a CQE).
type uringRing struct {
	fd     int
	params ioUringParams

	sqMem, cqMem, sqesMem []byte

	sqHead, sqTail, sqMask, sqEntries *uint32
	sqArray                           []uint32
	sqes                              []ioUringSQE
	sqTailCached                      uint32 // our private write cursor, flushed to *sqTail on Submit

	cqHead, cqTail, cqMask *uint32
	cqes                   []ioUringCQE
}

func newURingRing(depth uint32) (*uringRing, error) {
	var params ioUringParams
	fd, err := uringSetup(depth, &params)
	if err != nil {
		return nil, fmt.Errorf("corerun: io_uring_setup: %w", err)
	}

	r := &uringRing{fd: fd, params: params}

	sqRingSize := int(params.SqOff.Array) + int(params.SqEntries)*4
	sqMem, err := unix.Mmap(fd, ioSqringOff, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("corerun: mmap sq ring: %w", err)
	}
	r.sqMem = sqMem

	cqRingSize := int(params.CqOff.Cqes) + int(params.CqEntries)*int(unsafe.Sizeof(ioUringCQE{}))
	cqMem, err := unix.Mmap(fd, ioCqringOff, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		_ = unix.Munmap(sqMem)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("corerun: mmap cq ring: %w", err)
	}
	r.cqMem = cqMem

	sqesSize := int(params.SqEntries) * int(unsafe.Sizeof(ioUringSQE{}))
	sqesMem, err := unix.Mmap(fd, ioSqesOff, sqesSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		_ = unix.Munmap(cqMem)
		_ = unix.Munmap(sqMem)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("corerun: mmap sqes: %w", err)
	}
	r.sqesMem = sqesMem

	r.sqHead = (*uint32)(unsafe.Pointer(&sqMem[params.SqOff.Head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&sqMem[params.SqOff.Tail]))
	r.sqMask = (*uint32)(unsafe.Pointer(&sqMem[params.SqOff.RingMask]))
	r.sqEntries = (*uint32)(unsafe.Pointer(&sqMem[params.SqOff.RingEntries]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&sqMem[params.SqOff.Array])), params.SqEntries)
	r.sqes = unsafe.Slice((*ioUringSQE)(unsafe.Pointer(&sqesMem[0])), params.SqEntries)
	r.sqTailCached = atomic.LoadUint32(r.sqTail)

	r.cqHead = (*uint32)(unsafe.Pointer(&cqMem[params.CqOff.Head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&cqMem[params.CqOff.Tail]))
	r.cqMask = (*uint32)(unsafe.Pointer(&cqMem[params.CqOff.RingMask]))
	r.cqes = unsafe.Slice((*ioUringCQE)(unsafe.Pointer(&cqMem[params.CqOff.Cqes])), params.CqEntries)

	return r, nil
}

// acquireSQE returns the next free submission-queue entry, or false if the
// ring is currently full (spec §4.7: "if unavailable, mark dispatch needed
// and stop").
func (r *uringRing) acquireSQE() (*ioUringSQE, bool) {
	head := atomic.LoadUint32(r.sqHead)
	next := r.sqTailCached + 1
	if next-head > *r.sqEntries {
		return nil, false
	}
	idx := r.sqTailCached & *r.sqMask
	sqe := &r.sqes[idx]
	r.sqArray[idx] = idx
	r.sqTailCached = next
	return sqe, true
}

func fillPollAdd(sqe *ioUringSQE, fd int, userData uint64, events uint32) {
	*sqe = ioUringSQE{
		Opcode:     ioUringOpPollAdd,
		FD:         int32(fd),
		PollEvents: events,
		UserData:   userData,
	}
}

// submit publishes the locally-staged tail and enters the kernel, following
// the batching policy from spec §4.7: called unconditionally after draining
// the pending submission queue, regardless of whether the ring was full.
func (r *uringRing) submit() error {
	pending := r.sqTailCached - atomic.LoadUint32(r.sqTail)
	atomic.StoreUint32(r.sqTail, r.sqTailCached)
	if pending == 0 {
		return nil
	}
	if _, err := uringEnter(r.fd, pending, 0, 0); err != nil {
		return &SubmissionError{Op: "io_uring_enter", Err: err}
	}
	return nil
}

// peekCQE returns the next unconsumed completion without advancing past it.
func (r *uringRing) peekCQE() (*ioUringCQE, bool) {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	if head == tail {
		return nil, false
	}
	return &r.cqes[head&*r.cqMask], true
}

// advanceCQ releases one consumed completion slot back to the kernel.
func (r *uringRing) advanceCQ() {
	atomic.AddUint32(r.cqHead, 1)
}

// waitCQE blocks (via io_uring_enter with GETEVENTS) until at least one
// completion is available.
func (r *uringRing) waitCQE() error {
	_, err := uringEnter(r.fd, 0, 1, ioUringEnterGetEvents)
	return err
}

// stage implements the reactor-facing kernelRing interface: acquire an SQE
// and fill it as a poll-add, spec §4.7's "acquire a kernel submission-queue
// entry; if unavailable, mark dispatch needed and stop".
func (r *uringRing) stage(fd int, userData uint64, events uint32) (bool, error) {
	sqe, ok := r.acquireSQE()
	if !ok {
		return false, nil
	}
	fillPollAdd(sqe, fd, userData, events)
	return true, nil
}

func (r *uringRing) submitStaged() error { return r.submit() }

// poll drains every currently-available completion, optionally blocking
// (via waitCQE) first when none are yet available.
func (r *uringRing) poll(block bool) ([]completionEvent, error) {
	if block {
		if _, ok := r.peekCQE(); !ok {
			if err := r.waitCQE(); err != nil && err != unix.EINTR {
				return nil, err
			}
		}
	}
	var out []completionEvent
	for {
		cqe, ok := r.peekCQE()
		if !ok {
			break
		}
		out = append(out, completionEvent{userData: cqe.UserData, res: cqe.Res})
		r.advanceCQ()
	}
	return out, nil
}

func (r *uringRing) close() error {
	_ = unix.Munmap(r.sqesMem)
	_ = unix.Munmap(r.cqMem)
	_ = unix.Munmap(r.sqMem)
	return unix.Close(r.fd)
}
