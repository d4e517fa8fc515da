//go:build linux

package corerun

import "golang.org/x/sys/unix"

// closeFD closes a file descriptor.
func closeFD(fd int) error { return unix.Close(fd) }

// setNonblock puts fd into O_NONBLOCK mode, as required before a descriptor
// is handed to the reactor (spec: "all fds are set non-blocking before first
// use").
func setNonblock(fd int) error { return unix.SetNonblock(fd, true) }
