//go:build linux

package corerun

import "golang.org/x/sys/unix"

// The reactor's blocking Wait() needs a way to be interrupted from another
// goroutine (Run's ctx.Done() watcher) without anything pretending to be a
// cross-thread task wake. An eventfd registered with user_data 0 does this:
// 0 is the id reserved for completions to discard (spec §4.6), so it never
// reaches the source registry; Wait's drain loop only drains the eventfd and
// re-arms it. This is the same pipe-as-FD trick the teacher's wake pipe
// uses, just backed by eventfd instead of pipe2.
func createWakeFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

func writeWakeFD(fd int) error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(fd, buf[:])
	return err
}

func drainWakeFD(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}
