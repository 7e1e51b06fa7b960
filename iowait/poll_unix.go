//go:build unix

package iowait

import (
	molt "github.com/stealthrocket/molt-io"
	"golang.org/x/sys/unix"
)

// poll waits up to timeoutMillis (-1 = forever, 0 = immediate) for any of
// interest to become ready on fd, retrying across EINTR the way the
// native reactor's PollOneOff loop does.
func poll(fd int, interest Interest, timeoutMillis int) (Ready, error) {
	var events int16
	if interest.Has(Readable) {
		events |= unix.POLLIN
	}
	if interest.Has(Writable) {
		events |= unix.POLLOUT
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}

	for {
		n, err := unix.Poll(fds, timeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, molt.MakeErrno(err)
		}
		if n == 0 {
			return 0, nil
		}
		var ready Ready
		revents := fds[0].Revents
		if revents&unix.POLLIN != 0 {
			ready |= Readable
		}
		if revents&unix.POLLOUT != 0 {
			ready |= Writable
		}
		if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			ready |= Error
		}
		return ready, nil
	}
}
