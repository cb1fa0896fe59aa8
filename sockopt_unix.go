//go:build unix

package comm

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sockoptControl reports whether socket buffers are sized in controlFunc,
// before the socket is bound or connected.
const sockoptControl = true

// controlFunc sizes the kernel send and receive buffers of a new socket.
// Setting them before listen lets the kernel pick a matching window scale,
// and accepted sockets inherit the listener's sizes.
func controlFunc(opts options) func(network, address string, c syscall.RawConn) error {
	size := opts.socketBufferSize
	if size <= 0 {
		return nil
	}

	return func(_, _ string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size); serr != nil {
				return
			}
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size)
		})
		if err != nil {
			return err
		}
		return serr
	}
}
