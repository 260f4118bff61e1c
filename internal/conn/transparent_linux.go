//go:build linux

package conn

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// transparentControl sets IP_TRANSPARENT on the outbound socket before
// bind(2)/connect(2), the Go net.Dialer.Control rendition of
// initiate_server_connect's setsockopt(SOL_IP, IP_TRANSPARENT, ...) call.
func transparentControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
