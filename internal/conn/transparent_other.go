//go:build !linux

package conn

import (
	"errors"
	"syscall"
)

// errTransparentUnsupported is returned by transparentControl on platforms
// without IP_TRANSPARENT, so a transparent-mode dial on these platforms
// fails for that connection.
var errTransparentUnsupported = errors.New("conn: transparent proxy mode requires Linux (IP_TRANSPARENT)")

func transparentControl(network, address string, c syscall.RawConn) error {
	return errTransparentUnsupported
}
