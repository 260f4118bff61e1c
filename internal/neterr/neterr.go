// Package neterr classifies socket errors into the distinctions the
// connection core acts on: temporary conditions are ignored and interest is
// simply re-armed for the next wakeup, permanent conditions are logged and
// propagate to closing that side of the connection. Go expresses this
// through net.Error rather than raw errno, so this package adapts that
// interface instead of matching syscall constants directly.
package neterr

import (
	"context"
	"errors"
	"io"
	"net"
)

// IsTemporary reports whether err represents a transient condition that
// should be ignored with interest simply re-armed for the next wakeup,
// e.g. a read or write that would have blocked, or one interrupted by a
// signal.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		//lint:ignore SA1019 Temporary is deprecated but still the clearest
		// signal net.Error exposes for this classification; Go's net
		// package retries EINTR internally for every path this module
		// uses, so the only temporary condition that can still surface
		// here is a would-block on a deadline-bearing conn.
		return nerr.Temporary()
	}
	return false
}

// IsPeerClosed reports whether err (or a nil err with n==0, per Recv's
// contract) represents a clean peer-initiated close rather than a genuine
// I/O failure.
func IsPeerClosed(n int, err error) bool {
	return n == 0 && (err == nil || errors.Is(err, io.EOF))
}

// IsTimeout reports whether err is a deadline/timeout condition.
func IsTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

