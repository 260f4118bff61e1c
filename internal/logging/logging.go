// Package logging formats and emits the two log lines a proxied connection
// produces: an access-log line once a connection closes, and an optional
// hex-dump of a request a sniffer could not parse.
package logging

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"
)

// Logger wraps the standard library's log.Logger rather than a structured
// logging library: two plain text streams, access and operational, each
// with its own prefix and destination.
type Logger struct {
	notice *log.Logger
	warn   *log.Logger
	debug  *log.Logger
}

// New builds a Logger writing access-log lines to access and everything
// else (warnings, debug hex dumps) to operational. Either may be nil to
// discard that stream.
func New(access, operational *log.Logger) *Logger {
	if operational == nil {
		operational = log.New(discard{}, "", 0)
	}
	if access == nil {
		access = log.New(discard{}, "", 0)
	}
	return &Logger{notice: access, warn: operational, debug: operational}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Warnf logs an operational warning (a temporary or permanent I/O failure,
// a failed bind, a DNS failure).
func (l *Logger) Warnf(format string, args ...any) {
	l.warn.Printf(format, args...)
}

// AccessEntry carries everything a single access-log line reports.
type AccessEntry struct {
	Client   net.Addr
	Listener net.Addr
	Server   net.Addr
	Hostname []byte

	// ServerBufTx/ServerBufRx are the server-direction buffer's lifetime
	// counters: bytes written to the client socket and bytes read from
	// the server socket, respectively.
	ServerBufTx uint64
	ServerBufRx uint64
	// ClientBufTx/ClientBufRx are the client-direction buffer's lifetime
	// counters: bytes written to the server socket and bytes read from
	// the client socket, respectively.
	ClientBufTx uint64
	ClientBufRx uint64

	Established time.Time
	LastRecv    time.Time
}

// Access writes one access-log line: client -> listener -> server
// [hostname] bytes tx/rx counts, duration.
func (l *Logger) Access(e AccessEntry) {
	duration := e.LastRecv.Sub(e.Established).Seconds()
	if duration < 0 {
		duration = 0
	}
	l.notice.Printf("%s -> %s -> %s [%s] %d/%d bytes tx %d/%d bytes rx %.3f seconds",
		addrString(e.Client), addrString(e.Listener), addrString(e.Server),
		e.Hostname,
		e.ServerBufTx, e.ServerBufRx,
		e.ClientBufTx, e.ClientBufRx,
		duration)
}

func addrString(a net.Addr) string {
	if a == nil {
		return "?"
	}
	return a.String()
}

// BadRequest hex-dumps req as
// "parse_packet({0x47, 0x45, ...}, <len>, ...) = <result>" so an operator
// debugging a malformed-request report can paste the byte list straight
// into a packet decoder.
func (l *Logger) BadRequest(req []byte, parseResult int) {
	var b strings.Builder
	b.WriteString("parse_packet({")
	for i, c := range req {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "0x%02x", c)
	}
	fmt.Fprintf(&b, "}, %d, ...) = %d", len(req), parseResult)
	l.debug.Print(b.String())
}
