// Package sniff extracts a routable hostname from a prefix of application
// bytes, without consuming or altering them: given the client's first bytes,
// report the hostname, that more bytes are needed, that the request carries
// no hostname, or that it is structurally malformed.
package sniff

// Status is the outcome of a single Parse call.
type Status int

const (
	// StatusOK means a hostname was extracted; Result.Hostname and
	// Result.Consumed are valid.
	StatusOK Status = iota
	// StatusNeedMore means prefix is a strict prefix of a well-formed
	// request; the caller should read more bytes until buffer room is
	// exhausted, at which point it must treat the request as Malformed.
	StatusNeedMore
	// StatusNoHostname means the request parsed but carries no SNI/Host.
	StatusNoHostname
	// StatusMalformed means the prefix is structurally invalid.
	StatusMalformed
)

// Result is the outcome of Sniffer.Parse.
type Result struct {
	Status Status

	// Hostname borrows into the buffer Parse was given. It is valid only
	// until the buffer is next mutated; callers must copy it before the
	// PARSED transition.
	Hostname []byte

	// Consumed is the number of bytes at the front of the prefix that
	// belong to the parsed request (only meaningful when Status ==
	// StatusOK).
	Consumed int
}

// Sniffer is implemented once per supported protocol (TLS ClientHello SNI,
// HTTP/1.x Host header) and selected per listener at config time.
type Sniffer interface {
	// Parse inspects prefix, a read-only view into the client's input
	// buffer, and returns the outcome. Parse must not retain prefix past
	// the call.
	Parse(prefix []byte) Result

	// AbortMessage is pushed toward the client when routing fails after a
	// successful parse (no matching backend and no fallback), or when the
	// sniffer itself reports Malformed with no fallback configured.
	AbortMessage() []byte

	// Name identifies the sniffer for logging (e.g. "tls", "http").
	Name() string
}
