// Package backend implements the ordered regex-matched routing table a
// Listener consults once a hostname has been sniffed from a connection.
package backend

import (
	"net"
	"regexp"
)

// Target is where a matched connection is dialed. Exactly one of Host (with
// Port, for deferred DNS resolution) or Addr (a literal sockaddr, for direct
// connect) is meaningful, selected by Deferred.
type Target struct {
	// Deferred is true when Host must still be resolved; false when Addr is
	// already a connectable address.
	Deferred bool

	Host string
	Port uint16

	Addr *net.TCPAddr
}

// EntryFlags are the per-backend behaviors a routing rule can turn on:
// whether to prepend a PROXY v1 header, whether to tunnel the connection
// through an upstream SOCKS5 proxy, and whether to pin the outbound
// socket's source address.
type EntryFlags struct {
	UseProxyHeader             bool
	UseProxySOCKS5             bool
	UseProxySOCKS5RemoteResolv bool

	// SourceAddress optionally pins the outbound socket's source address
	// (bind(2) before connect(2)); nil means let the kernel pick.
	SourceAddress net.IP

	// SOCKS5Addr is the upstream SOCKS5 proxy's sockaddr, required when
	// UseProxySOCKS5 is set.
	SOCKS5Addr *net.TCPAddr
}

// Entry is one routing rule: a compiled hostname pattern plus its target and
// flags.
type Entry struct {
	Pattern *regexp.Regexp
	Target  Target
	Flags   EntryFlags
}

// Table is an immutable, ordered sequence of Entries plus an optional
// fallback. A Listener swaps its *Table wholesale on reload (see
// internal/config); Table itself is never mutated after construction, so
// concurrent Lookup calls need no locking.
type Table struct {
	entries  []Entry
	fallback *Entry
}

// New builds a Table from entries in the order they should be tried, with an
// optional fallback entry used when no pattern matches.
func New(entries []Entry, fallback *Entry) *Table {
	return &Table{entries: entries, fallback: fallback}
}

// LookupResult is the outcome of Lookup.
type LookupResult struct {
	Entry Entry
	// Matched is false when neither a table entry nor a fallback matched;
	// the caller must abort the connection with the sniffer's abort
	// message.
	Matched bool
}

// NoRoute reports whether this result carries no usable target.
func (r LookupResult) NoRoute() bool { return !r.Matched }

// Lookup returns the first entry whose pattern matches name, in insertion
// order; removing an earlier entry can never change which later entry wins.
// If nothing matches, the table's fallback is returned when one is
// configured; otherwise the result reports NoRoute.
func (t *Table) Lookup(name string) LookupResult {
	for _, e := range t.entries {
		if e.Pattern.MatchString(name) {
			return LookupResult{Entry: e, Matched: true}
		}
	}
	if t.fallback != nil {
		return LookupResult{Entry: *t.fallback, Matched: true}
	}
	return LookupResult{}
}

// Len reports the number of non-fallback entries, for diagnostics.
func (t *Table) Len() int { return len(t.entries) }
