package conn

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"go.sniproxy.dev/sniproxy/internal/backend"
	"go.sniproxy.dev/sniproxy/internal/buffer"
	"go.sniproxy.dev/sniproxy/internal/logging"
	"go.sniproxy.dev/sniproxy/internal/neterr"
	"go.sniproxy.dev/sniproxy/internal/proxyproto"
	"go.sniproxy.dev/sniproxy/internal/reactor"
	"go.sniproxy.dev/sniproxy/internal/resolver"
	"go.sniproxy.dev/sniproxy/internal/sniff"
	"go.sniproxy.dev/sniproxy/internal/socks5"
)

// Options configures a Connection; supplied by the Listener that accepted
// the client socket.
type Options struct {
	Sniffer sniff.Sniffer
	Table   *backend.Table

	// InsertProxyHeader speculatively prepends a PROXY v1 header to every
	// accepted connection's client-direction buffer; whether the header
	// survives to the matched backend is decided by that entry's own
	// UseProxyHeader flag.
	InsertProxyHeader bool

	Transparent   bool
	SourceAddress net.IP
	BufferSize    int

	LogBadRequests bool
	Logger         *logging.Logger
	Resolver       *resolver.Shim

	// Dial overrides how the server socket is opened; nil uses a default
	// net.Dialer. Tests substitute a fake to avoid real sockets.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// OnActivity, if set, is called after every event the forwarding loop
	// processes (a read, a completed write). A Listener uses this to touch
	// its registry, keeping the least-recently-active connection at the
	// tail for an idle sweep.
	OnActivity func()
}

// Connection drives one accepted client socket through sniffing, routing,
// connecting, optional PROXY v1/SOCKS5 preambles, and forwarding, until
// both sockets are closed.
type Connection struct {
	opts Options

	client     net.Conn
	clientAddr *net.TCPAddr
	localAddr  *net.TCPAddr

	server net.Conn

	clientBuf *buffer.Buffer
	serverBuf *buffer.Buffer

	state     State
	hostname  []byte
	headerLen int

	// resolveQuery holds the in-flight DNS lookup while state is Resolving,
	// nil otherwise. Close reads it from a goroutine that may race with
	// Serve's, so it's an atomic pointer rather than a plain field.
	resolveQuery atomic.Pointer[resolver.Query]

	entry backend.Entry

	establishedAt time.Time

	closed int32
}

// New wraps an accepted client socket. The Connection owns client from this
// point: Close (directly, or via Serve returning) closes it.
func New(client net.Conn, opts Options) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = buffer.DefaultCapacity
	}
	c := &Connection{
		opts:      opts,
		client:    client,
		clientBuf: buffer.New(opts.BufferSize),
		serverBuf: buffer.New(opts.BufferSize),
		state:     Accepted,
	}
	if a, ok := client.RemoteAddr().(*net.TCPAddr); ok {
		c.clientAddr = a
	}
	if a, ok := client.LocalAddr().(*net.TCPAddr); ok {
		c.localAddr = a
	}
	return c
}

// State reports the connection's current state, for diagnostics/dumps.
func (c *Connection) State() State { return c.state }

// Hostname reports the sniffed hostname, or nil if routing hasn't happened
// (or happened without one).
func (c *Connection) Hostname() []byte { return c.hostname }

// Close closes whichever sockets are still open. Idempotent and safe to
// call concurrently with Serve (e.g. from a registry sweep during
// shutdown).
func (c *Connection) Close() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	if q := c.resolveQuery.Swap(nil); q != nil {
		q.Cancel()
	}
	if c.client != nil {
		c.client.Close()
	}
	if c.server != nil {
		c.server.Close()
	}
	c.state = Closed
}

// Serve runs the connection to completion: sniff, route, connect, forward.
// It returns once both sockets are closed; ctx governs DNS resolution and
// the dial, not the forwarding phase (an idle but otherwise healthy proxied
// connection is expected to outlive any single request-scoped deadline).
//
// A panic during any phase is recovered and logged rather than left to
// crash the process: an invariant violation in one connection's goroutine
// must stay local to that connection.
func (c *Connection) Serve(ctx context.Context) {
	defer c.Close()
	defer func() {
		if c.opts.Logger != nil {
			c.logAccess()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			c.warnf("recovered panic serving %s: %v", addrString(c.clientAddr), r)
		}
	}()

	hostname, ok := c.sniffAndRoute()
	if !ok {
		return
	}
	c.hostname = hostname

	if !c.connectServer(ctx) {
		return
	}

	c.establishedAt = now()
	c.forward()
}

// sniffAndRoute speculatively prepends the PROXY v1 header (if configured),
// then reads from the client socket until the sniffer reports a hostname or
// a terminal failure, and routes the result through the backend table.
func (c *Connection) sniffAndRoute() ([]byte, bool) {
	if c.opts.InsertProxyHeader {
		hdr := proxyproto.Write(c.clientAddr, c.localAddr)
		c.clientBuf.Push(hdr)
		c.headerLen = len(hdr)
	}

	for {
		full := c.clientBuf.Coalesce()
		if len(full) > c.headerLen {
			payload := full[c.headerLen:]
			if hostname, matched, decided := c.trySniff(payload); decided {
				return hostname, matched
			}
		} else if c.clientBuf.Room() == 0 {
			return c.handleUnroutable(nil, -1)
		}

		n, err := c.clientBuf.Recv(c.client)
		if neterr.IsPeerClosed(n, err) {
			c.state = ClientClosed
			return nil, false
		}
		if err != nil && !neterr.IsTemporary(err) {
			c.warnf("recv(client): %v", err)
			c.state = ClientClosed
			return nil, false
		}
	}
}

// trySniff parses payload once. decided is true once a terminal outcome has
// been reached (routed successfully, aborted, or given up waiting for more
// bytes); matched is only meaningful when decided is true.
func (c *Connection) trySniff(payload []byte) (hostname []byte, matched, decided bool) {
	res := c.opts.Sniffer.Parse(payload)
	switch res.Status {
	case sniff.StatusOK:
		h := append([]byte(nil), res.Hostname...)
		c.state = Parsed
		hostname, matched = c.route(h)
		return hostname, matched, true
	case sniff.StatusNoHostname:
		hostname, matched = c.handleUnroutable(nil, -2)
		return hostname, matched, true
	case sniff.StatusMalformed:
		hostname, matched = c.handleUnroutable(payload, -3)
		return hostname, matched, true
	default: // StatusNeedMore
		if c.clientBuf.Room() == 0 {
			hostname, matched = c.handleUnroutable(payload, -1)
			return hostname, matched, true
		}
		return nil, false, false
	}
}

// handleUnroutable logs a parse failure and falls through to routing with
// an empty hostname, so a wildcard fallback entry still has a chance to
// claim the connection.
func (c *Connection) handleUnroutable(payload []byte, parseResult int) ([]byte, bool) {
	c.warnf("request from %s could not be parsed", addrString(c.clientAddr))
	if c.opts.LogBadRequests && payload != nil && c.opts.Logger != nil {
		c.opts.Logger.BadRequest(payload, parseResult)
	}
	c.state = Parsed
	return c.route(nil)
}

// route looks hostname up in the backend table and either records the
// matched entry or aborts the connection.
func (c *Connection) route(hostname []byte) ([]byte, bool) {
	res := c.opts.Table.Lookup(string(hostname))
	if res.NoRoute() {
		c.abort()
		return hostname, false
	}
	c.entry = res.Entry
	return hostname, true
}

// abort pushes the sniffer's abort message into the server-direction buffer
// and flushes it toward the client, then marks the connection
// server-closed. Nothing is forwarded after an abort; a server socket
// already opened (a failed SOCKS5 handshake) is closed by Close when Serve
// returns.
func (c *Connection) abort() {
	c.serverBuf.Push(c.opts.Sniffer.AbortMessage())
	for c.serverBuf.Len() > 0 {
		_, err := c.serverBuf.Send(c.client)
		if err != nil && !neterr.IsTemporary(err) {
			break
		}
	}
	c.state = ServerClosed
}

func (c *Connection) warnf(format string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warnf(format, args...)
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return "?"
	}
	return a.String()
}

// now is overridable in tests that need deterministic durations.
var now = time.Now
