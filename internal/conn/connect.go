package conn

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"go.sniproxy.dev/sniproxy/internal/resolver"
	"go.sniproxy.dev/sniproxy/internal/socks5"
)

const dialRetries = 5

// connectServer resolves (if needed) and dials the routed backend, performs
// an optional SOCKS5 handshake, and strips the speculative PROXY v1 header
// when the matched entry doesn't want it. It reports whether the connection
// should proceed to forwarding.
func (c *Connection) connectServer(ctx context.Context) bool {
	addr, ok := c.resolveTarget(ctx)
	if !ok {
		return false
	}

	conn, ok := c.dial(ctx, addr)
	if !ok {
		return false
	}
	c.server = conn

	if c.entry.Flags.UseProxySOCKS5 {
		port := uint16(0)
		if c.localAddr != nil {
			port = uint16(c.localAddr.Port)
		}
		if err := socks5.Connect(conn, string(c.hostname), port); err != nil {
			c.warnf("socks5 connect via %s failed: %v", addr, err)
			c.abort()
			return false
		}
	}

	if c.headerLen > 0 && !c.entry.Flags.UseProxyHeader {
		c.clientBuf.Pop(c.headerLen)
	}

	c.state = Connected
	return true
}

// resolveTarget turns the matched entry's Target into a dialable address,
// running an async DNS lookup first when the entry named a hostname rather
// than a literal address. A SOCKS5-routed entry dials the proxy itself, so
// its own target never needs local resolution.
func (c *Connection) resolveTarget(ctx context.Context) (*net.TCPAddr, bool) {
	if c.entry.Flags.UseProxySOCKS5 {
		if c.entry.Flags.SOCKS5Addr == nil {
			c.warnf("route for %s has use_proxy_socks5 set with no proxy address", c.hostname)
			c.abort()
			return nil, false
		}
		return c.entry.Flags.SOCKS5Addr, true
	}

	if !c.entry.Target.Deferred {
		return c.entry.Target.Addr, true
	}

	c.state = Resolving
	mode := resolver.ModeDefault
	if c.opts.Transparent && c.clientAddr != nil {
		if c.clientAddr.IP.To4() != nil {
			mode = resolver.ModeIPv4Only
		} else {
			mode = resolver.ModeIPv6Only
		}
	}

	query := c.opts.Resolver.Resolve(ctx, c.entry.Target.Host, mode)
	c.resolveQuery.Store(query)
	result := <-query.Done()
	if c.resolveQuery.Swap(nil) == nil {
		// Close already claimed and cancelled the query; result is
		// whatever Cancel provoked, and the connection is already
		// tearing down.
		return nil, false
	}
	if result.Err != nil {
		c.warnf("resolve %s: %v", c.entry.Target.Host, result.Err)
		c.abort()
		return nil, false
	}

	c.state = Resolved
	return &net.TCPAddr{IP: result.Addr, Port: int(c.entry.Target.Port)}, true
}

// dial opens the server socket, applying transparent-proxy binding or
// source-address binding as the matched entry or listener configures.
func (c *Connection) dial(ctx context.Context, addr *net.TCPAddr) (net.Conn, bool) {
	if c.opts.Dial != nil {
		conn, err := c.opts.Dial(ctx, "tcp", addr.String())
		if err != nil {
			c.warnf("dial %s: %v", addr, err)
			c.abort()
			return nil, false
		}
		return conn, true
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}

	switch {
	case c.opts.Transparent && c.clientAddr != nil && sameFamily(c.clientAddr.IP, addr.IP):
		dialer.Control = transparentControl
		dialer.LocalAddr = &net.TCPAddr{IP: c.clientAddr.IP}
	case c.entry.Flags.SourceAddress != nil:
		return c.dialWithSourceRetry(ctx, dialer, addr, c.entry.Flags.SourceAddress)
	case c.opts.SourceAddress != nil:
		return c.dialWithSourceRetry(ctx, dialer, addr, c.opts.SourceAddress)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		c.warnf("connect to %s: %v", addr, err)
		c.abort()
		return nil, false
	}
	return conn, true
}

// dialWithSourceRetry binds the outbound socket to source before
// connecting, retrying up to dialRetries times if the kernel reports
// EADDRINUSE on an ephemeral source port — the same retry loop
// initiate_server_connect used around bind(2).
func (c *Connection) dialWithSourceRetry(ctx context.Context, dialer *net.Dialer, addr *net.TCPAddr, source net.IP) (net.Conn, bool) {
	dialer.LocalAddr = &net.TCPAddr{IP: source}

	var lastErr error
	for try := 0; try <= dialRetries; try++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err == nil {
			return conn, true
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
	}
	c.warnf("bind %s: %v", source, lastErr)
	c.abort()
	return nil, false
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}
