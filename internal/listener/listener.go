// Package listener binds one TCP address and drives its accept loop,
// wiring each accepted socket into a conn.Connection configured from the
// listener's current routing table, and registering it in a shared
// registry for dump/shutdown visibility.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"go.sniproxy.dev/sniproxy/internal/backend"
	"go.sniproxy.dev/sniproxy/internal/conn"
	"go.sniproxy.dev/sniproxy/internal/logging"
	"go.sniproxy.dev/sniproxy/internal/registry"
	"go.sniproxy.dev/sniproxy/internal/resolver"
	"go.sniproxy.dev/sniproxy/internal/sniff"
)

// Config holds everything a Listener needs that doesn't change for the
// life of the process; the routing table is the one piece that does, so
// it's held separately in an atomic.Pointer and can be swapped by a reload.
type Config struct {
	Addr string

	Sniffer sniff.Sniffer

	InsertProxyHeader bool
	Transparent       bool
	SourceAddress     net.IP
	BufferSize        int
	LogBadRequests    bool

	Logger   *logging.Logger
	Resolver *resolver.Shim
	Registry *registry.Registry

	// Dial overrides how server sockets are opened; nil uses conn's
	// default net.Dialer. Tests substitute a fake.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Listener owns one net.Listener and the goroutine accepting on it.
type Listener struct {
	cfg Config
	ln  net.Listener

	table atomic.Pointer[backend.Table]
}

// New binds addr and returns a Listener ready to Serve, configured to route
// against initial until a reload calls SetTable.
func New(cfg Config, initial *backend.Table) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listener: listen %s: %w", cfg.Addr, err)
	}
	l := &Listener{cfg: cfg, ln: ln}
	l.table.Store(initial)
	return l, nil
}

// Addr reports the address actually bound, which may differ from cfg.Addr
// when the configured port was 0.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Table returns the routing table currently in effect.
func (l *Listener) Table() *backend.Table { return l.table.Load() }

// SetTable atomically swaps the routing table; in-flight connections keep
// using the table snapshot they were handed at accept time, so a reload
// never has to pause the accept loop.
func (l *Listener) SetTable(t *backend.Table) { l.table.Store(t) }

// Serve runs the accept loop until the listener is closed, at which point it
// returns nil. Each accepted socket is handled in its own goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		c, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && !ne.Timeout() {
				return nil
			}
			continue
		}
		go l.acceptConnection(ctx, c)
	}
}

// acceptConnection wraps c in a conn.Connection using the table snapshot
// current at this moment, registers it, and runs it to completion.
func (l *Listener) acceptConnection(ctx context.Context, c net.Conn) {
	cn := conn.New(c, conn.Options{
		Sniffer:           l.cfg.Sniffer,
		Table:             l.table.Load(),
		InsertProxyHeader: l.cfg.InsertProxyHeader,
		Transparent:       l.cfg.Transparent,
		SourceAddress:     l.cfg.SourceAddress,
		BufferSize:        l.cfg.BufferSize,
		LogBadRequests:    l.cfg.LogBadRequests,
		Logger:            l.cfg.Logger,
		Resolver:          l.cfg.Resolver,
		Dial:              l.cfg.Dial,
		OnActivity: func() {
			if l.cfg.Registry != nil {
				l.cfg.Registry.Touch(cn)
			}
		},
	})

	if l.cfg.Registry != nil {
		l.cfg.Registry.Insert(cn)
		defer l.cfg.Registry.Remove(cn)
	}

	cn.Serve(ctx)
}

// Close stops the accept loop by closing the underlying socket; connections
// already accepted run to completion on their own.
func (l *Listener) Close() error {
	return l.ln.Close()
}
