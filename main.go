package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.sniproxy.dev/sniproxy/internal/backend"
	"go.sniproxy.dev/sniproxy/internal/config"
	"go.sniproxy.dev/sniproxy/internal/conn"
	"go.sniproxy.dev/sniproxy/internal/listener"
	"go.sniproxy.dev/sniproxy/internal/logging"
	"go.sniproxy.dev/sniproxy/internal/registry"
	"go.sniproxy.dev/sniproxy/internal/resolver"
	"go.sniproxy.dev/sniproxy/internal/sniff"
)

// repeatableFlag collects every occurrence of a repeatable flag in the
// order given, the same repeatable-flag.Value shape as -route.
type repeatableFlag []string

func (r *repeatableFlag) String() string { return strings.Join(*r, ",") }

func (r *repeatableFlag) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func main() {
	var (
		listenAddrs      repeatableFlag
		routes           repeatableFlag
		configPath       string
		fallbackTarget   string
		fallbackProxyHdr bool
		accessLogPath    string
		logBadRequests   bool
		transparent      bool
		sourceAddress    string
		bufferSize       int
		mode             string
	)

	flag.Var(&listenAddrs, "listen", "listen address (repeatable); default :443")
	flag.Var(&routes, "route", "route mapping (format: hostname[@proxy] or hostname=target[@proxy]), repeatable")
	flag.StringVar(&configPath, "config", "", "route file to load and watch for changes (merged with -route)")
	flag.StringVar(&fallbackTarget, "fallback", "", "target for connections matching no route (host:port, or empty to reject)")
	flag.BoolVar(&fallbackProxyHdr, "fallback-proxy-header", false, "prepend a PROXY v1 header on the fallback route")
	flag.StringVar(&accessLogPath, "access-log", "", "file to append access-log lines to; empty disables access logging")
	flag.BoolVar(&logBadRequests, "log-bad-requests", false, "hex-dump requests that fail to parse")
	flag.BoolVar(&transparent, "transparent", false, "dial backends with the client's own source address (IP_TRANSPARENT)")
	flag.StringVar(&sourceAddress, "source-address", "", "pin the outbound socket's source address for routes that don't set their own")
	flag.IntVar(&bufferSize, "buffer-size", 0, "per-direction buffer size in bytes; 0 uses the package default")
	flag.StringVar(&mode, "mode", "tls", "what to sniff on accepted connections: tls (SNI) or http (Host header)")
	flag.Parse()

	if len(listenAddrs) == 0 {
		listenAddrs = append(listenAddrs, ":443")
	}

	var sniffer sniff.Sniffer
	switch mode {
	case "tls":
		sniffer = sniff.TLS{}
	case "http":
		sniffer = sniff.HTTP{}
	default:
		log.Fatalf("unknown -mode %q: must be tls or http", mode)
	}

	var source net.IP
	if sourceAddress != "" {
		source = net.ParseIP(sourceAddress)
		if source == nil {
			log.Fatalf("invalid -source-address %q", sourceAddress)
		}
	}

	accessLog, opLog := openLogs(accessLogPath)
	logger := logging.New(accessLog, opLog)

	table, insertProxyHeader, err := buildTable(routes, configPath, fallbackTarget, fallbackProxyHdr)
	if err != nil {
		log.Fatalf("building routing table: %v", err)
	}

	reg := registry.New()

	listeners := make([]*listener.Listener, 0, len(listenAddrs))
	for _, addr := range listenAddrs {
		l, err := listener.New(listener.Config{
			Addr:              addr,
			Sniffer:           sniffer,
			InsertProxyHeader: insertProxyHeader,
			Transparent:       transparent,
			SourceAddress:     source,
			BufferSize:        bufferSize,
			LogBadRequests:    logBadRequests,
			Logger:            logger,
			Resolver:          &resolver.Shim{},
			Registry:          reg,
		}, table)
		if err != nil {
			log.Fatalf("listen on %s: %v", addr, err)
		}
		listeners = append(listeners, l)
		log.Printf("listening on %s (%s)", l.Addr(), mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, l := range listeners {
		go func(l *listener.Listener) {
			if err := l.Serve(ctx); err != nil {
				log.Printf("listener %s: %v", l.Addr(), err)
			}
		}(l)
	}

	if configPath != "" {
		go watchConfig(ctx, configPath, routes, fallbackTarget, fallbackProxyHdr, listeners)
	}

	runUntilSignal(cancel, listeners, reg, configPath, routes, fallbackTarget, fallbackProxyHdr)
}

// buildTable merges -route flags with the contents of a -config route
// file, if given, and appends an optional fallback target built from
// -fallback/-fallback-proxy-header. The returned bool reports whether any
// entry or the fallback sets UseProxyHeader; a listener built from this
// table only needs to speculatively insert a PROXY v1 header when it does,
// mirroring con->listener->table->use_proxy_header ||
// con->listener->fallback_use_proxy_header.
func buildTable(routes []string, configPath, fallbackTarget string, fallbackProxyHdr bool) (*backend.Table, bool, error) {
	var entries []backend.Entry
	var fallback *backend.Entry

	if configPath != "" {
		fileEntries, fileFallback, err := config.LoadEntries(configPath)
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, fileEntries...)
		fallback = fileFallback
	}

	for _, r := range routes {
		entry, isFallback, err := config.ParseLine(r)
		if err != nil {
			return nil, false, fmt.Errorf("-route %q: %w", r, err)
		}
		if isFallback {
			e := entry
			fallback = &e
			continue
		}
		entries = append(entries, entry)
	}

	if fallbackTarget != "" {
		t, err := net.ResolveTCPAddr("tcp", fallbackTarget)
		if err != nil {
			return nil, false, fmt.Errorf("-fallback %q: %w", fallbackTarget, err)
		}
		fallback = &backend.Entry{
			Target: backend.Target{Addr: t},
			Flags:  backend.EntryFlags{UseProxyHeader: fallbackProxyHdr},
		}
	}

	insertProxyHeader := fallback != nil && fallback.Flags.UseProxyHeader
	for _, e := range entries {
		if e.Flags.UseProxyHeader {
			insertProxyHeader = true
			break
		}
	}

	return backend.New(entries, fallback), insertProxyHeader, nil
}

// watchConfig re-merges -route flags with configPath every time it changes,
// swapping every listener's table atomically.
func watchConfig(ctx context.Context, path string, routes []string, fallbackTarget string, fallbackProxyHdr bool, listeners []*listener.Listener) {
	err := config.Watch(ctx, path, func(r config.ReloadResult) {
		if r.Err != nil {
			log.Printf("config reload: %v", r.Err)
			return
		}
		merged, _, err := buildTable(routes, path, fallbackTarget, fallbackProxyHdr)
		if err != nil {
			log.Printf("config reload: %v", err)
			return
		}
		for _, l := range listeners {
			l.SetTable(merged)
		}
		log.Printf("config reloaded from %s", path)
	})
	if err != nil {
		log.Printf("config watch on %s stopped: %v", path, err)
	}
}

// dumpable is satisfied by *conn.Connection; kept local to main so
// registry stays generic over plain Closers.
type dumpable interface {
	State() conn.State
	Hostname() []byte
}

func dumpConnections(reg *registry.Registry) {
	log.Printf("connection dump: %d active", reg.Len())
	reg.Each(func(c registry.Closer) {
		d, ok := c.(dumpable)
		if !ok {
			return
		}
		log.Printf("  %s [%s]", d.State(), d.Hostname())
	})
}

// runUntilSignal blocks handling SIGINT/SIGTERM (graceful shutdown),
// SIGUSR1 (reload), and SIGUSR2 (connection dump) until a shutdown signal
// arrives.
func runUntilSignal(cancel context.CancelFunc, listeners []*listener.Listener, reg *registry.Registry, configPath string, routes []string, fallbackTarget string, fallbackProxyHdr bool) {
	shutdown := make(chan os.Signal, 1)
	reload := make(chan os.Signal, 1)
	dump := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reload, syscall.SIGUSR1)
	signal.Notify(dump, syscall.SIGUSR2)

	for {
		select {
		case <-shutdown:
			log.Printf("shutting down")
			cancel()
			for _, l := range listeners {
				l.Close()
			}
			reg.CloseAll()
			return
		case <-reload:
			if configPath == "" {
				log.Printf("reload requested but no -config file is set")
				continue
			}
			t, _, err := buildTable(routes, configPath, fallbackTarget, fallbackProxyHdr)
			if err != nil {
				log.Printf("reload: %v", err)
				continue
			}
			for _, l := range listeners {
				l.SetTable(t)
			}
			log.Printf("reloaded from %s", configPath)
		case <-dump:
			dumpConnections(reg)
		}
	}
}

// openLogs opens accessLogPath for append if set, returning its *log.Logger
// alongside a stderr operational logger; a failure to open the access log
// is fatal since the operator explicitly asked for it.
func openLogs(accessLogPath string) (access, operational *log.Logger) {
	operational = log.New(os.Stderr, "", log.LstdFlags)
	if accessLogPath == "" {
		return nil, operational
	}
	f, err := os.OpenFile(accessLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening access log %s: %v", accessLogPath, err)
	}
	return log.New(f, "", log.LstdFlags), operational
}
