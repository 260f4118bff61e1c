// Package config parses a routing table from a text file and can watch
// that file for changes, reloading and handing back a fresh
// *backend.Table whenever it's edited or a reload is requested out of
// band (e.g. on SIGUSR1).
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.sniproxy.dev/sniproxy/internal/backend"
)

// fallbackPattern is the token a route line uses in place of a hostname
// pattern to mean "match anything that reached here unmatched" — the
// generalized equivalent of an exact-match route table having no fallback
// concept at all (an unmatched host is always rejected); here the hostname
// position in the grammar doubles as the fallback marker.
const fallbackPattern = "*"

// ParseLine parses one non-comment, non-blank line into an Entry. The
// grammar generalizes the classic "hostname[@proxy]" / "hostname=
// target[@proxy]" forms with a trailing whitespace-separated,
// comma-joined flag list:
//
//	hostname
//	hostname=target
//	hostname=target@socks5addr
//	hostname=target@socks5addr use_proxy_header,source=192.0.2.1
//
// hostname is compiled as a pattern via backend.CompilePattern, except
// the literal token "*" which marks the line as the table's fallback.
func ParseLine(line string) (backend.Entry, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return backend.Entry{}, false, fmt.Errorf("config: empty route line")
	}
	spec := fields[0]

	var flagTokens []string
	if len(fields) > 1 {
		flagTokens = strings.Split(strings.Join(fields[1:], ","), ",")
	}

	host, target, proxyAddr, err := splitRoute(spec)
	if err != nil {
		return backend.Entry{}, false, err
	}

	flags, err := parseFlags(flagTokens)
	if err != nil {
		return backend.Entry{}, false, fmt.Errorf("config: route %q: %w", spec, err)
	}

	if proxyAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", proxyAddr)
		if err != nil {
			return backend.Entry{}, false, fmt.Errorf("config: route %q: resolving proxy address %q: %w", spec, proxyAddr, err)
		}
		flags.UseProxySOCKS5 = true
		flags.SOCKS5Addr = addr
	}

	isFallback := host == fallbackPattern
	var pattern *regexp.Regexp
	if !isFallback {
		pattern, err = backend.CompilePattern(host)
		if err != nil {
			return backend.Entry{}, false, fmt.Errorf("config: route %q: compiling pattern %q: %w", spec, host, err)
		}
	}

	t, err := resolveTargetSpec(host, target)
	if err != nil {
		return backend.Entry{}, false, fmt.Errorf("config: route %q: %w", spec, err)
	}

	return backend.Entry{Pattern: pattern, Target: t, Flags: flags}, isFallback, nil
}

// splitRoute pulls the trailing "@proxy" suffix off spec, then splits the
// remainder into host and target (target empty means passthrough to
// host:443), rejecting the bare "host:port" form this grammar
// also rejects — "=" is mandatory once a target is present so a plain
// hostname always means passthrough, never an accidental port.
func splitRoute(spec string) (host, target, proxyAddr string, err error) {
	remainder := spec
	if idx := strings.LastIndex(spec, "@"); idx != -1 {
		proxyAddr = strings.TrimSpace(spec[idx+1:])
		remainder = strings.TrimSpace(spec[:idx])
		if proxyAddr == "" {
			return "", "", "", fmt.Errorf("config: route %q: empty proxy address after '@'", spec)
		}
	}

	if strings.Contains(remainder, ":") && !strings.Contains(remainder, "=") {
		return "", "", "", fmt.Errorf("config: route %q: bare \"host:port\" is not a valid route; use host=target", spec)
	}

	if !strings.Contains(remainder, "=") {
		host = strings.TrimSpace(remainder)
		if host == "" {
			return "", "", "", fmt.Errorf("config: route %q: empty hostname", spec)
		}
		return host, "", proxyAddr, nil
	}

	parts := strings.SplitN(remainder, "=", 2)
	host = strings.TrimSpace(parts[0])
	target = strings.TrimSpace(parts[1])
	if host == "" {
		return "", "", "", fmt.Errorf("config: route %q: empty hostname", spec)
	}
	if target == "" {
		return "", "", "", fmt.Errorf("config: route %q: target required when using '=' syntax", spec)
	}
	return host, target, proxyAddr, nil
}

// resolveTargetSpec turns a parsed (host, target) pair into a backend.Target.
// An empty target means passthrough: dial host itself on 443. A leading
// ":port" normalizes to localhost:port, a shorthand
// for "a local service on this port".
func resolveTargetSpec(host, target string) (backend.Target, error) {
	if target == "" {
		return backend.Target{Deferred: true, Host: host, Port: 443}, nil
	}

	if strings.HasPrefix(target, ":") {
		port, err := strconv.Atoi(target[1:])
		if err != nil {
			return backend.Target{}, fmt.Errorf("invalid port %q: %w", target[1:], err)
		}
		return backend.Target{Deferred: true, Host: "localhost", Port: uint16(port)}, nil
	}

	h, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return backend.Target{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return backend.Target{}, fmt.Errorf("invalid port in target %q: %w", target, err)
	}

	if ip := net.ParseIP(h); ip != nil {
		return backend.Target{Addr: &net.TCPAddr{IP: ip, Port: port}}, nil
	}
	return backend.Target{Deferred: true, Host: h, Port: uint16(port)}, nil
}

// parseFlags interprets the comma-separated flag tokens trailing a route
// line. Unknown tokens are rejected outright rather than silently ignored,
// so a typo'd flag fails the reload instead of quietly not applying.
func parseFlags(tokens []string) (backend.EntryFlags, error) {
	var flags backend.EntryFlags
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch {
		case tok == "use_proxy_header":
			flags.UseProxyHeader = true
		case tok == "use_proxy_socks5_remote_resolv":
			flags.UseProxySOCKS5RemoteResolv = true
		case strings.HasPrefix(tok, "source="):
			ip := net.ParseIP(strings.TrimPrefix(tok, "source="))
			if ip == nil {
				return flags, fmt.Errorf("invalid source address in flag %q", tok)
			}
			flags.SourceAddress = ip
		default:
			return flags, fmt.Errorf("unknown route flag %q", tok)
		}
	}
	return flags, nil
}

// LoadEntries reads path line by line into entries and an optional
// fallback, one per non-comment, non-blank line. A line beginning with "#"
// is a comment; at most one line may use the "*" fallback marker. It's
// exposed separately from Load so a caller merging several route sources
// (a -config file plus repeatable -route flags, say) can combine them
// before building the *backend.Table.
func LoadEntries(path string) (entries []backend.Entry, fallback *backend.Entry, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, isFallback, err := ParseLine(line)
		if err != nil {
			return nil, nil, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
		if isFallback {
			if fallback != nil {
				return nil, nil, fmt.Errorf("config: %s:%d: duplicate fallback route", path, lineNo)
			}
			e := entry
			fallback = &e
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	return entries, fallback, nil
}

// Load reads path into a standalone *backend.Table.
func Load(path string) (*backend.Table, error) {
	entries, fallback, err := LoadEntries(path)
	if err != nil {
		return nil, err
	}
	return backend.New(entries, fallback), nil
}
