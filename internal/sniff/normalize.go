package sniff

import (
	"bytes"

	"golang.org/x/net/idna"
)

// normalizeHostname lowercases a sniffed hostname and, when it contains
// non-ASCII labels, converts it to its ASCII (punycode) form first, so
// that routes and ClientHello SNI/Host values compare consistently
// regardless of how a client encoded an internationalized domain name.
func normalizeHostname(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	if ascii, err := idna.Lookup.ToASCII(string(raw)); err == nil {
		return bytes.ToLower([]byte(ascii))
	}
	return bytes.ToLower(raw)
}
