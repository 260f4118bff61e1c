// Package proxyproto writes PROXY protocol v1 header lines, the
// text preamble ("PROXY TCP4 <src> <dst> <sport> <dport>\r\n") some backends
// expect ahead of the proxied bytes so they can recover the original client
// address after the connection hop.
package proxyproto

import (
	"fmt"
	"net"
)

// Write builds the PROXY v1 header for a connection accepted from client on
// a listener bound to local, and returns it as a byte slice ready to be
// pushed in front of the connection's buffered bytes. Callers take the
// slice's length as header_len for a later strip.
func Write(client, local *net.TCPAddr) []byte {
	if client == nil || local == nil || len(client.IP) == 0 || len(local.IP) == 0 {
		return []byte("PROXY UNKNOWN\r\n")
	}

	clientV4 := client.IP.To4()
	localV4 := local.IP.To4()

	switch {
	case clientV4 != nil && localV4 != nil:
		return []byte(fmt.Sprintf("PROXY TCP4 %s %s %d %d\r\n",
			clientV4.String(), localV4.String(), client.Port, local.Port))
	case clientV4 == nil && localV4 == nil:
		return []byte(fmt.Sprintf("PROXY TCP6 %s %s %d %d\r\n",
			client.IP.String(), local.IP.String(), client.Port, local.Port))
	default:
		return []byte("PROXY UNKNOWN\r\n")
	}
}
