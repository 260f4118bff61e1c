package proxyproto

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteTCP4(t *testing.T) {
	client := &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 40000}
	local := &net.TCPAddr{IP: net.ParseIP("198.51.100.9"), Port: 443}

	got := Write(client, local)
	assert.Equal(t, "PROXY TCP4 203.0.113.5 198.51.100.9 40000 443\r\n", string(got))
}

func TestWriteTCP6(t *testing.T) {
	client := &net.TCPAddr{IP: net.ParseIP("2001:db8::5"), Port: 40000}
	local := &net.TCPAddr{IP: net.ParseIP("2001:db8::9"), Port: 443}

	got := Write(client, local)
	assert.Equal(t, "PROXY TCP6 2001:db8::5 2001:db8::9 40000 443\r\n", string(got))
}

func TestWriteUnknownOnMixedFamilies(t *testing.T) {
	client := &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 1}
	local := &net.TCPAddr{IP: net.ParseIP("2001:db8::9"), Port: 2}

	got := Write(client, local)
	assert.Equal(t, "PROXY UNKNOWN\r\n", string(got))
}

func TestWriteUnknownOnNilAddr(t *testing.T) {
	got := Write(nil, &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	assert.Equal(t, "PROXY UNKNOWN\r\n", string(got))
}
