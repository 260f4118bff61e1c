package sniff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildClientHello constructs a minimal but structurally valid TLS 1.2
// ClientHello record carrying a single server_name extension, mirroring
// what a real client sends.
func buildClientHello(t *testing.T, hostname string) []byte {
	t.Helper()

	name := []byte(hostname)
	serverNameEntry := append([]byte{0x00}, uint16be(uint16(len(name)))...)
	serverNameEntry = append(serverNameEntry, name...)
	serverNameList := append(uint16be(uint16(len(serverNameEntry))), serverNameEntry...)
	sniExt := append([]byte{0x00, 0x00}, uint16be(uint16(len(serverNameList)))...)
	sniExt = append(sniExt, serverNameList...)

	extensions := sniExt
	body := []byte{0x03, 0x03} // legacy_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session_id len
	body = append(body, uint16be(2)...)       // cipher_suites len
	body = append(body, 0x00, 0x00)
	body = append(body, 0x01, 0x00) // compression_methods
	body = append(body, uint16be(uint16(len(extensions)))...)
	body = append(body, extensions...)

	handshake := append([]byte{0x01}, uint24be(uint32(len(body)))...)
	handshake = append(handshake, body...)

	record := append([]byte{0x16, 0x03, 0x01}, uint16be(uint16(len(handshake)))...)
	record = append(record, handshake...)
	return record
}

func uint16be(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func uint24be(v uint32) []byte { return []byte{byte(v >> 16), byte(v >> 8), byte(v)} }

func TestTLSParseExtractsSNI(t *testing.T) {
	record := buildClientHello(t, "Example.COM")
	res := TLS{}.Parse(record)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "example.com", string(res.Hostname))
	assert.Equal(t, len(record), res.Consumed)
}

func TestTLSParseNeedMoreOnTruncatedRecord(t *testing.T) {
	record := buildClientHello(t, "a.test")
	res := TLS{}.Parse(record[:len(record)-5])
	assert.Equal(t, StatusNeedMore, res.Status)
}

func TestTLSParseNeedMoreOnShortHeader(t *testing.T) {
	res := TLS{}.Parse([]byte{0x16, 0x03})
	assert.Equal(t, StatusNeedMore, res.Status)
}

func TestTLSParseMalformedWrongContentType(t *testing.T) {
	res := TLS{}.Parse([]byte{0x17, 0x03, 0x01, 0x00, 0x02, 0x00, 0x00})
	assert.Equal(t, StatusMalformed, res.Status)
}

func TestHTTPParseExtractsHost(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: nope.test\r\n\r\n")
	res := HTTP{}.Parse(req)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "nope.test", string(res.Hostname))
	assert.Equal(t, len(req), res.Consumed)
}

func TestHTTPParseStripsPort(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: ok.test:8080\r\n\r\n")
	res := HTTP{}.Parse(req)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "ok.test", string(res.Hostname))
}

func TestHTTPParseNoHostname(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nAccept: */*\r\n\r\n")
	res := HTTP{}.Parse(req)
	assert.Equal(t, StatusNoHostname, res.Status)
}

func TestHTTPParseNeedMore(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: ok.test\r\n")
	res := HTTP{}.Parse(req)
	assert.Equal(t, StatusNeedMore, res.Status)
}

func TestHTTPParseMalformedRequestLine(t *testing.T) {
	req := []byte("NOT A REQUEST\r\n\r\n")
	res := HTTP{}.Parse(req)
	assert.Equal(t, StatusMalformed, res.Status)
}
