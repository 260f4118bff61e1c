package listener

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.sniproxy.dev/sniproxy/internal/backend"
	"go.sniproxy.dev/sniproxy/internal/registry"
	"go.sniproxy.dev/sniproxy/internal/sniff"
)

// fakeBackend runs a tiny TCP server that accepts a single connection,
// sends that connection's first read on the returned channel, and replies
// with a fixed "200 OK" response; it returns the server's address plus the
// channel.
func fakeBackend(t *testing.T) (*net.TCPAddr, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4096)
		n, _ := c.Read(buf)
		got <- append([]byte(nil), buf[:n]...)
		c.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	}()
	return ln.Addr().(*net.TCPAddr), got
}

func TestServeAcceptsRoutesAndForwards(t *testing.T) {
	backendAddr, got := fakeBackend(t)

	fallback := backend.Entry{Target: backend.Target{Addr: backendAddr}}
	table := backend.New(nil, &fallback)
	reg := registry.New()

	l, err := New(Config{
		Addr:       "127.0.0.1:0",
		Sniffer:    sniff.HTTP{},
		BufferSize: 4096,
		Registry:   reg,
	}, table)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()

	req := "GET / HTTP/1.1\r\nHost: app.example.com\r\n\r\n"
	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte(req))
	require.NoError(t, err)

	select {
	case b := <-got:
		assert.Equal(t, req, string(b))
	case <-time.After(5 * time.Second):
		t.Fatal("backend never received a request")
	}

	reply := make([]byte, 64)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := io.ReadAtLeast(c, reply, 1)
	require.NoError(t, err)
	assert.Contains(t, string(reply[:n]), "200 OK")

	l.Close()
	<-done
}

func TestAcceptConnectionRegistersAndRemovesOnCompletion(t *testing.T) {
	backendAddr, _ := fakeBackend(t)

	fallback := backend.Entry{Target: backend.Target{Addr: backendAddr}}
	table := backend.New(nil, &fallback)
	reg := registry.New()

	l, err := New(Config{
		Addr:       "127.0.0.1:0",
		Sniffer:    sniff.HTTP{},
		BufferSize: 4096,
		Registry:   reg,
	}, table)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	_, err = c.Write([]byte("GET / HTTP/1.1\r\nHost: app.example.com\r\n\r\n"))
	require.NoError(t, err)

	c.Close()

	require.Eventually(t, func() bool {
		return reg.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSetTableSwapsRoutingForNewConnections(t *testing.T) {
	firstAddr, firstGot := fakeBackend(t)
	secondAddr, secondGot := fakeBackend(t)

	firstFallback := backend.Entry{Target: backend.Target{Addr: firstAddr}}
	table := backend.New(nil, &firstFallback)

	l, err := New(Config{
		Addr:       "127.0.0.1:0",
		Sniffer:    sniff.HTTP{},
		BufferSize: 4096,
	}, table)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	req := "GET / HTTP/1.1\r\nHost: app.example.com\r\n\r\n"

	c1, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, err = c1.Write([]byte(req))
	require.NoError(t, err)
	select {
	case <-firstGot:
	case <-time.After(5 * time.Second):
		t.Fatal("first backend never received a request")
	}
	c1.Close()

	secondFallback := backend.Entry{Target: backend.Target{Addr: secondAddr}}
	l.SetTable(backend.New(nil, &secondFallback))
	assert.Equal(t, secondAddr, l.Table().Lookup("app.example.com").Entry.Target.Addr)

	c2, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c2.Close()
	_, err = c2.Write([]byte(req))
	require.NoError(t, err)
	select {
	case <-secondGot:
	case <-time.After(5 * time.Second):
		t.Fatal("second backend never received a request")
	}
}
