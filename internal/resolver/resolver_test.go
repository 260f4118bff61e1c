package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLoopbackLiteral(t *testing.T) {
	s := &Shim{}
	q := s.Resolve(context.Background(), "127.0.0.1", ModeIPv4Only)

	select {
	case res := <-q.Done():
		require.NoError(t, res.Err)
		assert.True(t, res.Addr.Equal(net.IPv4(127, 0, 0, 1)))
	case <-time.After(5 * time.Second):
		t.Fatal("lookup did not complete")
	}
}

func TestResolveUnknownHostReturnsError(t *testing.T) {
	s := &Shim{}
	q := s.Resolve(context.Background(), "this-host-does-not-resolve.invalid", ModeDefault)

	select {
	case res := <-q.Done():
		assert.Error(t, res.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("lookup did not complete")
	}
}

func TestCancelIsSafeAfterDelivery(t *testing.T) {
	s := &Shim{}
	q := s.Resolve(context.Background(), "127.0.0.1", ModeDefault)
	<-q.Done()

	assert.NotPanics(t, func() {
		q.Cancel()
		q.Cancel()
	})
}
