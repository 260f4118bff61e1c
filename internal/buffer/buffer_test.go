package buffer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopRoomInvariant(t *testing.T) {
	b := New(8)
	require.Equal(t, 8, b.Room())
	require.Equal(t, 0, b.Len())

	n := b.Push([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 3, b.Room())
	assert.Equal(t, b.Cap(), b.Len()+b.Room())

	b.Pop(2)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 5, b.Room())
	assert.Equal(t, b.Cap(), b.Len()+b.Room())
}

func TestPushNeverOverfills(t *testing.T) {
	b := New(4)
	n := b.Push([]byte("abcdefgh"))
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, b.Room())
}

func TestCoalesceLinearizesWrappedContent(t *testing.T) {
	b := New(4)
	b.Push([]byte("ab"))
	b.Pop(2)
	b.Push([]byte("cdef")) // wraps around the ring
	got := b.Coalesce()
	assert.Equal(t, []byte("cdef"), got)
	assert.Equal(t, 4, len(got))
}

func TestResetClearsContent(t *testing.T) {
	b := New(8)
	b.Push([]byte("socks5ack"[:8]))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 8, b.Room())
}

func TestRecvAndSendRoundTrip(t *testing.T) {
	b := New(16)
	src := bytes.NewBufferString("clienthello")
	n, err := b.Recv(src)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.EqualValues(t, 11, b.RxBytes())

	var dst bytes.Buffer
	n, err = b.Send(&dst)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "clienthello", dst.String())
	assert.EqualValues(t, 11, b.TxBytes())
	assert.Equal(t, 0, b.Len())
}

func TestSendPartialWriteOnlyPopsWritten(t *testing.T) {
	b := New(8)
	b.Push([]byte("abcd"))
	w := &partialWriter{limit: 2}
	n, err := b.Send(w)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "ab", string(w.written))
}

type partialWriter struct {
	limit   int
	written []byte
}

func (w *partialWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.limit {
		n = w.limit
	}
	w.written = append(w.written, p[:n]...)
	return n, nil
}

func TestRecvReportsPeerClose(t *testing.T) {
	b := New(8)
	n, err := b.Recv(io.LimitReader(bytes.NewReader(nil), 0))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestTxRxBytesMonotonic(t *testing.T) {
	b := New(4)
	var total uint64
	for i := 0; i < 5; i++ {
		b.Push([]byte{byte(i)})
		b.Pop(1)
		assert.GreaterOrEqual(t, b.RxBytes(), total)
		total = b.RxBytes()
	}
}
