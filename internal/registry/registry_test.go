package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	closed bool
}

func (f *fakeConn) Close() { f.closed = true }

func TestInsertAndLen(t *testing.T) {
	r := New()
	a, b := &fakeConn{id: 1}, &fakeConn{id: 2}
	r.Insert(a)
	r.Insert(b)
	assert.Equal(t, 2, r.Len())
}

func TestEachOrdersMostRecentFirst(t *testing.T) {
	r := New()
	a, b, c := &fakeConn{id: 1}, &fakeConn{id: 2}, &fakeConn{id: 3}
	r.Insert(a)
	r.Insert(b)
	r.Insert(c)
	r.Touch(a) // a becomes most recent

	var order []int
	r.Each(func(cl Closer) { order = append(order, cl.(*fakeConn).id) })
	require.Len(t, order, 3)
	assert.Equal(t, []int{1, 3, 2}, order)
}

func TestRemove(t *testing.T) {
	r := New()
	a := &fakeConn{id: 1}
	r.Insert(a)
	r.Remove(a)
	assert.Equal(t, 0, r.Len())

	r.Remove(a) // no-op, must not panic
}

func TestCloseAllClosesEveryConnection(t *testing.T) {
	r := New()
	a, b := &fakeConn{id: 1}, &fakeConn{id: 2}
	r.Insert(a)
	r.Insert(b)

	r.CloseAll()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
