package conn

import (
	"net"

	"go.sniproxy.dev/sniproxy/internal/buffer"
	"go.sniproxy.dev/sniproxy/internal/neterr"
	"go.sniproxy.dev/sniproxy/internal/reactor"
)

// side is one direction's worth of the forwarding loop's state: the socket
// being watched, the buffer its reads fill, the buffer its writes drain (the
// other side's recvBuf), and the open/in-flight bookkeeping the decision
// loop needs to re-arm it. forward builds one side per socket and
// drives both through the same handler rather than writing out each
// direction's read/write/close logic twice.
type side struct {
	name string // "client" or "server", for warnf messages

	conn    net.Conn
	watcher *reactor.Watcher
	recvBuf *buffer.Buffer // filled by this side's reads
	sendBuf *buffer.Buffer // drained by this side's writes

	closeState State // c.state once this side's socket is found closed

	open    bool
	reading bool
	writing bool
}

// arm requests a read when recvBuf has room and a write when sendBuf has
// data, at most one of each in flight at a time.
func (s *side) arm() {
	if !s.open {
		return
	}
	if !s.reading && s.recvBuf.Room() > 0 {
		s.watcher.ArmRead(s.recvBuf.Room())
		s.reading = true
	}
	if !s.writing && s.sendBuf.Len() > 0 {
		s.watcher.Write(s.sendBuf.Coalesce())
		s.writing = true
	}
}

// onEvent applies one reactor.Event to s's buffers and bookkeeping, logging
// and marking the side closed on any non-temporary I/O failure (including a
// clean peer close on read). It's the single handler both the
// client-watcher and server-watcher select cases call into, parameterized
// by which side fired.
func (c *Connection) onEvent(s *side, ev reactor.Event) {
	switch ev.Kind {
	case reactor.EventRead:
		s.reading = false
		if neterr.IsPeerClosed(ev.N, ev.Err) {
			s.open = false
		} else if ev.Err != nil && !neterr.IsTemporary(ev.Err) {
			c.warnf("recv(%s): %v", s.name, ev.Err)
			s.open = false
		} else {
			s.recvBuf.Push(ev.Data)
		}
	case reactor.EventWriteDone:
		s.writing = false
		if ev.Err != nil {
			c.warnf("send(%s): %v", s.name, ev.Err)
			s.open = false
		} else {
			s.sendBuf.Pop(ev.N)
		}
	}
	if !s.open {
		s.conn.Close()
		c.state = s.closeState
	}
}

// forward runs the bidirectional copy phase: a decision loop selecting over
// two reactor.Watchers, one per socket, each pushing what it reads into the
// buffer the *other* watcher drains. It is the only code that mutates
// clientBuf/serverBuf during this phase, so neither buffer needs a lock.
//
// A read failure (including a clean EOF) on one side closes that side's
// real socket immediately, the same way close_client_socket/
// close_server_socket did; the opposite socket stays open just long enough
// to flush whatever had already been read from the failed side, then closes
// too.
func (c *Connection) forward() {
	cw := reactor.New(c.client, c.clientBuf.Cap())
	sw := reactor.New(c.server, c.serverBuf.Cap())
	defer cw.Close()
	defer sw.Close()

	client := &side{
		name:       "client",
		conn:       c.client,
		watcher:    cw,
		recvBuf:    c.clientBuf,
		sendBuf:    c.serverBuf,
		closeState: ClientClosed,
		open:       true,
	}
	server := &side{
		name:       "server",
		conn:       c.server,
		watcher:    sw,
		recvBuf:    c.serverBuf,
		sendBuf:    c.clientBuf,
		closeState: ServerClosed,
		open:       true,
	}

	arm := func() {
		client.arm()
		server.arm()
	}

	arm()
	for client.open || server.open {
		var cwEvents, swEvents <-chan reactor.Event
		if client.open {
			cwEvents = cw.Events()
		}
		if server.open {
			swEvents = sw.Events()
		}

		select {
		case ev := <-cwEvents:
			c.onEvent(client, ev)
		case ev := <-swEvents:
			c.onEvent(server, ev)
		}

		if c.opts.OnActivity != nil {
			c.opts.OnActivity()
		}

		if !client.open && server.open && c.clientBuf.Len() == 0 {
			c.server.Close()
			server.open = false
			c.state = Closed
		}
		if !server.open && client.open && c.serverBuf.Len() == 0 {
			c.client.Close()
			client.open = false
			c.state = Closed
		}

		arm()
	}

	c.state = Closed
}
