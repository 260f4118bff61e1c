package conn

import (
	"net"

	"go.sniproxy.dev/sniproxy/internal/logging"
)

// logAccess emits the access-log line for a connection that has finished
// forwarding (or been aborted). Duration is measured from the moment a
// server connection was established (or, for an aborted connection with no
// server socket, from now — there is no meaningful established_timestamp
// to subtract against).
func (c *Connection) logAccess() {
	established := c.establishedAt
	if established.IsZero() {
		established = now()
	}

	var serverAddr net.Addr
	if c.server != nil {
		serverAddr = c.server.RemoteAddr()
	}

	lastRecv := c.clientBuf.LastRecv()
	if c.serverBuf.LastRecv().After(lastRecv) {
		lastRecv = c.serverBuf.LastRecv()
	}
	if lastRecv.IsZero() {
		lastRecv = established
	}

	c.opts.Logger.Access(logging.AccessEntry{
		Client:      c.clientAddr,
		Listener:    c.localAddr,
		Server:      serverAddr,
		Hostname:    c.hostname,
		ServerBufTx: c.serverBuf.TxBytes(),
		ServerBufRx: c.serverBuf.RxBytes(),
		ClientBufTx: c.clientBuf.TxBytes(),
		ClientBufRx: c.clientBuf.RxBytes(),
		Established: established,
		LastRecv:    lastRecv,
	})
}
