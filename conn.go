package dtlsproxy

import (
	"io"
	"net"
	"sync"
	"time"
)

// peerConn is a virtual net.Conn multiplexed out of the single listen
// socket, one per remote address. It is the bridge between this
// proxy's own recvfrom loop (which is the only place the raw socket,
// and therefore any "packet truncated" signal, is visible) and
// pion/dtls's dtls.Server/dtls.Client API, which expects a plain
// net.Conn per association. Feeding datagrams through inbound lets the
// proxy retain ownership of the listen socket instead of handing it to
// the DTLS engine, matching proxy.c's single recvfrom+
// dtls_handle_message call site.
type peerConn struct {
	listen *net.UDPConn
	remote net.Addr

	inbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeerConn(listen *net.UDPConn, remote net.Addr) *peerConn {
	return &peerConn{
		listen:  listen,
		remote:  remote,
		inbound: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
}

// deliver feeds one already-received datagram to the DTLS engine's
// next Read. Order of delivery preserves receipt order per peer since
// the accept loop and this channel are both single-producer FIFO.
func (c *peerConn) deliver(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case c.inbound <- cp:
	case <-c.closed:
	}
}

func (c *peerConn) Read(b []byte) (int, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return 0, io.EOF
		}
		n := copy(b, data)
		return n, nil
	case <-c.closed:
		return 0, io.EOF
	}
}

// Write implements the send-on-wire callback: emit bytes to the peer
// via a non-blocking sendto on the shared listen socket. UDP datagrams
// are atomic, so a short write is reported, never retried.
func (c *peerConn) Write(b []byte) (int, error) {
	return c.listen.WriteTo(b, c.remote)
}

func (c *peerConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *peerConn) LocalAddr() net.Addr  { return c.listen.LocalAddr() }
func (c *peerConn) RemoteAddr() net.Addr { return c.remote }

func (c *peerConn) SetDeadline(t time.Time) error      { return nil }
func (c *peerConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *peerConn) SetWriteDeadline(t time.Time) error  { return nil }
