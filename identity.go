package dtlsproxy

import "net"

// PeerIdentity is the demultiplexing key for a remote endpoint: the
// network address a UDP datagram arrived from. Two identities are
// equal iff their string forms (family, address bytes and port) match
// exactly; this is the sole key used by the session table. Keystore
// lookups do not use it: they are keyed on the PSK identity, unrelated
// bytes carried inside the handshake rather than the wire address.
type PeerIdentity struct {
	addr net.Addr
	key  string
}

// NewPeerIdentity derives an identity from a resolved remote address.
func NewPeerIdentity(addr net.Addr) PeerIdentity {
	return PeerIdentity{addr: addr, key: addr.String()}
}

// Key returns the comparable, map-safe form of the identity.
func (p PeerIdentity) Key() string {
	return p.key
}

// Addr returns the underlying network address.
func (p PeerIdentity) Addr() net.Addr {
	return p.addr
}

// Equal reports whether two identities name the same peer.
func (p PeerIdentity) Equal(other PeerIdentity) bool {
	return p.key == other.key
}

func (p PeerIdentity) String() string {
	return p.key
}
