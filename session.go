package dtlsproxy

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Session is the per-peer state created after a DTLS handshake
// completes (the CONNECTED event), grounded on proxy.h's
// session_context_t: peer identity, index, backend socket, backend
// read watcher and inactivity timer, plus a non-owning back-reference
// to the proxy core (see spec.md §9, "Back-reference from session to
// proxy").
type Session struct {
	peerIdentity PeerIdentity
	index        int

	proxy    *ProxyCore
	dtls     net.Conn // the peer's DTLS association
	peerConn *peerConn

	mu      sync.Mutex
	backend *net.UDPConn
	timer   *time.Timer
	started bool
	stopped bool
}

// PeerIdentity returns the peer this session belongs to.
func (s *Session) PeerIdentity() PeerIdentity { return s.peerIdentity }

// Index returns the session's small stable integer, used to derive an
// optional predictable backend source port (spec.md §4.2).
func (s *Session) Index() int { return s.index }

// Start implements start_session: dial the backend, register a
// readable watcher on the resulting socket, and arm the inactivity
// timer. On any failure it rolls back everything it already set up
// and returns an error; the caller must discard the session (never
// call Stop on a session whose Start failed).
func (s *Session) Start(p *ProxyCore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("session %s already started", s.peerIdentity)
	}
	s.proxy = p

	conn, err := dialBackend(p.backends.Pick(), p.cfg.BackendPortBase, s.index)
	if err != nil {
		return fmt.Errorf("dial backend for %s: %w", s.peerIdentity, err)
	}
	s.backend = conn
	s.started = true

	s.timer = time.AfterFunc(p.cfg.IdleTimeout, func() { p.onIdleTimeout(s) })

	go p.backendReadLoop(s)

	return nil
}

// dialBackend connects a UDP socket to addr. When portBase is nonzero
// the local port is pinned to portBase+index so the backend can
// distinguish proxy-origin flows by source port; portBase == 0 leaves
// the port kernel-chosen. This is the supplemented behavior described
// in SPEC_FULL.md §12 (ctx->backends index-based binding).
func dialBackend(addr *net.UDPAddr, portBase, index int) (*net.UDPConn, error) {
	var local *net.UDPAddr
	if portBase != 0 {
		local = &net.UDPAddr{Port: portBase + index}
	}
	return net.DialUDP("udp", local, addr)
}

// touch rearms the inactivity timer; called on any observed traffic in
// either direction, per spec.md §4.4.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Reset(s.proxy.cfg.IdleTimeout)
	}
}

// Stop implements stop_session: deregister the backend watcher,
// disarm the timer and close the backend socket. Idempotent: calling
// Stop on an already-stopped session is a no-op. Returns true iff this
// call is the one that performed the transition, so callers can tell
// apart "I tore this down" from "someone else already did".
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.backend != nil {
		s.backend.Close()
	}
	return true
}
