package dtlsproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	perrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// handshakeTimeout bounds how long a single peer's DTLS handshake may
// take before it is abandoned; DTLS-level retransmission is the
// engine's own responsibility per spec.md §5, this is only the outer
// bound on an individual dtls.Server() call.
const handshakeTimeout = 30 * time.Second

// ProxyCore wires together the listen socket, the DTLS engine and the
// session table: the component the spec calls "Proxy core" in §2.
// It implements the four DTLS callback surfaces described in §4.1 as
// plain methods instead of a registered handler struct, since
// pion/dtls's API shape is per-association (dtls.Server) rather than
// a single context with an app_data hook; the ProxyCore itself plays
// the role the original's `app_data` pointer plays, reached from each
// association's own goroutine closures instead of a callback table.
type ProxyCore struct {
	cfg      Config
	listen   *net.UDPConn
	keystore *Keystore
	backends *BackendPool
	sessions *SessionTable
	dtlsCfg  *dtls.Config
	metrics  *metrics
	registry *prometheus.Registry
	admin    *AdminListener

	peersMu sync.Mutex
	peers   map[string]*peerConn

	group *errgroup.Group
}

// NewProxyCore loads the keystore, binds the listen socket and builds
// the DTLS engine configuration. It performs every startup step of
// spec.md §7's "Startup failure" row; any error here is fatal and the
// caller should abort the process with a non-zero exit code.
func NewProxyCore(cfg Config) (*ProxyCore, error) {
	keystore, err := LoadKeystore(cfg.KeystorePath)
	if err != nil {
		return nil, perrors.Wrap(err, "loading keystore")
	}

	listen, err := net.ListenUDP("udp", cfg.ListenAddr)
	if err != nil {
		return nil, perrors.Wrap(err, "binding listen socket")
	}

	reg := prometheus.NewRegistry()
	p := &ProxyCore{
		cfg:      cfg,
		listen:   listen,
		keystore: keystore,
		backends: NewBackendPool(cfg.BackendAddr),
		sessions: NewSessionTable(),
		metrics:  newMetrics(reg),
		registry: reg,
		peers:    make(map[string]*peerConn),
	}

	p.dtlsCfg = &dtls.Config{
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_CCM_8},
		PSK:             p.lookupPSK,
		PSKIdentityHint: []byte(cfg.ListenAddr.String()),
		LoggerFactory:   NewLoggerFactory("dtls"),
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), handshakeTimeout)
		},
	}

	if cfg.AdminAddr != "" {
		p.admin = NewAdminListener("admin", cfg.AdminAddr, reg)
	}

	return p, nil
}

// lookupPSK is the lookup-PSK callback (spec.md §4.1). It only ever
// honors PSK-key lookups (pion/dtls, unlike the C engine, does not
// surface other credential types to this hook at all, so the
// "wrong credential type" branch of get_psk_info has no analogue
// here; see SPEC_FULL.md §12). A miss increments the PSK-failure
// counter and fails the handshake, which pion reports to the peer as
// a decrypt-error alert.
func (p *ProxyCore) lookupPSK(identity []byte) ([]byte, error) {
	key, ok := p.keystore.Lookup(identity)
	if !ok {
		p.metrics.pskLookupFailures.Inc()
		Log.WithField("identity", string(identity)).Warn("unknown PSK identity")
		return nil, errors.New("dtlsproxy: unknown PSK identity")
	}
	return key, nil
}

// Run starts the accept loop (and, if configured, the admin listener)
// and blocks until Shutdown causes them to return, the same way
// proxy_run blocks inside ev_run until ev_break is called.
func (p *ProxyCore) Run() error {
	p.group = new(errgroup.Group)
	p.group.Go(p.acceptLoop)
	if p.admin != nil {
		p.group.Go(p.admin.Start)
	}
	Log.WithField("addr", p.cfg.ListenAddr).Info("dtlsproxy listening")
	return p.group.Wait()
}

// acceptLoop is the listen socket's readable handler (spec.md §4.1):
// it reads one datagram at a time into a fixed buffer, drops and logs
// anything that looks truncated, and otherwise routes the bytes to
// the peer's virtual connection, spawning a handshake goroutine the
// first time an address is seen.
func (p *ProxyCore) acceptLoop() error {
	buf := make([]byte, MaxDatagramSize+1)
	for {
		n, addr, err := p.listen.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			Log.WithError(err).Error("listen socket read failed")
			return err
		}
		if n > MaxDatagramSize {
			p.metrics.truncatedDatagrams.Inc()
			Log.WithField("peer", addr).Warn("dropping truncated datagram")
			continue
		}

		identity := NewPeerIdentity(addr)

		p.peersMu.Lock()
		pc, ok := p.peers[identity.Key()]
		if !ok {
			pc = newPeerConn(p.listen, addr)
			p.peers[identity.Key()] = pc
			p.peersMu.Unlock()
			p.group.Go(func() error {
				p.handshake(identity, pc)
				return nil
			})
		} else {
			p.peersMu.Unlock()
		}
		pc.deliver(buf[:n])
	}
}

// handshake drives one peer's DTLS association from first datagram to
// CONNECTED (spec.md's DTLS_EVENT_CONNECTED), then hands off to
// peerReadLoop for the life of the session.
func (p *ProxyCore) handshake(identity PeerIdentity, pc *peerConn) {
	conn, err := dtls.Server(pc, p.dtlsCfg)
	if err != nil {
		Log.WithFields(logrus.Fields{"peer": identity}).WithError(err).Warn("DTLS handshake failed")
		p.peersMu.Lock()
		delete(p.peers, identity.Key())
		p.peersMu.Unlock()
		pc.Close()
		return
	}

	sess, err := p.sessions.NewSession(identity)
	if err != nil {
		Log.WithFields(logrus.Fields{"peer": identity}).WithError(err).Error("cannot create session")
		conn.Close()
		p.peersMu.Lock()
		delete(p.peers, identity.Key())
		p.peersMu.Unlock()
		return
	}
	sess.dtls = conn
	sess.peerConn = pc

	if err := sess.Start(p); err != nil {
		Log.WithFields(logrus.Fields{"peer": identity}).WithError(err).Error("cannot start session")
		p.sessions.Free(sess)
		conn.Close()
		p.peersMu.Lock()
		delete(p.peers, identity.Key())
		p.peersMu.Unlock()
		return
	}

	p.metrics.sessions.Inc()
	p.metrics.sessionsStarted.Inc()
	Log.WithFields(logrus.Fields{"peer": identity, "index": sess.index}).Info("session connected")

	p.peerReadLoop(sess)
}

// peerReadLoop implements the deliver-plaintext callback: every
// decrypted DTLS application-data record read from the peer's
// association is forwarded as exactly one backend datagram. A read
// error (including a graceful close_notify, observed as io.EOF) ends
// the session.
func (p *ProxyCore) peerReadLoop(s *Session) {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, err := s.dtls.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				Log.WithField("peer", s.peerIdentity).Info("peer sent close_notify")
			} else {
				Log.WithField("peer", s.peerIdentity).WithError(err).Warn("DTLS read failed")
			}
			break
		}
		s.touch()
		if _, err := s.backend.Write(buf[:n]); err != nil {
			Log.WithField("peer", s.peerIdentity).WithError(err).Warn("backend send failed")
			continue
		}
		p.metrics.datagramsToBackend.Inc()
	}
	p.teardownSession(s)
}

// backendReadLoop is the backend socket's readable watcher (spec.md
// §4.3 step 3): one recv, then write-application-data back to the
// peer via the send-on-wire callback chain.
func (p *ProxyCore) backendReadLoop(s *Session) {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, err := s.backend.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			Log.WithField("peer", s.peerIdentity).WithError(err).Warn("backend read failed")
			p.teardownSession(s)
			return
		}
		s.touch()
		if _, err := s.dtls.Write(buf[:n]); err != nil {
			Log.WithField("peer", s.peerIdentity).WithError(err).Warn("DTLS write failed")
			continue
		}
		p.metrics.datagramsToPeer.Inc()
	}
}

// onIdleTimeout is the inactivity timer callback (spec.md §4.4): it
// instructs the DTLS engine to close the peer, which emits
// close_notify via send-on-wire, then tears the session down.
func (p *ProxyCore) onIdleTimeout(s *Session) {
	Log.WithField("peer", s.peerIdentity).Info("session idle timeout")
	p.teardownSession(s)
}

// teardownSession is the common path for CLOSE_NOTIFY, inactivity and
// session-level fatal errors (spec.md §7): close the DTLS association
// (best-effort close_notify), stop the session, free it from the
// table, and forget its virtual connection so a later datagram from
// the same address starts a fresh handshake (scenario S3). Safe to
// call more than once for the same session; only the first caller's
// work has any effect.
func (p *ProxyCore) teardownSession(s *Session) {
	if s.dtls != nil {
		s.dtls.Close()
	}
	if s.peerConn != nil {
		s.peerConn.Close()
	}
	if !s.Stop() {
		return
	}
	p.sessions.Free(s)
	p.peersMu.Lock()
	delete(p.peers, s.peerIdentity.Key())
	p.peersMu.Unlock()

	p.metrics.sessions.Dec()
	p.metrics.sessionsClosed.Inc()
	Log.WithField("peer", s.peerIdentity).Info("session closed")
}

// Shutdown implements proxy_exit: stop every live session's backend
// watcher and timer, close the listen socket so the accept loop (and
// Run's Wait) returns, and stop the admin listener so it also returns
// from Run's errgroup. A configured admin listener left running would
// otherwise block Run forever even after the listen socket is gone.
// Session memory is not released yet; Close does that, mirroring the
// original's deferred free_session so the DTLS engine can still
// reference peer state during this phase.
func (p *ProxyCore) Shutdown() error {
	p.sessions.Each(func(s *Session) { s.Stop() })
	err := p.listen.Close()
	if p.admin != nil {
		if adminErr := p.admin.Stop(); adminErr != nil && err == nil {
			err = adminErr
		}
	}
	return err
}

// Close implements proxy_deinit: close every session's DTLS
// association and free it from the table. Call only after Shutdown
// and after Run has returned.
func (p *ProxyCore) Close() error {
	p.sessions.Each(func(s *Session) {
		if s.dtls != nil {
			s.dtls.Close()
		}
		if s.peerConn != nil {
			s.peerConn.Close()
		}
		p.sessions.Free(s)
	})
	return nil
}
