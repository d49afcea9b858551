package dtlsproxy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testProxyCoreFixture builds just enough of a ProxyCore for
// Session.Start to dial a backend, without a listen socket or DTLS
// engine; used by session-level unit tests.
func testProxyCoreFixture(t *testing.T, backendAddr *net.UDPAddr, idle time.Duration) *ProxyCore {
	t.Helper()
	return &ProxyCore{
		cfg:      Config{IdleTimeout: idle},
		backends: NewBackendPool(backendAddr),
	}
}

func TestSessionStartStopIdempotent(t *testing.T) {
	backend, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer backend.Close()

	p := testProxyCoreFixture(t, backend.LocalAddr().(*net.UDPAddr), time.Hour)

	client, server := net.Pipe()
	defer client.Close()
	go discardReads(server)

	s := &Session{peerIdentity: testIdentity(4242), index: 0, dtls: client}
	require.NoError(t, s.Start(p))
	require.NotNil(t, s.backend)
	require.NotNil(t, s.timer)

	require.True(t, s.Stop(), "first Stop call tears the session down")
	require.False(t, s.Stop(), "second Stop call is a no-op")
}

func TestSessionBackendPortBase(t *testing.T) {
	backend, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer backend.Close()

	p := testProxyCoreFixture(t, backend.LocalAddr().(*net.UDPAddr), time.Hour)
	p.cfg.BackendPortBase = 40000

	client, server := net.Pipe()
	defer client.Close()
	go discardReads(server)

	s := &Session{peerIdentity: testIdentity(7), index: 3, dtls: client}
	require.NoError(t, s.Start(p))
	defer s.Stop()

	require.Equal(t, 40003, s.backend.LocalAddr().(*net.UDPAddr).Port)
}

func TestSessionTouchRearmsTimer(t *testing.T) {
	backend, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer backend.Close()

	p := testProxyCoreFixture(t, backend.LocalAddr().(*net.UDPAddr), 50*time.Millisecond)

	client, server := net.Pipe()
	defer client.Close()
	go discardReads(server)

	s := &Session{peerIdentity: testIdentity(8), index: 0, dtls: client}
	require.NoError(t, s.Start(p))
	defer s.Stop()

	// Keep touching the session for longer than the idle timeout; it
	// must not fire as long as traffic is observed.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.touch()
		time.Sleep(10 * time.Millisecond)
	}
}

func discardReads(c net.Conn) {
	buf := make([]byte, 1024)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
