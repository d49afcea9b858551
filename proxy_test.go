package dtlsproxy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/stretchr/testify/require"
)

// startEchoBackend runs a trivial UDP echo server used as the proxy's
// backend in the scenarios from spec.md §8.
func startEchoBackend(t *testing.T) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, MaxDatagramSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteToUDP(buf[:n], addr)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr)
}

func writeKeystoreFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func startTestProxy(t *testing.T, backendAddr *net.UDPAddr, idle time.Duration) (*ProxyCore, *net.UDPAddr) {
	t.Helper()
	ksPath := writeKeystoreFile(t, `
[[keys]]
identity = "client1"
key = "0102030405060708090a0b0c0d0e0f10"
`)

	cfg, err := NewConfig("127.0.0.1:0", backendAddr.String(), ksPath)
	require.NoError(t, err)
	if idle > 0 {
		cfg.IdleTimeout = idle
	}

	proxy, err := NewProxyCore(cfg)
	require.NoError(t, err)

	listenAddr := proxy.listen.LocalAddr().(*net.UDPAddr)

	go proxy.Run()
	t.Cleanup(func() {
		proxy.Shutdown()
		proxy.Close()
	})

	return proxy, listenAddr
}

func dialTestPeer(t *testing.T, listenAddr *net.UDPAddr, identity, key string) net.Conn {
	t.Helper()
	rawConn, err := net.DialUDP("udp", nil, listenAddr)
	require.NoError(t, err)
	t.Cleanup(func() { rawConn.Close() })

	cfg := &dtls.Config{
		CipherSuites: []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_CCM_8},
		PSK: func(hint []byte) ([]byte, error) {
			return decodeHexKeyForTest(t, key), nil
		},
		PSKIdentityHint: []byte(identity),
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), 10*time.Second)
		},
	}

	conn, err := dtls.Client(rawConn, cfg)
	require.NoError(t, err)
	return conn
}

func decodeHexKeyForTest(t *testing.T, s string) []byte {
	t.Helper()
	key, err := decodeHexKey(s)
	require.NoError(t, err)
	return key
}

// S1 — happy path handshake + echo.
func TestProxyHandshakeAndEcho(t *testing.T) {
	backendAddr := startEchoBackend(t)
	_, listenAddr := startTestProxy(t, backendAddr, time.Minute)

	conn := dialTestPeer(t, listenAddr, "client1", "0102030405060708090a0b0c0d0e0f10")

	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

// S2 — unknown PSK identity: handshake must fail and leave no session.
func TestProxyUnknownPSKIdentity(t *testing.T) {
	backendAddr := startEchoBackend(t)
	proxy, listenAddr := startTestProxy(t, backendAddr, time.Minute)

	rawConn, err := net.DialUDP("udp", nil, listenAddr)
	require.NoError(t, err)
	defer rawConn.Close()

	cfg := &dtls.Config{
		CipherSuites: []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_CCM_8},
		PSK: func(hint []byte) ([]byte, error) {
			return []byte{0xff}, nil
		},
		PSKIdentityHint: []byte("ghost"),
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), 3*time.Second)
		},
	}
	_, err = dtls.Client(rawConn, cfg)
	require.Error(t, err)

	require.Equal(t, 0, proxy.sessions.Len())
}

// S4 — inactivity timeout tears the session down.
func TestProxyInactivityTimeout(t *testing.T) {
	backendAddr := startEchoBackend(t)
	proxy, listenAddr := startTestProxy(t, backendAddr, 200*time.Millisecond)

	conn := dialTestPeer(t, listenAddr, "client1", "0102030405060708090a0b0c0d0e0f10")
	_, err := conn.Write([]byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return proxy.sessions.Len() == 0
	}, 2*time.Second, 20*time.Millisecond, "idle session must be torn down")
}

// S5 — two concurrent peers, each reply routed only to its origin.
func TestProxyTwoConcurrentPeers(t *testing.T) {
	backendAddr := startEchoBackend(t)
	_, listenAddr := startTestProxy(t, backendAddr, time.Minute)

	c1 := dialTestPeer(t, listenAddr, "client1", "0102030405060708090a0b0c0d0e0f10")
	c2 := dialTestPeer(t, listenAddr, "client1", "0102030405060708090a0b0c0d0e0f10")

	_, err := c1.Write([]byte("A"))
	require.NoError(t, err)
	_, err = c2.Write([]byte("BB"))
	require.NoError(t, err)

	c1.SetReadDeadline(time.Now().Add(5 * time.Second))
	c2.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, 64)
	n, err := c1.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "A", string(buf[:n]))

	n, err = c2.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "BB", string(buf[:n]))
}
