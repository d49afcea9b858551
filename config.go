package dtlsproxy

import (
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// DefaultIdleTimeout is used when a config omits idle-timeout. It sits
// in the middle of spec.md §4.4's recommended 60-600s range.
const DefaultIdleTimeout = 5 * time.Minute

// MaxDatagramSize bounds the maximum DTLS record the listener will
// accept in one read, per spec.md §6 ("maximum accepted datagram size
// equals the DTLS engine's maximum buffer").
const MaxDatagramSize = 16384

// fileConfig is the on-disk TOML shape, parsed with the same library
// routedns's config loader uses.
type fileConfig struct {
	Listen          string `toml:"listen"`
	Backend         string `toml:"backend"`
	Keystore        string `toml:"keystore"`
	IdleTimeout     string `toml:"idle-timeout"`
	BackendPortBase int    `toml:"backend-port-base"`
	AdminListen     string `toml:"admin-listen"`
}

// Config is the resolved, validated startup configuration for a
// ProxyCore, combining spec.md §6's three required strings (listen,
// backend, PSK config) with the supplemented settings from
// SPEC_FULL.md §10/§12.
type Config struct {
	ListenAddr      *net.UDPAddr
	BackendAddr     *net.UDPAddr
	KeystorePath    string
	IdleTimeout     time.Duration
	BackendPortBase int
	AdminAddr       string
}

// LoadConfig reads a TOML config file and resolves its addresses.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %q", path)
	}
	var fc fileConfig
	if err := toml.Unmarshal(buf, &fc); err != nil {
		return Config{}, errors.Wrap(err, "parsing config file")
	}
	return resolveConfig(fc)
}

// NewConfig builds a Config directly from the three required
// command-line strings, the way cmd/dtlsproxy accepts overrides.
func NewConfig(listen, backend, keystore string) (Config, error) {
	return resolveConfig(fileConfig{Listen: listen, Backend: backend, Keystore: keystore})
}

func resolveConfig(fc fileConfig) (Config, error) {
	if fc.Listen == "" || fc.Backend == "" || fc.Keystore == "" {
		return Config{}, errors.New("listen, backend and keystore are all required")
	}

	listenAddr, err := net.ResolveUDPAddr("udp", fc.Listen)
	if err != nil {
		return Config{}, errors.Wrap(err, "resolving listen address")
	}
	backendAddr, err := net.ResolveUDPAddr("udp", fc.Backend)
	if err != nil {
		return Config{}, errors.Wrap(err, "resolving backend address")
	}

	idle := DefaultIdleTimeout
	if fc.IdleTimeout != "" {
		d, err := time.ParseDuration(fc.IdleTimeout)
		if err != nil {
			return Config{}, errors.Wrap(err, "parsing idle-timeout")
		}
		idle = d
	}

	return Config{
		ListenAddr:      listenAddr,
		BackendAddr:     backendAddr,
		KeystorePath:    fc.Keystore,
		IdleTimeout:     idle,
		BackendPortBase: fc.BackendPortBase,
		AdminAddr:       fc.AdminListen,
	}, nil
}
