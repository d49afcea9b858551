package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	dtlsproxy "github.com/i-panel/dtlsproxy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	listen          string
	backend         string
	keystore        string
	config          string
	idleTimeout     string
	backendPortBase int
	adminListen     string
	logLevel        uint32
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "dtlsproxy [<config.toml>]",
		Short: "DTLS-terminating UDP proxy",
		Long: `DTLS-terminating UDP proxy.

Listens on a single UDP socket for DTLS-encrypted datagrams from many
remote peers, terminates the DTLS session for each one, and relays the
decrypted payloads as plain UDP datagrams to a single configured
backend, re-encrypting replies back to the originating peer.

Settings can be given as a TOML config file, or as flags; flags
override the file.
`,
		Example: `  dtlsproxy config.toml
  dtlsproxy --listen :8443 --backend 127.0.0.1:5683 --keystore psk.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opt.config = args[0]
			}
			return start(opt)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opt.listen, "listen", "", "listen address, host:port")
	cmd.Flags().StringVar(&opt.backend, "backend", "", "backend address, host:port")
	cmd.Flags().StringVar(&opt.keystore, "keystore", "", "PSK keystore TOML file")
	cmd.Flags().StringVar(&opt.idleTimeout, "idle-timeout", "", "session inactivity timeout, e.g. 5m")
	cmd.Flags().IntVar(&opt.backendPortBase, "backend-port-base", 0, "base port for per-session backend source ports; 0 lets the kernel choose")
	cmd.Flags().StringVar(&opt.adminListen, "admin-listen", "", "address to serve /metrics on; disabled if empty")
	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=Panic .. 6=Trace")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options) error {
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}
	dtlsproxy.Log.SetLevel(logrus.Level(opt.logLevel))

	cfg, err := loadConfig(opt)
	if err != nil {
		return err
	}

	proxy, err := dtlsproxy.NewProxyCore(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- proxy.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		dtlsproxy.Log.Info("stopping")
	}

	if err := proxy.Shutdown(); err != nil {
		dtlsproxy.Log.WithError(err).Warn("shutdown")
	}
	<-errCh
	return proxy.Close()
}

func loadConfig(opt options) (dtlsproxy.Config, error) {
	if opt.config != "" {
		cfg, err := dtlsproxy.LoadConfig(opt.config)
		if err != nil {
			return dtlsproxy.Config{}, err
		}
		if opt.listen != "" {
			if cfg.ListenAddr, err = net.ResolveUDPAddr("udp", opt.listen); err != nil {
				return dtlsproxy.Config{}, err
			}
		}
		if opt.backend != "" {
			if cfg.BackendAddr, err = net.ResolveUDPAddr("udp", opt.backend); err != nil {
				return dtlsproxy.Config{}, err
			}
		}
		if opt.keystore != "" {
			cfg.KeystorePath = opt.keystore
		}
		return applyOverrides(cfg, opt), nil
	}
	if opt.listen == "" || opt.backend == "" || opt.keystore == "" {
		return dtlsproxy.Config{}, errors.New("either a config file or --listen, --backend and --keystore are required")
	}
	cfg, err := dtlsproxy.NewConfig(opt.listen, opt.backend, opt.keystore)
	if err != nil {
		return dtlsproxy.Config{}, err
	}
	return applyOverrides(cfg, opt), nil
}

// applyOverrides layers CLI flags over a loaded config file, the same
// precedence cmd/routedns gives its flags over file-defined options.
func applyOverrides(cfg dtlsproxy.Config, opt options) dtlsproxy.Config {
	if opt.backendPortBase != 0 {
		cfg.BackendPortBase = opt.backendPortBase
	}
	if opt.adminListen != "" {
		cfg.AdminAddr = opt.adminListen
	}
	if opt.idleTimeout != "" {
		if d, err := time.ParseDuration(opt.idleTimeout); err == nil {
			cfg.IdleTimeout = d
		}
	}
	return cfg
}
