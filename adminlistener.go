package dtlsproxy

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Read/Write timeout in the admin server
const adminServerTimeout = 10 * time.Second

// AdminListener serves proxy metrics over plain HTTP. Adapted from
// routedns's AdminListener, which multiplexes TLS, QUIC/HTTP3 and
// panel certificate rotation behind the same id/addr/Start/Stop
// shape; none of that applies to a one-listener DTLS proxy (Non-goals
// exclude a panel and HA), so only the plain http.Server half
// survives, serving a Prometheus handler instead of expvar.
type AdminListener struct {
	httpServer *http.Server
	id         string
	addr       string
}

// NewAdminListener returns an admin HTTP server exposing /metrics for
// reg and a trivial /healthz.
func NewAdminListener(id, addr string, reg *prometheus.Registry) *AdminListener {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &AdminListener{
		id:   id,
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  adminServerTimeout,
			WriteTimeout: adminServerTimeout,
		},
	}
}

// Start the admin server.
func (s *AdminListener) Start() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": "http", "addr": s.addr}).Info("starting listener")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop the server.
func (s *AdminListener) Stop() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": "http", "addr": s.addr}).Info("stopping listener")
	ctx, cancel := context.WithTimeout(context.Background(), adminServerTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *AdminListener) String() string {
	return s.id
}
