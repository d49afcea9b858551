package dtlsproxy

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors the shape of routedns's (referenced but
// not-retrieved) per-listener metrics helper, built here directly on
// prometheus/client_golang the way dantte-lp-gobfd wires its gRPC
// health/metrics surface, since this proxy has exactly one listener
// rather than a per-listener-id set.
type metrics struct {
	sessions          prometheus.Gauge
	sessionsStarted   prometheus.Counter
	sessionsClosed    prometheus.Counter
	datagramsToBackend prometheus.Counter
	datagramsToPeer   prometheus.Counter
	pskLookupFailures prometheus.Counter
	truncatedDatagrams prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dtlsproxy", Name: "sessions", Help: "Number of live DTLS sessions.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsproxy", Name: "sessions_started_total", Help: "Sessions that completed a handshake.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsproxy", Name: "sessions_closed_total", Help: "Sessions torn down, for any reason.",
		}),
		datagramsToBackend: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsproxy", Name: "datagrams_to_backend_total", Help: "Decrypted datagrams forwarded to the backend.",
		}),
		datagramsToPeer: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsproxy", Name: "datagrams_to_peer_total", Help: "Backend datagrams re-encrypted and sent to a peer.",
		}),
		pskLookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsproxy", Name: "psk_lookup_failures_total", Help: "PSK identities not found in the keystore.",
		}),
		truncatedDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsproxy", Name: "truncated_datagrams_total", Help: "Inbound datagrams dropped for exceeding the max buffer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.sessionsStarted, m.sessionsClosed,
			m.datagramsToBackend, m.datagramsToPeer, m.pskLookupFailures, m.truncatedDatagrams)
	}
	return m
}
