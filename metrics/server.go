package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the /metrics endpoint for prometheus from its own registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	Ledger *LedgerMetrics
	HTTP   *HTTPMetrics
}

// New creates a metrics server listening on listenAddr. Metric names are
// prefixed with namespace. An empty listenAddr yields a server that only
// collects.
func New(namespace string, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	ledgerMetrics, err := NewLedgerMetrics(namespace, registry)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := NewHTTPMetrics(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Ledger: ledgerMetrics,
		HTTP:   httpMetrics,
	}, nil
}

// Registry exposes the underlying registry, mostly for tests.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics handler.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
