package occupd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/pslog"
)

// telemetryBundle owns the prometheus registry and the optional metrics
// listener. With no MetricsListen configured the registry still exists so
// metric increments stay cheap no-ops against a live registry.
type telemetryBundle struct {
	registry *prometheus.Registry
	listen   string
	logger   pslog.Logger
	srv      *http.Server
}

func setupTelemetry(cfg Config, logger pslog.Logger) (*telemetryBundle, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &telemetryBundle{
		registry: registry,
		listen:   cfg.MetricsListen,
		logger:   logger,
	}, nil
}

func (t *telemetryBundle) Registry() prometheus.Registerer {
	return t.registry
}

// Start exposes /metrics when a listen address is configured.
func (t *telemetryBundle) Start() error {
	if t.listen == "" {
		return nil
	}
	listener, err := net.Listen("tcp", t.listen)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", t.listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	t.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := t.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("metrics.serve_failed", "error", err)
		}
	}()
	t.logger.Info("metrics.listening", "addr", listener.Addr().String())
	return nil
}

func (t *telemetryBundle) Shutdown(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}
