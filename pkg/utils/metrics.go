package utils

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the pipeline's prometheus collectors. All observer methods
// are nil-safe so callers can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal       *prometheus.CounterVec
	scanErrors       prometheus.Counter
	cacheHits        prometheus.Counter
	quarantinesTotal prometheus.Counter
	writesTotal      *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	writeDuration    prometheus.Histogram
	batchSize        prometheus.Histogram
}

func NewMetrics(enableRuntimeMetrics bool) *Metrics {
	reg := prometheus.NewRegistry()
	if enableRuntimeMetrics {
		_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		_ = reg.Register(collectors.NewGoCollector())
	}

	m := &Metrics{
		registry: reg,
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_scans_total",
			Help: "Completed artifact scans by resulting risk level.",
		}, []string{"risk_level"}),
		scanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bastion_scan_errors_total",
			Help: "Scans that failed before producing a result.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bastion_scan_cache_hits_total",
			Help: "Scan results served from the in-memory cache.",
		}),
		quarantinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bastion_quarantines_total",
			Help: "Artifacts routed to the quarantine namespace.",
		}),
		writesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_writes_total",
			Help: "Gateway write requests by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bastion_scan_duration_seconds",
			Help:    "Wall time of a full artifact scan.",
			Buckets: prometheus.DefBuckets,
		}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bastion_write_duration_seconds",
			Help:    "Wall time of a gateway write including scan and storage.",
			Buckets: prometheus.DefBuckets,
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bastion_batch_size",
			Help:    "Item counts of batch write requests.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}

	reg.MustRegister(m.scansTotal, m.scanErrors, m.cacheHits, m.quarantinesTotal,
		m.writesTotal, m.scanDuration, m.writeDuration, m.batchSize)
	return m
}

func (m *Metrics) ObserveScan(riskLevel string, d time.Duration) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(riskLevel).Inc()
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) IncScanError() {
	if m == nil {
		return
	}
	m.scanErrors.Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) IncQuarantine() {
	if m == nil {
		return
	}
	m.quarantinesTotal.Inc()
}

func (m *Metrics) ObserveWrite(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(outcome).Inc()
	m.writeDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Serve exposes /metrics until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server error: %w", err)
	}
}
