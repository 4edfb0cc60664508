package shmstore

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusExporter mirrors Metrics' atomic counters as Prometheus
// gauges/counters on its own registry, scraped at GET /metrics.
// Grounded on the prometheus/client_golang usage pattern in
// adred-codev-ws_poc's src/metrics.go (package-level collectors
// registered once, a periodic collect() refreshing gauge values from
// the live counters).
type prometheusExporter struct {
	metrics *Metrics
	reg     *prometheus.Registry

	createOps   prometheus.Gauge
	getHits     prometheus.Gauge
	getWaits    prometheus.Gauge
	containsHit prometheus.Gauge
	containsMiss prometheus.Gauge
	sealOps     prometheus.Gauge
	deleteOps   prometheus.Gauge
	bytesAlloc  prometheus.Gauge
	bytesFreed  prometheus.Gauge
	waitersOut  prometheus.Gauge
	subsNotify  prometheus.Gauge
	subDrops    prometheus.Gauge
	fatalErrs   prometheus.Gauge
}

func newPrometheusExporter(m *Metrics) *prometheusExporter {
	e := &prometheusExporter{
		metrics:      m,
		reg:          prometheus.NewRegistry(),
		createOps:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_create_ops_total"}),
		getHits:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_get_hits_total"}),
		getWaits:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_get_waits_total"}),
		containsHit:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_contains_hits_total"}),
		containsMiss: prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_contains_misses_total"}),
		sealOps:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_seal_ops_total"}),
		deleteOps:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_delete_ops_total"}),
		bytesAlloc:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_bytes_allocated_total"}),
		bytesFreed:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_bytes_freed_total"}),
		waitersOut:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_waiters_fanned_out_total"}),
		subsNotify:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_subscribers_notified_total"}),
		subDrops:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_subscriber_drops_total"}),
		fatalErrs:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "shmstore_fatal_errors_total"}),
	}
	e.reg.MustRegister(
		e.createOps, e.getHits, e.getWaits, e.containsHit, e.containsMiss,
		e.sealOps, e.deleteOps, e.bytesAlloc, e.bytesFreed,
		e.waitersOut, e.subsNotify, e.subDrops, e.fatalErrs,
	)
	return e
}

func (e *prometheusExporter) refresh() {
	snap := e.metrics.Snapshot()
	e.createOps.Set(float64(snap.CreateOps))
	e.getHits.Set(float64(snap.GetHits))
	e.getWaits.Set(float64(snap.GetWaits))
	e.containsHit.Set(float64(snap.ContainsHit))
	e.containsMiss.Set(float64(snap.ContainsMiss))
	e.sealOps.Set(float64(snap.SealOps))
	e.deleteOps.Set(float64(snap.DeleteOps))
	e.bytesAlloc.Set(float64(snap.BytesAllocated))
	e.bytesFreed.Set(float64(snap.BytesFreed))
	e.waitersOut.Set(float64(snap.WaitersFannedOut))
	e.subsNotify.Set(float64(snap.SubscribersNotified))
	e.subDrops.Set(float64(snap.SubscriberDrops))
	e.fatalErrs.Set(float64(snap.FatalErrors))
}

// MetricsServer serves a Prometheus /metrics endpoint over HTTP,
// refreshing gauges from Metrics on every scrape. It is entirely
// optional (spec.md's Non-goals exclude any mandated observability
// surface) and runs on its own goroutine outside the single-threaded
// event loop. Concurrent scrapes are safe because Metrics' fields and
// the Prometheus gauges are updated atomically.
type MetricsServer struct {
	exporter *prometheusExporter
	listener net.Listener
	srv      *http.Server
}

// NewMetricsServer binds addr and prepares (without yet serving) a
// Prometheus exporter over m.
func NewMetricsServer(addr string, m *Metrics) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, WrapError("MetricsServer.Listen", err)
	}
	exporter := newPrometheusExporter(m)
	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exporter.refresh()
		promhttp.HandlerFor(exporter.reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	}))
	return &MetricsServer{
		exporter: exporter,
		listener: ln,
		srv:      &http.Server{Handler: mux},
	}, nil
}

// Addr returns the address the server actually bound, useful when addr
// was passed as "127.0.0.1:0".
func (s *MetricsServer) Addr() string { return s.listener.Addr().String() }

// Serve blocks, serving HTTP requests until Shutdown is called.
func (s *MetricsServer) Serve() error {
	err := s.srv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
