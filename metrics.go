package shmstore

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/shmstore/internal/interfaces"
)

// Metrics tracks operational statistics for a running store, as atomic
// counters so the optional debug HTTP server (metrics_http.go) can read
// them concurrently with the single event-loop goroutine updating them.
type Metrics struct {
	CreateOps   atomic.Uint64
	GetHits     atomic.Uint64
	GetWaits    atomic.Uint64 // GET requests that blocked because the id wasn't sealed yet
	ContainsHit atomic.Uint64
	ContainsMiss atomic.Uint64
	SealOps     atomic.Uint64
	DeleteOps   atomic.Uint64

	BytesAllocated atomic.Uint64
	BytesFreed     atomic.Uint64

	WaitersFannedOut     atomic.Uint64 // total GET waiters satisfied across all SEALs
	SubscribersNotified  atomic.Uint64 // total (subscriber, id) notification pairs enqueued
	SubscriberDrops      atomic.Uint64 // subscribers torn down on disconnect

	FatalErrors atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a metrics instance stamped with the current time.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics for
// presentation (the Prometheus exporter in metrics_http.go, tests).
type MetricsSnapshot struct {
	CreateOps            uint64
	GetHits              uint64
	GetWaits             uint64
	ContainsHit          uint64
	ContainsMiss         uint64
	SealOps              uint64
	DeleteOps            uint64
	BytesAllocated       uint64
	BytesFreed           uint64
	WaitersFannedOut     uint64
	SubscribersNotified  uint64
	SubscriberDrops      uint64
	FatalErrors          uint64
	UptimeNs             uint64
}

// Snapshot copies every counter into a MetricsSnapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CreateOps:           m.CreateOps.Load(),
		GetHits:             m.GetHits.Load(),
		GetWaits:            m.GetWaits.Load(),
		ContainsHit:         m.ContainsHit.Load(),
		ContainsMiss:        m.ContainsMiss.Load(),
		SealOps:             m.SealOps.Load(),
		DeleteOps:           m.DeleteOps.Load(),
		BytesAllocated:      m.BytesAllocated.Load(),
		BytesFreed:          m.BytesFreed.Load(),
		WaitersFannedOut:    m.WaitersFannedOut.Load(),
		SubscribersNotified: m.SubscribersNotified.Load(),
		SubscriberDrops:     m.SubscriberDrops.Load(),
		FatalErrors:         m.FatalErrors.Load(),
		UptimeNs:            uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}
}

// Reset zeroes every counter. Useful for tests.
func (m *Metrics) Reset() {
	m.CreateOps.Store(0)
	m.GetHits.Store(0)
	m.GetWaits.Store(0)
	m.ContainsHit.Store(0)
	m.ContainsMiss.Store(0)
	m.SealOps.Store(0)
	m.DeleteOps.Store(0)
	m.BytesAllocated.Store(0)
	m.BytesFreed.Store(0)
	m.WaitersFannedOut.Store(0)
	m.SubscribersNotified.Store(0)
	m.SubscriberDrops.Store(0)
	m.FatalErrors.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
}

// MetricsObserver adapts Metrics to interfaces.Observer, the narrow
// contract internal/dispatch depends on so it never has to import the
// root package (which would create an import cycle).
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCreate(dataSize, metadataSize int64) {
	o.metrics.CreateOps.Add(1)
	o.metrics.BytesAllocated.Add(uint64(dataSize + metadataSize))
}

func (o *MetricsObserver) ObserveSeal(waiters int, subscribers int) {
	o.metrics.SealOps.Add(1)
	o.metrics.WaitersFannedOut.Add(uint64(waiters))
	o.metrics.SubscribersNotified.Add(uint64(subscribers))
}

func (o *MetricsObserver) ObserveGet(hit bool) {
	if hit {
		o.metrics.GetHits.Add(1)
	} else {
		o.metrics.GetWaits.Add(1)
	}
}

func (o *MetricsObserver) ObserveContains(hit bool) {
	if hit {
		o.metrics.ContainsHit.Add(1)
	} else {
		o.metrics.ContainsMiss.Add(1)
	}
}

func (o *MetricsObserver) ObserveDelete() {
	o.metrics.DeleteOps.Add(1)
}

func (o *MetricsObserver) ObserveSubscriberDrop(fd int, pending int) {
	o.metrics.SubscriberDrops.Add(1)
}

func (o *MetricsObserver) ObserveFatal(op string) {
	o.metrics.FatalErrors.Add(1)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
