package shmstore

import "testing"

func TestMetricsSnapshotInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()

	if snap.CreateOps != 0 || snap.SealOps != 0 || snap.GetHits != 0 {
		t.Errorf("expected zeroed counters on a fresh Metrics, got %+v", snap)
	}
}

func TestMetricsObserverRecordsCreate(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveCreate(1024, 32)
	o.ObserveCreate(2048, 0)

	snap := m.Snapshot()
	if snap.CreateOps != 2 {
		t.Errorf("expected 2 CreateOps, got %d", snap.CreateOps)
	}
	if snap.BytesAllocated != 1024+32+2048 {
		t.Errorf("expected BytesAllocated=%d, got %d", 1024+32+2048, snap.BytesAllocated)
	}
}

func TestMetricsObserverRecordsSealFanout(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveSeal(3, 2)
	o.ObserveSeal(0, 1)

	snap := m.Snapshot()
	if snap.SealOps != 2 {
		t.Errorf("expected 2 SealOps, got %d", snap.SealOps)
	}
	if snap.WaitersFannedOut != 3 {
		t.Errorf("expected WaitersFannedOut=3, got %d", snap.WaitersFannedOut)
	}
	if snap.SubscribersNotified != 3 {
		t.Errorf("expected SubscribersNotified=3, got %d", snap.SubscribersNotified)
	}
}

func TestMetricsObserverGetHitVsWait(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveGet(true)
	o.ObserveGet(false)
	o.ObserveGet(false)

	snap := m.Snapshot()
	if snap.GetHits != 1 {
		t.Errorf("expected 1 GetHits, got %d", snap.GetHits)
	}
	if snap.GetWaits != 2 {
		t.Errorf("expected 2 GetWaits, got %d", snap.GetWaits)
	}
}

func TestMetricsObserverContainsHitVsMiss(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveContains(true)
	o.ObserveContains(false)

	snap := m.Snapshot()
	if snap.ContainsHit != 1 || snap.ContainsMiss != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", snap)
	}
}

func TestMetricsObserverSubscriberDropAndFatal(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveSubscriberDrop(7, 42)
	o.ObserveFatal("SEAL")

	snap := m.Snapshot()
	if snap.SubscriberDrops != 1 {
		t.Errorf("expected 1 SubscriberDrops, got %d", snap.SubscriberDrops)
	}
	if snap.FatalErrors != 1 {
		t.Errorf("expected 1 FatalErrors, got %d", snap.FatalErrors)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)
	o.ObserveCreate(10, 0)
	o.ObserveDelete()

	m.Reset()
	snap := m.Snapshot()
	if snap.CreateOps != 0 || snap.DeleteOps != 0 {
		t.Errorf("expected counters zeroed after Reset, got %+v", snap)
	}
}
