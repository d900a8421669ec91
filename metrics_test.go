package perilib

import "testing"

func TestRecordRxTx(t *testing.T) {
	m := NewMetrics()
	m.RecordRx(10, true)
	m.RecordRx(0, false)
	m.RecordTx(20, true)

	snap := m.Snapshot()
	if snap.RxPackets != 2 {
		t.Errorf("expected RxPackets=2, got %d", snap.RxPackets)
	}
	if snap.RxBytes != 10 {
		t.Errorf("expected RxBytes=10, got %d", snap.RxBytes)
	}
	if snap.RxErrors != 1 {
		t.Errorf("expected RxErrors=1, got %d", snap.RxErrors)
	}
	if snap.TxPackets != 1 || snap.TxBytes != 20 {
		t.Errorf("expected TxPackets=1 TxBytes=20, got %d %d", snap.TxPackets, snap.TxBytes)
	}
	if snap.TotalPackets != 3 {
		t.Errorf("expected TotalPackets=3, got %d", snap.TotalPackets)
	}
}

func TestRecordWaitLatencyBuckets(t *testing.T) {
	m := NewMetrics()
	m.RecordWaitLatency(500)        // falls in every bucket >= 1us
	m.RecordWaitLatency(50_000_000) // falls in buckets >= 100ms

	snap := m.Snapshot()
	if snap.LatencyHistogram[0] != 1 {
		t.Errorf("expected first bucket (<=1us) count=1, got %d", snap.LatencyHistogram[0])
	}
	if snap.LatencyHistogram[numLatencyBuckets-1] != 2 {
		t.Errorf("expected last bucket (<=10s) count=2, got %d", snap.LatencyHistogram[numLatencyBuckets-1])
	}
	if snap.AvgLatencyNs == 0 {
		t.Error("expected non-zero average latency")
	}
}

func TestRecordTimeout(t *testing.T) {
	m := NewMetrics()
	m.RecordTimeout()
	m.RecordTimeout()

	if got := m.Snapshot().TimeoutEvents; got != 2 {
		t.Errorf("expected TimeoutEvents=2, got %d", got)
	}
}

func TestErrorRate(t *testing.T) {
	m := NewMetrics()
	m.RecordRx(10, true)
	m.RecordRx(0, false)

	snap := m.Snapshot()
	if snap.ErrorRate != 50.0 {
		t.Errorf("expected ErrorRate=50.0, got %v", snap.ErrorRate)
	}
}

func TestReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRx(10, true)
	m.RecordTimeout()
	m.Reset()

	snap := m.Snapshot()
	if snap.RxPackets != 0 || snap.TimeoutEvents != 0 {
		t.Errorf("expected zeroed counters after Reset, got %+v", snap)
	}
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveRx(5, true)
	obs.ObserveTx(7, true)
	obs.ObserveWaitLatency(1000)
	obs.ObserveTimeout()

	snap := m.Snapshot()
	if snap.RxBytes != 5 || snap.TxBytes != 7 || snap.TimeoutEvents != 1 {
		t.Errorf("unexpected snapshot after observer calls: %+v", snap)
	}
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveRx(1, true)
	o.ObserveTx(1, true)
	o.ObserveWaitLatency(1)
	o.ObserveTimeout()
}
