package perilib

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing — unchanged from the
// teacher's I/O-operation histogram, since packet round-trip latency spans
// a similar range to disk I/O latency.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks rx/tx packet throughput and send/wait latency for a
// ParserGenerator or Stream.
type Metrics struct {
	RxPackets atomic.Uint64
	TxPackets atomic.Uint64
	RxBytes   atomic.Uint64
	TxBytes   atomic.Uint64

	RxErrors      atomic.Uint64
	TxErrors      atomic.Uint64
	TimeoutEvents atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRx records a received packet.
func (m *Metrics) RecordRx(bytes uint64, success bool) {
	m.RxPackets.Add(1)
	if success {
		m.RxBytes.Add(bytes)
	} else {
		m.RxErrors.Add(1)
	}
}

// RecordTx records a transmitted packet.
func (m *Metrics) RecordTx(bytes uint64, success bool) {
	m.TxPackets.Add(1)
	if success {
		m.TxBytes.Add(bytes)
	} else {
		m.TxErrors.Add(1)
	}
}

// RecordWaitLatency records the time between a send_and_wait call and its
// resolution, whether by a matching packet or a timeout.
func (m *Metrics) RecordWaitLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordTimeout records an incoming- or waiting-packet timeout.
func (m *Metrics) RecordTimeout() {
	m.TimeoutEvents.Add(1)
}

// Stop marks the device as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64

	RxErrors      uint64
	TxErrors      uint64
	TimeoutEvents uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RxPacketsPerSec float64
	TxPacketsPerSec float64
	RxBandwidth     float64
	TxBandwidth     float64
	TotalPackets    uint64
	TotalBytes      uint64
	ErrorRate       float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RxPackets:     m.RxPackets.Load(),
		TxPackets:     m.TxPackets.Load(),
		RxBytes:       m.RxBytes.Load(),
		TxBytes:       m.TxBytes.Load(),
		RxErrors:      m.RxErrors.Load(),
		TxErrors:      m.TxErrors.Load(),
		TimeoutEvents: m.TimeoutEvents.Load(),
	}

	snap.TotalPackets = snap.RxPackets + snap.TxPackets
	snap.TotalBytes = snap.RxBytes + snap.TxBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.RxPacketsPerSec = float64(snap.RxPackets) / uptimeSeconds
		snap.TxPacketsPerSec = float64(snap.TxPackets) / uptimeSeconds
		snap.RxBandwidth = float64(snap.RxBytes) / uptimeSeconds
		snap.TxBandwidth = float64(snap.TxBytes) / uptimeSeconds
	}

	totalErrors := snap.RxErrors + snap.TxErrors
	if snap.TotalPackets > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalPackets) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.RxPackets.Store(0)
	m.TxPackets.Store(0)
	m.RxBytes.Store(0)
	m.TxBytes.Store(0)
	m.RxErrors.Store(0)
	m.TxErrors.Store(0)
	m.TimeoutEvents.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection across PG, Stream, and
// Manager.
type Observer interface {
	ObserveRx(bytes uint64, success bool)
	ObserveTx(bytes uint64, success bool)
	ObserveWaitLatency(latencyNs uint64)
	ObserveTimeout()
}

// NoOpObserver is a no-op Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRx(uint64, bool)    {}
func (NoOpObserver) ObserveTx(uint64, bool)    {}
func (NoOpObserver) ObserveWaitLatency(uint64) {}
func (NoOpObserver) ObserveTimeout()           {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRx(bytes uint64, success bool) {
	o.metrics.RecordRx(bytes, success)
}

func (o *MetricsObserver) ObserveTx(bytes uint64, success bool) {
	o.metrics.RecordTx(bytes, success)
}

func (o *MetricsObserver) ObserveWaitLatency(latencyNs uint64) {
	o.metrics.RecordWaitLatency(latencyNs)
}

func (o *MetricsObserver) ObserveTimeout() {
	o.metrics.RecordTimeout()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
