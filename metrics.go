package cantripos

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics across the memory manager, SDK
// runtime, audio driver and mailbox proxy of a single process.
type Metrics struct {
	AllocOps    atomic.Uint64
	FreeOps     atomic.Uint64
	AllocBytes  atomic.Uint64
	AllocErrors atomic.Uint64

	DispatchOps    atomic.Uint64
	DispatchErrors atomic.Uint64

	MailboxOps    atomic.Uint64
	MailboxErrors atomic.Uint64

	RingPushOps      atomic.Uint64
	RingPushOverruns atomic.Uint64
	RingPopOps       atomic.Uint64

	// Performance tracking, shared across all operation kinds above.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts). Each bucket[i]
	// contains the count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // Process start timestamp (UnixNano)
	StopTime  atomic.Int64 // Process stop timestamp (UnixNano), 0 if running
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAlloc records a memory manager allocation.
func (m *Metrics) RecordAlloc(bytes uint64, latencyNs uint64, success bool) {
	m.AllocOps.Add(1)
	if success {
		m.AllocBytes.Add(bytes)
	} else {
		m.AllocErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFree records a memory manager free.
func (m *Metrics) RecordFree(latencyNs uint64) {
	m.FreeOps.Add(1)
	m.recordLatency(latencyNs)
}

// RecordDispatch records a single SDK Runtime request dispatch.
func (m *Metrics) RecordDispatch(latencyNs uint64, success bool) {
	m.DispatchOps.Add(1)
	if !success {
		m.DispatchErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordMailboxRoundtrip records a single mailbox send/receive round trip.
func (m *Metrics) RecordMailboxRoundtrip(latencyNs uint64, success bool) {
	m.MailboxOps.Add(1)
	if !success {
		m.MailboxErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRingPush records an audio ring buffer push, noting whether it
// overwrote the oldest entry because the ring was full.
func (m *Metrics) RecordRingPush(overran bool) {
	m.RingPushOps.Add(1)
	if overran {
		m.RingPushOverruns.Add(1)
	}
}

// RecordRingPop records an audio ring buffer pop.
func (m *Metrics) RecordRingPop() {
	m.RingPopOps.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the process as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	AllocOps    uint64
	FreeOps     uint64
	AllocBytes  uint64
	AllocErrors uint64

	DispatchOps    uint64
	DispatchErrors uint64

	MailboxOps    uint64
	MailboxErrors uint64

	RingPushOps      uint64
	RingPushOverruns uint64
	RingPopOps       uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps  uint64
	ErrorRate float64 // percentage of failed alloc/dispatch/mailbox operations
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		AllocOps:         m.AllocOps.Load(),
		FreeOps:          m.FreeOps.Load(),
		AllocBytes:       m.AllocBytes.Load(),
		AllocErrors:      m.AllocErrors.Load(),
		DispatchOps:      m.DispatchOps.Load(),
		DispatchErrors:   m.DispatchErrors.Load(),
		MailboxOps:       m.MailboxOps.Load(),
		MailboxErrors:    m.MailboxErrors.Load(),
		RingPushOps:      m.RingPushOps.Load(),
		RingPushOverruns: m.RingPushOverruns.Load(),
		RingPopOps:       m.RingPopOps.Load(),
	}

	snap.TotalOps = snap.AllocOps + snap.FreeOps + snap.DispatchOps + snap.MailboxOps

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

	totalErrors := snap.AllocErrors + snap.DispatchErrors + snap.MailboxErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
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

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
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
	m.AllocOps.Store(0)
	m.FreeOps.Store(0)
	m.AllocBytes.Store(0)
	m.AllocErrors.Store(0)
	m.DispatchOps.Store(0)
	m.DispatchErrors.Store(0)
	m.MailboxOps.Store(0)
	m.MailboxErrors.Store(0)
	m.RingPushOps.Store(0)
	m.RingPushOverruns.Store(0)
	m.RingPopOps.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, decoupling instrumentation
// from the memory manager, SDK runtime, audio driver and mailbox proxy.
// Implementations must be thread-safe.
type Observer interface {
	ObserveAlloc(bytes uint64, latencyNs uint64, success bool)
	ObserveFree(latencyNs uint64)
	ObserveDispatch(latencyNs uint64, success bool)
	ObserveMailboxRoundtrip(latencyNs uint64, success bool)
	ObserveRingPush(overran bool)
	ObserveRingPop()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAlloc(uint64, uint64, bool)    {}
func (NoOpObserver) ObserveFree(uint64)                   {}
func (NoOpObserver) ObserveDispatch(uint64, bool)         {}
func (NoOpObserver) ObserveMailboxRoundtrip(uint64, bool) {}
func (NoOpObserver) ObserveRingPush(bool)                 {}
func (NoOpObserver) ObserveRingPop()                      {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAlloc(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordAlloc(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveFree(latencyNs uint64) {
	o.metrics.RecordFree(latencyNs)
}

func (o *MetricsObserver) ObserveDispatch(latencyNs uint64, success bool) {
	o.metrics.RecordDispatch(latencyNs, success)
}

func (o *MetricsObserver) ObserveMailboxRoundtrip(latencyNs uint64, success bool) {
	o.metrics.RecordMailboxRoundtrip(latencyNs, success)
}

func (o *MetricsObserver) ObserveRingPush(overran bool) {
	o.metrics.RecordRingPush(overran)
}

func (o *MetricsObserver) ObserveRingPop() {
	o.metrics.RecordRingPop()
}

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
