package cantripos

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordAlloc(4096, 1000000, true)  // 4KB alloc, 1ms latency, success
	m.RecordDispatch(2000000, true)     // 2ms dispatch, success
	m.RecordAlloc(1024, 500000, false)  // 1KB alloc, 0.5ms latency, error

	snap = m.Snapshot()

	if snap.AllocOps != 2 {
		t.Errorf("Expected 2 alloc ops, got %d", snap.AllocOps)
	}
	if snap.DispatchOps != 1 {
		t.Errorf("Expected 1 dispatch op, got %d", snap.DispatchOps)
	}

	if snap.AllocBytes != 4096 {
		t.Errorf("Expected 4096 alloc bytes, got %d", snap.AllocBytes)
	}

	if snap.AllocErrors != 1 {
		t.Errorf("Expected 1 alloc error, got %d", snap.AllocErrors)
	}
	if snap.DispatchErrors != 0 {
		t.Errorf("Expected 0 dispatch errors, got %d", snap.DispatchErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0 // 1 error out of 3 ops
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsRingBuffer(t *testing.T) {
	m := NewMetrics()

	m.RecordRingPush(false)
	m.RecordRingPush(true) // overran
	m.RecordRingPop()

	snap := m.Snapshot()

	if snap.RingPushOps != 2 {
		t.Errorf("Expected 2 ring push ops, got %d", snap.RingPushOps)
	}
	if snap.RingPushOverruns != 1 {
		t.Errorf("Expected 1 ring push overrun, got %d", snap.RingPushOverruns)
	}
	if snap.RingPopOps != 1 {
		t.Errorf("Expected 1 ring pop op, got %d", snap.RingPopOps)
	}
}

func TestMetricsMailbox(t *testing.T) {
	m := NewMetrics()

	m.RecordMailboxRoundtrip(1000000, true)
	m.RecordMailboxRoundtrip(2000000, false)

	snap := m.Snapshot()

	if snap.MailboxOps != 2 {
		t.Errorf("Expected 2 mailbox ops, got %d", snap.MailboxOps)
	}
	if snap.MailboxErrors != 1 {
		t.Errorf("Expected 1 mailbox error, got %d", snap.MailboxErrors)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordAlloc(1024, 1000000, true)  // 1ms
	m.RecordFree(2000000)               // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000) // 1.5ms in nanoseconds
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	if snap2.UptimeNs > snap.UptimeNs+2*1000000 { // Allow 2ms tolerance
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordAlloc(1024, 1000000, true)
	m.RecordDispatch(2000000, true)
	m.RecordRingPush(false)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.AllocBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.AllocBytes)
	}
	if snap.RingPushOps != 0 {
		t.Errorf("Expected 0 ring push ops after reset, got %d", snap.RingPushOps)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveAlloc(1024, 1000000, true)
	observer.ObserveFree(1000000)
	observer.ObserveDispatch(1000000, true)
	observer.ObserveMailboxRoundtrip(1000000, true)
	observer.ObserveRingPush(false)
	observer.ObserveRingPop()

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveAlloc(1024, 1000000, true)
	metricsObserver.ObserveDispatch(2000000, true)

	snap := m.Snapshot()
	if snap.AllocOps != 1 {
		t.Errorf("Expected 1 alloc op from observer, got %d", snap.AllocOps)
	}
	if snap.DispatchOps != 1 {
		t.Errorf("Expected 1 dispatch op from observer, got %d", snap.DispatchOps)
	}
	if snap.AllocBytes != 1024 {
		t.Errorf("Expected 1024 alloc bytes from observer, got %d", snap.AllocBytes)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 ops at 500us (50th percentile should be around 500us)
	// 49 ops at 5ms
	// 1 op at 50ms (99th percentile)
	for i := 0; i < 50; i++ {
		m.RecordAlloc(1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordDispatch(5_000_000, true) // 5ms
	}
	m.RecordDispatch(50_000_000, true) // 50ms (this is the P99)

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	// 50 ops at 500us land in bucket[3] (1ms), so P50 interpolates within 100us-1ms
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
