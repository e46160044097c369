package cantripos

import "github.com/prometheus/client_golang/prometheus"

// PromObserver implements Observer by registering counters and histograms
// with a prometheus.Registerer, as an alternative to MetricsObserver for
// deployments that scrape a /metrics endpoint rather than polling
// Metrics.Snapshot directly.
type PromObserver struct {
	allocTotal      *prometheus.CounterVec
	allocBytes      prometheus.Counter
	allocLatency    prometheus.Histogram
	freeLatency     prometheus.Histogram
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	mailboxTotal    *prometheus.CounterVec
	mailboxLatency  prometheus.Histogram
	ringPushTotal   *prometheus.CounterVec
	ringPopTotal    prometheus.Counter
}

// NewPromObserver builds a PromObserver and registers its collectors with
// reg. Passing prometheus.NewRegistry() keeps it independent of the global
// default registry, useful for tests that construct more than one.
func NewPromObserver(reg prometheus.Registerer) *PromObserver {
	o := &PromObserver{
		allocTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cantripos",
			Subsystem: "memmgr",
			Name:      "alloc_total",
			Help:      "Allocation attempts, partitioned by outcome.",
		}, []string{"result"}),
		allocBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cantripos",
			Subsystem: "memmgr",
			Name:      "alloc_bytes_total",
			Help:      "Bytes retyped out of untyped slabs.",
		}),
		allocLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cantripos",
			Subsystem: "memmgr",
			Name:      "alloc_latency_seconds",
			Help:      "Alloc request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		freeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cantripos",
			Subsystem: "memmgr",
			Name:      "free_latency_seconds",
			Help:      "Free request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cantripos",
			Subsystem: "sdkruntime",
			Name:      "dispatch_total",
			Help:      "SDK Runtime requests dispatched, partitioned by outcome.",
		}, []string{"result"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cantripos",
			Subsystem: "sdkruntime",
			Name:      "dispatch_latency_seconds",
			Help:      "SDK Runtime request dispatch latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		mailboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cantripos",
			Subsystem: "mailbox",
			Name:      "roundtrip_total",
			Help:      "Mailbox request/response round trips, partitioned by outcome.",
		}, []string{"result"}),
		mailboxLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cantripos",
			Subsystem: "mailbox",
			Name:      "roundtrip_latency_seconds",
			Help:      "Mailbox request/response round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		ringPushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cantripos",
			Subsystem: "audio",
			Name:      "ring_push_total",
			Help:      "Audio ring buffer pushes, partitioned by whether they overran the ring.",
		}, []string{"overran"}),
		ringPopTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cantripos",
			Subsystem: "audio",
			Name:      "ring_pop_total",
			Help:      "Audio ring buffer pops.",
		}),
	}
	reg.MustRegister(
		o.allocTotal, o.allocBytes, o.allocLatency, o.freeLatency,
		o.dispatchTotal, o.dispatchLatency,
		o.mailboxTotal, o.mailboxLatency,
		o.ringPushTotal, o.ringPopTotal,
	)
	return o
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (o *PromObserver) ObserveAlloc(bytes uint64, latencyNs uint64, success bool) {
	o.allocTotal.WithLabelValues(resultLabel(success)).Inc()
	o.allocBytes.Add(float64(bytes))
	o.allocLatency.Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) ObserveFree(latencyNs uint64) {
	o.freeLatency.Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) ObserveDispatch(latencyNs uint64, success bool) {
	o.dispatchTotal.WithLabelValues(resultLabel(success)).Inc()
	o.dispatchLatency.Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) ObserveMailboxRoundtrip(latencyNs uint64, success bool) {
	o.mailboxTotal.WithLabelValues(resultLabel(success)).Inc()
	o.mailboxLatency.Observe(float64(latencyNs) / 1e9)
}

func (o *PromObserver) ObserveRingPush(overran bool) {
	label := "false"
	if overran {
		label = "true"
	}
	o.ringPushTotal.WithLabelValues(label).Inc()
}

func (o *PromObserver) ObserveRingPop() {
	o.ringPopTotal.Inc()
}

var _ Observer = (*PromObserver)(nil)
