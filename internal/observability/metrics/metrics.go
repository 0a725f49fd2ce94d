package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics exposes counters/histograms for the relay and broadcast flows.
type RelayMetrics struct {
	inboundTotal      *prometheus.CounterVec
	repliesTotal      *prometheus.CounterVec
	llmLatency        *prometheus.HistogramVec
	fallbackTotal     *prometheus.CounterVec
	breakerState      prometheus.Gauge
	broadcastOutcomes *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
	contextsSwept     prometheus.Counter
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juno",
			Subsystem: "relay",
			Name:      "inbound_total",
			Help:      "Total inbound chat messages",
		}, []string{"chat_type", "status"}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juno",
			Subsystem: "relay",
			Name:      "replies_total",
			Help:      "Total outbound replies by source",
		}, []string{"source"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "juno",
			Subsystem: "relay",
			Name:      "llm_latency_seconds",
			Help:      "Latency of AI backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juno",
			Subsystem: "relay",
			Name:      "fallback_total",
			Help:      "Fallback replies served instead of AI output",
		}, []string{"reason"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "juno",
			Subsystem: "relay",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		broadcastOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juno",
			Subsystem: "broadcast",
			Name:      "outcomes_total",
			Help:      "Per-recipient broadcast outcomes",
		}, []string{"outcome"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "juno",
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Wall time of completed broadcast jobs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		contextsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "juno",
			Subsystem: "relay",
			Name:      "contexts_swept_total",
			Help:      "Expired conversation contexts removed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inboundTotal,
		m.repliesTotal,
		m.llmLatency,
		m.fallbackTotal,
		m.breakerState,
		m.broadcastOutcomes,
		m.broadcastDuration,
		m.contextsSwept,
	)
	return m
}

func (m *RelayMetrics) ObserveInbound(chatType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(chatType, status).Inc()
}

func (m *RelayMetrics) ObserveReply(source string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(source).Inc()
}

func (m *RelayMetrics) ObserveLLMLatency(result string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(result).Observe(seconds)
}

func (m *RelayMetrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbackTotal.WithLabelValues(reason).Inc()
}

func (m *RelayMetrics) SetBreakerState(status string) {
	if m == nil {
		return
	}
	switch status {
	case "open":
		m.breakerState.Set(2)
	case "half_open":
		m.breakerState.Set(1)
	default:
		m.breakerState.Set(0)
	}
}

func (m *RelayMetrics) ObserveBroadcastOutcome(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.broadcastOutcomes.WithLabelValues(outcome).Add(float64(n))
}

func (m *RelayMetrics) ObserveBroadcastDuration(seconds float64) {
	if m == nil {
		return
	}
	m.broadcastDuration.Observe(seconds)
}

func (m *RelayMetrics) ObserveContextsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.contextsSwept.Add(float64(n))
}
