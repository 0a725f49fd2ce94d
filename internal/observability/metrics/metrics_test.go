package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRelayMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRelayMetrics(reg)
	m.ObserveInbound("private", "ok")
	m.ObserveReply("llm")
	m.ObserveLLMLatency("success", 0.4)
	m.ObserveFallback("circuit_open")
	m.SetBreakerState("open")
	m.SetBreakerState("half_open")
	m.SetBreakerState("closed")
	m.ObserveBroadcastOutcome("sent", 4)
	m.ObserveBroadcastDuration(2.5)
	m.ObserveContextsSwept(3)
}

func TestRelayMetricsNilSafe(t *testing.T) {
	var m *RelayMetrics
	m.ObserveInbound("private", "ok")
	m.ObserveReply("fallback")
	m.ObserveLLMLatency("error", 0.1)
	m.ObserveFallback("transient")
	m.SetBreakerState("closed")
	m.ObserveBroadcastOutcome("failed", 1)
	m.ObserveBroadcastDuration(0.2)
	m.ObserveContextsSwept(0)
}
