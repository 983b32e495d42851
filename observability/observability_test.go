package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCounterDeduplication(t *testing.T) {
	obs := Make("debug", "text")
	first := obs.Counter(prometheus.CounterOpts{Name: "test_counter"})
	second := obs.Counter(prometheus.CounterOpts{Name: "test_counter"})
	require.Same(t, first, second)
}

func TestGaugeDeduplication(t *testing.T) {
	obs := Make("info", "json")
	first := obs.Gauge(prometheus.GaugeOpts{Name: "test_gauge"})
	second := obs.Gauge(prometheus.GaugeOpts{Name: "test_gauge"})
	require.Same(t, first, second)
}

func TestBadLogLevelFallsBack(t *testing.T) {
	obs := Make("nonsense", "text")
	require.NotNil(t, obs.Log())
}
