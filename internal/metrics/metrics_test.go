package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestClassificationsIncrementsByLabelAndTier(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.Classifications.WithLabelValues("local", "chainsaw").Inc()
	m.Classifications.WithLabelValues("local", "chainsaw").Inc()
	m.Classifications.WithLabelValues("fast_cloud", "natural").Inc()

	var metric dto.Metric
	if err := m.Classifications.WithLabelValues("local", "chainsaw").Write(&metric); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected counter value 2, got %v", got)
	}
}

func TestNodesConnectedGaugeSetAndRead(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.NodesConnected.Set(3)

	var metric dto.Metric
	if err := m.NodesConnected.Write(&metric); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 3 {
		t.Fatalf("expected gauge value 3, got %v", got)
	}
}
