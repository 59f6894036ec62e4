package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllCollectorsWithoutConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RequestsTotal.WithLabelValues("normal").Inc()
	m.GateDecisions.WithLabelValues("normal", "proceed").Inc()
	m.RetrievalQuality.Observe(0.8)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	if len(families) == 0 {
		t.Errorf("expected at least one registered metric family")
	}
}
