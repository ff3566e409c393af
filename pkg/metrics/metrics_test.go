package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordPrediction("Siren", 0.97, 20*time.Millisecond)
	m.RecordPrediction("Siren", 0.95, 30*time.Millisecond)
	m.RecordPrediction("None", 0.60, 10*time.Millisecond)
	m.RecordDrop("extract")
	m.RecordConfirmed("Siren")
	m.RecordDispatched("SIREN")
	m.SetBacklog(1234)
	m.SetSerialState(3)

	if got := testutil.ToFloat64(m.SegmentsProcessed); got != 3 {
		t.Errorf("segments processed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues("Siren")); got != 2 {
		t.Errorf("siren predictions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SegmentsDropped.WithLabelValues("extract")); got != 1 {
		t.Errorf("drops = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Confirmed.WithLabelValues("Siren")); got != 1 {
		t.Errorf("confirmed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Dispatched.WithLabelValues("SIREN")); got != 1 {
		t.Errorf("dispatched = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Backlog); got != 1234 {
		t.Errorf("backlog = %v, want 1234", got)
	}
	if got := testutil.ToFloat64(m.SerialState); got != 3 {
		t.Errorf("serial state = %v, want 3", got)
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Fatal("no metrics gathered")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordPrediction("Horn", 1, time.Millisecond)
	m.RecordDrop("infer")
	m.RecordConfirmed("Horn")
	m.RecordDispatched("HORN")
	m.SetBacklog(1)
	m.SetSerialState(4)
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
