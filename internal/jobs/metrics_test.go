package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	if err := m.Track("softdelete:purge").End(nil); err != nil {
		t.Fatalf("End returned %v", err)
	}
	boom := errors.New("boom")
	if err := m.Track("softdelete:purge").End(boom); !errors.Is(err, boom) {
		t.Fatalf("End must return the job error, got %v", err)
	}

	if got := testutil.ToFloat64(m.runs.WithLabelValues("softdelete:purge", "success")); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("softdelete:purge")); got != 1 {
		t.Fatalf("expected one failure, got %v", got)
	}

	m.Skipped("softdelete:purge")
	if got := testutil.ToFloat64(m.runs.WithLabelValues("softdelete:purge", "skipped")); got != 1 {
		t.Fatalf("expected one skipped run, got %v", got)
	}
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddPurged("employees", 3)
	m.AddPurged("employees", 0)
	m.IncDelivered()

	if got := testutil.ToFloat64(m.purged.WithLabelValues("employees")); got != 3 {
		t.Fatalf("expected 3 purged rows, got %v", got)
	}
	if got := testutil.ToFloat64(m.delivered); got != 1 {
		t.Fatalf("expected 1 delivered event, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddPurged("employees", 1)
	m.IncDelivered()
	m.Skipped("x")
	if err := m.Track("x").End(nil); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
