package eventify

import (
	"sync"
	"testing"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricSignInSuccess)
	m.Inc(MetricSignInSuccess)
	m.Inc(MetricRefreshReuseDetected)

	if got := m.Value(MetricSignInSuccess); got != 2 {
		t.Fatalf("sign-in success = %d, want 2", got)
	}
	snap := m.Snapshot()
	if snap.Counters[MetricSignInSuccess] != 2 || snap.Counters[MetricRefreshReuseDetected] != 1 {
		t.Fatalf("unexpected snapshot: %v", snap.Counters)
	}
	if len(snap.Counters) != len(MetricIDs()) {
		t.Fatalf("snapshot has %d counters, want %d", len(snap.Counters), len(MetricIDs()))
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSignInSuccess)
	if m.Value(MetricSignInSuccess) != 0 {
		t.Fatal("a disabled Metrics must not count")
	}
	if m.Enabled() {
		t.Fatal("Enabled() should be false")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricSignInSuccess)
	if nilMetrics.Value(MetricSignInSuccess) != 0 || nilMetrics.Enabled() {
		t.Fatal("nil Metrics must be inert")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, perWorker = 8, 1000
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshSuccess); got != workers*perWorker {
		t.Fatalf("count = %d, want %d", got, workers*perWorker)
	}
}

func TestMetricNamesAreUnique(t *testing.T) {
	seen := make(map[string]MetricID)
	for _, id := range MetricIDs() {
		name := MetricName(id)
		if name == "eventify.unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("metrics %d and %d share the name %q", prev, id, name)
		}
		seen[name] = id
	}
}
