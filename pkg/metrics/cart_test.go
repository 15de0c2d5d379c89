package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCartMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCartMetrics(reg)

	metrics.ObserveSync(OpPush, 250*time.Millisecond, nil)
	metrics.ObserveSync(OpPush, 10*time.Millisecond, errors.New("down"))
	metrics.ObserveSync(OpFetch, 5*time.Millisecond, nil)
	metrics.IncDebounceReset()
	metrics.IncDebounceReset()
	metrics.IncStorageFailure("save")
	metrics.SetActiveSessions(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "cart_sync_operations_total", map[string]string{"op": OpPush, "result": ResultSuccess}); err != nil {
		t.Fatalf("fetch push success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected push success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "cart_sync_operations_total", map[string]string{"op": OpPush, "result": ResultFailure}); err != nil {
		t.Fatalf("fetch push failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected push failure=1, got %f", got)
	}

	if got, err := fetchHistogramCount(mfs, "cart_sync_duration_seconds", map[string]string{"op": OpPush}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 push observations, got %d", got)
	}

	if got, err := fetchCounterValue(mfs, "cart_sync_debounce_resets_total", nil); err != nil {
		t.Fatalf("fetch debounce resets: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 debounce resets, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "cart_storage_failures_total", map[string]string{"op": "save"}); err != nil {
		t.Fatalf("fetch storage failures: %v", err)
	} else if got != 1 {
		t.Fatalf("expected storage failure=1, got %f", got)
	}

	mf := findMetricFamily(mfs, "cart_sessions_active")
	if mf == nil || len(mf.GetMetric()) != 1 || mf.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatalf("expected active sessions gauge=3")
	}
}

func TestNilCartMetricsIsNoop(t *testing.T) {
	var metrics *CartMetrics
	metrics.ObserveSync(OpFetch, time.Second, nil)
	metrics.IncDebounceReset()
	metrics.IncStorageFailure("")
	metrics.SetActiveSessions(1)

	unregistered := NewCartMetrics(nil)
	unregistered.ObserveSync(OpPush, time.Second, nil)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramCount(mfs []*dto.MetricFamily, name string, labels map[string]string) (uint64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleCount(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
