package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/odyssey-erp/purchasing/internal/catalog"
	jobmetrics "github.com/odyssey-erp/purchasing/internal/jobs"
	"github.com/odyssey-erp/purchasing/jobs"
)

type slowCatalog struct {
	delay time.Duration
	calls atomic.Int64
	failN int64
}

func (c *slowCatalog) Invalidate(context.Context) error { return nil }

func (c *slowCatalog) Refresh(context.Context) (catalog.Snapshot, error) {
	n := c.calls.Add(1)
	time.Sleep(c.delay)
	if n <= c.failN {
		return catalog.Snapshot{}, errors.New("backend timeout")
	}
	products := make([]catalog.Product, 120)
	for i := range products {
		products[i] = catalog.Product{ID: int64(i + 1), IsActive: true}
	}
	return catalog.NewSnapshot(products, []catalog.Supplier{{ID: 1, IsActive: true}}, time.Now()), nil
}

func TestCatalogRefreshThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	source := &slowCatalog{delay: 5 * time.Millisecond, failN: 2}
	job := jobs.NewCatalogRefreshJob(source, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	task, err := jobs.NewCatalogRefreshTask("perf")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	failures := 0
	for i := 0; i < 40; i++ {
		if err := job.Handle(context.Background(), task); err != nil {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("expected 2 failed refreshes, got %d", failures)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	labels := map[string]string{"job": jobs.TaskCatalogRefresh}
	success := metricValue(t, families, "purchasing_jobs_total", map[string]string{"job": jobs.TaskCatalogRefresh, "status": "success"})
	failure := metricValue(t, families, "purchasing_jobs_total", map[string]string{"job": jobs.TaskCatalogRefresh, "status": "failure"})
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("catalog refresh success ratio too low: %f", ratio)
	}

	if mean := histogramMean(t, families, "purchasing_job_duration_seconds", labels); mean > 0.5 {
		t.Fatalf("catalog refresh duration above budget: %f", mean)
	}

	if products := metricValue(t, families, "purchasing_catalog_entries", map[string]string{"kind": "products"}); products != 120 {
		t.Fatalf("catalog gauge = %f, want 120", products)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
