package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.AuthTransitions.WithLabelValues("sign_in", "ok").Inc()
	metrics.QueueDepth.Set(3)
	metrics.CacheHits.Inc()
	metrics.CacheMisses.Inc()
	metrics.CacheEvictions.Inc()
	metrics.CacheInvalidations.Inc()
	metrics.StorageOps.WithLabelValues("set", "synced", "ok").Inc()
	metrics.QuotaRejections.Inc()
	metrics.RemoteRequestDuration.WithLabelValues("sign_in").Observe(0.05)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		"forgetfulme_auth_transitions_total":         false,
		"forgetfulme_auth_queue_depth":               false,
		"forgetfulme_cache_hits_total":               false,
		"forgetfulme_cache_misses_total":             false,
		"forgetfulme_cache_evictions_total":          false,
		"forgetfulme_cache_invalidations_total":      false,
		"forgetfulme_storage_ops_total":              false,
		"forgetfulme_storage_quota_rejections_total": false,
		"forgetfulme_remote_request_duration_seconds": false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestMetrics_AuthTransitionLabels(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.AuthTransitions.WithLabelValues("refresh", "error").Inc()
	metrics.AuthTransitions.WithLabelValues("refresh", "error").Inc()

	var m dto.Metric
	if err := metrics.AuthTransitions.WithLabelValues("refresh", "error").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 2 {
		t.Errorf("counter = %f, want 2", m.Counter.GetValue())
	}
}

func TestMetrics_RequestDurationObservations(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RemoteRequestDuration.WithLabelValues("rest_select").Observe(0.01)
	metrics.RemoteRequestDuration.WithLabelValues("rest_select").Observe(0.2)

	var m dto.Metric
	h, err := metrics.RemoteRequestDuration.GetMetricWithLabelValues("rest_select")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.(prometheus.Histogram).Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Histogram.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", m.Histogram.GetSampleCount())
	}
}

func TestNopMetrics(t *testing.T) {
	// Two instances register against separate throwaway registries, so
	// neither collides with the other or with the default registry.
	a := NopMetrics()
	b := NopMetrics()
	a.CacheHits.Inc()
	b.CacheHits.Inc()
}

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := SetupTracing(false)
	if err != nil {
		t.Fatalf("SetupTracing(false) error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}
