package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, registry *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			for _, label := range metric.GetLabel() {
				key += "|" + label.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				out[key] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	assert.NoError(t, metrics.Track("cycle_sweep").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, metrics.Track("cycle_sweep").End(boom), boom)
	metrics.AddSweptCycles(3)
	metrics.AddSweptCycles(0)

	values := gathered(t, registry)
	assert.Equal(t, 1.0, values["susu_jobs_total|cycle_sweep|success"])
	assert.Equal(t, 1.0, values["susu_jobs_total|cycle_sweep|failure"])
	assert.Equal(t, 1.0, values["susu_jobs_failures_total|cycle_sweep"])
	assert.Equal(t, 2.0, values["susu_job_duration_seconds|cycle_sweep"])
	assert.Equal(t, 3.0, values["susu_sweep_closed_cycles_total"])
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, metrics.Track("cycle_sweep").End(boom), boom)
	metrics.AddSweptCycles(2)
}
