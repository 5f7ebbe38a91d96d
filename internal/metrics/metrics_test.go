package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	registry := prometheus.NewRegistry()
	InitMetrics(registry)
	JobRunsCounter.WithLabelValues("DONE").Inc()
	JobDurationHistogram.Observe(0.5)
	SchedulerRoundsCounter.Inc()

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make(map[string]struct{}, len(families))
	for _, family := range families {
		names[family.GetName()] = struct{}{}
	}
	for _, name := range []string{
		"shellexec_job_runs_total",
		"shellexec_job_duration_seconds",
		"shellexec_scheduler_rounds_total",
		"shellexec_jobs_running",
		"shellexec_jobs_skipped_total",
	} {
		require.Contains(t, names, name)
	}

	path := filepath.Join(t.TempDir(), "shellexec.prom")
	require.NoError(t, WriteTextfile(registry, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `shellexec_job_runs_total{status="DONE"}`)
}
