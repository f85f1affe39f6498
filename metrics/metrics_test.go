package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StageResult("process", OutcomeOK)
		m.ObserveWait("task", time.Millisecond)
		m.LineForwarded()
		m.PipelineDone("status", errors.New("boom"))
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StageResult("process", OutcomeSuppressed)
	m.StageResult("process", OutcomeSuppressed)
	m.LineForwarded()
	m.PipelineDone("output", nil)
	m.PipelineDone("output", errors.New("boom"))
	m.ObserveWait("task", 2*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.StageResults.WithLabelValues("process", OutcomeSuppressed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForwardedLines))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Pipelines.WithLabelValues("output", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Pipelines.WithLabelValues("output", "error")))

	count, err := testutil.GatherAndCount(reg, "cmdpipe_stage_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
