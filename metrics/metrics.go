// Package metrics exposes Prometheus collectors for pipeline stages.
//
// A nil *Metrics is valid and records nothing, so callers that do not care
// about metrics can leave the field unset.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage outcomes recorded by StageResult.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
	OutcomeJoinFailed = "join_failed"
)

// Metrics holds the stage collectors.
type Metrics struct {
	StageResults   *prometheus.CounterVec
	StageWait      *prometheus.HistogramVec
	ForwardedLines prometheus.Counter
	Pipelines      *prometheus.CounterVec
}

// New registers the collectors with reg. Passing nil registers them with the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		StageResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdpipe_stage_results_total",
				Help: "Terminated stages by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		StageWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmdpipe_stage_wait_seconds",
				Help:    "Time spent blocked on a stage's termination",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"kind"},
		),
		ForwardedLines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cmdpipe_forwarded_lines_total",
				Help: "Diagnostic lines forwarded from stage error streams",
			},
		),
		Pipelines: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdpipe_pipelines_total",
				Help: "Completed pipelines by termination mode and result",
			},
			[]string{"mode", "result"},
		),
	}
}

func (m *Metrics) StageResult(kind, outcome string) {
	if m == nil {
		return
	}
	m.StageResults.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveWait(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageWait.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) LineForwarded() {
	if m == nil {
		return
	}
	m.ForwardedLines.Inc()
}

// PipelineDone counts a finished entry point. err decides the result label.
func (m *Metrics) PipelineDone(mode string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Pipelines.WithLabelValues(mode, result).Inc()
}
