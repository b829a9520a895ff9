// Package metrics records run and stage measurements. The Prometheus
// recorder backs the server's /metrics endpoint; runners treat a nil
// Recorder as "no metrics".
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder receives run and stage measurements from the runner.
type Recorder interface {
	ObserveStageDuration(pipeline, stage string, d time.Duration)
	ObserveRunDuration(pipeline string, d time.Duration)
	IncStageOutcome(stage, outcome string)
	IncRunOutcome(outcome string)
}

// PrometheusRecorder implements Recorder on a Prometheus registry.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	runDuration   *prom.HistogramVec
	stageOutcomes *prom.CounterVec
	runOutcomes   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the stagehand metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "stagehand",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"pipeline", "stage"}),
		runDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "stagehand",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		}, []string{"pipeline"}),
		stageOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stagehand",
			Name:      "stage_outcomes_total",
			Help:      "Stage outcomes by result",
		}, []string{"stage", "outcome"}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "stagehand",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.stageDuration, r.runDuration, r.stageOutcomes, r.runOutcomes)
	return r
}

func (r *PrometheusRecorder) ObserveStageDuration(pipeline, stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ObserveRunDuration(pipeline string, d time.Duration) {
	r.runDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncStageOutcome(stage, outcome string) {
	r.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (r *PrometheusRecorder) IncRunOutcome(outcome string) {
	r.runOutcomes.WithLabelValues(outcome).Inc()
}
