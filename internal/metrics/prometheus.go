package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	buildDuration     prom.Histogram
	stageDuration     *prom.HistogramVec
	generatorDuration *prom.HistogramVec
	stageResults      *prom.CounterVec
	buildOutcome      *prom.CounterVec
	filesWritten      prom.Histogram
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on the
// provided registry (a fresh one when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "appforge",
			Name:      "build_duration_seconds",
			Help:      "Total build run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "appforge",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual orchestrator stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.generatorDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "appforge",
			Name:      "generator_duration_seconds",
			Help:      "Duration of individual generator executions",
			Buckets:   prom.DefBuckets,
		}, []string{"generator", "result"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "appforge",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "appforge",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.filesWritten = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "appforge",
			Name:      "files_written",
			Help:      "Files written per successful build",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
		})
		reg.MustRegister(pr.buildDuration, pr.stageDuration, pr.generatorDuration,
			pr.stageResults, pr.buildOutcome, pr.filesWritten)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveGeneratorDuration(generator string, d time.Duration, success bool) {
	if p == nil || p.generatorDuration == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	p.generatorDuration.WithLabelValues(generator, result).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveFilesWritten(n int) {
	if p == nil || p.filesWritten == nil {
		return
	}
	p.filesWritten.Observe(float64(n))
}

// HTTPHandler returns an http.Handler serving Prometheus metrics for the
// provided registry. Used by watch mode's exposition endpoint.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
