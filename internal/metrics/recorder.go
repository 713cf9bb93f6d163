// Package metrics defines observability hooks for build runs and their
// pipeline units, with a Prometheus implementation and a no-op default.
package metrics

import "time"

// ResultLabel enumerates unit result categories for counters.
type ResultLabel string

const (
	ResultSuccess   ResultLabel = "success"
	ResultWarning   ResultLabel = "warning"
	ResultFatal     ResultLabel = "fatal"
	ResultCancelled ResultLabel = "cancelled"
)

// Recorder defines observability hooks for build and stage metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The engine
// treats the recorder as optional; NoopRecorder is the default.
type Recorder interface {
	ObserveBuildDuration(d time.Duration)
	ObserveStageDuration(stage string, d time.Duration)
	ObserveGeneratorDuration(generator string, d time.Duration, success bool)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(outcome string) // outcome: success|failed|cancelled
	ObserveFilesWritten(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(time.Duration)                    {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration)            {}
func (NoopRecorder) ObserveGeneratorDuration(string, time.Duration, bool)  {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                    {}
func (NoopRecorder) IncBuildOutcome(string)                                {}
func (NoopRecorder) ObserveFilesWritten(int)                               {}
