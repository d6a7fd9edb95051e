// Package metrics provides Prometheus-based metrics recording for hand runs,
// plus a text-format snapshot writer so fire-and-forget CLI runs still leave
// scrape-able data behind.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording run metrics.
type Recorder interface {
	// ObserveRun records a completed run with its terminal outcome.
	ObserveRun(backend, outcome string, iterations int, duration time.Duration)

	// ObserveModelRequest records one model API call.
	ObserveModelRequest(provider, model, status string, duration time.Duration)

	// IncToolExecution counts one directive tool execution.
	IncToolExecution(kind, status string)

	// IncRelaunch counts one supervisor process relaunch.
	IncRelaunch(backend, reason string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are
// disabled.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRun does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRun(_, _ string, _ int, _ time.Duration) {}

// ObserveModelRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveModelRequest(_, _, _ string, _ time.Duration) {}

// IncToolExecution does nothing in the no-op recorder.
func (n *NoopRecorder) IncToolExecution(_, _ string) {}

// IncRelaunch does nothing in the no-op recorder.
func (n *NoopRecorder) IncRelaunch(_, _ string) {}
