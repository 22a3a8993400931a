package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncInvocations counts invocations reaching a terminal state.
	IncInvocations(state string)

	// ObserveInvocationDuration records the end-to-end run time.
	ObserveInvocationDuration(state string, duration time.Duration)

	// SetActiveInvocations sets the number of running invocations.
	SetActiveInvocations(count int)

	// IncFetches increments the per-file fetch counter.
	IncFetches(scheme string, success bool)

	// ObserveFetchDuration records the duration of one fetch.
	ObserveFetchDuration(scheme string, duration time.Duration)

	// ObserveReadinessAttempts records how many attempts a poll took.
	ObserveReadinessAttempts(attempts int, ready bool)

	// IncViewerLaunches increments the viewer launch counter.
	IncViewerLaunches(success bool)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncInvocations implements MetricsCollector.
func (n *NoOpMetrics) IncInvocations(_ string) {}

// ObserveInvocationDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveInvocationDuration(_ string, _ time.Duration) {}

// SetActiveInvocations implements MetricsCollector.
func (n *NoOpMetrics) SetActiveInvocations(_ int) {}

// IncFetches implements MetricsCollector.
func (n *NoOpMetrics) IncFetches(_ string, _ bool) {}

// ObserveFetchDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveFetchDuration(_ string, _ time.Duration) {}

// ObserveReadinessAttempts implements MetricsCollector.
func (n *NoOpMetrics) ObserveReadinessAttempts(_ int, _ bool) {}

// IncViewerLaunches implements MetricsCollector.
func (n *NoOpMetrics) IncViewerLaunches(_ bool) {}
