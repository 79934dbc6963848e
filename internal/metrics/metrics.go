// Package metrics defines the minimal instrumentation surface the mart
// pipeline emits through. Loaders depend only on Backend, so the choice
// of sink (Datadog, nop) stays a wiring decision in cmd.
package metrics

// Labels attach low-cardinality context to a metric sample, for example
// {"dimension": "dim_customer", "outcome": "updated"}.
type Labels map[string]string

// Backend receives pipeline metrics.
//
// Implementations must be safe for concurrent use; loader workers emit
// from multiple goroutines.
type Backend interface {
	// IncCounter adds delta to a monotonic counter. Non-positive deltas
	// are ignored.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution, for example
	// a stage duration in seconds. Negative samples are ignored.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush pushes buffered samples to the sink.
	Flush() error

	// Close stops background flushing and performs a final Flush.
	Close() error
}

// Metric names emitted by the pipeline. Kept here so backends and
// dashboards share one vocabulary.
const (
	// MetricStageTotal counts stage completions, labelled stage/status.
	MetricStageTotal = "mart_stage_total"

	// MetricStageDuration records stage wall time in seconds.
	MetricStageDuration = "mart_stage_duration_seconds"

	// MetricDimVersions counts dimension loader outcomes, labelled
	// dimension/outcome (inserted, updated, unchanged, rejected).
	MetricDimVersions = "mart_dimension_versions_total"

	// MetricFactRows counts fact loader outcomes, labelled outcome
	// (inserted, deferred, rejected).
	MetricFactRows = "mart_fact_rows_total"

	// MetricMetricRows counts aggregated metric rows written, labelled
	// table.
	MetricMetricRows = "mart_metric_rows_total"

	// MetricViewRefresh counts view refreshes, labelled view/status.
	MetricViewRefresh = "mart_view_refresh_total"
)

// Nop discards everything. Used when no metrics sink is configured and
// in tests that do not assert on instrumentation.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

var _ Backend = Nop{}
