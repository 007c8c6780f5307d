// Package metrics2 is the process-wide metrics client, backed by
// Prometheus. Metrics are created on first Get and cached, so handlers can
// call GetCounter on every request without registration bookkeeping.
package metrics2

// Int64Metric is a gauge of int64 values.
type Int64Metric interface {
	// Get returns the last value set.
	Get() int64

	// Update sets the value.
	Update(v int64)
}

// Float64SummaryMetric records a distribution of float64 observations.
type Float64SummaryMetric interface {
	// Observe adds one observation.
	Observe(v float64)
}

// Counter is a convenience wrapper around an Int64Metric for values that
// move by increments.
type Counter interface {
	Int64Metric

	// Inc increments the counter by i.
	Inc(i int64)

	// Dec decrements the counter by i.
	Dec(i int64)

	// Reset sets the counter to zero.
	Reset()
}

// defaultClient serves the package-level Get functions.
var defaultClient = newPromClient()

// GetInt64Metric returns (and creates, the first time) the named gauge with
// the given tags.
func GetInt64Metric(name string, tags ...map[string]string) Int64Metric {
	return defaultClient.GetInt64Metric(name, tags...)
}

// GetCounter returns (and creates, the first time) the named counter with
// the given tags.
func GetCounter(name string, tags ...map[string]string) Counter {
	return defaultClient.GetCounter(name, tags...)
}

// GetFloat64SummaryMetric returns (and creates, the first time) the named
// summary with the given tags.
func GetFloat64SummaryMetric(name string, tags ...map[string]string) Float64SummaryMetric {
	return defaultClient.GetFloat64SummaryMetric(name, tags...)
}
