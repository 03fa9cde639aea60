package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/planhub"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Submission metrics
	SubmissionsReceivedTotal  metric.Int64Counter
	SubmissionsCommittedTotal metric.Int64Counter
	SubmissionsRejectedTotal  metric.Int64Counter
	SubmissionDuration        metric.Float64Histogram

	// Record outcome metrics
	RecordsInsertedTotal  metric.Int64Counter
	RecordsUpdatedTotal   metric.Int64Counter
	RecordsUnchangedTotal metric.Int64Counter
	RecordsRejectedTotal  metric.Int64Counter

	// Store metrics
	WriteConflictsTotal metric.Int64Counter
	PlanDeletesTotal    metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SubmissionsReceivedTotal, _ = meter.Int64Counter(
		"planhub.submissions.received.total",
		metric.WithDescription("Total number of submissions received"),
		metric.WithUnit("{submission}"),
	)

	m.SubmissionsCommittedTotal, _ = meter.Int64Counter(
		"planhub.submissions.committed.total",
		metric.WithDescription("Total number of submissions committed"),
		metric.WithUnit("{submission}"),
	)

	m.SubmissionsRejectedTotal, _ = meter.Int64Counter(
		"planhub.submissions.rejected.total",
		metric.WithDescription("Total number of submissions rejected"),
		metric.WithUnit("{submission}"),
	)

	m.SubmissionDuration, _ = meter.Float64Histogram(
		"planhub.submissions.duration",
		metric.WithDescription("Duration of submission processing"),
		metric.WithUnit("ms"),
	)

	m.RecordsInsertedTotal, _ = meter.Int64Counter(
		"planhub.records.inserted.total",
		metric.WithDescription("Total number of records inserted"),
		metric.WithUnit("{record}"),
	)

	m.RecordsUpdatedTotal, _ = meter.Int64Counter(
		"planhub.records.updated.total",
		metric.WithDescription("Total number of records updated"),
		metric.WithUnit("{record}"),
	)

	m.RecordsUnchangedTotal, _ = meter.Int64Counter(
		"planhub.records.unchanged.total",
		metric.WithDescription("Total number of records left unchanged"),
		metric.WithUnit("{record}"),
	)

	m.RecordsRejectedTotal, _ = meter.Int64Counter(
		"planhub.records.rejected.total",
		metric.WithDescription("Total number of records rejected"),
		metric.WithUnit("{record}"),
	)

	m.WriteConflictsTotal, _ = meter.Int64Counter(
		"planhub.store.write_conflicts.total",
		metric.WithDescription("Total number of write-write conflicts detected on commit"),
		metric.WithUnit("{conflict}"),
	)

	m.PlanDeletesTotal, _ = meter.Int64Counter(
		"planhub.store.plan_deletes.total",
		metric.WithDescription("Total number of work plans deleted"),
		metric.WithUnit("{plan}"),
	)

	return m
}
