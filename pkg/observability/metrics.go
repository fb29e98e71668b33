package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
)

// Metrics holds the instruments of the IAM core.
type Metrics struct {
	CommandDuration metric.Float64Histogram
	CommandTotal    metric.Int64Counter
	CommandErrors   metric.Int64Counter

	EventsAppended metric.Int64Counter
	AppendDuration metric.Float64Histogram

	ProjectionLag    metric.Int64Gauge
	ProjectionFailed metric.Int64Gauge
}

// NewMetrics creates the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandDuration, err = meter.Float64Histogram(
		"gatehouse.command.duration",
		metric.WithDescription("Command execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	m.CommandTotal, err = meter.Int64Counter(
		"gatehouse.command.total",
		metric.WithDescription("Total commands executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	m.CommandErrors, err = meter.Int64Counter(
		"gatehouse.command.errors",
		metric.WithDescription("Total command errors by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"gatehouse.events.appended",
		metric.WithDescription("Total events appended to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.AppendDuration, err = meter.Float64Histogram(
		"gatehouse.eventstore.append.duration",
		metric.WithDescription("Event store append duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating append.duration: %w", err)
	}

	m.ProjectionLag, err = meter.Int64Gauge(
		"gatehouse.projection.lag",
		metric.WithDescription("Projection wall-clock lag in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	m.ProjectionFailed, err = meter.Int64Gauge(
		"gatehouse.projection.failed_events",
		metric.WithDescription("Events the projection failed to reduce"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.failed_events: %w", err)
	}

	return m, nil
}

// RecordCommand satisfies command.Monitor: totals and duration per command,
// errors additionally labeled by kind.
func (m *Metrics) RecordCommand(ctx context.Context, name string, err error, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("command", name))
	m.CommandTotal.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.CommandErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", name),
			attribute.String("kind", errs.KindOf(err).String()),
		))
	}
}

// RecordAppend records one push to the event store.
func (m *Metrics) RecordAppend(ctx context.Context, eventCount int, duration time.Duration) {
	m.EventsAppended.Add(ctx, int64(eventCount))
	m.AppendDuration.Record(ctx, duration.Seconds())
}

// RecordProjections exports the engine's health statuses as gauges.
func (m *Metrics) RecordProjections(ctx context.Context, statuses []projection.Status) {
	for _, status := range statuses {
		attrs := metric.WithAttributes(
			attribute.String("projection", status.Projection),
			attribute.String("instance", status.InstanceID),
		)
		m.ProjectionLag.Record(ctx, status.Lag.Milliseconds(), attrs)
		m.ProjectionFailed.Record(ctx, int64(status.FailedEvents), attrs)
	}
}
