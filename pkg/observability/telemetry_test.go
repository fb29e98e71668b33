package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/observability"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
)

func TestInitWithoutBackendsIsNoOp(t *testing.T) {
	ctx := context.Background()
	tel, err := observability.Init(ctx, observability.Config{ServiceName: "gatehouse-test"})
	require.NoError(t, err)
	require.NotNil(t, tel.Metrics)

	// must not panic without any backend
	tel.Metrics.RecordCommand(ctx, "org.add", nil, 5*time.Millisecond)
	tel.Metrics.RecordAppend(ctx, 3, time.Millisecond)
	require.NoError(t, tel.Shutdown(ctx))
}

func TestMetricsReachTheReader(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:  "gatehouse-test",
		MetricReader: reader,
	})
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	tel.Metrics.RecordCommand(ctx, "org.add", nil, 5*time.Millisecond)
	tel.Metrics.RecordCommand(ctx, "org.add", errs.ThrowNotFound(nil, "TEST-nf", "nope"), time.Millisecond)
	tel.Metrics.RecordProjections(ctx, []projection.Status{
		{Projection: "users", InstanceID: "inst1", Lag: 1200 * time.Millisecond, FailedEvents: 1},
	})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["gatehouse.command.total"])
	assert.True(t, names["gatehouse.command.errors"])
	assert.True(t, names["gatehouse.projection.lag"])
}
