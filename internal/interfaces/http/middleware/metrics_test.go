package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/farmerp/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	router := newTestRouter(HTTPMetricsWithMeter(provider.Meter("test")))
	serve(router, http.MethodGet, "/test", nil)
	serve(router, http.MethodGet, "/test", nil)
	serve(router, http.MethodGet, "/missing", nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	byName := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			byName[m.Name] = m
		}
	}

	total := byName["http_server_request_total"].Data.(metricdata.Sum[int64])
	counts := map[string]int64{}
	for _, dp := range total.DataPoints {
		route, _ := dp.Attributes.Value(telemetry.AttrHTTPRoute)
		counts[route.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), counts["/test"])
	assert.Equal(t, int64(1), counts["unknown"])

	duration := byName["http_server_request_duration_seconds"].Data.(metricdata.Histogram[float64])
	assert.NotEmpty(t, duration.DataPoints)
}

func TestHTTPMetrics_DisabledProvider(t *testing.T) {
	router := newTestRouter(HTTPMetrics(&telemetry.MeterProvider{}))
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/test", nil).Code)
}
