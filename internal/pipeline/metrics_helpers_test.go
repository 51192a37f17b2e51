package pipeline

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// sumOf adds up every data point of the int64 counter name whose attributes
// include all of kvs.
func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string, kvs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
		points:
			for _, dp := range sum.DataPoints {
				for _, kv := range kvs {
					if v, found := dp.Attributes.Value(kv.Key); !found || v != kv.Value {
						continue points
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func utterances(t *testing.T, reader *sdkmetric.ManualReader, outcome string) int64 {
	t.Helper()
	return sumOf(t, reader, "parley.utterances", attribute.String("outcome", outcome))
}

func retries(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	return sumOf(t, reader, "parley.transcription.retries")
}
