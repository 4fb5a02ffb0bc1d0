package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordHelpersNoopBeforeInit(t *testing.T) {
	SetAppMetrics(nil)
	RecordCredentialIssue(context.Background(), "success")
	RecordRedeemOutcome(context.Background(), "ACCEPTED", "", time.Millisecond)
	RecordRepositoryOperation(context.Background(), "credential_session", "get", "success")
}

func TestRecordRedeemOutcomeCountsByReason(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		SetAppMetrics(nil)
		_ = mp.Shutdown(context.Background())
	})
	m, err := NewAppMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("new app metrics: %v", err)
	}
	SetAppMetrics(m)

	ctx := context.Background()
	RecordRedeemOutcome(ctx, "ACCEPTED", "", 2*time.Millisecond)
	RecordRedeemOutcome(ctx, "REJECTED", "REDEMPTION_LIMIT", time.Millisecond)
	RecordRedeemOutcome(ctx, "REJECTED", "REDEMPTION_LIMIT", time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "credential.redeem.outcomes" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				reason, _ := dp.Attributes.Value(attribute.Key("reason"))
				got[reason.AsString()] += dp.Value
			}
		}
	}
	if got["none"] != 1 || got["REDEMPTION_LIMIT"] != 2 {
		t.Fatalf("unexpected redeem counts: %#v", got)
	}
}
