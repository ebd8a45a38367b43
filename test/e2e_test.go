package test

import (
	"context"
	"testing"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/timelens/timelens/internal/otlpsource"
	"github.com/timelens/timelens/internal/timeline"
	"github.com/timelens/timelens/internal/viewport"
)

func serviceResource(name string) *resourcepb.Resource {
	return &resourcepb.Resource{
		Attributes: []*commonpb.KeyValue{
			{
				Key: "service.name",
				Value: &commonpb.AnyValue{
					Value: &commonpb.AnyValue_StringValue{StringValue: name},
				},
			},
		},
	}
}

func startReceiver(t *testing.T, store *otlpsource.Store) (*otlpsource.Receiver, *grpc.ClientConn) {
	t.Helper()

	receiver, err := otlpsource.NewReceiver(
		otlpsource.ReceiverConfig{Host: "127.0.0.1", Port: 0}, // ephemeral port
		store,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("failed to create OTLP receiver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		if err := receiver.Start(ctx); err != nil {
			t.Logf("OTLP receiver stopped: %v", err)
		}
	}()
	t.Cleanup(receiver.Stop)

	endpoint := receiver.Endpoint()
	t.Logf("OTLP receiver listening on %s", endpoint)

	// Give the server a moment to start.
	time.Sleep(100 * time.Millisecond)

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create grpc client: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return receiver, conn
}

func waitForFetches(t *testing.T, session *viewport.Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for session.Coordinator().InFlight() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("fetches never settled")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestEndToEnd verifies the complete workflow:
// 1. Start the OTLP gRPC receiver over a fresh store
// 2. Export spans and metric points via OTLP gRPC
// 3. Open a session over the store
// 4. Query the visible data through the viewport
func TestEndToEnd(t *testing.T) {
	store := otlpsource.NewStore(0, 0, zap.NewNop())
	_, conn := startReceiver(t, store)

	base := int64(1_000_000_000)
	ms := int64(time.Millisecond)

	// 2. Export three spans and three metric points.
	traceClient := collectortrace.NewTraceServiceClient(conn)
	var spans []*tracepb.Span
	for i := int64(0); i < 3; i++ {
		spans = append(spans, &tracepb.Span{
			TraceId:           []byte{byte(i), 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			SpanId:            []byte{byte(i), 2, 3, 4, 5, 6, 7, 8},
			Name:              "e2e-test-span",
			Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
			StartTimeUnixNano: uint64(base + i*100*ms),
			EndTimeUnixNano:   uint64(base + i*100*ms + 50*ms),
		})
	}
	_, err := traceClient.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource:   serviceResource("e2e-test-service"),
				ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to export spans: %v", err)
	}

	metricsClient := collectormetrics.NewMetricsServiceClient(conn)
	var points []*metricspb.NumberDataPoint
	for i := int64(0); i < 3; i++ {
		points = append(points, &metricspb.NumberDataPoint{
			TimeUnixNano: uint64(base + i*100*ms),
			Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: float64(i) * 1.5},
		})
	}
	_, err = metricsClient.Export(context.Background(), &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			{
				Resource: serviceResource("e2e-test-service"),
				ScopeMetrics: []*metricspb.ScopeMetrics{
					{
						Metrics: []*metricspb.Metric{
							{
								Name: "frame_time",
								Data: &metricspb.Metric_Gauge{
									Gauge: &metricspb.Gauge{DataPoints: points},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to export metrics: %v", err)
	}

	// 3. Open a session over the ingested data.
	source := otlpsource.NewSource(store, timeline.DefaultLodTable(), zap.NewNop())
	session := viewport.NewSession(source, zap.NewNop(), viewport.Config{WidthPx: 1000})
	if err := session.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}
	defer session.Close()
	waitForFetches(t, session)

	snap := session.Snapshot()
	if !snap.Ready {
		t.Fatal("session not ready after init")
	}
	if len(snap.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(snap.Entities))
	}

	// 4. The exported spans and points are visible through the viewport.
	spanID := otlpsource.SpanEntityID("e2e-test-service")
	vis, err := session.QueryVisible(spanID, snap.Lod, snap.View)
	if err != nil {
		t.Fatalf("failed to query spans: %v", err)
	}
	total := 0
	for _, track := range vis.Tracks {
		total += len(track.Spans)
	}
	if total == 0 {
		t.Fatal("no spans visible after export")
	}

	metricID := otlpsource.MetricEntityID("e2e-test-service", "frame_time")
	vis, err = session.QueryVisible(metricID, snap.Lod, snap.View)
	if err != nil {
		t.Fatalf("failed to query metric: %v", err)
	}
	if len(vis.Points) == 0 {
		t.Fatal("no metric points visible after export")
	}

	t.Log("End-to-end test passed: OTLP -> Store -> Session -> Query")
}

// TestLodSwitchOverIngestedData zooms a session over live-ingested spans and
// verifies the detail level follows the view width.
func TestLodSwitchOverIngestedData(t *testing.T) {
	store := otlpsource.NewStore(0, 0, zap.NewNop())
	_, conn := startReceiver(t, store)

	base := int64(1_000_000_000)
	ms := int64(time.Millisecond)

	// 100 short spans spread over 10 seconds.
	traceClient := collectortrace.NewTraceServiceClient(conn)
	var spans []*tracepb.Span
	for i := int64(0); i < 100; i++ {
		spans = append(spans, &tracepb.Span{
			TraceId:           []byte{byte(i), 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			SpanId:            []byte{byte(i), 2, 3, 4, 5, 6, 7, 8},
			Name:              "tick",
			StartTimeUnixNano: uint64(base + i*100*ms),
			EndTimeUnixNano:   uint64(base + i*100*ms + 10*ms),
		})
	}
	_, err := traceClient.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource:   serviceResource("lod-test"),
				ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to export spans: %v", err)
	}

	source := otlpsource.NewSource(store, timeline.DefaultLodTable(), zap.NewNop())
	session := viewport.NewSession(source, zap.NewNop(), viewport.Config{WidthPx: 1000})
	if err := session.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}
	defer session.Close()

	fullLod := session.Snapshot().Lod

	// Zoom to a 1ms window: time-per-pixel drops to 1ns, the finest level.
	session.SetViewRange(context.Background(), timeline.TimeRange{Begin: base, End: base + 1*ms})
	zoomedLod := session.Snapshot().Lod
	if zoomedLod >= fullLod {
		t.Fatalf("zooming in should tighten the LOD: full=%d zoomed=%d", fullLod, zoomedLod)
	}

	waitForFetches(t, session)

	vis, err := session.QueryVisible(otlpsource.SpanEntityID("lod-test"), zoomedLod, session.GetViewRange())
	if err != nil {
		t.Fatalf("failed to query spans: %v", err)
	}
	if len(vis.Tracks) == 0 {
		t.Fatal("no tracks visible at the fine level")
	}

	t.Log("LOD switch test passed")
}
