package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Simple program to feed a running timelens server with demo telemetry:
// a few seconds of nested frame/update/render spans plus a frame_time
// gauge, enough to exercise zooming across several detail levels.
// Usage: go run send_trace.go <endpoint>
// Example: go run send_trace.go 127.0.0.1:38279
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <endpoint>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 127.0.0.1:38279\n", os.Args[0])
		os.Exit(1)
	}

	endpoint := os.Args[1]
	fmt.Printf("📡 Connecting to OTLP endpoint: %s\n", endpoint)

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create grpc client: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	resource := &resourcepb.Resource{
		Attributes: []*commonpb.KeyValue{
			{
				Key:   "service.name",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "demo-game"}},
			},
			{
				Key:   "deployment.environment",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "development"}},
			},
		},
	}

	// 300 frames at ~16.7ms: five seconds of data. Each frame span carries
	// an update child and a render child so the track layout nests.
	const frames = 300
	frameDur := 16_700 * time.Microsecond
	start := time.Now().Add(-time.Duration(frames) * frameDur)

	var spans []*tracepb.Span
	var points []*metricspb.NumberDataPoint
	for i := 0; i < frames; i++ {
		frameStart := start.Add(time.Duration(i) * frameDur)
		// Busy time wobbles between 8 and 15ms.
		busy := time.Duration(8+4*math.Sin(float64(i)/10)+3*math.Sin(float64(i)/3)) * time.Millisecond

		traceID := make([]byte, 16)
		traceID[14] = byte(i >> 8)
		traceID[15] = byte(i)
		spanID := func(b byte) []byte { return []byte{b, 0, 0, 0, byte(i >> 8), byte(i), 0, 1} }

		spans = append(spans,
			&tracepb.Span{
				TraceId:           traceID,
				SpanId:            spanID(1),
				Name:              "frame",
				Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
				StartTimeUnixNano: uint64(frameStart.UnixNano()),
				EndTimeUnixNano:   uint64(frameStart.Add(busy).UnixNano()),
			},
			&tracepb.Span{
				TraceId:           traceID,
				SpanId:            spanID(2),
				ParentSpanId:      spanID(1),
				Name:              "update",
				Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
				StartTimeUnixNano: uint64(frameStart.UnixNano()),
				EndTimeUnixNano:   uint64(frameStart.Add(busy / 3).UnixNano()),
			},
			&tracepb.Span{
				TraceId:           traceID,
				SpanId:            spanID(3),
				ParentSpanId:      spanID(1),
				Name:              "render",
				Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
				StartTimeUnixNano: uint64(frameStart.Add(busy / 3).UnixNano()),
				EndTimeUnixNano:   uint64(frameStart.Add(busy).UnixNano()),
			},
		)

		points = append(points, &metricspb.NumberDataPoint{
			TimeUnixNano: uint64(frameStart.UnixNano()),
			Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: busy.Seconds() * 1000},
		})
	}

	fmt.Printf("🚀 Sending %d spans across %d frames...\n", len(spans), frames)
	traceClient := collectortrace.NewTraceServiceClient(conn)
	_, err = traceClient.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource:   resource,
				ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
			},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to export spans: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("🚀 Sending %d frame_time points...\n", len(points))
	metricsClient := collectormetrics.NewMetricsServiceClient(conn)
	_, err = metricsClient.Export(context.Background(), &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			{
				Resource: resource,
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
		fmt.Fprintf(os.Stderr, "❌ Failed to export metrics: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Demo telemetry exported!")
	fmt.Println("   Entities: spans/demo-game, metric/demo-game/frame_time")
}
