// Package otlpsource is the built-in telemetry backend: it ingests OTLP
// traces and metrics over gRPC, keeps them as time-sorted streams, and
// serves the engine's entity/block fetch contract, materializing LOD
// representations on demand.
package otlpsource

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"go.uber.org/zap"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/timelens/timelens/internal/timeline"
)

const (
	// DefaultMaxSpansPerStream caps each service's span stream.
	DefaultMaxSpansPerStream = 100_000
	// DefaultMaxPointsPerSeries caps each metric series.
	DefaultMaxPointsPerSeries = 200_000
)

// storedSpan is one ingested span before track assignment.
type storedSpan struct {
	Begin     int64
	End       int64
	LabelHash uint32
}

type spanStream struct {
	service string
	spans   []storedSpan
	sorted  bool
}

type metricSeries struct {
	service string
	metric  string
	points  []timeline.Point
	sorted  bool
}

// Store holds ingested telemetry as per-service span streams and
// per-(service, metric) sample series. Safe for concurrent use: the gRPC
// receiver writes while fetches read.
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	maxSpans  int
	maxPoints int
	streams   map[string]*spanStream   // keyed by service name
	series    map[string]*metricSeries // keyed by service + "/" + metric
}

// NewStore creates an empty store. Non-positive capacities fall back to the
// defaults.
func NewStore(maxSpansPerStream, maxPointsPerSeries int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSpansPerStream <= 0 {
		maxSpansPerStream = DefaultMaxSpansPerStream
	}
	if maxPointsPerSeries <= 0 {
		maxPointsPerSeries = DefaultMaxPointsPerSeries
	}
	return &Store{
		logger:    logger,
		maxSpans:  maxSpansPerStream,
		maxPoints: maxPointsPerSeries,
		streams:   make(map[string]*spanStream),
		series:    make(map[string]*metricSeries),
	}
}

// ReceiveSpans ingests OTLP resource spans, bucketing them per service.
// Spans with inverted timestamps are dropped at the boundary.
func (s *Store) ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rs := range resourceSpans {
		service := extractServiceName(rs.Resource)
		stream, ok := s.streams[service]
		if !ok {
			stream = &spanStream{service: service}
			s.streams[service] = stream
		}

		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				begin := int64(span.StartTimeUnixNano)
				end := int64(span.EndTimeUnixNano)
				if end < begin {
					s.logger.Warn("dropping span with negative duration",
						zap.String("service", service),
						zap.String("span", span.Name))
					continue
				}
				stream.spans = append(stream.spans, storedSpan{
					Begin:     begin,
					End:       end,
					LabelHash: labelHash(span.Name),
				})
				stream.sorted = false
			}
		}
		if len(stream.spans) > s.maxSpans {
			s.sortStreamLocked(stream)
			stream.spans = stream.spans[len(stream.spans)-s.maxSpans:]
		}
	}
	return nil
}

// ReceiveMetrics ingests OTLP gauge and sum data points, one series per
// (service, metric name). Histograms and other shapes are skipped.
func (s *Store) ReceiveMetrics(ctx context.Context, resourceMetrics []*metricspb.ResourceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rm := range resourceMetrics {
		service := extractServiceName(rm.Resource)
		for _, sm := range rm.ScopeMetrics {
			for _, metric := range sm.Metrics {
				var dps []*metricspb.NumberDataPoint
				switch data := metric.Data.(type) {
				case *metricspb.Metric_Gauge:
					dps = data.Gauge.DataPoints
				case *metricspb.Metric_Sum:
					dps = data.Sum.DataPoints
				default:
					s.logger.Debug("skipping unsupported metric shape",
						zap.String("metric", metric.Name))
					continue
				}

				key := service + "/" + metric.Name
				series, ok := s.series[key]
				if !ok {
					series = &metricSeries{service: service, metric: metric.Name}
					s.series[key] = series
				}
				for _, dp := range dps {
					series.points = append(series.points, timeline.Point{
						Time:  int64(dp.TimeUnixNano),
						Value: numberValue(dp),
					})
					series.sorted = false
				}
				if len(series.points) > s.maxPoints {
					s.sortSeriesLocked(series)
					series.points = series.points[len(series.points)-s.maxPoints:]
				}
			}
		}
	}
	return nil
}

// Entities derives the addressable entity list from the ingested data:
// one span-thread entity per service and one metric entity per series,
// each with its total time range. The list is sorted by ID so repeated
// enumerations are stable.
func (s *Store) Entities() []timeline.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ents []timeline.Entity
	for _, stream := range s.streams {
		if len(stream.spans) == 0 {
			continue
		}
		s.sortStreamLocked(stream)
		minT := stream.spans[0].Begin
		maxT := minT
		for _, sp := range stream.spans {
			if sp.End > maxT {
				maxT = sp.End
			}
		}
		ents = append(ents, timeline.Entity{
			ID:         SpanEntityID(stream.service),
			Kind:       timeline.KindSpans,
			TotalRange: timeline.TimeRange{Begin: minT, End: maxT + 1},
		})
	}
	for _, series := range s.series {
		if len(series.points) == 0 {
			continue
		}
		s.sortSeriesLocked(series)
		ents = append(ents, timeline.Entity{
			ID:         MetricEntityID(series.service, series.metric),
			Kind:       timeline.KindMetric,
			TotalRange: timeline.TimeRange{
				Begin: series.points[0].Time,
				End:   series.points[len(series.points)-1].Time + 1,
			},
		})
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].ID < ents[j].ID })
	return ents
}

// SpansBetween returns a copy of the spans overlapping r for one service,
// sorted by begin time. Raw stream spans may overlap each other (they are
// not yet laid onto tracks), so only the upper bound is binary searched.
func (s *Store) SpansBetween(service string, r timeline.TimeRange) []storedSpan {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[service]
	if !ok {
		return nil
	}
	s.sortStreamLocked(stream)

	hi := sort.Search(len(stream.spans), func(i int) bool {
		return stream.spans[i].Begin >= r.End
	})
	var out []storedSpan
	for _, sp := range stream.spans[:hi] {
		if sp.End >= r.Begin {
			out = append(out, sp)
		}
	}
	return out
}

// PointsBetween returns a copy of the points inside r for one series.
func (s *Store) PointsBetween(service, metric string, r timeline.TimeRange) []timeline.Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.series[service+"/"+metric]
	if !ok {
		return nil
	}
	s.sortSeriesLocked(series)

	lo, hi := timeline.PointWindow(series.points, r)
	out := make([]timeline.Point, hi-lo)
	copy(out, series.points[lo:hi])
	return out
}

func (s *Store) sortStreamLocked(stream *spanStream) {
	if stream.sorted {
		return
	}
	sort.Slice(stream.spans, func(i, j int) bool {
		return stream.spans[i].Begin < stream.spans[j].Begin
	})
	stream.sorted = true
}

func (s *Store) sortSeriesLocked(series *metricSeries) {
	if series.sorted {
		return
	}
	sort.Slice(series.points, func(i, j int) bool {
		return series.points[i].Time < series.points[j].Time
	})
	series.sorted = true
}

// extractServiceName pulls service.name from an OTLP resource, defaulting
// to "unknown".
func extractServiceName(resource *resourcepb.Resource) string {
	if resource == nil {
		return "unknown"
	}
	for _, attr := range resource.Attributes {
		if attr.Key == "service.name" {
			if sv := attr.Value.GetStringValue(); sv != "" {
				return sv
			}
		}
	}
	return "unknown"
}

func numberValue(dp *metricspb.NumberDataPoint) float64 {
	switch v := dp.Value.(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		return v.AsDouble
	case *metricspb.NumberDataPoint_AsInt:
		return float64(v.AsInt)
	default:
		return 0
	}
}

func labelHash(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}
