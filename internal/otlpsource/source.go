package otlpsource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/timelens/timelens/internal/timeline"
)

// SpanEntityID is the entity ID for a service's span thread.
func SpanEntityID(service string) string {
	return "spans/" + service
}

// MetricEntityID is the entity ID for one metric series.
func MetricEntityID(service, metric string) string {
	return "metric/" + service + "/" + metric
}

// Source serves the engine's fetch contract from an ingest store. Block
// payloads are materialized per request: LOD 0 lays raw spans onto
// non-overlapping tracks, coarser LODs are reduced from it with the
// per-level merge threshold.
type Source struct {
	store  *Store
	lods   timeline.LodTable
	logger *zap.Logger
}

// NewSource wraps a store with a LOD table.
func NewSource(store *Store, lods timeline.LodTable, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{store: store, lods: lods, logger: logger}
}

// EnumerateEntities lists the addressable entities currently in the store.
func (s *Source) EnumerateEntities(ctx context.Context) ([]timeline.Entity, error) {
	return s.store.Entities(), nil
}

// FetchBlocks materializes one block per requested range.
func (s *Source) FetchBlocks(ctx context.Context, entityID string, lod int, ranges []timeline.TimeRange) ([]*timeline.Block, error) {
	threshold := s.lods.Threshold(lod)

	blocks := make([]*timeline.Block, 0, len(ranges))
	for _, r := range ranges {
		var payload timeline.Payload
		switch {
		case strings.HasPrefix(entityID, "spans/"):
			service := strings.TrimPrefix(entityID, "spans/")
			tracks := layoutTracks(s.store.SpansBetween(service, r))
			if lod > 0 {
				tracks = reduceSpanTracks(tracks, threshold)
			}
			payload = timeline.SpanPayload{Tracks: tracks}

		case strings.HasPrefix(entityID, "metric/"):
			rest := strings.TrimPrefix(entityID, "metric/")
			service, metric, ok := strings.Cut(rest, "/")
			if !ok {
				return nil, fmt.Errorf("malformed metric entity id %q", entityID)
			}
			points := s.store.PointsBetween(service, metric, r)
			if lod > 0 {
				points = reducePoints(points, threshold)
			}
			payload = timeline.MetricPayload{Points: points}

		default:
			return nil, fmt.Errorf("unknown entity id %q", entityID)
		}

		blocks = append(blocks, &timeline.Block{
			ID:       fmt.Sprintf("%s#%d@%d-%d", entityID, lod, r.Begin, r.End),
			EntityID: entityID,
			Lod:      lod,
			Range:    r,
			Payload:  payload,
		})
	}
	return blocks, nil
}

// layoutTracks assigns spans (sorted by begin time) onto tracks greedily:
// each span goes to the first track whose last span has already ended, so
// every track satisfies the sorted, non-overlapping invariant. Nested
// calls naturally land on higher track indexes than their parents because
// the parent starts earlier and is still open.
func layoutTracks(spans []storedSpan) []timeline.SpanTrack {
	if len(spans) == 0 {
		return nil
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Begin < spans[j].Begin })

	var tracks []timeline.SpanTrack
	var lastEnd []int64
	for _, sp := range spans {
		placed := false
		for ti := range tracks {
			if lastEnd[ti] <= sp.Begin {
				tracks[ti].Spans = append(tracks[ti].Spans, spanOf(sp))
				lastEnd[ti] = sp.End
				placed = true
				break
			}
		}
		if !placed {
			tracks = append(tracks, timeline.SpanTrack{Spans: []timeline.Span{spanOf(sp)}})
			lastEnd = append(lastEnd, sp.End)
		}
	}
	return tracks
}

func spanOf(sp storedSpan) timeline.Span {
	return timeline.Span{Begin: sp.Begin, End: sp.End, LabelHash: sp.LabelHash, Alpha: 255}
}
