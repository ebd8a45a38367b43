package viewport

import (
	"github.com/timelens/timelens/internal/blockcache"
	"github.com/timelens/timelens/internal/fetch"
	"github.com/timelens/timelens/internal/timeline"
)

// VisibleData is the answer to a visibility query: the span tracks or
// metric points overlapping the requested window at one LOD, assembled
// from cached blocks. Spans within one track stay sorted and
// non-overlapping across block boundaries.
type VisibleData struct {
	EntityID string               `json:"entity_id"`
	Kind     timeline.EntityKind  `json:"kind"`
	Lod      int                  `json:"lod"`
	Tracks   []timeline.SpanTrack `json:"tracks,omitempty"`
	Points   []timeline.Point     `json:"points,omitempty"`
}

// QueryVisible returns the spans or points visible in r for one entity at
// the given LOD, using only data already resident in the cache. Missing
// sub-ranges simply contribute nothing; the fetch pipeline fills them
// out-of-band. Fully synchronous, never suspends.
func (s *Session) QueryVisible(entityID string, lod int, r timeline.TimeRange) (*VisibleData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.cache.Entity(entityID)
	if !ok {
		return nil, &blockcache.ErrUnknownEntity{EntityID: entityID}
	}
	if !s.enabled[entityID] {
		return nil, &ErrEntityDisabled{EntityID: entityID}
	}

	res, err := s.cache.Query(entityID, lod, r)
	if err != nil {
		return nil, err
	}

	out := &VisibleData{EntityID: entityID, Kind: ent.Kind, Lod: lod}
	switch ent.Kind {
	case timeline.KindSpans:
		out.Tracks = assembleTracks(res.Present, r)
	case timeline.KindMetric:
		out.Points = assemblePoints(res.Present, r)
	}
	return out, nil
}

// assembleTracks merges the visible window of every block into per-index
// tracks. Blocks arrive sorted by begin time; where two blocks overlap,
// spans already emitted win, so each track stays sorted and
// non-overlapping.
func assembleTracks(blocks []*timeline.Block, r timeline.TimeRange) []timeline.SpanTrack {
	var tracks []timeline.SpanTrack
	var lastEnd []int64

	for _, b := range blocks {
		payload, ok := b.Payload.(timeline.SpanPayload)
		if !ok {
			continue
		}
		for ti, track := range payload.Tracks {
			for len(tracks) <= ti {
				tracks = append(tracks, timeline.SpanTrack{})
				lastEnd = append(lastEnd, 0)
			}
			lo, hi := timeline.SpanWindow(track.Spans, r)
			for _, span := range track.Spans[lo:hi] {
				if len(tracks[ti].Spans) > 0 && span.Begin < lastEnd[ti] {
					continue
				}
				tracks[ti].Spans = append(tracks[ti].Spans, span)
				lastEnd[ti] = span.End
			}
		}
	}
	return tracks
}

// assemblePoints concatenates the visible window of every block. Blocks
// are sorted by begin time; points from an overlapping block are dropped
// when they precede what has already been emitted.
func assemblePoints(blocks []*timeline.Block, r timeline.TimeRange) []timeline.Point {
	var points []timeline.Point
	lastTime := int64(0)

	for _, b := range blocks {
		payload, ok := b.Payload.(timeline.MetricPayload)
		if !ok {
			continue
		}
		lo, hi := timeline.PointWindow(payload.Points, r)
		for _, p := range payload.Points[lo:hi] {
			if len(points) > 0 && p.Time < lastTime {
				continue
			}
			points = append(points, p)
			lastTime = p.Time
		}
	}
	return points
}

// FetchError surfaces a failed fetch for one (entity, LOD) pair.
type FetchError struct {
	EntityID string `json:"entity_id"`
	Lod      int    `json:"lod"`
	Message  string `json:"message"`
}

// EntityStatus pairs an entity with its viewport-level state.
type EntityStatus struct {
	Entity  timeline.Entity `json:"entity"`
	Enabled bool            `json:"enabled"`
	State   string          `json:"state"`
}

// Snapshot is a copy of the observable session state for pull-based
// readers (the websocket API serializes it to rendering clients).
type Snapshot struct {
	Ready          bool                `json:"ready"`
	Generation     uint64              `json:"generation"`
	View           timeline.TimeRange  `json:"view"`
	Selection      *timeline.TimeRange `json:"selection,omitempty"`
	Bounds         timeline.TimeRange  `json:"bounds"`
	Lod            int                 `json:"lod"`
	MergeThreshold int64               `json:"merge_threshold"`
	WidthPx        int                 `json:"width_px"`
	Entities       []EntityStatus      `json:"entities"`
	FetchErrors    []FetchError        `json:"fetch_errors,omitempty"`
}

// Snapshot captures the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Ready:          s.ready,
		Generation:     s.generation,
		View:           s.view,
		Bounds:         s.bounds,
		Lod:            s.lod,
		MergeThreshold: s.threshold,
		WidthPx:        s.widthPx,
	}
	if s.selection != nil {
		sel := *s.selection
		snap.Selection = &sel
	}
	for _, ent := range s.entities {
		snap.Entities = append(snap.Entities, EntityStatus{
			Entity:  ent,
			Enabled: s.enabled[ent.ID],
			State:   s.coord.State(ent.ID, s.lod).String(),
		})
		if err := s.coord.LastError(ent.ID, s.lod); err != nil {
			snap.FetchErrors = append(snap.FetchErrors, FetchError{
				EntityID: ent.ID,
				Lod:      s.lod,
				Message:  err.Error(),
			})
		}
	}
	return snap
}

// Coordinator exposes the fetch coordinator, mainly for tests and
// diagnostics.
func (s *Session) Coordinator() *fetch.Coordinator {
	return s.coord
}
