// Package viewport owns the externally observable state of one open
// visualization session: the current view range, selection, detail level,
// per-entity enablement, and readiness. Every mutating entry point runs an
// explicit recompute step in a fixed order (clamp -> LOD -> missing ranges
// -> fetch -> notify) so the pipeline stays deterministic without a UI
// runtime. Fetches are asynchronous; mutations return immediately.
package viewport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/timelens/timelens/internal/blockcache"
	"github.com/timelens/timelens/internal/fetch"
	"github.com/timelens/timelens/internal/timeline"
)

// ErrEntityDisabled is returned when a disabled entity is queried.
type ErrEntityDisabled struct {
	EntityID string
}

func (e *ErrEntityDisabled) Error() string {
	return fmt.Sprintf("entity %q is disabled", e.EntityID)
}

// Config tunes a session.
type Config struct {
	// LodTable maps detail levels to merge thresholds.
	LodTable timeline.LodTable
	// WidthPx is the initial viewport width in pixels.
	WidthPx int
	// MinViewWidth is the zoom-in floor in nanoseconds. Zero means one
	// nanosecond per pixel at the current viewport width.
	MinViewWidth int64
}

// Session is the aggregate read by the rendering layer. One session per
// open visualization; all mutation goes through its entry points.
type Session struct {
	logger *zap.Logger
	source fetch.Source
	cache  *blockcache.Cache
	coord  *fetch.Coordinator

	mu           sync.Mutex
	lodTable     timeline.LodTable
	widthPx      int
	minViewWidth int64
	view         timeline.TimeRange
	selection    *timeline.TimeRange
	lod          int
	threshold    int64
	bounds       timeline.TimeRange
	entities     []timeline.Entity
	enabled      map[string]bool
	ready        bool
	userView     bool
	generation   uint64

	subscriberMu sync.Mutex
	subscribers  map[uint64]chan struct{}
	nextSubID    uint64
}

// NewSession wires a session around a data source. The block cache and
// fetch coordinator are owned by the session; nothing is fetched until
// Init runs.
func NewSession(source fetch.Source, logger *zap.Logger, cfg Config) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LodTable.Levels() == 0 {
		cfg.LodTable = timeline.DefaultLodTable()
	}
	if cfg.WidthPx <= 0 {
		cfg.WidthPx = 1000
	}

	s := &Session{
		logger:       logger,
		source:       source,
		lodTable:     cfg.LodTable,
		widthPx:      cfg.WidthPx,
		minViewWidth: cfg.MinViewWidth,
		enabled:      make(map[string]bool),
		subscribers:  make(map[uint64]chan struct{}),
	}
	s.cache = blockcache.New(logger)
	s.coord = fetch.New(s.cache, source, logger, s.onFetchEvent)
	return s
}

// Init performs the initial entity enumeration. The session becomes ready
// once the total-range metadata has loaded.
func (s *Session) Init(ctx context.Context) error {
	return s.RefreshEntities(ctx)
}

// RefreshEntities re-enumerates entities from the source. Known entities
// keep their enabled flag; new ones start enabled. The overall bounds are
// recomputed and, while the user has not chosen an explicit view, the view
// follows the bounds.
func (s *Session) RefreshEntities(ctx context.Context) error {
	ents, err := s.source.EnumerateEntities(ctx)
	if err != nil {
		return fmt.Errorf("enumerate entities: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = ents
	var bounds timeline.TimeRange
	first := true
	for _, ent := range ents {
		if err := s.cache.RegisterEntity(ent); err != nil {
			return err
		}
		if _, known := s.enabled[ent.ID]; !known {
			s.enabled[ent.ID] = true
		}
		if !ent.TotalRange.IsValid() {
			continue
		}
		if first {
			bounds = ent.TotalRange
			first = false
		} else {
			bounds = bounds.Union(ent.TotalRange)
		}
	}
	s.bounds = bounds
	if !s.userView && bounds.IsValid() {
		s.view = bounds
	}
	s.ready = true
	s.recompute(ctx)
	return nil
}

// GetViewRange returns the current view range.
func (s *Session) GetViewRange() timeline.TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SetViewRange replaces the view range. An invalid range is a caller bug.
func (s *Session) SetViewRange(ctx context.Context, r timeline.TimeRange) {
	if !r.IsValid() {
		panic(fmt.Sprintf("viewport: invalid view range %s", r))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = r
	s.userView = true
	s.recompute(ctx)
}

// SetViewportWidth updates the pixel width used for LOD selection.
// A non-positive width is a caller bug.
func (s *Session) SetViewportWidth(ctx context.Context, px int) {
	if px <= 0 {
		panic(fmt.Sprintf("viewport: invalid width %dpx", px))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widthPx = px
	s.recompute(ctx)
}

// OnZoomGesture scales the view around the time under the cursor.
func (s *Session) OnZoomGesture(ctx context.Context, pivotTime int64, scaleFactor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bounds.IsValid() {
		return
	}
	if !s.view.IsValid() {
		s.view = s.bounds
	}
	s.view = timeline.Zoom(s.view, pivotTime, scaleFactor, s.bounds, s.zoomFloor())
	s.userView = true
	s.recompute(ctx)
}

// OnPanGesture translates the view, clamped to the bounds.
func (s *Session) OnPanGesture(ctx context.Context, deltaTime int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bounds.IsValid() || !s.view.IsValid() {
		return
	}
	s.view = timeline.Pan(s.view, deltaTime, s.bounds)
	s.userView = true
	s.recompute(ctx)
}

// GetSelection returns the selection, or nil when none exists.
func (s *Session) GetSelection() *timeline.TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return nil
	}
	sel := *s.selection
	return &sel
}

// SetSelection stores a user-chosen sub-interval of the view. The stored
// selection is clipped to the view; a selection entirely outside it clears
// instead. An inverted range is a caller bug.
func (s *Session) SetSelection(ctx context.Context, r timeline.TimeRange) {
	if !r.IsValid() {
		panic(fmt.Sprintf("viewport: invalid selection %s", r))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if clipped, ok := r.Intersect(s.view); ok {
		s.selection = &clipped
	} else {
		s.selection = nil
	}
	s.recompute(ctx)
}

// ClearSelection removes the selection (escape action).
func (s *Session) ClearSelection(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
	s.recompute(ctx)
}

// SetEntityEnabled toggles one entity. Disabled entities are never fetched
// or queried.
func (s *Session) SetEntityEnabled(ctx context.Context, entityID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enabled[entityID]; !ok {
		return &blockcache.ErrUnknownEntity{EntityID: entityID}
	}
	s.enabled[entityID] = enabled
	s.recompute(ctx)
	return nil
}

// SetLodTable swaps the detail-level table (config hot reload) and
// recomputes the pipeline under the new thresholds.
func (s *Session) SetLodTable(ctx context.Context, table timeline.LodTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lodTable = table
	s.recompute(ctx)
}

// zoomFloor is the minimum view width: one pixel's worth of time at
// maximum zoom-in unless configured explicitly.
func (s *Session) zoomFloor() int64 {
	if s.minViewWidth > 0 {
		return s.minViewWidth
	}
	if s.widthPx > 0 {
		return int64(s.widthPx)
	}
	return 1
}

// recompute runs the deterministic update pipeline with s.mu held:
// clamp the view, re-select the LOD, kick fetches for the missing parts of
// every enabled entity, then notify subscribers. Re-selecting the same LOD
// for the same view is idempotent: residency checks and in-flight
// suppression in the coordinator prevent refetches.
func (s *Session) recompute(ctx context.Context) {
	if s.bounds.IsValid() && s.view.IsValid() {
		s.view = timeline.Pan(s.view, 0, s.bounds)
	}

	if s.view.IsValid() && s.widthPx > 0 {
		tpp := s.view.Width() / int64(s.widthPx)
		if tpp < 1 {
			tpp = 1
		}
		s.lod, s.threshold = s.lodTable.Select(tpp)
	}

	if s.view.IsValid() {
		for _, ent := range s.entities {
			if !s.enabled[ent.ID] {
				continue
			}
			visible, ok := s.view.Intersect(ent.TotalRange)
			if !ok {
				continue
			}
			if _, err := s.coord.EnsureVisible(ctx, ent.ID, s.lod, visible); err != nil {
				s.logger.Warn("ensure visible", zap.String("entity", ent.ID), zap.Error(err))
			}
		}
	}

	s.generation++
	s.notifySubscribers()
}

// onFetchEvent is invoked by the coordinator when a fetch completes
// out-of-band. Late results for ranges the user has already moved away
// from are merged like any other: still-valid data for future use.
func (s *Session) onFetchEvent(ev fetch.Event) {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()

	if ev.Err != nil {
		s.logger.Warn("fetch event",
			zap.String("entity", ev.EntityID),
			zap.Int("lod", ev.Lod),
			zap.Error(ev.Err))
	}
	s.notifySubscribers()
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel receives a signal whenever the observable state changes (new
// data arrived, LOD changed, fetch failed). It is buffered with capacity 1
// to coalesce rapid updates.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	id := s.nextSubID
	s.nextSubID++

	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	unsubscribe := func() {
		s.subscriberMu.Lock()
		defer s.subscriberMu.Unlock()
		delete(s.subscribers, id)
	}
	return ch, unsubscribe
}

func (s *Session) notifySubscribers() {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// A notification is already pending; coalesce.
		}
	}
}

// Close drops all cached data. The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Reset()
	s.entities = nil
	s.enabled = make(map[string]bool)
	s.ready = false
}
