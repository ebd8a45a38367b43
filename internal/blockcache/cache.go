// Package blockcache tracks which time sub-ranges have already been fetched
// for each (entity, LOD) pair and stores the corresponding block payloads.
// It exists so that panning inside already-loaded bounds never re-fetches
// resident data. The cache only grows: it is scoped to one open session and
// reset wholesale when the session ends.
package blockcache

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/timelens/timelens/internal/timeline"
)

// ErrUnknownEntity is returned for queries against unregistered entities.
type ErrUnknownEntity struct {
	EntityID string
}

func (e *ErrUnknownEntity) Error() string {
	return fmt.Sprintf("unknown entity %q", e.EntityID)
}

type pairKey struct {
	entity string
	lod    int
}

type pairEntry struct {
	// coverage is sorted by Begin, pairwise disjoint, and coalesced:
	// adjacent covered ranges are merged on insert.
	coverage []timeline.TimeRange
	// blocks sorted by Range.Begin; one per fetched sub-range.
	blocks []*timeline.Block
}

// QueryResult partitions a requested range into resident blocks and
// coalesced missing sub-ranges that still need a fetch.
type QueryResult struct {
	Present []*timeline.Block
	Missing []timeline.TimeRange
}

// Cache is the per-session block store. Safe for concurrent use: gesture
// handling and fetch completions run on different goroutines.
type Cache struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	entities map[string]timeline.Entity
	pairs    map[pairKey]*pairEntry
}

// New creates an empty cache.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		logger:   logger,
		entities: make(map[string]timeline.Entity),
		pairs:    make(map[pairKey]*pairEntry),
	}
}

// RegisterEntity makes an entity known to the cache so inserted payloads
// can be validated against its kind. Re-registering the same ID is a no-op
// unless the kind changed, which is rejected.
func (c *Cache) RegisterEntity(ent timeline.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entities[ent.ID]; ok && prev.Kind != ent.Kind {
		return fmt.Errorf("entity %q re-registered with kind %s, was %s", ent.ID, ent.Kind, prev.Kind)
	}
	c.entities[ent.ID] = ent
	return nil
}

// Entity returns a registered entity by ID.
func (c *Cache) Entity(entityID string) (timeline.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.entities[entityID]
	return ent, ok
}

// Query partitions r into resident blocks and missing sub-ranges for one
// (entity, LOD) pair. Missing ranges are coalesced so the caller issues the
// minimum number of fetches. An invalid r is a caller bug and panics.
func (c *Cache) Query(entityID string, lod int, r timeline.TimeRange) (QueryResult, error) {
	if !r.IsValid() {
		panic(fmt.Sprintf("blockcache: invalid query range %s", r))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.entities[entityID]; !ok {
		return QueryResult{}, &ErrUnknownEntity{EntityID: entityID}
	}

	entry, ok := c.pairs[pairKey{entity: entityID, lod: lod}]
	if !ok {
		return QueryResult{Missing: []timeline.TimeRange{r}}, nil
	}

	var res QueryResult
	for _, b := range overlappingBlocks(entry.blocks, r) {
		res.Present = append(res.Present, b)
	}
	res.Missing = subtractCoverage(r, entry.coverage)
	return res, nil
}

// Coverage returns a copy of the covered ranges for one (entity, LOD) pair.
func (c *Cache) Coverage(entityID string, lod int) []timeline.TimeRange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.pairs[pairKey{entity: entityID, lod: lod}]
	if !ok {
		return nil
	}
	out := make([]timeline.TimeRange, len(entry.coverage))
	copy(out, entry.coverage)
	return out
}

// Insert merges a fetched block into the cache. Malformed payloads are
// rejected with a MalformedPayloadError and leave coverage untouched, so
// the range stays missing and a corrected fetch can be retried. Inserting
// the same block twice is idempotent; a block whose range covers an
// existing block replaces it (last write wins for that sub-range).
func (c *Cache) Insert(entityID string, lod int, block *timeline.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entities[entityID]
	if !ok {
		return &ErrUnknownEntity{EntityID: entityID}
	}

	if err := ValidateBlock(block, ent.Kind); err != nil {
		c.logger.Warn("rejecting malformed block",
			zap.String("entity", entityID),
			zap.Int("lod", lod),
			zap.Error(err))
		return err
	}

	key := pairKey{entity: entityID, lod: lod}
	entry, ok := c.pairs[key]
	if !ok {
		entry = &pairEntry{}
		c.pairs[key] = entry
	}

	// Drop resident blocks fully covered by the new one: the fresh payload
	// wins for that exact sub-range and spans must not be duplicated.
	kept := entry.blocks[:0]
	for _, b := range entry.blocks {
		if !block.Range.ContainsRange(b.Range) {
			kept = append(kept, b)
		}
	}
	entry.blocks = kept

	at := sort.Search(len(entry.blocks), func(i int) bool {
		return entry.blocks[i].Range.Begin >= block.Range.Begin
	})
	entry.blocks = append(entry.blocks, nil)
	copy(entry.blocks[at+1:], entry.blocks[at:])
	entry.blocks[at] = block

	entry.coverage = mergeCoverage(entry.coverage, block.Range)
	return nil
}

// Reset drops all blocks, coverage, and entities. Used when the session
// navigates away.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = make(map[string]timeline.Entity)
	c.pairs = make(map[pairKey]*pairEntry)
}

// overlappingBlocks returns the blocks intersecting r. blocks are sorted by
// Range.Begin but ranges of different blocks may have unordered ends, so
// only the tail cutoff is binary searched.
func overlappingBlocks(blocks []*timeline.Block, r timeline.TimeRange) []*timeline.Block {
	hi := sort.Search(len(blocks), func(i int) bool {
		return blocks[i].Range.Begin >= r.End
	})
	var out []*timeline.Block
	for _, b := range blocks[:hi] {
		if b.Range.Overlaps(r) {
			out = append(out, b)
		}
	}
	return out
}

// mergeCoverage unions r into a sorted, disjoint coverage list, coalescing
// adjacent and overlapping ranges into one.
func mergeCoverage(coverage []timeline.TimeRange, r timeline.TimeRange) []timeline.TimeRange {
	out := make([]timeline.TimeRange, 0, len(coverage)+1)
	inserted := false
	for _, c := range coverage {
		switch {
		case c.End < r.Begin:
			out = append(out, c)
		case r.End < c.Begin:
			if !inserted {
				out = append(out, r)
				inserted = true
			}
			out = append(out, c)
		default:
			// Touching or overlapping: absorb into r and keep scanning.
			r = r.Union(c)
		}
	}
	if !inserted {
		out = append(out, r)
	}
	return out
}

// subtractCoverage returns the parts of r not covered, coalesced and in
// ascending order.
func subtractCoverage(r timeline.TimeRange, coverage []timeline.TimeRange) []timeline.TimeRange {
	var missing []timeline.TimeRange
	cursor := r.Begin
	for _, c := range coverage {
		if c.End <= cursor {
			continue
		}
		if c.Begin >= r.End {
			break
		}
		if c.Begin > cursor {
			missing = append(missing, timeline.TimeRange{Begin: cursor, End: c.Begin})
		}
		if c.End > cursor {
			cursor = c.End
		}
	}
	if cursor < r.End {
		missing = append(missing, timeline.TimeRange{Begin: cursor, End: r.End})
	}
	return missing
}
