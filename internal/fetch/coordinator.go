// Package fetch decides what data is missing for the current viewport and
// LOD, issues batched fetches to the backend, and merges results into the
// block cache. Ranges already being fetched count as provisional coverage,
// so rapid zoom/pan gestures produce one request per distinct gap, not one
// per input event, and the ranges in flight for a pair never overlap.
package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/timelens/timelens/internal/blockcache"
	"github.com/timelens/timelens/internal/timeline"
)

// Source is the external data-fetch collaborator. FetchBlocks accepts a
// batch of coalesced missing ranges and returns one block per range; it may
// be called concurrently for different (entity, LOD) pairs.
type Source interface {
	EnumerateEntities(ctx context.Context) ([]timeline.Entity, error)
	FetchBlocks(ctx context.Context, entityID string, lod int, ranges []timeline.TimeRange) ([]*timeline.Block, error)
}

// PairState is the fetch state of one (entity, LOD) pair.
type PairState int

const (
	// Idle means nothing is in flight for the pair.
	Idle PairState = iota
	// Fetching means at least one range fetch is in flight.
	Fetching
	// FetchFailed means the most recent fetch for the pair failed. The
	// pair is fetchable again on the next viewport change touching it.
	FetchFailed
)

func (s PairState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case FetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

// EventType tags coordinator events delivered to the listener.
type EventType int

const (
	// DataArrived means new blocks were inserted into the cache.
	DataArrived EventType = iota
	// FetchFailedEvent means a fetch errored or returned malformed data.
	FetchFailedEvent
)

// Event describes the outcome of a fetch for a set of ranges. A fetch call
// that partially succeeds produces two events: DataArrived for the ranges
// whose blocks were merged, FetchFailedEvent for the ranges that were not.
type Event struct {
	Type     EventType
	EntityID string
	Lod      int
	Ranges   []timeline.TimeRange
	Err      error
}

type pairKey struct {
	entity string
	lod    int
}

// Coordinator runs the Idle -> Fetching -> Idle state machine per
// (entity, LOD) pair. Fetches run on their own goroutines and complete
// out-of-band. Per pair it keeps the sorted, pairwise-disjoint set of
// ranges currently being fetched; missing ranges are cut against that set
// before a fetch is issued, so the union of everything ever handed to the
// backend for one pair is disjoint.
type Coordinator struct {
	cache   *blockcache.Cache
	source  Source
	logger  *zap.Logger
	onEvent func(Event)

	mu       sync.Mutex
	states   map[pairKey]PairState
	pending  map[pairKey]int // in-flight fetch calls per pair
	inflight map[pairKey][]timeline.TimeRange
	lastErr  map[pairKey]error
}

// New creates a coordinator. onEvent is invoked (without internal locks
// held) for each completed fetch outcome; it may be nil.
func New(cache *blockcache.Cache, source Source, logger *zap.Logger, onEvent func(Event)) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Coordinator{
		cache:    cache,
		source:   source,
		logger:   logger,
		onEvent:  onEvent,
		states:   make(map[pairKey]PairState),
		pending:  make(map[pairKey]int),
		inflight: make(map[pairKey][]timeline.TimeRange),
		lastErr:  make(map[pairKey]error),
	}
}

// EnsureVisible makes sure the given view range is resident (or being
// fetched) for one (entity, LOD) pair. It computes the missing sub-ranges
// from the cache, subtracts the parts already in flight, and issues at most
// one batched fetch call for the remainder. Returns the number of ranges a
// new fetch was issued for. Never blocks on the network.
func (c *Coordinator) EnsureVisible(ctx context.Context, entityID string, lod int, view timeline.TimeRange) (int, error) {
	res, err := c.cache.Query(entityID, lod, view)
	if err != nil {
		return 0, fmt.Errorf("cache query: %w", err)
	}
	if len(res.Missing) == 0 {
		return 0, nil
	}

	pair := pairKey{entity: entityID, lod: lod}

	c.mu.Lock()
	busy := c.inflight[pair]
	var toFetch []timeline.TimeRange
	for _, r := range res.Missing {
		toFetch = append(toFetch, subtractInFlight(r, busy)...)
	}
	if len(toFetch) == 0 {
		c.mu.Unlock()
		return 0, nil
	}
	merged := append(busy[:len(busy):len(busy)], toFetch...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Begin < merged[j].Begin })
	c.inflight[pair] = merged
	c.states[pair] = Fetching
	c.pending[pair]++
	c.mu.Unlock()

	go c.fetch(ctx, pair, toFetch)
	return len(toFetch), nil
}

// subtractInFlight returns the parts of r not covered by busy, which is
// sorted by begin and pairwise disjoint.
func subtractInFlight(r timeline.TimeRange, busy []timeline.TimeRange) []timeline.TimeRange {
	var out []timeline.TimeRange
	cursor := r.Begin
	for _, b := range busy {
		if b.End <= cursor {
			continue
		}
		if b.Begin >= r.End {
			break
		}
		if b.Begin > cursor {
			out = append(out, timeline.TimeRange{Begin: cursor, End: b.Begin})
		}
		if b.End > cursor {
			cursor = b.End
		}
	}
	if cursor < r.End {
		out = append(out, timeline.TimeRange{Begin: cursor, End: r.End})
	}
	return out
}

// removeRanges drops the exact entries in done from list, preserving order.
func removeRanges(list, done []timeline.TimeRange) []timeline.TimeRange {
	out := list[:0]
	for _, r := range list {
		finished := false
		for _, d := range done {
			if r == d {
				finished = true
				break
			}
		}
		if !finished {
			out = append(out, r)
		}
	}
	return out
}

// fetch performs one batched fetch call and merges the results. Outcomes
// are reported per range: blocks that merged cleanly arrive in a
// DataArrived event, ranges whose fetch or merge failed in a
// FetchFailedEvent carrying only those ranges.
func (c *Coordinator) fetch(ctx context.Context, pair pairKey, ranges []timeline.TimeRange) {
	blocks, err := c.source.FetchBlocks(ctx, pair.entity, pair.lod, ranges)

	var arrived, failed []timeline.TimeRange
	if err != nil {
		failed = ranges
		c.logger.Warn("fetch failed",
			zap.String("entity", pair.entity),
			zap.Int("lod", pair.lod),
			zap.Int("ranges", len(ranges)),
			zap.Error(err))
	} else {
		for _, b := range blocks {
			if insertErr := c.cache.Insert(pair.entity, pair.lod, b); insertErr != nil {
				// Malformed payloads were not merged; their range stays
				// missing so a corrected fetch can be retried later.
				failed = append(failed, b.Range)
				err = insertErr
			} else {
				arrived = append(arrived, b.Range)
			}
		}
	}

	c.mu.Lock()
	c.inflight[pair] = removeRanges(c.inflight[pair], ranges)
	if len(c.inflight[pair]) == 0 {
		delete(c.inflight, pair)
	}
	c.pending[pair]--
	c.lastErr[pair] = err
	if c.pending[pair] > 0 {
		c.states[pair] = Fetching
	} else if err != nil {
		c.states[pair] = FetchFailed
	} else {
		c.states[pair] = Idle
	}
	c.mu.Unlock()

	if err == nil || len(arrived) > 0 {
		c.onEvent(Event{Type: DataArrived, EntityID: pair.entity, Lod: pair.lod, Ranges: arrived})
	}
	if err != nil {
		c.onEvent(Event{Type: FetchFailedEvent, EntityID: pair.entity, Lod: pair.lod, Ranges: failed, Err: err})
	}
}

// State returns the current state of one (entity, LOD) pair.
func (c *Coordinator) State(entityID string, lod int) PairState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[pairKey{entity: entityID, lod: lod}]
}

// LastError returns the error recorded by the most recent fetch for the
// pair, or nil.
func (c *Coordinator) LastError(entityID string, lod int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr[pairKey{entity: entityID, lod: lod}]
}

// InFlight returns the number of range fetches currently in flight across
// all pairs.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ranges := range c.inflight {
		n += len(ranges)
	}
	return n
}
