package timeline

import (
	"fmt"
	"time"
)

// LodTable maps detail levels to merge thresholds. thresholds[L] is the
// minimum time gap (ns) below which adjacent events are merged at level L.
// Level 0 is the finest (raw) representation; thresholds are strictly
// ascending so coarser levels always merge at least as aggressively.
type LodTable struct {
	thresholds []int64
}

// NewLodTable builds a table from per-level thresholds (index = level).
// The thresholds must be non-empty, positive, and strictly ascending.
func NewLodTable(thresholds []int64) (LodTable, error) {
	if len(thresholds) == 0 {
		return LodTable{}, fmt.Errorf("lod table needs at least one level")
	}
	prev := int64(0)
	for level, thr := range thresholds {
		if thr <= prev {
			return LodTable{}, fmt.Errorf("lod threshold at level %d (%dns) must exceed level %d (%dns)",
				level, thr, level-1, prev)
		}
		prev = thr
	}
	out := make([]int64, len(thresholds))
	copy(out, thresholds)
	return LodTable{thresholds: out}, nil
}

// DefaultLodTable mirrors the backend's pre-aggregation ladder, where the
// merge threshold at level L is 100^(L-2)/10 milliseconds.
func DefaultLodTable() LodTable {
	us := int64(time.Microsecond)
	ms := int64(time.Millisecond)
	table, err := NewLodTable([]int64{10, us, 100 * us, 10 * ms, 1000 * ms})
	if err != nil {
		panic(err)
	}
	return table
}

// Levels returns the number of detail levels.
func (t LodTable) Levels() int {
	return len(t.thresholds)
}

// Threshold returns the merge threshold for a level. Levels past the end of
// the table saturate at the coarsest threshold.
func (t LodTable) Threshold(level int) int64 {
	if level < 0 {
		panic(fmt.Sprintf("timeline: negative lod level %d", level))
	}
	if level >= len(t.thresholds) {
		return t.thresholds[len(t.thresholds)-1]
	}
	return t.thresholds[level]
}

// Select picks the detail level for a given time-per-pixel density: the
// smallest level whose merge threshold is at least timePerPixel, i.e. the
// coarsest level at which individual events are still resolvable. Densities
// beyond the coarsest threshold saturate at the last level. The result is a
// monotonic step function of timePerPixel.
func (t LodTable) Select(timePerPixel int64) (level int, mergeThreshold int64) {
	for i, thr := range t.thresholds {
		if thr >= timePerPixel {
			return i, thr
		}
	}
	last := len(t.thresholds) - 1
	return last, t.thresholds[last]
}
