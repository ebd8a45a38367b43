package timeline

import (
	"fmt"
	"sort"
)

// SpanWindow returns the minimal index window [lo, hi) of spans overlapping
// the query range: exactly the spans with End >= q.Begin and Begin < q.End.
// spans must be sorted ascending by Begin and pairwise non-overlapping (the
// track invariant), which makes End monotonic and both bounds binary
// searchable. An inverted query range is a caller bug and panics.
func SpanWindow(spans []Span, q TimeRange) (lo, hi int) {
	if q.Begin > q.End {
		panic(fmt.Sprintf("timeline: inverted query range %s", q))
	}
	lo = sort.Search(len(spans), func(i int) bool { return spans[i].End >= q.Begin })
	hi = sort.Search(len(spans), func(i int) bool { return spans[i].Begin >= q.End })
	if hi < lo {
		// Only reachable when the track invariant is violated.
		hi = lo
	}
	return lo, hi
}

// PointWindow returns the minimal index window [lo, hi) of points inside
// [q.Begin, q.End). points must be sorted ascending by Time. An inverted
// query range is a caller bug and panics.
func PointWindow(points []Point, q TimeRange) (lo, hi int) {
	if q.Begin > q.End {
		panic(fmt.Sprintf("timeline: inverted query range %s", q))
	}
	lo = sort.Search(len(points), func(i int) bool { return points[i].Time >= q.Begin })
	hi = sort.Search(len(points), func(i int) bool { return points[i].Time >= q.End })
	return lo, hi
}
