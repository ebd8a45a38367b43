package timeline

import "fmt"

// TimeRange is a half-open interval [Begin, End) in nanoseconds.
// A range is valid when Begin < End.
type TimeRange struct {
	Begin int64 `json:"begin"`
	End   int64 `json:"end"`
}

// Width returns End - Begin. Negative for inverted ranges.
func (r TimeRange) Width() int64 {
	return r.End - r.Begin
}

// IsValid reports whether the range is non-empty and well-ordered.
func (r TimeRange) IsValid() bool {
	return r.Begin < r.End
}

// Contains reports whether t falls inside [Begin, End).
func (r TimeRange) Contains(t int64) bool {
	return t >= r.Begin && t < r.End
}

// Overlaps reports whether the two half-open ranges share any time.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Begin < o.End && o.Begin < r.End
}

// ContainsRange reports whether o is fully inside r.
func (r TimeRange) ContainsRange(o TimeRange) bool {
	return o.Begin >= r.Begin && o.End <= r.End
}

// Intersect returns the overlap of the two ranges. The second return value
// is false when the ranges are disjoint.
func (r TimeRange) Intersect(o TimeRange) (TimeRange, bool) {
	out := TimeRange{Begin: max64(r.Begin, o.Begin), End: min64(r.End, o.End)}
	if !out.IsValid() {
		return TimeRange{}, false
	}
	return out, true
}

// Union returns the smallest range covering both inputs.
func (r TimeRange) Union(o TimeRange) TimeRange {
	return TimeRange{Begin: min64(r.Begin, o.Begin), End: max64(r.End, o.End)}
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Begin, r.End)
}

// EntityKind discriminates the two stream shapes an entity can have.
type EntityKind int

const (
	// KindSpans is a thread of hierarchical call-stack spans.
	KindSpans EntityKind = iota
	// KindMetric is a scalar sample series.
	KindMetric
)

func (k EntityKind) String() string {
	switch k {
	case KindSpans:
		return "spans"
	case KindMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// Entity is an addressable stream of time-stamped data: a span thread or a
// metric series. Entities are created once per session and are immutable;
// the per-entity enabled flag lives in the viewport state.
type Entity struct {
	ID         string     `json:"id"`
	Kind       EntityKind `json:"kind"`
	TotalRange TimeRange  `json:"total_range"`
}

// Span is one recorded call event on a track. LabelHash identifies the
// scope label; merged spans produced by LOD reduction carry LabelHash 0
// and an Alpha proportional to how busy the merged interval was.
type Span struct {
	Begin     int64  `json:"begin"`
	End       int64  `json:"end"`
	LabelHash uint32 `json:"label_hash"`
	Alpha     uint8  `json:"alpha"`
}

// SpanTrack is one nesting level of a span block. Spans are sorted
// ascending by Begin and pairwise non-overlapping, so End is monotonic too.
type SpanTrack struct {
	Spans []Span `json:"spans"`
}

// Point is one metric sample.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Payload is the tagged variant carried by a block: span tracks for span
// threads, points for metric series. Validated at the fetch boundary.
type Payload interface {
	PayloadKind() EntityKind
}

// SpanPayload is the materialized representation of a span block at one LOD.
type SpanPayload struct {
	Tracks []SpanTrack `json:"tracks"`
}

func (SpanPayload) PayloadKind() EntityKind { return KindSpans }

// MetricPayload is the materialized representation of a metric block at one LOD.
type MetricPayload struct {
	Points []Point `json:"points"`
}

func (MetricPayload) PayloadKind() EntityKind { return KindMetric }

// Block is the atomic unit of fetched data: one entity, one LOD, one
// contiguous time sub-range.
type Block struct {
	ID       string    `json:"id"`
	EntityID string    `json:"entity_id"`
	Lod      int       `json:"lod"`
	Range    TimeRange `json:"range"`
	Payload  Payload   `json:"payload"`
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
