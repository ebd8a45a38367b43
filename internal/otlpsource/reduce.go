package otlpsource

import (
	"math"

	"github.com/timelens/timelens/internal/timeline"
)

// reduceSpanTracks builds the coarser representation of a span payload:
// every track is reduced independently with the same merge threshold.
func reduceSpanTracks(tracks []timeline.SpanTrack, threshold int64) []timeline.SpanTrack {
	out := make([]timeline.SpanTrack, 0, len(tracks))
	for _, track := range tracks {
		out = append(out, timeline.SpanTrack{Spans: reduceTrack(track.Spans, threshold)})
	}
	return out
}

// reduceTrack merges runs of adjacent spans that fit inside the merge
// threshold. A merged span loses its label (hash 0) and gets an alpha
// encoding how busy the merged interval was: sqrt of the occupied
// fraction, scaled to 255. Isolated spans keep their label and stay fully
// opaque.
func reduceTrack(spans []timeline.Span, threshold int64) []timeline.Span {
	if len(spans) == 0 {
		return nil
	}

	out := make([]timeline.Span, 0, len(spans))
	acc := spans[0]
	busy := acc.End - acc.Begin
	for _, span := range spans[1:] {
		if span.End-acc.Begin > threshold {
			out = append(out, seal(acc, busy))
			acc = span
			busy = span.End - span.Begin
		} else {
			acc.LabelHash = 0
			acc.End = span.End
			busy += span.End - span.Begin
		}
	}
	return append(out, seal(acc, busy))
}

// seal finalizes an accumulated span with its occupancy alpha.
func seal(acc timeline.Span, busy int64) timeline.Span {
	extent := acc.End - acc.Begin
	if extent <= 0 {
		acc.Alpha = 255
		return acc
	}
	occupancy := math.Sqrt(float64(busy) / float64(extent))
	if occupancy > 1 {
		occupancy = 1
	}
	acc.Alpha = uint8(math.Floor(occupancy * 255))
	return acc
}

// reducePoints decimates a sample series: within each window of
// accumulated gaps exceeding the threshold, only the maximum value
// survives. Peaks stay visible at any zoom level; the trailing window is
// flushed at the last sample's time so coverage never ends early.
func reducePoints(points []timeline.Point, threshold int64) []timeline.Point {
	if len(points) == 0 {
		return nil
	}

	var out []timeline.Point
	maxValue := math.Inf(-1)
	gap := int64(0)
	for i := 0; i < len(points)-1; i++ {
		p := points[i]
		if p.Value > maxValue {
			maxValue = p.Value
		}
		gap += points[i+1].Time - p.Time
		if gap > threshold {
			out = append(out, timeline.Point{Time: p.Time, Value: maxValue})
			maxValue = math.Inf(-1)
			gap = 0
		}
	}

	last := points[len(points)-1]
	if last.Value > maxValue {
		maxValue = last.Value
	}
	return append(out, timeline.Point{Time: last.Time, Value: maxValue})
}
