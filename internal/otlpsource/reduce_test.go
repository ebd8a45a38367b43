package otlpsource

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timelens/timelens/internal/timeline"
)

func TestReduceTrackMergesWithinThreshold(t *testing.T) {
	spans := []timeline.Span{
		{Begin: 0, End: 10, LabelHash: 1, Alpha: 255},
		{Begin: 20, End: 30, LabelHash: 2, Alpha: 255},
		{Begin: 40, End: 50, LabelHash: 3, Alpha: 255},
		// Far away: starts a new accumulator.
		{Begin: 1000, End: 1010, LabelHash: 4, Alpha: 255},
	}
	out := reduceTrack(spans, 100)
	require.Len(t, out, 2)

	merged := out[0]
	assert.Equal(t, int64(0), merged.Begin)
	assert.Equal(t, int64(50), merged.End)
	assert.Equal(t, uint32(0), merged.LabelHash)
	// 30ns busy over a 50ns extent.
	want := uint8(math.Floor(math.Sqrt(30.0/50.0) * 255))
	assert.Equal(t, want, merged.Alpha)

	// The isolated span keeps its identity.
	assert.Equal(t, uint32(4), out[1].LabelHash)
	assert.Equal(t, uint8(255), out[1].Alpha)
}

func TestReduceTrackLeavesSparseSpansAlone(t *testing.T) {
	spans := []timeline.Span{
		{Begin: 0, End: 10, LabelHash: 1, Alpha: 255},
		{Begin: 500, End: 510, LabelHash: 2, Alpha: 255},
	}
	out := reduceTrack(spans, 100)
	assert.Equal(t, spans, out)
}

func TestReduceTrackEmpty(t *testing.T) {
	assert.Nil(t, reduceTrack(nil, 100))
}

func TestReduceTrackOutputDisjointSorted(t *testing.T) {
	var spans []timeline.Span
	for i := int64(0); i < 200; i++ {
		spans = append(spans, timeline.Span{Begin: i * 7, End: i*7 + 5, LabelHash: uint32(i + 1), Alpha: 255})
	}
	out := reduceTrack(spans, 50)
	require.NotEmpty(t, out)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].End, out[i].Begin)
	}
	// Reduction never extends past the raw data.
	assert.Equal(t, spans[0].Begin, out[0].Begin)
	assert.Equal(t, spans[len(spans)-1].End, out[len(out)-1].End)
}

func TestReduceSpanTracksPerTrack(t *testing.T) {
	tracks := []timeline.SpanTrack{
		{Spans: []timeline.Span{{Begin: 0, End: 10, LabelHash: 1}, {Begin: 20, End: 30, LabelHash: 2}}},
		{Spans: nil},
	}
	out := reduceSpanTracks(tracks, 100)
	require.Len(t, out, 2)
	assert.Len(t, out[0].Spans, 1)
	assert.Empty(t, out[1].Spans)
}

func TestReducePointsKeepsMaxima(t *testing.T) {
	points := []timeline.Point{
		{Time: 0, Value: 1},
		{Time: 10, Value: 9}, // peak of the first window
		{Time: 20, Value: 2},
		{Time: 120, Value: 3},
		{Time: 130, Value: 7}, // peak of the second window
		{Time: 140, Value: 4},
	}
	out := reducePoints(points, 100)
	require.NotEmpty(t, out)

	var values []float64
	for _, p := range out {
		values = append(values, p.Value)
	}
	assert.Contains(t, values, 9.0, "window peak must survive decimation")
	assert.Contains(t, values, 7.0, "trailing window peak must survive")
	assert.LessOrEqual(t, len(out), len(points))
}

func TestReducePointsTrailingFlush(t *testing.T) {
	points := []timeline.Point{
		{Time: 0, Value: 1},
		{Time: 10, Value: 2},
	}
	out := reducePoints(points, 1_000_000)
	require.Len(t, out, 1)
	// The flush lands at the last sample so the reduced series spans the
	// same interval as the raw one.
	assert.Equal(t, int64(10), out[0].Time)
	assert.Equal(t, 2.0, out[0].Value)
}

func TestReducePointsEmpty(t *testing.T) {
	assert.Nil(t, reducePoints(nil, 100))
}

func TestReducePointsSortedOutput(t *testing.T) {
	var points []timeline.Point
	for i := int64(0); i < 500; i++ {
		points = append(points, timeline.Point{Time: i * 13, Value: float64(i % 17)})
	}
	out := reducePoints(points, 100)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].Time, out[i].Time)
	}
}
