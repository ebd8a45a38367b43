package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var bounds = TimeRange{Begin: 0, End: 10_000}

func TestZoomInKeepsPivot(t *testing.T) {
	r := TimeRange{Begin: 0, End: 1000}

	// Zoom in 2x around the midpoint.
	out := Zoom(r, 500, 0.5, bounds, 1)
	assert.Equal(t, int64(500), out.Width())
	assert.Equal(t, int64(250), out.Begin)
	assert.Equal(t, int64(750), out.End)
}

func TestZoomOutClampsToBounds(t *testing.T) {
	r := TimeRange{Begin: 0, End: 1000}

	// Zooming out far beyond the bounds saturates at the full range.
	out := Zoom(r, 500, 100, bounds, 1)
	assert.Equal(t, bounds, out)
}

func TestZoomRespectsMinWidth(t *testing.T) {
	r := TimeRange{Begin: 100, End: 200}

	out := Zoom(r, 150, 0.0001, bounds, 50)
	assert.Equal(t, int64(50), out.Width())
	assert.True(t, bounds.ContainsRange(out))
}

func TestZoomNearEdgeStaysInBounds(t *testing.T) {
	r := TimeRange{Begin: 0, End: 100}

	// Pivot at the left edge, zooming out: the window must not escape the
	// lower bound.
	out := Zoom(r, 0, 2, bounds, 1)
	assert.Equal(t, int64(0), out.Begin)
	assert.Equal(t, int64(200), out.Width())
}

func TestZoomContractViolations(t *testing.T) {
	r := TimeRange{Begin: 0, End: 100}
	assert.Panics(t, func() { Zoom(r, 50, 0.5, TimeRange{Begin: 5, End: 5}, 1) })
	assert.Panics(t, func() { Zoom(r, 50, 0.5, bounds, 0) })
	assert.Panics(t, func() { Zoom(r, 50, -1, bounds, 1) })
}

func TestPanClampsAtBoundary(t *testing.T) {
	r := TimeRange{Begin: 0, End: 500}

	out := Pan(r, 200, bounds)
	assert.Equal(t, TimeRange{Begin: 200, End: 700}, out)

	// Panning past the upper bound clamps, preserving the width.
	out = Pan(r, 99_999, bounds)
	assert.Equal(t, TimeRange{Begin: 9_500, End: 10_000}, out)

	// Panning past the lower bound clamps too.
	out = Pan(out, -99_999, bounds)
	assert.Equal(t, TimeRange{Begin: 0, End: 500}, out)
}

func TestPixelTimeRoundTrip(t *testing.T) {
	r := TimeRange{Begin: 1000, End: 2000}

	assert.Equal(t, int64(1000), PixelToTime(r, 0, 1000))
	assert.Equal(t, int64(1500), PixelToTime(r, 500, 1000))
	assert.InDelta(t, 500.0, TimeToPixel(r, 1500, 1000), 0.001)

	assert.Panics(t, func() { PixelToTime(r, 10, 0) })
	assert.Panics(t, func() { TimeToPixel(r, 1500, -1) })
}

func TestTimeRangeHelpers(t *testing.T) {
	a := TimeRange{Begin: 0, End: 10}
	b := TimeRange{Begin: 5, End: 15}
	c := TimeRange{Begin: 20, End: 30}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))

	got, ok := a.Intersect(b)
	assert.True(t, ok)
	assert.Equal(t, TimeRange{Begin: 5, End: 10}, got)

	_, ok = a.Intersect(c)
	assert.False(t, ok)

	assert.Equal(t, TimeRange{Begin: 0, End: 15}, a.Union(b))
	assert.True(t, a.Contains(0))
	assert.False(t, a.Contains(10))
	assert.False(t, TimeRange{Begin: 3, End: 3}.IsValid())
}
