package timeline

import "fmt"

// Zoom scales r around pivotTime by scaleFactor (< 1 zooms in, > 1 zooms
// out). The result keeps the pivot at the same relative position, never
// collapses below minWidth, never exceeds the width of bounds, and is
// translated back inside bounds if scaling pushed it out. bounds must be a
// valid range and minWidth must be positive.
func Zoom(r TimeRange, pivotTime int64, scaleFactor float64, bounds TimeRange, minWidth int64) TimeRange {
	if !bounds.IsValid() {
		panic(fmt.Sprintf("timeline: zoom bounds %s are invalid", bounds))
	}
	if minWidth <= 0 {
		panic("timeline: zoom minWidth must be positive")
	}
	if scaleFactor <= 0 {
		panic("timeline: zoom scaleFactor must be positive")
	}

	width := float64(r.Width()) * scaleFactor
	newWidth := int64(width)
	if newWidth < minWidth {
		newWidth = minWidth
	}
	if newWidth > bounds.Width() {
		newWidth = bounds.Width()
	}

	// Keep the pivot at the same fraction of the window.
	frac := 0.5
	if r.Width() > 0 {
		frac = float64(pivotTime-r.Begin) / float64(r.Width())
	}
	begin := pivotTime - int64(frac*float64(newWidth))

	return clampIntoBounds(TimeRange{Begin: begin, End: begin + newWidth}, bounds)
}

// Pan translates r by deltaTime, clamping to bounds while preserving the
// width. bounds must be valid.
func Pan(r TimeRange, deltaTime int64, bounds TimeRange) TimeRange {
	if !bounds.IsValid() {
		panic(fmt.Sprintf("timeline: pan bounds %s are invalid", bounds))
	}
	return clampIntoBounds(TimeRange{Begin: r.Begin + deltaTime, End: r.End + deltaTime}, bounds)
}

// clampIntoBounds translates r so it lies inside bounds, preserving width
// when it fits and shrinking to bounds when it does not.
func clampIntoBounds(r TimeRange, bounds TimeRange) TimeRange {
	if r.Width() >= bounds.Width() {
		return bounds
	}
	if r.Begin < bounds.Begin {
		w := r.Width()
		return TimeRange{Begin: bounds.Begin, End: bounds.Begin + w}
	}
	if r.End > bounds.End {
		w := r.Width()
		return TimeRange{Begin: bounds.End - w, End: bounds.End}
	}
	return r
}

// PixelToTime maps a horizontal pixel offset to a time inside r.
// widthPixels must be positive; violating that is a caller bug.
func PixelToTime(r TimeRange, pixelOffset float64, widthPixels int) int64 {
	if widthPixels <= 0 {
		panic("timeline: widthPixels must be positive")
	}
	return r.Begin + int64(pixelOffset/float64(widthPixels)*float64(r.Width()))
}

// TimeToPixel is the inverse of PixelToTime.
func TimeToPixel(r TimeRange, t int64, widthPixels int) float64 {
	if widthPixels <= 0 {
		panic("timeline: widthPixels must be positive")
	}
	if r.Width() == 0 {
		return 0
	}
	return float64(t-r.Begin) / float64(r.Width()) * float64(widthPixels)
}
