package blockcache

import (
	"fmt"

	"github.com/timelens/timelens/internal/timeline"
)

// MalformedPayloadError describes a block payload rejected at the fetch
// boundary: wrong kind, unsorted data, negative durations, or overlapping
// spans on one track.
type MalformedPayloadError struct {
	BlockID string
	Reason  string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed block %q: %s", e.BlockID, e.Reason)
}

func malformed(blockID, format string, args ...any) error {
	return &MalformedPayloadError{BlockID: blockID, Reason: fmt.Sprintf(format, args...)}
}

// ValidateBlock checks the invariants a block must satisfy before it may
// enter the cache: a valid time range, a payload tagged with the entity's
// kind, spans sorted ascending by start and pairwise non-overlapping per
// track with non-negative durations, and points sorted ascending by time.
func ValidateBlock(block *timeline.Block, kind timeline.EntityKind) error {
	if block == nil {
		return malformed("", "nil block")
	}
	if !block.Range.IsValid() {
		return malformed(block.ID, "invalid range %s", block.Range)
	}
	if block.Lod < 0 {
		return malformed(block.ID, "negative lod %d", block.Lod)
	}
	if block.Payload == nil {
		return malformed(block.ID, "nil payload")
	}
	if block.Payload.PayloadKind() != kind {
		return malformed(block.ID, "payload kind %s does not match entity kind %s",
			block.Payload.PayloadKind(), kind)
	}

	switch p := block.Payload.(type) {
	case timeline.SpanPayload:
		return validateTracks(block.ID, p.Tracks)
	case timeline.MetricPayload:
		return validatePoints(block.ID, p.Points)
	default:
		return malformed(block.ID, "unsupported payload type %T", block.Payload)
	}
}

func validateTracks(blockID string, tracks []timeline.SpanTrack) error {
	for ti, track := range tracks {
		prevEnd := int64(0)
		for si, s := range track.Spans {
			if s.End < s.Begin {
				return malformed(blockID, "track %d span %d has negative duration (%d > %d)",
					ti, si, s.Begin, s.End)
			}
			if si > 0 {
				if s.Begin < track.Spans[si-1].Begin {
					return malformed(blockID, "track %d span %d out of order", ti, si)
				}
				if s.Begin < prevEnd {
					return malformed(blockID, "track %d span %d overlaps its predecessor", ti, si)
				}
			}
			prevEnd = s.End
		}
	}
	return nil
}

func validatePoints(blockID string, points []timeline.Point) error {
	for i := 1; i < len(points); i++ {
		if points[i].Time < points[i-1].Time {
			return malformed(blockID, "point %d out of order", i)
		}
	}
	return nil
}
