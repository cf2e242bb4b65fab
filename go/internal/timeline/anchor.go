// Package timeline converts between seconds elapsed into a track and wall-clock
// anchors that can be shared between machines whose clocks are not synchronized.
package timeline

import (
	"math"
	"time"
)

// Anchor pins a playback position to the wall-clock instant it was true.
type Anchor struct {
	WallTime time.Time `json:"wall_time"`
	Position float64   `json:"position"`
}

// NewAnchor is called whenever playback transitions into the playing state.
func NewAnchor(now time.Time, position float64) Anchor {
	return Anchor{WallTime: now, Position: clampPosition(position)}
}

// Position returns the playback position of a at now, in seconds.
func Position(a Anchor, now time.Time) float64 {
	pos, _ := PositionChecked(a, now)
	return pos
}

// PositionChecked is Position but reports false when now precedes the anchor's
// wall time. In that case the anchor position is returned unchanged.
func PositionChecked(a Anchor, now time.Time) (float64, bool) {
	elapsed := now.Sub(a.WallTime).Seconds()
	if elapsed < 0 || math.IsNaN(elapsed) {
		return clampPosition(a.Position), false
	}
	return clampPosition(a.Position + elapsed), true
}

// Rebase returns an anchor at now describing the same timeline as a.
func Rebase(a Anchor, now time.Time) Anchor {
	return NewAnchor(now, Position(a, now))
}

// ToMillis returns t as Unix milliseconds, the wire format for anchor wall times.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of ToMillis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Drift returns how far local is from target, in seconds, always >= 0.
func Drift(local, target float64) float64 {
	return math.Abs(local - target)
}

func clampPosition(p float64) float64 {
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	return p
}
