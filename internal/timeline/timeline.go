// Package timeline maps a playback time onto the cyclic image sequence.
package timeline

import "math"

// Position is the mapping of one instant onto the sequence.
type Position struct {
	Current  int     // index of the visible image
	Next     int     // index that follows Current, wrapping to 0
	Progress float64 // local progress inside Current's window, in [0, 1)
}

// Timeline is derived from the image count and the audio duration.
type Timeline struct {
	Count int
	Total float64
}

// PerImage returns the display window of a single image, 0 when empty.
func (t Timeline) PerImage() float64 {
	if t.Count <= 0 || t.Total <= 0 {
		return 0
	}
	return t.Total / float64(t.Count)
}

// Renderable reports whether At can produce positions.
func (t Timeline) Renderable() bool {
	return t.PerImage() > 0
}

func (t Timeline) At(seconds float64) (Position, bool) {
	return Map(seconds, t.Count, t.PerImage())
}

// Map returns the position of time t for count images each shown for
// perImage seconds. ok is false when the inputs cannot be rendered; callers
// must skip rendering instead of dividing by zero.
func Map(t float64, count int, perImage float64) (Position, bool) {
	if count <= 0 || perImage <= 0 || math.IsNaN(perImage) || math.IsInf(perImage, 0) {
		return Position{}, false
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return Position{}, false
	}
	if t < 0 {
		t = 0
	}

	slot := math.Floor(t / perImage)
	current := int(math.Mod(slot, float64(count)))
	progress := math.Mod(t, perImage) / perImage

	// Division rounding can land exactly on 1 just before a boundary.
	if progress >= 1 {
		progress = math.Nextafter(1, 0)
	}
	if progress < 0 {
		progress = 0
	}

	return Position{
		Current:  current,
		Next:     (current + 1) % count,
		Progress: progress,
	}, true
}
