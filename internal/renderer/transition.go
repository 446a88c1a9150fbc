package renderer

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Kind selects how one image hands over to the next.
type Kind string

const (
	Fade  Kind = "fade"
	Slide Kind = "slide"
	Zoom  Kind = "zoom"
	None  Kind = "none"
)

// Kinds lists every supported transition.
var Kinds = []Kind{Fade, Slide, Zoom, None}

// ParseKind accepts a transition name in any letter case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transition %q", s)
}

// WindowStart is the local progress at which the transition begins.
const WindowStart = 0.8

// Blend maps local progress to transition progress: 0 before the window,
// then linear up to 1 at the end of the image's slot.
func Blend(progress float64) float64 {
	if progress <= WindowStart {
		return 0
	}
	b := (progress - WindowStart) / (1 - WindowStart)
	return math.Min(b, 1)
}

// CoverRect places an imgW x imgH picture so that it fills a W x H canvas
// while keeping its aspect ratio. The result may extend past the canvas.
func CoverRect(W, H, imgW, imgH int) image.Rectangle {
	if imgW <= 0 || imgH <= 0 {
		return image.Rect(0, 0, W, H)
	}
	scale := math.Max(float64(W)/float64(imgW), float64(H)/float64(imgH))
	sw := float64(imgW) * scale
	sh := float64(imgH) * scale
	x := float64(W)/2 - sw/2
	y := float64(H)/2 - sh/2
	return image.Rect(
		int(math.Round(x)), int(math.Round(y)),
		int(math.Round(x+sw)), int(math.Round(y+sh)),
	)
}
