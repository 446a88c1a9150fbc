package renderer

import (
	"image"
	"math"
)

// layer is one picture placed on the canvas for a single frame.
type layer struct {
	rect  image.Rectangle
	alpha float64
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// shift moves r horizontally by dx pixels.
func shift(r image.Rectangle, dx float64) image.Rectangle {
	return r.Add(image.Pt(int(math.Round(dx)), 0))
}

// scaleAbout grows r by factor s keeping the point f fixed.
func scaleAbout(r image.Rectangle, f image.Point, s float64) image.Rectangle {
	fx, fy := float64(f.X), float64(f.Y)
	return image.Rect(
		int(math.Round(fx+(float64(r.Min.X)-fx)*s)),
		int(math.Round(fy+(float64(r.Min.Y)-fy)*s)),
		int(math.Round(fx+(float64(r.Max.X)-fx)*s)),
		int(math.Round(fy+(float64(r.Max.Y)-fy)*s)),
	)
}

// focusOnCanvas maps a focal point from image space into the cover rect.
func focusOnCanvas(r image.Rectangle, imgW, imgH int, focus image.Point) image.Point {
	if imgW <= 0 || imgH <= 0 {
		return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
	}
	sx := float64(r.Dx()) / float64(imgW)
	sy := float64(r.Dy()) / float64(imgH)
	return image.Pt(
		r.Min.X+int(math.Round(float64(focus.X)*sx)),
		r.Min.Y+int(math.Round(float64(focus.Y)*sy)),
	)
}

// ZoomMax is the scale the outgoing image reaches at the end of a zoom.
const ZoomMax = 1.5

// layers computes placement and opacity of the current and next image.
// The next layer has zero alpha when it should not be drawn.
func layers(kind Kind, blend float64, W int, cur, next image.Rectangle, curW, curH int, curFocus image.Point) (layer, layer) {
	if blend <= 0 || kind == None {
		return layer{rect: cur, alpha: 1}, layer{}
	}
	switch kind {
	case Slide:
		dx := blend * float64(W)
		return layer{rect: shift(cur, dx), alpha: 1},
			layer{rect: shift(next, dx-float64(W)), alpha: 1}
	case Zoom:
		f := focusOnCanvas(cur, curW, curH, curFocus)
		return layer{rect: scaleAbout(cur, f, lerp(1, ZoomMax, blend)), alpha: 1 - blend},
			layer{rect: next, alpha: blend}
	default:
		return layer{rect: cur, alpha: 1 - blend}, layer{rect: next, alpha: blend}
	}
}
