package focus

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// thumbSize bounds the longer side of the picture the detector scans.
const thumbSize = 256

// Point returns the focal point of img relative to its bounds' origin: the
// center of the largest detected block, or the image center when nothing is
// found.
func Point(d Detector, img image.Image) image.Point {
	b := img.Bounds()
	center := image.Pt(b.Dx()/2, b.Dy()/2)
	if d == nil || b.Empty() {
		return center
	}

	thumb, scale := thumbnail(img)
	blocks, err := d.Detect(thumb)
	if err != nil || len(blocks) == 0 {
		return center
	}

	best := blocks[0]
	for _, blk := range blocks[1:] {
		if area(blk.Rect) > area(best.Rect) {
			best = blk
		}
	}
	cx := float64(best.Rect.Min.X+best.Rect.Max.X) / 2 / scale
	cy := float64(best.Rect.Min.Y+best.Rect.Max.Y) / 2 / scale
	return image.Pt(int(cx), int(cy))
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// thumbnail downsizes img so the detector stays cheap on large photos.
// It returns the thumbnail (origin at 0,0) and the applied scale factor.
func thumbnail(img image.Image) (*image.Gray, float64) {
	b := img.Bounds()
	scale := 1.0
	if longest := max(b.Dx(), b.Dy()); longest > thumbSize {
		scale = float64(thumbSize) / float64(longest)
	}
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	gray := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, b, xdraw.Src, nil)
	return gray, scale
}
