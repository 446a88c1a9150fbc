package focus

import (
	"image"
	"image/color"
	"math"
)

// ContrastDetector finds busy regions with a Sobel edge pass, joins nearby
// edges by dilation and reports the bounding boxes of connected regions.
type ContrastDetector struct {
	MinBlockArea  int     // pixels² on the scanned image
	EdgeThreshold float64 // gradient magnitude threshold
	Dilation      int     // kernel size
	Passes        int
}

func NewContrastDetector() *ContrastDetector {
	return &ContrastDetector{
		MinBlockArea:  64,
		EdgeThreshold: 30.0,
		Dilation:      5,
		Passes:        2,
	}
}

func (d *ContrastDetector) Detect(img image.Image) ([]Block, error) {
	gray := asGray(img)
	edges := sobel(gray, d.EdgeThreshold)
	mask := dilate(edges, d.Dilation, d.Passes)

	var blocks []Block
	for _, rect := range regions(mask) {
		if rect.Dx()*rect.Dy() < d.MinBlockArea {
			continue
		}
		blocks = append(blocks, Block{Rect: rect, Confidence: 0.7})
	}
	return blocks, nil
}

func asGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

var (
	kernelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	kernelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// sobel marks pixels whose gradient magnitude exceeds threshold.
func sobel(gray *image.Gray, threshold float64) *image.Gray {
	b := gray.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					v := float64(gray.GrayAt(x+kx, y+ky).Y)
					gx += v * kernelX[ky+1][kx+1]
					gy += v * kernelY[ky+1][kx+1]
				}
			}
			if math.Hypot(gx, gy) > threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

func dilate(mask *image.Gray, size, passes int) *image.Gray {
	half := size / 2
	b := mask.Bounds()
	cur := mask
	for p := 0; p < passes; p++ {
		next := image.NewGray(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if neighbourSet(cur, x, y, half) {
					next.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
		cur = next
	}
	return cur
}

func neighbourSet(mask *image.Gray, x, y, half int) bool {
	r := image.Rect(x-half, y-half, x+half+1, y+half+1).Intersect(mask.Bounds())
	for ny := r.Min.Y; ny < r.Max.Y; ny++ {
		for nx := r.Min.X; nx < r.Max.X; nx++ {
			if mask.GrayAt(nx, ny).Y > 128 {
				return true
			}
		}
	}
	return false
}

// regions returns the bounding boxes of 4-connected set pixels.
func regions(mask *image.Gray) []image.Rectangle {
	b := mask.Bounds()
	visited := make([]bool, b.Dx()*b.Dy())
	idx := func(x, y int) int { return (y-b.Min.Y)*b.Dx() + (x - b.Min.X) }

	var out []image.Rectangle
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if visited[idx(x, y)] || mask.GrayAt(x, y).Y <= 128 {
				continue
			}
			out = append(out, fill(mask, visited, idx, image.Pt(x, y)))
		}
	}
	return out
}

func fill(mask *image.Gray, visited []bool, idx func(x, y int) int, start image.Point) image.Rectangle {
	b := mask.Bounds()
	box := image.Rectangle{Min: start, Max: start.Add(image.Pt(1, 1))}
	stack := []image.Point{start}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !p.In(b) || visited[idx(p.X, p.Y)] || mask.GrayAt(p.X, p.Y).Y <= 128 {
			continue
		}
		visited[idx(p.X, p.Y)] = true
		box = box.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
		stack = append(stack,
			image.Pt(p.X+1, p.Y), image.Pt(p.X-1, p.Y),
			image.Pt(p.X, p.Y+1), image.Pt(p.X, p.Y-1))
	}
	return box
}
