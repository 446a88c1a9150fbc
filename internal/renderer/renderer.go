// Package renderer composes the preview canvas: the visible image cover-fit
// onto an opaque black background, blended with the next image during the
// transition window.
package renderer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/ivlev/slideshow/internal/asset"
	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/system"
	"github.com/ivlev/slideshow/internal/timeline"
)

// ErrNotReady is returned when a required image is still decoding.
var ErrNotReady = asset.ErrNotReady

// Compose draws one frame into dst. next may be nil, in which case the
// current image is drawn alone at full opacity.
func Compose(dst *image.RGBA, cur, next *asset.Decoded, progress float64, kind Kind) {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)
	if cur == nil || cur.Image == nil {
		return
	}

	W, H := bounds.Dx(), bounds.Dy()
	blend := Blend(progress)
	if next == nil || next.Image == nil {
		blend = 0
	}

	curRect := CoverRect(W, H, cur.Width, cur.Height).Add(bounds.Min)
	var nextRect image.Rectangle
	if blend > 0 {
		nextRect = CoverRect(W, H, next.Width, next.Height).Add(bounds.Min)
	}

	lc, ln := layers(kind, blend, W, curRect, nextRect, cur.Width, cur.Height, cur.Focus)
	drawLayer(dst, cur.Image, lc)
	if ln.alpha > 0 {
		drawLayer(dst, next.Image, ln)
	}
}

// drawLayer scales src into l.rect and composites it source-over with
// opacity l.alpha.
func drawLayer(dst *image.RGBA, src image.Image, l layer) {
	clip := l.rect.Intersect(dst.Bounds())
	if clip.Empty() || l.alpha <= 0 {
		return
	}
	if l.alpha >= 1 {
		xdraw.ApproxBiLinear.Scale(dst, l.rect, src, src.Bounds(), xdraw.Over, nil)
		return
	}

	scratch := system.GetImage(dst.Bounds())
	defer system.PutImage(scratch)
	xdraw.ApproxBiLinear.Scale(scratch, l.rect, src, src.Bounds(), xdraw.Src, nil)

	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(l.alpha * 255))})
	draw.DrawMask(dst, clip, scratch, clip.Min, mask, image.Point{}, draw.Over)
}

// Renderer draws frames onto a fixed-size canvas. It must only be used from
// the session loop; decode waits happen in the background and call onReady
// through post once the missing picture is available.
type Renderer struct {
	canvas  *image.RGBA
	post    func(func())
	onReady func()
	waiting map[*asset.Pending]bool
	broken  map[string]bool
}

func New(width, height int, post func(func()), onReady func()) *Renderer {
	return &Renderer{
		canvas:  image.NewRGBA(image.Rect(0, 0, width, height)),
		post:    post,
		onReady: onReady,
		waiting: make(map[*asset.Pending]bool),
		broken:  make(map[string]bool),
	}
}

// Canvas returns the live canvas. Callers that keep a frame must copy it.
func (r *Renderer) Canvas() *image.RGBA {
	return r.canvas
}

// Clear paints the canvas black.
func (r *Renderer) Clear() {
	draw.Draw(r.canvas, r.canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
}

// Render draws the frame for pos. It never blocks on decoding: a missing
// picture yields ErrNotReady and a later onReady call.
func (r *Renderer) Render(cur, next *asset.ImageAsset, pos timeline.Position, kind Kind) error {
	if cur == nil {
		return fmt.Errorf("render: no image at index %d", pos.Current)
	}

	dc, err := r.resolve(cur)
	if err != nil {
		return err
	}

	// Touching the next image starts its decode ahead of the transition.
	var dn *asset.Decoded
	if next != nil && next != cur {
		d, err := r.resolve(next)
		switch {
		case err == nil:
			dn = &d
		case errors.Is(err, ErrNotReady):
			if Blend(pos.Progress) > 0 && kind != None {
				return err
			}
		}
	} else if next == cur {
		dn = &dc
	}

	Compose(r.canvas, &dc, dn, pos.Progress, kind)
	return nil
}

func (r *Renderer) resolve(a *asset.ImageAsset) (asset.Decoded, error) {
	p := a.Decoded()
	d, err := p.Result()
	if errors.Is(err, asset.ErrNotReady) {
		r.await(p)
		return d, ErrNotReady
	}
	if err != nil {
		if !r.broken[a.ID] {
			r.broken[a.ID] = true
			logger.Warn("image cannot be drawn", logger.String("name", a.Name), logger.ErrorField(err))
		}
		return d, fmt.Errorf("render %s: %w", a.Name, err)
	}
	return d, nil
}

func (r *Renderer) await(p *asset.Pending) {
	if r.waiting[p] {
		return
	}
	r.waiting[p] = true
	go func() {
		<-p.Done()
		r.post(func() {
			delete(r.waiting, p)
			if r.onReady != nil {
				r.onReady()
			}
		})
	}()
}
