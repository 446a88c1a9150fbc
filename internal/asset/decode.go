package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"github.com/ivlev/slideshow/internal/focus"
)

var (
	// ErrNotReady is returned while a decode is still in flight.
	ErrNotReady = errors.New("asset: decode in progress")
	// ErrReleased is returned for assets removed from the registry.
	ErrReleased = errors.New("asset: released")
)

// Decoded is a ready-to-draw picture.
type Decoded struct {
	Image  image.Image
	Width  int
	Height int
	Focus  image.Point // focal point relative to the image origin
}

// Pending is the readiness future of one decode. It resolves exactly once.
type Pending struct {
	done   chan struct{}
	result Decoded
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolved(d Decoded, err error) *Pending {
	p := newPending()
	p.resolve(d, err)
	return p
}

func (p *Pending) resolve(d Decoded, err error) {
	p.result, p.err = d, err
	close(p.done)
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

func (p *Pending) Ready() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result never blocks; it returns ErrNotReady until the decode finishes.
func (p *Pending) Result() (Decoded, error) {
	if !p.Ready() {
		return Decoded{}, ErrNotReady
	}
	return p.result, p.err
}

func (p *Pending) Wait(ctx context.Context) (Decoded, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Decoded{}, ctx.Err()
	}
}

// Decoder turns payloads into pictures on a bounded number of goroutines.
type Decoder struct {
	sem      *semaphore.Weighted
	detector focus.Detector
}

func NewDecoder(workers int, detector focus.Detector) *Decoder {
	if workers < 1 {
		workers = 1
	}
	return &Decoder{
		sem:      semaphore.NewWeighted(int64(workers)),
		detector: detector,
	}
}

// Start decodes data in the background.
func (d *Decoder) Start(data []byte) *Pending {
	p := newPending()
	go func() {
		if err := d.sem.Acquire(context.Background(), 1); err != nil {
			p.resolve(Decoded{}, err)
			return
		}
		defer d.sem.Release(1)
		p.resolve(Decode(data, d.detector))
	}()
	return p
}

// Decode decodes a raster payload of any registered format.
func Decode(data []byte, detector focus.Detector) (Decoded, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return Decoded{}, fmt.Errorf("decode %s: empty image", format)
	}
	return Decoded{
		Image:  img,
		Width:  b.Dx(),
		Height: b.Dy(),
		Focus:  focus.Point(detector, img),
	}, nil
}
