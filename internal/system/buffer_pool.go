package system

import (
	"image"
	"sync"
)

// ImagePool reuses RGBA frames of identical bounds.
type ImagePool struct {
	mu    sync.RWMutex
	pools map[image.Rectangle]*sync.Pool
}

var globalPool = NewImagePool()

func NewImagePool() *ImagePool {
	return &ImagePool{pools: make(map[image.Rectangle]*sync.Pool)}
}

// GetImage returns a frame with the given bounds. Its contents are undefined.
func GetImage(rect image.Rectangle) *image.RGBA {
	return globalPool.Get(rect)
}

func PutImage(img *image.RGBA) {
	globalPool.Put(img)
}

// CloneImage copies src into a pooled frame.
func CloneImage(src *image.RGBA) *image.RGBA {
	dst := GetImage(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

func (p *ImagePool) Get(rect image.Rectangle) *image.RGBA {
	return p.pool(rect).Get().(*image.RGBA)
}

// Put hands img back; images of a size never requested are dropped.
func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, ok := p.pools[img.Rect]
	p.mu.RUnlock()
	if ok {
		pool.Put(img)
	}
}

func (p *ImagePool) pool(rect image.Rectangle) *sync.Pool {
	p.mu.RLock()
	pool, ok := p.pools[rect]
	p.mu.RUnlock()
	if ok {
		return pool
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok = p.pools[rect]; !ok {
		pool = &sync.Pool{New: func() any { return image.NewRGBA(rect) }}
		p.pools[rect] = pool
	}
	return pool
}
