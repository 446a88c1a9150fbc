// Package asset holds the session's ordered images and its single audio
// track. A Registry is not safe for concurrent use: every method must run on
// the session loop, and background results are delivered through Post.
package asset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/source"
	"github.com/ivlev/slideshow/internal/timeline"
)

// ImageAsset is one picture of the slideshow. Its picture is decoded on first use.
type ImageAsset struct {
	ID   string
	Name string
	Size int

	mu      sync.Mutex
	data    []byte
	pending *Pending
	decoder *Decoder
}

// Decoded returns the decode future, starting the decode on the first call.
func (a *ImageAsset) Decoded() *Pending {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		if a.data == nil {
			return resolved(Decoded{}, ErrReleased)
		}
		a.pending = a.decoder.Start(a.data)
	}
	return a.pending
}

// Release drops the payload and the decoded picture.
func (a *ImageAsset) Release() {
	a.mu.Lock()
	a.data = nil
	a.pending = nil
	a.mu.Unlock()
}

// AudioAsset is the background track. Duration stays 0 until probed.
type AudioAsset struct {
	ID       string
	Name     string
	Path     string
	Size     int
	Duration float64
}

// DurationProber reports the length of an audio file in seconds.
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, error)
}

type Options struct {
	// Post delivers background results onto the session loop.
	Post     func(func())
	Decoder  *Decoder
	Prober   DurationProber
	SpoolDir string // parent for the audio spool directory, os.TempDir when empty
	// OnChange runs on the loop after any change that affects timing.
	OnChange func()
}

type Registry struct {
	post     func(func())
	decoder  *Decoder
	prober   DurationProber
	onChange func()
	spool    string

	images []*ImageAsset
	audio  *AudioAsset

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Post == nil {
		return nil, fmt.Errorf("asset: Post is required")
	}
	if opts.Decoder == nil {
		opts.Decoder = NewDecoder(1, nil)
	}
	spool, err := os.MkdirTemp(opts.SpoolDir, "slideshow-audio-")
	if err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		post:     opts.Post,
		decoder:  opts.Decoder,
		prober:   opts.Prober,
		onChange: opts.OnChange,
		spool:    spool,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// AddImages appends files in order. Duplicates are accepted.
func (r *Registry) AddImages(files []source.File) []*ImageAsset {
	if len(files) == 0 {
		return nil
	}
	added := make([]*ImageAsset, 0, len(files))
	for _, f := range files {
		a := &ImageAsset{
			ID:      uuid.New().String(),
			Name:    f.Name,
			Size:    len(f.Data),
			data:    f.Data,
			decoder: r.decoder,
		}
		r.images = append(r.images, a)
		added = append(added, a)
	}
	logger.Info("images added", logger.Int("count", len(added)), logger.Int("total", len(r.images)))
	r.changed()
	return added
}

// RemoveImage removes the image with the given id, keeping the order of the
// rest. It reports false when no image matches.
func (r *Registry) RemoveImage(id string) bool {
	for i, a := range r.images {
		if a.ID != id {
			continue
		}
		r.images = append(r.images[:i:i], r.images[i+1:]...)
		a.Release()
		logger.Info("image removed", logger.String("id", id), logger.Int("total", len(r.images)))
		r.changed()
		return true
	}
	return false
}

// SetAudio replaces the audio track. The duration is probed in the background
// and applied only if this track is still current when the probe finishes.
func (r *Registry) SetAudio(f source.File) (*AudioAsset, error) {
	id := uuid.New().String()
	path := filepath.Join(r.spool, id+filepath.Ext(f.Name))
	if err := os.WriteFile(path, f.Data, 0600); err != nil {
		return nil, fmt.Errorf("spool audio %s: %w", f.Name, err)
	}

	r.releaseAudio()
	a := &AudioAsset{ID: id, Name: f.Name, Path: path, Size: len(f.Data)}
	r.audio = a
	logger.Info("audio set", logger.String("name", f.Name), logger.Int("bytes", a.Size))
	r.changed()

	if r.prober != nil {
		go r.probe(a.ID, path)
	}
	return a, nil
}

func (r *Registry) probe(id, path string) {
	duration, err := r.prober.Probe(r.ctx, path)
	r.post(func() {
		if r.audio == nil || r.audio.ID != id {
			return
		}
		if err != nil {
			logger.Warn("audio probe failed", logger.String("path", path), logger.ErrorField(err))
			return
		}
		r.audio.Duration = duration
		logger.Info("audio duration known", logger.Float64("seconds", duration))
		r.changed()
	})
}

func (r *Registry) releaseAudio() {
	if r.audio == nil {
		return
	}
	if err := os.Remove(r.audio.Path); err != nil && !os.IsNotExist(err) {
		logger.Warn("remove spooled audio", logger.String("path", r.audio.Path), logger.ErrorField(err))
	}
	r.audio = nil
}

// Timeline derives the current timing from the image count and audio duration.
func (r *Registry) Timeline() timeline.Timeline {
	tl := timeline.Timeline{Count: len(r.images)}
	if r.audio != nil {
		tl.Total = r.audio.Duration
	}
	return tl
}

// Images returns a snapshot of the ordered images.
func (r *Registry) Images() []*ImageAsset {
	out := make([]*ImageAsset, len(r.images))
	copy(out, r.images)
	return out
}

func (r *Registry) Image(i int) *ImageAsset {
	if i < 0 || i >= len(r.images) {
		return nil
	}
	return r.images[i]
}

func (r *Registry) Audio() *AudioAsset {
	return r.audio
}

// Close releases every asset and removes the spool directory.
func (r *Registry) Close() error {
	r.cancel()
	for _, a := range r.images {
		a.Release()
	}
	r.images = nil
	r.audio = nil
	return os.RemoveAll(r.spool)
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}
