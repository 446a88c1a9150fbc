// Package engine owns one in-memory slideshow session and exposes narrow
// operations on it. Every mutation runs on the session loop; the public
// methods are safe to call from any other goroutine.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"time"

	"github.com/ivlev/slideshow/internal/asset"
	"github.com/ivlev/slideshow/internal/audio"
	"github.com/ivlev/slideshow/internal/config"
	"github.com/ivlev/slideshow/internal/export"
	"github.com/ivlev/slideshow/internal/focus"
	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/playback"
	"github.com/ivlev/slideshow/internal/renderer"
	"github.com/ivlev/slideshow/internal/schedule"
	"github.com/ivlev/slideshow/internal/source"
	"github.com/ivlev/slideshow/internal/suggest"
	"github.com/ivlev/slideshow/internal/system"
	"github.com/ivlev/slideshow/internal/timeline"
	"github.com/ivlev/slideshow/internal/video"
)

var (
	// ErrBusy is returned for changes refused while an export is recording.
	ErrBusy         = errors.New("engine: export in progress")
	ErrUnknownImage = errors.New("engine: unknown image")
)

// publishEvery throttles state events while playing.
const publishEvery = 200 * time.Millisecond

// Session is the user-facing state besides the assets and the clock.
type Session struct {
	Transition renderer.Kind
	Suggestion *suggest.Suggestion

	suggesting bool
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Scheduler schedule.Scheduler
	Player    audio.Player
	Prober    asset.DurationProber
	Factory   video.Factory
	// Suggester is optional; nil disables suggestions.
	Suggester suggest.Suggester
	Detector  focus.Detector
	// Build labels performance reports.
	Build string
}

type Controller struct {
	cfg       *config.Config
	sched     schedule.Scheduler
	registry  *asset.Registry
	renderer  *renderer.Renderer
	player    audio.Player
	clock     *playback.Clock
	export    *export.Pipeline
	suggester suggest.Suggester
	session   Session
	build     string

	subscribers map[int]chan Snapshot
	nextSub     int
	published   time.Time
}

func New(cfg *config.Config, deps Deps) (*Controller, error) {
	kind, err := renderer.ParseKind(cfg.Transition)
	if err != nil {
		return nil, err
	}
	if deps.Scheduler == nil || deps.Player == nil || deps.Factory == nil {
		return nil, fmt.Errorf("engine: scheduler, player and recorder factory are required")
	}

	c := &Controller{
		cfg:         cfg,
		sched:       deps.Scheduler,
		player:      deps.Player,
		suggester:   deps.Suggester,
		build:       deps.Build,
		session:     Session{Transition: kind},
		subscribers: make(map[int]chan Snapshot),
	}

	c.registry, err = asset.NewRegistry(asset.Options{
		Post:     c.sched.Post,
		Decoder:  asset.NewDecoder(cfg.Workers, deps.Detector),
		Prober:   deps.Prober,
		SpoolDir: cfg.SpoolDir,
		OnChange: c.assetsChanged,
	})
	if err != nil {
		return nil, err
	}

	c.renderer = renderer.New(cfg.Width, cfg.Height, c.sched.Post, c.redraw)
	c.clock = playback.New(playback.Options{
		Scheduler: c.sched,
		Player:    c.player,
		Interval:  cfg.RefreshInterval(),
		Timeline:  c.registry.Timeline,
		OnFrame:   c.frame,
		OnState:   func(playback.State) { c.publish() },
	})
	c.export = export.New(export.Options{
		Scheduler:    c.sched,
		Clock:        c.clock,
		Factory:      deps.Factory,
		Canvas:       c.renderer.Canvas,
		Timeline:     c.registry.Timeline,
		AudioPath:    c.audioPath,
		FPS:          cfg.FPS,
		PollInterval: cfg.ExportPollInterval,
		ResetDelay:   cfg.ExportResetDelay,
		OnChange:     c.exportChanged,
	})
	c.renderer.Clear()
	return c, nil
}

// AddImages appends pictures in the given order.
func (c *Controller) AddImages(files []source.File) []ImageInfo {
	var out []ImageInfo
	c.sched.Call(func() {
		added := c.registry.AddImages(files)
		per := c.registry.Timeline().PerImage()
		for _, a := range added {
			// Start decoding ahead of the first frame.
			a.Decoded()
			out = append(out, ImageInfo{ID: a.ID, Name: a.Name, Size: a.Size, Duration: per})
		}
	})
	return out
}

// RemoveImage removes one picture. The set of images is frozen while an
// export is recording.
func (c *Controller) RemoveImage(id string) error {
	var err error
	c.sched.Call(func() {
		switch {
		case c.export.Job().Status == export.Recording:
			err = ErrBusy
		case !c.registry.RemoveImage(id):
			err = fmt.Errorf("%w: %s", ErrUnknownImage, id)
		}
	})
	return err
}

// SetAudio replaces the background track. Playback stops and rewinds.
func (c *Controller) SetAudio(f source.File) (AudioInfo, error) {
	var info AudioInfo
	var err error
	c.sched.Call(func() {
		if c.export.Job().Status == export.Recording {
			err = ErrBusy
			return
		}
		c.clock.Pause()
		var a *asset.AudioAsset
		a, err = c.registry.SetAudio(f)
		if err != nil {
			return
		}
		c.player.Load(a.Path)
		c.clock.Seek(0)
		info = AudioInfo{ID: a.ID, Name: a.Name, Size: a.Size}
	})
	return info, err
}

func (c *Controller) SetTransition(name string) error {
	kind, err := renderer.ParseKind(name)
	if err != nil {
		return err
	}
	c.sched.Call(func() {
		c.session.Transition = kind
		c.redraw()
		c.publish()
	})
	return nil
}

func (c *Controller) Play() error {
	var err error
	c.sched.Call(func() {
		if c.export.Job().Status == export.Recording {
			err = ErrBusy
			return
		}
		err = c.clock.Play()
	})
	return err
}

func (c *Controller) Pause() {
	c.sched.Call(func() {
		if c.export.Job().Status == export.Recording {
			return
		}
		c.clock.Pause()
	})
}

func (c *Controller) TogglePlay() error {
	var err error
	c.sched.Call(func() {
		if c.export.Job().Status == export.Recording {
			err = ErrBusy
			return
		}
		err = c.clock.Toggle()
	})
	return err
}

// Export starts recording. Precondition failures wrap export.ErrPrecondition.
func (c *Controller) Export() (export.Job, error) {
	var job export.Job
	var err error
	c.sched.Call(func() {
		err = c.export.Start()
		job = c.export.Job()
		c.publish()
	})
	return job, err
}

func (c *Controller) Snapshot() Snapshot {
	var s Snapshot
	c.sched.Call(func() {
		s = c.snapshot()
	})
	return s
}

// PreviewJPEG encodes the current canvas.
func (c *Controller) PreviewJPEG(quality int) ([]byte, error) {
	var frame *image.RGBA
	c.sched.Call(func() {
		frame = system.CloneImage(c.renderer.Canvas())
	})
	if frame == nil {
		return nil, fmt.Errorf("engine: session closed")
	}
	defer system.PutImage(frame)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Subscribe returns a channel receiving the latest state after each change.
// Slow readers only miss intermediate states.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	var id int
	c.sched.Call(func() {
		id = c.nextSub
		c.nextSub++
		c.subscribers[id] = ch
		ch <- c.snapshot()
	})
	cancel := func() {
		c.sched.Post(func() {
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Close stops playback and export and releases every asset.
func (c *Controller) Close() {
	c.sched.Call(func() {
		c.export.Close()
		c.clock.Close()
		if err := c.player.Close(); err != nil {
			logger.Warn("close player", logger.ErrorField(err))
		}
		if err := c.registry.Close(); err != nil {
			logger.Warn("close registry", logger.ErrorField(err))
		}
		for id, sub := range c.subscribers {
			delete(c.subscribers, id)
			close(sub)
		}
	})
}

// frame renders the picture for time t on the loop.
func (c *Controller) frame(t float64) {
	tl := c.registry.Timeline()
	if tl.Count == 0 {
		c.renderer.Clear()
		return
	}

	var pos timeline.Position
	if tl.Renderable() {
		// The end of the track belongs to the last image, not the wrap-around.
		if t >= tl.Total {
			t = math.Nextafter(tl.Total, 0)
		}
		pos, _ = tl.At(t)
	} else {
		pos = timeline.Position{Current: 0, Next: 1 % tl.Count}
	}

	err := c.renderer.Render(c.registry.Image(pos.Current), c.registry.Image(pos.Next), pos, c.session.Transition)
	if err != nil && !errors.Is(err, renderer.ErrNotReady) {
		logger.Debug("frame skipped", logger.ErrorField(err))
	}

	if c.clock.Playing() {
		if now := c.sched.Now(); now.Sub(c.published) >= publishEvery {
			c.publish()
		}
	}
}

func (c *Controller) redraw() {
	c.clock.Redraw()
}

func (c *Controller) audioPath() string {
	if a := c.registry.Audio(); a != nil {
		return a.Path
	}
	return ""
}

func (c *Controller) assetsChanged() {
	if !c.clock.Playing() {
		c.redraw()
	}
	c.maybeSuggest()
	c.publish()
}

// maybeSuggest asks for a suggestion once both images and audio exist. A
// failed request clears the flag so that a later change may ask again.
func (c *Controller) maybeSuggest() {
	if c.suggester == nil || c.session.Suggestion != nil || c.session.suggesting {
		return
	}
	images := c.registry.Images()
	a := c.registry.Audio()
	if len(images) == 0 || a == nil {
		return
	}

	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Name
	}
	c.session.suggesting = true

	timeout := c.cfg.Suggest.Timeout
	go func(audioName string) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s, err := c.suggester.Suggest(ctx, names, audioName)
		c.sched.Post(func() {
			c.session.suggesting = false
			if err != nil {
				logger.Warn("suggestion unavailable", logger.ErrorField(err))
				return
			}
			c.session.Suggestion = s
			c.session.Transition = s.RecommendedTransition
			logger.Info("suggestion applied",
				logger.String("title", s.Title),
				logger.String("transition", string(s.RecommendedTransition)))
			c.redraw()
			c.publish()
		})
	}(a.Name)
}

func (c *Controller) exportChanged(job export.Job) {
	if job.Status == export.Completed && c.cfg.ShowStats {
		r := system.Report{
			Build:    c.build,
			Input:    fmt.Sprintf("%d images + %s", len(c.registry.Images()), c.audioName()),
			Frames:   c.export.Frames(),
			Duration: c.registry.Timeline().Total,
			Elapsed:  c.export.Elapsed(),
		}
		go report(r)
	}
	c.publish()
}

func (c *Controller) audioName() string {
	if a := c.registry.Audio(); a != nil {
		return a.Name
	}
	return "-"
}

func report(r system.Report) {
	stats, err := system.CollectStats(context.Background())
	if err != nil {
		logger.Warn("stats unavailable", logger.ErrorField(err))
	}
	r.Stats = stats
	fmt.Print(r.String())
	if err := system.AppendBenchmark("benchmark.log", r); err != nil {
		fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
	}
}

func (c *Controller) publish() {
	if len(c.subscribers) == 0 {
		return
	}
	c.published = c.sched.Now()
	s := c.snapshot()
	for _, sub := range c.subscribers {
		select {
		case <-sub:
		default:
		}
		sub <- s
	}
}
