// Package export records the preview into a video file in real time: it
// replays the track from the start and copies the canvas into a recorder at
// the capture frame rate while a poll reports progress.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/schedule"
	"github.com/ivlev/slideshow/internal/system"
	"github.com/ivlev/slideshow/internal/timeline"
	"github.com/ivlev/slideshow/internal/video"
)

var (
	// ErrPrecondition is returned when an export cannot start.
	ErrPrecondition = errors.New("export: precondition failed")
	// ErrInterrupted fails a job whose playback stopped before the end of
	// the track.
	ErrInterrupted = errors.New("export: playback stopped early")
)

type Status string

const (
	Idle      Status = "idle"
	Recording Status = "recording"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Job is the observable state of the export.
type Job struct {
	Status   Status          `json:"status"`
	Progress int             `json:"progress"`
	Error    string          `json:"error,omitempty"`
	Artifact *video.Artifact `json:"artifact,omitempty"`
	Err      error           `json:"-"`
}

// Clock is the playback control the pipeline drives.
type Clock interface {
	Play() error
	Pause()
	Seek(t float64)
	Position() float64
	Playing() bool
	SetHold(hold bool)
}

type Options struct {
	Scheduler schedule.Scheduler
	Clock     Clock
	Factory   video.Factory
	// Canvas returns the live preview canvas; the pipeline copies it.
	Canvas    func() *image.RGBA
	Timeline  func() timeline.Timeline
	AudioPath func() string

	FPS          int
	PollInterval time.Duration
	ResetDelay   time.Duration
	OnChange     func(Job)
}

// Pipeline is the idle → recording → completed/failed → idle state machine.
// All methods must run on the scheduler's loop.
type Pipeline struct {
	opts Options
	ctx  context.Context
	stop context.CancelFunc

	job     Job
	rec     video.Recorder
	total   float64
	frames  int
	slots   int
	started time.Time
	gen     int

	capture schedule.Token
	poll    schedule.Token
	reset   schedule.Token
}

func New(opts Options) *Pipeline {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.ResetDelay < 0 {
		opts.ResetDelay = 0
	}
	if opts.OnChange == nil {
		opts.OnChange = func(Job) {}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Pipeline{opts: opts, ctx: ctx, stop: stop, job: Job{Status: Idle}}
}

func (p *Pipeline) Job() Job {
	return p.job
}

// Frames reports how many frames the current or last export captured.
func (p *Pipeline) Frames() int {
	return p.frames
}

// Elapsed is the wall time the current or last export has taken so far.
func (p *Pipeline) Elapsed() time.Duration {
	if p.started.IsZero() {
		return 0
	}
	return time.Since(p.started)
}

// Check reports why an export cannot start, or nil.
func (p *Pipeline) Check() error {
	if p.job.Status == Recording {
		return fmt.Errorf("%w: already recording", ErrPrecondition)
	}
	tl := p.opts.Timeline()
	if tl.Count < 1 {
		return fmt.Errorf("%w: no images", ErrPrecondition)
	}
	if p.opts.AudioPath() == "" {
		return fmt.Errorf("%w: no audio", ErrPrecondition)
	}
	if tl.Total <= 0 {
		return fmt.Errorf("%w: audio duration unknown", ErrPrecondition)
	}
	return nil
}

// Start begins an export. Precondition failures return ErrPrecondition
// without touching any state; later failures move the job to failed.
func (p *Pipeline) Start() error {
	if err := p.Check(); err != nil {
		return err
	}
	if p.reset != nil {
		p.reset.Cancel()
		p.reset = nil
	}

	p.gen++
	p.total = p.opts.Timeline().Total
	p.slots = int(math.Ceil(p.total * float64(p.opts.FPS)))
	p.frames = 0
	p.started = time.Now()
	p.job = Job{Status: Recording}
	p.opts.OnChange(p.job)

	rec, err := p.opts.Factory(p.opts.AudioPath())
	if err != nil {
		err = fmt.Errorf("create recorder: %w", err)
		p.fail(err)
		return err
	}
	if err := rec.Start(p.ctx); err != nil {
		err = fmt.Errorf("start recorder: %w", err)
		p.fail(err)
		return err
	}
	p.rec = rec

	clock := p.opts.Clock
	clock.Pause()
	clock.Seek(0)
	clock.SetHold(true)
	if err := clock.Play(); err != nil {
		err = fmt.Errorf("start playback: %w", err)
		p.fail(err)
		return err
	}

	p.capture = p.opts.Scheduler.Schedule(time.Second/time.Duration(p.opts.FPS), func(time.Time) {
		p.captureUpTo(p.opts.Clock.Position())
	})
	p.poll = p.opts.Scheduler.Schedule(p.opts.PollInterval, func(time.Time) { p.pollTick() })

	logger.Info("export started", logger.Float64("duration", p.total), logger.Int("frames", p.slots))
	return nil
}

// captureUpTo writes one canvas copy for every frame slot k with k/FPS <= t.
func (p *Pipeline) captureUpTo(t float64) {
	if p.rec == nil {
		return
	}
	fps := float64(p.opts.FPS)
	for p.frames < p.slots && float64(p.frames)/fps <= t {
		if err := p.rec.WriteFrame(system.CloneImage(p.opts.Canvas())); err != nil {
			p.fail(fmt.Errorf("write frame %d: %w", p.frames, err))
			return
		}
		p.frames++
	}
}

func (p *Pipeline) pollTick() {
	if p.job.Status != Recording || p.rec == nil {
		return
	}
	pos := p.opts.Clock.Position()
	progress := min(99, int(100*pos/p.total))
	if progress > p.job.Progress {
		p.job.Progress = progress
		p.opts.OnChange(p.job)
	}
	switch {
	case pos >= p.total:
		p.finish()
	case !p.opts.Clock.Playing():
		p.fail(fmt.Errorf("%w at %.2fs of %.2fs", ErrInterrupted, pos, p.total))
	}
}

func (p *Pipeline) finish() {
	p.cancelTicks()
	p.captureUpTo(p.total)
	if p.rec == nil {
		return // a flush write failed
	}
	p.opts.Clock.Pause()
	p.opts.Clock.SetHold(false)

	rec, gen := p.rec, p.gen
	p.rec = nil
	rec.Stop(func(a video.Artifact, err error) {
		p.opts.Scheduler.Post(func() {
			if gen != p.gen {
				return
			}
			if err != nil {
				p.fail(fmt.Errorf("finish recording: %w", err))
				return
			}
			p.complete(a)
		})
	})
}

func (p *Pipeline) complete(a video.Artifact) {
	p.job = Job{Status: Completed, Progress: 100, Artifact: &a}
	logger.Info("export completed",
		logger.String("artifact", a.Name),
		logger.Int("frames", p.frames),
		logger.Duration("elapsed", time.Since(p.started)))
	p.opts.OnChange(p.job)
	p.scheduleReset()
}

func (p *Pipeline) fail(err error) {
	p.cancelTicks()
	if p.rec != nil {
		p.rec.Abort()
		p.rec = nil
	}
	p.opts.Clock.Pause()
	p.opts.Clock.SetHold(false)

	p.job = Job{Status: Failed, Progress: p.job.Progress, Error: err.Error(), Err: err}
	logger.Error("export failed", logger.ErrorField(err))
	p.opts.OnChange(p.job)
	p.scheduleReset()
}

func (p *Pipeline) scheduleReset() {
	gen := p.gen
	p.reset = schedule.After(p.opts.Scheduler, p.opts.ResetDelay, func() {
		if gen != p.gen {
			return
		}
		p.reset = nil
		p.job = Job{Status: Idle}
		p.opts.OnChange(p.job)
	})
}

func (p *Pipeline) cancelTicks() {
	if p.capture != nil {
		p.capture.Cancel()
		p.capture = nil
	}
	if p.poll != nil {
		p.poll.Cancel()
		p.poll = nil
	}
}

// Close cancels all timers and aborts a recording in flight.
func (p *Pipeline) Close() {
	p.gen++
	p.cancelTicks()
	if p.reset != nil {
		p.reset.Cancel()
		p.reset = nil
	}
	if p.rec != nil {
		p.rec.Abort()
		p.rec = nil
	}
	p.stop()
}
