// Package playback drives the preview: while playing, every display refresh
// reads the audio position and renders the matching frame.
package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/ivlev/slideshow/internal/audio"
	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/schedule"
	"github.com/ivlev/slideshow/internal/timeline"
)

var (
	ErrNotRenderable = errors.New("playback: no images")
	ErrNoAudio       = errors.New("playback: audio missing or duration unknown")
)

type State int

const (
	Stopped State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

type Options struct {
	Scheduler schedule.Scheduler
	Player    audio.Player
	// Interval is the display refresh period.
	Interval time.Duration
	Timeline func() timeline.Timeline
	// OnFrame renders the frame for time t.
	OnFrame func(t float64)
	// OnState is called after every play/stop transition.
	OnState func(State)
}

// Clock is the stopped/playing state machine. All methods must run on the
// scheduler's loop.
type Clock struct {
	sched    schedule.Scheduler
	player   audio.Player
	interval time.Duration
	timeline func() timeline.Timeline
	onFrame  func(float64)
	onState  func(State)

	state   State
	current float64
	token   schedule.Token
	hold    bool
}

func New(opts Options) *Clock {
	if opts.Interval <= 0 {
		opts.Interval = time.Second / 60
	}
	if opts.OnFrame == nil {
		opts.OnFrame = func(float64) {}
	}
	if opts.OnState == nil {
		opts.OnState = func(State) {}
	}
	return &Clock{
		sched:    opts.Scheduler,
		player:   opts.Player,
		interval: opts.Interval,
		timeline: opts.Timeline,
		onFrame:  opts.OnFrame,
		onState:  opts.OnState,
	}
}

func (c *Clock) State() State {
	return c.state
}

func (c *Clock) Playing() bool {
	return c.state == Playing
}

// Current is the time readout of the last tick or seek.
func (c *Clock) Current() float64 {
	return c.current
}

// Position is the live audio position, clamped to the track length.
func (c *Clock) Position() float64 {
	pos := c.player.Position()
	if total := c.timeline().Total; total > 0 && pos > total {
		pos = total
	}
	return pos
}

// SetHold keeps the position at the end of the track instead of rewinding
// when playback finishes.
func (c *Clock) SetHold(hold bool) {
	c.hold = hold
}

// Play starts playback from the current audio position. It is a no-op when
// already playing.
func (c *Clock) Play() error {
	if c.state == Playing {
		return nil
	}
	tl := c.timeline()
	if tl.Count <= 0 {
		return ErrNotRenderable
	}
	if tl.Total <= 0 {
		return ErrNoAudio
	}
	if c.player.Position() >= tl.Total {
		c.player.Seek(0)
	}
	if err := c.player.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	c.state = Playing
	c.token = c.sched.Schedule(c.interval, c.tick)
	logger.Debug("playback started", logger.Float64("at", c.player.Position()))
	c.onState(Playing)
	return nil
}

// Pause stops playback keeping the position. It is a no-op when stopped.
func (c *Clock) Pause() {
	if c.state != Playing {
		return
	}
	c.stop()
	logger.Debug("playback paused", logger.Float64("at", c.current))
	c.onState(Stopped)
}

func (c *Clock) Toggle() error {
	if c.state == Playing {
		c.Pause()
		return nil
	}
	return c.Play()
}

// Seek moves the audio position and redraws the frame there.
func (c *Clock) Seek(t float64) {
	c.player.Seek(t)
	c.current = c.Position()
	c.onFrame(c.current)
}

// Redraw renders the frame at the current readout.
func (c *Clock) Redraw() {
	c.onFrame(c.current)
}

// Close cancels the frame tick and pauses the player.
func (c *Clock) Close() {
	if c.state == Playing {
		c.stop()
	}
}

func (c *Clock) tick(time.Time) {
	if c.state != Playing {
		return
	}
	tl := c.timeline()
	c.current = c.Position()
	c.onFrame(c.current)

	if !tl.Renderable() || c.current >= tl.Total {
		c.finish()
	}
}

func (c *Clock) finish() {
	c.stop()
	if !c.hold {
		c.player.Seek(0)
		c.current = 0
	}
	logger.Debug("playback reached end", logger.Bool("held", c.hold))
	c.onState(Stopped)
}

func (c *Clock) stop() {
	if c.token != nil {
		c.token.Cancel()
		c.token = nil
	}
	c.state = Stopped
	c.player.Pause()
}
