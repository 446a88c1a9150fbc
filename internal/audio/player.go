// Package audio plays the background track and reports its position, which
// is the authoritative time of the slideshow.
package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/ivlev/slideshow/internal/logger"
)

// Player is the audio resource driven by the playback clock.
type Player interface {
	Load(path string)
	Play() error
	Pause()
	Seek(seconds float64)
	Position() float64
	Playing() bool
	Close() error
}

// Output produces sound for a ClockPlayer.
type Output interface {
	Start(path string, offset float64) error
	Stop()
}

// ClockPlayer derives the position from a clock, so the time base stays
// exact whether or not anything is audible. Not safe for concurrent use.
type ClockPlayer struct {
	now    func() time.Time
	out    Output
	path   string
	base   float64
	since  time.Time
	active bool
}

// NewClockPlayer returns a player reading time from now. A nil out plays silently.
func NewClockPlayer(now func() time.Time, out Output) *ClockPlayer {
	if now == nil {
		now = time.Now
	}
	if out == nil {
		out = NopOutput{}
	}
	return &ClockPlayer{now: now, out: out}
}

// Load switches to a new track and rewinds to its start.
func (p *ClockPlayer) Load(path string) {
	p.Pause()
	p.path = path
	p.base = 0
}

func (p *ClockPlayer) Play() error {
	if p.active {
		return nil
	}
	if p.path == "" {
		return fmt.Errorf("audio: no track loaded")
	}
	if err := p.out.Start(p.path, p.base); err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	p.since = p.now()
	p.active = true
	return nil
}

func (p *ClockPlayer) Pause() {
	if !p.active {
		return
	}
	p.base = p.Position()
	p.active = false
	p.out.Stop()
}

func (p *ClockPlayer) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	wasPlaying := p.active
	p.Pause()
	p.base = seconds
	if wasPlaying {
		if err := p.Play(); err != nil {
			logger.Warn("resume after seek", logger.ErrorField(err))
		}
	}
}

func (p *ClockPlayer) Position() float64 {
	if !p.active {
		return p.base
	}
	return p.base + p.now().Sub(p.since).Seconds()
}

func (p *ClockPlayer) Playing() bool {
	return p.active
}

func (p *ClockPlayer) Close() error {
	p.Pause()
	return nil
}

// NopOutput plays nothing.
type NopOutput struct{}

func (NopOutput) Start(string, float64) error { return nil }
func (NopOutput) Stop()                       {}

// FFplayOutput plays through a headless ffplay process.
type FFplayOutput struct {
	Path   string
	cancel context.CancelFunc
}

func NewFFplayOutput(path string) *FFplayOutput {
	if path == "" {
		path = "ffplay"
	}
	return &FFplayOutput{Path: path}
}

func (o *FFplayOutput) Start(track string, offset float64) error {
	o.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, o.Path,
		"-nodisp", "-autoexit", "-loglevel", "quiet",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		track,
	)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffplay: %w", err)
	}
	o.cancel = cancel
	go func() {
		// Exit status is irrelevant: the process is killed on every pause.
		_ = cmd.Wait()
	}()
	return nil
}

func (o *FFplayOutput) Stop() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}
