package engine

import (
	"math"

	"github.com/ivlev/slideshow/internal/export"
	"github.com/ivlev/slideshow/internal/renderer"
	"github.com/ivlev/slideshow/internal/suggest"
)

type ImageInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Size     int     `json:"size"`
	Duration float64 `json:"duration"` // seconds on screen
}

type AudioInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Size     int     `json:"size"`
	Duration float64 `json:"duration"`
}

// Snapshot is the session state as seen by clients.
type Snapshot struct {
	Images      []ImageInfo         `json:"images"`
	Audio       *AudioInfo          `json:"audio,omitempty"`
	Duration    float64             `json:"duration"`
	PerImage    float64             `json:"perImage"`
	CurrentTime float64             `json:"currentTime"`
	Playing     bool                `json:"playing"`
	Transition  renderer.Kind       `json:"transition"`
	Transitions []renderer.Kind     `json:"transitions"`
	Suggestion  *suggest.Suggestion `json:"suggestion,omitempty"`
	Export      export.Job          `json:"export"`
	CanExport   bool                `json:"canExport"`
	TotalFrames int                 `json:"totalFrames"`
}

func (c *Controller) snapshot() Snapshot {
	tl := c.registry.Timeline()
	per := tl.PerImage()

	images := c.registry.Images()
	s := Snapshot{
		Images:      make([]ImageInfo, 0, len(images)),
		Duration:    tl.Total,
		PerImage:    per,
		CurrentTime: c.clock.Current(),
		Playing:     c.clock.Playing(),
		Transition:  c.session.Transition,
		Transitions: renderer.Kinds,
		Suggestion:  c.session.Suggestion,
		Export:      c.export.Job(),
		CanExport:   c.export.Check() == nil,
		TotalFrames: int(math.Ceil(tl.Total * float64(c.cfg.FPS))),
	}
	for _, a := range images {
		s.Images = append(s.Images, ImageInfo{ID: a.ID, Name: a.Name, Size: a.Size, Duration: per})
	}
	if a := c.registry.Audio(); a != nil {
		s.Audio = &AudioInfo{ID: a.ID, Name: a.Name, Size: a.Size, Duration: a.Duration}
	}
	return s
}
