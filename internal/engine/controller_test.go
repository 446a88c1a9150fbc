package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ivlev/slideshow/internal/audio"
	"github.com/ivlev/slideshow/internal/config"
	"github.com/ivlev/slideshow/internal/export"
	"github.com/ivlev/slideshow/internal/playback"
	"github.com/ivlev/slideshow/internal/renderer"
	"github.com/ivlev/slideshow/internal/schedule"
	"github.com/ivlev/slideshow/internal/source"
	"github.com/ivlev/slideshow/internal/suggest"
	"github.com/ivlev/slideshow/internal/video"
)

type fixedProber float64

func (p fixedProber) Probe(context.Context, string) (float64, error) {
	return float64(p), nil
}

type stubRecorder struct {
	frames int
}

func (r *stubRecorder) Start(context.Context) error    { return nil }
func (r *stubRecorder) WriteFrame(f *image.RGBA) error { r.frames++; return nil }
func (r *stubRecorder) Abort()                         {}

func (r *stubRecorder) Stop(done func(video.Artifact, error)) {
	done(video.Artifact{Name: "test.mp4", Format: "mp4", Frames: r.frames}, nil)
}

type fakeSuggester struct {
	calls atomic.Int32
	reply *suggest.Suggestion
	err   error
}

func (s *fakeSuggester) Suggest(context.Context, []string, string) (*suggest.Suggestion, error) {
	s.calls.Add(1)
	return s.reply, s.err
}

type harness struct {
	m         *schedule.Manual
	ctrl      *Controller
	created   int
	recorders []*stubRecorder
}

func newHarness(t *testing.T, suggester suggest.Suggester) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Width, cfg.Height = 32, 18
	cfg.Workers = 2
	cfg.SpoolDir = t.TempDir()
	cfg.Suggest.Timeout = time.Second

	h := &harness{m: schedule.NewManual(time.Unix(0, 0))}
	deps := Deps{
		Scheduler: h.m,
		Player:    audio.NewClockPlayer(h.m.Now, nil),
		Prober:    fixedProber(1),
		Factory: func(string) (video.Recorder, error) {
			h.created++
			r := &stubRecorder{}
			h.recorders = append(h.recorders, r)
			return r, nil
		},
		Build: "test",
	}
	if suggester != nil {
		deps.Suggester = suggester
	}
	ctrl, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(ctrl.Close)
	h.ctrl = ctrl
	return h
}

// waitFor drains background posts until cond holds.
func (h *harness) waitFor(cond func(Snapshot) bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.m.Drain()
		if cond(h.ctrl.Snapshot()) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func pngFile(t *testing.T, name string, c color.RGBA) source.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return source.File{Name: name, Data: buf.Bytes()}
}

func (h *harness) setAudio(t *testing.T) {
	t.Helper()
	if _, err := h.ctrl.SetAudio(source.File{Name: "track.mp3", Data: []byte("id3")}); err != nil {
		t.Fatalf("SetAudio failed: %v", err)
	}
	if !h.waitFor(func(s Snapshot) bool { return s.Duration > 0 }) {
		t.Fatal("Audio duration never became known")
	}
}

func TestNewRejectsUnknownTransition(t *testing.T) {
	cfg := config.Default()
	cfg.Transition = "wipe"
	m := schedule.NewManual(time.Unix(0, 0))
	_, err := New(cfg, Deps{
		Scheduler: m,
		Player:    audio.NewClockPlayer(m.Now, nil),
		Factory:   func(string) (video.Recorder, error) { return &stubRecorder{}, nil },
	})
	if err == nil {
		t.Error("Expected an error for an unknown transition")
	}
}

func TestSnapshotReflectsSession(t *testing.T) {
	h := newHarness(t, nil)
	added := h.ctrl.AddImages([]source.File{
		pngFile(t, "a.png", color.RGBA{255, 0, 0, 255}),
		pngFile(t, "b.png", color.RGBA{0, 255, 0, 255}),
	})
	if len(added) != 2 || added[0].Name != "a.png" {
		t.Fatalf("Unexpected added list: %+v", added)
	}

	s := h.ctrl.Snapshot()
	if s.CanExport {
		t.Error("Export must not be possible without audio")
	}
	if s.PerImage != 0 || s.Audio != nil {
		t.Errorf("Expected no timing without audio, got %+v", s)
	}

	h.setAudio(t)
	s = h.ctrl.Snapshot()
	if s.PerImage != 0.5 {
		t.Errorf("Expected 0.5s per image, got %v", s.PerImage)
	}
	if s.TotalFrames != 30 {
		t.Errorf("Expected 30 frames, got %d", s.TotalFrames)
	}
	if !s.CanExport {
		t.Error("Expected export to be possible")
	}
	if s.Transition != renderer.Fade || len(s.Transitions) != len(renderer.Kinds) {
		t.Errorf("Unexpected transitions: %v of %v", s.Transition, s.Transitions)
	}
	if s.Export.Status != export.Idle {
		t.Errorf("Expected idle export, got %s", s.Export.Status)
	}
	for _, img := range s.Images {
		if img.Duration != 0.5 {
			t.Errorf("%s: expected 0.5s on screen, got %v", img.Name, img.Duration)
		}
	}
}

func TestRemoveImageAndTransition(t *testing.T) {
	h := newHarness(t, nil)
	added := h.ctrl.AddImages([]source.File{pngFile(t, "a.png", color.RGBA{A: 255}), pngFile(t, "b.png", color.RGBA{A: 255})})

	if err := h.ctrl.RemoveImage("missing"); !errors.Is(err, ErrUnknownImage) {
		t.Errorf("Expected ErrUnknownImage, got %v", err)
	}
	if err := h.ctrl.RemoveImage(added[0].ID); err != nil {
		t.Fatalf("RemoveImage failed: %v", err)
	}
	if s := h.ctrl.Snapshot(); len(s.Images) != 1 || s.Images[0].Name != "b.png" {
		t.Errorf("Unexpected images after removal: %+v", s.Images)
	}

	if err := h.ctrl.SetTransition("wipe"); err == nil {
		t.Error("Expected an error for an unknown transition")
	}
	if err := h.ctrl.SetTransition("Slide"); err != nil {
		t.Fatalf("SetTransition failed: %v", err)
	}
	if s := h.ctrl.Snapshot(); s.Transition != renderer.Slide {
		t.Errorf("Expected slide, got %s", s.Transition)
	}
}

func TestPlayPreconditions(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.Play(); !errors.Is(err, playback.ErrNotRenderable) {
		t.Errorf("Expected ErrNotRenderable, got %v", err)
	}
	h.ctrl.AddImages([]source.File{pngFile(t, "a.png", color.RGBA{A: 255})})
	if err := h.ctrl.Play(); !errors.Is(err, playback.ErrNoAudio) {
		t.Errorf("Expected ErrNoAudio, got %v", err)
	}

	h.setAudio(t)
	if err := h.ctrl.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay failed: %v", err)
	}
	h.m.Advance(250 * time.Millisecond)
	s := h.ctrl.Snapshot()
	if !s.Playing || s.CurrentTime < 0.2 {
		t.Errorf("Expected playback near 0.25s, got playing=%v at %v", s.Playing, s.CurrentTime)
	}

	h.m.Advance(time.Second)
	if s := h.ctrl.Snapshot(); s.Playing || s.CurrentTime != 0 {
		t.Errorf("Expected a stop and rewind at the end, got playing=%v at %v", s.Playing, s.CurrentTime)
	}
}

func TestExportWithoutImagesIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.setAudio(t)

	job, err := h.ctrl.Export()
	if !errors.Is(err, export.ErrPrecondition) {
		t.Fatalf("Expected ErrPrecondition, got %v", err)
	}
	if job.Status != export.Idle {
		t.Errorf("Expected the job to stay idle, got %s", job.Status)
	}
	if h.created != 0 {
		t.Error("No recorder may be created when preconditions fail")
	}
}

func TestExportRunsToCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.AddImages([]source.File{
		pngFile(t, "a.png", color.RGBA{255, 0, 0, 255}),
		pngFile(t, "b.png", color.RGBA{0, 0, 255, 255}),
	})
	h.setAudio(t)

	job, err := h.ctrl.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if job.Status != export.Recording {
		t.Fatalf("Expected recording, got %s", job.Status)
	}
	if _, err := h.ctrl.SetAudio(source.File{Name: "other.mp3"}); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while recording, got %v", err)
	}
	if err := h.ctrl.Play(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for play while recording, got %v", err)
	}

	h.m.Advance(1200 * time.Millisecond)
	s := h.ctrl.Snapshot()
	if s.Export.Status != export.Completed || s.Export.Progress != 100 {
		t.Fatalf("Expected a completed export, got %+v", s.Export)
	}
	if s.Export.Artifact == nil || s.Export.Artifact.Frames != 30 {
		t.Errorf("Expected 30 frames in the artifact, got %+v", s.Export.Artifact)
	}
	if s.Playing {
		t.Error("Playback must stop after the export")
	}

	h.m.Advance(3 * time.Second)
	if s := h.ctrl.Snapshot(); s.Export.Status != export.Idle {
		t.Errorf("Expected idle after the reset delay, got %s", s.Export.Status)
	}
}

func TestRemoveImageDuringExportIsRefused(t *testing.T) {
	h := newHarness(t, nil)
	added := h.ctrl.AddImages([]source.File{
		pngFile(t, "a.png", color.RGBA{255, 0, 0, 255}),
		pngFile(t, "b.png", color.RGBA{0, 0, 255, 255}),
	})
	h.setAudio(t)

	if _, err := h.ctrl.Export(); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	h.m.Advance(300 * time.Millisecond)
	for _, a := range added {
		if err := h.ctrl.RemoveImage(a.ID); !errors.Is(err, ErrBusy) {
			t.Errorf("Expected ErrBusy while recording, got %v", err)
		}
	}
	if s := h.ctrl.Snapshot(); len(s.Images) != 2 {
		t.Fatalf("Images must stay while recording, got %d", len(s.Images))
	}

	h.m.Advance(30 * time.Second)
	s := h.ctrl.Snapshot()
	if s.Export.Status != export.Idle {
		t.Errorf("Expected the export to finish and reset, got %s", s.Export.Status)
	}
	if h.recorders[0].frames != 30 {
		t.Errorf("Expected 30 frames, got %d", h.recorders[0].frames)
	}
	if n := h.m.Active(); n != 0 {
		t.Errorf("Expected no live timers, got %d", n)
	}
}

func TestSuggestionSetsTransition(t *testing.T) {
	fs := &fakeSuggester{reply: &suggest.Suggestion{
		Title:                 "Summer",
		Description:           "Beach days",
		RecommendedTransition: renderer.Zoom,
		Vibe:                  "Warm",
	}}
	h := newHarness(t, fs)
	h.ctrl.AddImages([]source.File{pngFile(t, "beach.png", color.RGBA{A: 255})})
	if fs.calls.Load() != 0 {
		t.Error("No suggestion may be requested before audio is set")
	}
	h.setAudio(t)

	if !h.waitFor(func(s Snapshot) bool { return s.Suggestion != nil }) {
		t.Fatal("Suggestion never arrived")
	}
	s := h.ctrl.Snapshot()
	if s.Transition != renderer.Zoom || s.Suggestion.Title != "Summer" {
		t.Errorf("Unexpected session after suggestion: %v, %+v", s.Transition, s.Suggestion)
	}

	h.ctrl.AddImages([]source.File{pngFile(t, "more.png", color.RGBA{A: 255})})
	h.m.Drain()
	if n := fs.calls.Load(); n != 1 {
		t.Errorf("Expected exactly one request, got %d", n)
	}
}

func TestSuggestionFailureIsRetried(t *testing.T) {
	fs := &fakeSuggester{err: errors.New("offline")}
	h := newHarness(t, fs)
	h.ctrl.AddImages([]source.File{pngFile(t, "a.png", color.RGBA{A: 255})})
	h.setAudio(t)

	deadline := time.Now().Add(2 * time.Second)
	for fs.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Let the failure land so the next change may ask again.
	h.waitFor(func(Snapshot) bool { return !h.ctrl.session.suggesting })

	if s := h.ctrl.Snapshot(); s.Suggestion != nil || s.Transition != renderer.Fade {
		t.Errorf("A failed suggestion must not change the session: %+v", s)
	}

	before := fs.calls.Load()
	h.ctrl.AddImages([]source.File{pngFile(t, "b.png", color.RGBA{A: 255})})
	deadline = time.Now().Add(2 * time.Second)
	for fs.calls.Load() == before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := fs.calls.Load(); n <= before {
		t.Errorf("Expected a second request after a later change, got %d", n)
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, nil)
	ch, cancel := h.ctrl.Subscribe()

	if s := <-ch; len(s.Images) != 0 {
		t.Errorf("Expected the initial empty state, got %+v", s)
	}
	h.ctrl.AddImages([]source.File{pngFile(t, "a.png", color.RGBA{A: 255})})
	select {
	case s := <-ch:
		if len(s.Images) != 1 {
			t.Errorf("Expected one image, got %d", len(s.Images))
		}
	default:
		t.Fatal("Expected a state update")
	}

	cancel()
	h.m.Drain()
	if _, ok := <-ch; ok {
		t.Error("Expected the channel to be closed after cancel")
	}
}

func TestPreviewJPEG(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.AddImages([]source.File{pngFile(t, "a.png", color.RGBA{255, 0, 0, 255})})

	data, err := h.ctrl.PreviewJPEG(80)
	if err != nil {
		t.Fatalf("PreviewJPEG failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Preview is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 18 {
		t.Errorf("Expected 32x18, got %v", b)
	}
}
