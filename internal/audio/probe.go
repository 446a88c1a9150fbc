package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// ErrUnsupported is returned by a prober that cannot read the file's format.
var ErrUnsupported = errors.New("audio: unsupported format")

// Prober reports the length of an audio file in seconds.
type Prober interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// WAVProber reads the duration from the WAV header without external tools.
type WAVProber struct{}

func (WAVProber) Probe(ctx context.Context, path string) (float64, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return 0, ErrUnsupported
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("invalid WAV file %s", filepath.Base(path))
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	return dur.Seconds(), nil
}

// FFprobeProber asks ffprobe for the container duration.
type FFprobeProber struct {
	Path string
}

func (p FFprobeProber) Probe(ctx context.Context, path string) (float64, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseDuration(string(out))
}

func parseDuration(s string) (float64, error) {
	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &duration); err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(s), err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", duration)
	}
	return duration, nil
}

// Chain tries each prober in order and returns the first success.
type Chain []Prober

func (c Chain) Probe(ctx context.Context, path string) (float64, error) {
	var errs []error
	for _, p := range c {
		d, err := p.Probe(ctx, path)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrUnsupported) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return 0, ErrUnsupported
	}
	return 0, errors.Join(errs...)
}
