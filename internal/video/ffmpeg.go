package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/system"
)

var (
	// ErrStopped is returned when frames arrive after Stop or Abort.
	ErrStopped = errors.New("video: recorder stopped")
	// ErrBacklog is returned once ffmpeg falls too far behind the frames.
	ErrBacklog = errors.New("video: encoder backlog")
)

// lagSeconds bounds how far ffmpeg may fall behind before the recording fails.
const lagSeconds = 3

// queuedFrame is a frame waiting for the pipe. repeat counts the copies owed
// for frames that arrived while the queue was full; it is guarded by mu.
type queuedFrame struct {
	img    *image.RGBA
	repeat int
}

// FFmpegRecorder streams frames into an ffmpeg process.
type FFmpegRecorder struct {
	settings  Settings
	audioPath string
	name      string
	outPath   string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	frames chan *queuedFrame
	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	written int
	last    *queuedFrame
	lag     int
}

// NewFactory returns a Factory producing ffmpeg recorders named after the
// moment each export starts.
func NewFactory(s Settings, now func() time.Time) Factory {
	if now == nil {
		now = time.Now
	}
	return func(audioPath string) (Recorder, error) {
		return NewFFmpegRecorder(s, audioPath, now())
	}
}

func NewFFmpegRecorder(s Settings, audioPath string, at time.Time) (*FFmpegRecorder, error) {
	if s.Width <= 0 || s.Height <= 0 || s.FPS <= 0 {
		return nil, fmt.Errorf("invalid recorder settings %dx%d@%d", s.Width, s.Height, s.FPS)
	}
	if s.Format == "" {
		s.Format = "mp4"
	}
	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	name := ArtifactName(s.Prefix, s.Format, at)
	return &FFmpegRecorder{
		settings:  s,
		audioPath: audioPath,
		name:      name,
		outPath:   filepath.Join(s.OutputDir, name),
	}, nil
}

func (r *FFmpegRecorder) Start(ctx context.Context) error {
	bin := r.settings.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.cmd = exec.CommandContext(ctx, bin, buildArgs(r.settings, r.audioPath, r.outPath)...)
	r.cmd.Stdout = &r.stderr
	r.cmd.Stderr = &r.stderr

	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		r.cancel()
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	r.stdin = stdin
	if err := r.cmd.Start(); err != nil {
		r.cancel()
		return fmt.Errorf("ffmpeg start error: %w", err)
	}

	r.frames = make(chan *queuedFrame, r.settings.FPS)
	r.group, r.gctx = errgroup.WithContext(ctx)
	r.group.Go(r.pump)
	logger.Info("recorder started", logger.String("output", r.outPath), logger.String("encoder", r.settings.Encoder))
	return nil
}

// pump writes queued frames to ffmpeg and closes its stdin at the end.
func (r *FFmpegRecorder) pump() error {
	defer r.stdin.Close()
	for q := range r.frames {
		err := r.writeQueued(q)
		system.PutImage(q.img)
		if err != nil {
			return fmt.Errorf("write raw error: %w", err)
		}
	}
	return nil
}

// writeQueued writes a frame and then every copy owed for it.
func (r *FFmpegRecorder) writeQueued(q *queuedFrame) error {
	for n := 1; n > 0; n = r.takeRepeats(q) {
		for ; n > 0; n-- {
			if _, err := r.stdin.Write(q.img.Pix); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *FFmpegRecorder) takeRepeats(q *queuedFrame) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := q.repeat
	q.repeat = 0
	r.lag -= n
	return n
}

// WriteFrame queues a frame without waiting for ffmpeg. A frame that finds
// the queue full is recorded as another copy of the last queued one, so the
// video keeps its length; past lagSeconds of such copies it fails.
func (r *FFmpegRecorder) WriteFrame(frame *image.RGBA) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.frames == nil {
		system.PutImage(frame)
		return ErrStopped
	}
	if frame.Rect.Dx() != r.settings.Width || frame.Rect.Dy() != r.settings.Height {
		system.PutImage(frame)
		return fmt.Errorf("frame size %v does not match %dx%d", frame.Rect.Size(), r.settings.Width, r.settings.Height)
	}
	if err := r.gctx.Err(); err != nil {
		system.PutImage(frame)
		return fmt.Errorf("recorder failed: %w", context.Cause(r.gctx))
	}

	q := &queuedFrame{img: frame}
	select {
	case r.frames <- q:
		r.last = q
		r.written++
		return nil
	default:
	}
	system.PutImage(frame)
	if r.last == nil || r.lag >= lagSeconds*r.settings.FPS {
		return fmt.Errorf("%w: %d frames behind", ErrBacklog, r.lag+len(r.frames))
	}
	r.last.repeat++
	r.lag++
	r.written++
	return nil
}

func (r *FFmpegRecorder) Stop(done func(Artifact, error)) {
	if !r.close() {
		done(Artifact{}, ErrStopped)
		return
	}
	go func() {
		werr := r.group.Wait()
		cerr := r.cmd.Wait()
		r.cancel()
		if err := errors.Join(werr, cerr); err != nil {
			done(Artifact{}, fmt.Errorf("ffmpeg: %w\nLog: %s", err, tail(r.stderr.String(), 2048)))
			return
		}
		info, err := os.Stat(r.outPath)
		if err != nil {
			done(Artifact{}, fmt.Errorf("output missing: %w", err))
			return
		}
		done(Artifact{
			Name:   r.name,
			Path:   r.outPath,
			Format: r.settings.Format,
			Size:   info.Size(),
			Frames: r.written,
		}, nil)
	}()
}

// Abort kills ffmpeg and removes the partial output.
func (r *FFmpegRecorder) Abort() {
	if !r.close() {
		return
	}
	r.cancel()
	go func() {
		r.group.Wait()
		r.cmd.Wait()
		os.Remove(r.outPath)
	}()
}

// close stops accepting frames; it reports false if the recorder was never
// started or is already closed.
func (r *FFmpegRecorder) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.frames == nil {
		return false
	}
	r.closed = true
	close(r.frames)
	return true
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
