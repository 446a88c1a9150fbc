// Package video records composed frames and the audio track into a video
// file through an ffmpeg rawvideo pipe.
package video

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"
)

// Artifact is a finished recording.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"-"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
	Frames int    `json:"frames"`
	URL    string `json:"url,omitempty"`
	QRPath string `json:"-"`
}

// Recorder serializes frames plus audio into an artifact. WriteFrame takes
// ownership of the frame. Stop finishes asynchronously and calls done
// exactly once, from any goroutine.
type Recorder interface {
	Start(ctx context.Context) error
	WriteFrame(frame *image.RGBA) error
	Stop(done func(Artifact, error))
	Abort()
}

// Factory builds a recorder for one export of the given audio file.
type Factory func(audioPath string) (Recorder, error)

// Settings describes the output of a recording.
type Settings struct {
	Width      int
	Height     int
	FPS        int
	Format     string // mp4 or webm
	Encoder    string // H.264 encoder for mp4
	Quality    int
	FFmpegPath string
	OutputDir  string
	Prefix     string
}

// ArtifactName builds "<prefix>_<YYYY-MM-DD_HH-MM-SS>.<format>".
func ArtifactName(prefix, format string, t time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("2006-01-02_15-04-05"), strings.ToLower(format))
}

// qualityArgs maps a single quality number onto the encoder's own knob.
// A non-positive quality selects the encoder's default.
func qualityArgs(encoder string, quality int) []string {
	if quality <= 0 {
		quality = defaultQuality(encoder)
	}
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox не везде поддерживает -q:v, используем битрейт: 75 -> 7.5 Мбит/с.
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	case "libvpx-vp9":
		return []string{"-crf", fmt.Sprintf("%d", quality), "-b:v", "0", "-row-mt", "1"}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

// buildArgs assembles the ffmpeg command line: raw RGBA frames on stdin at
// the capture rate, muxed with the audio file and cut to the shorter stream.
func buildArgs(s Settings, audioPath, outPath string) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", fmt.Sprintf("%d", s.FPS),
		"-i", "-",
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath, "-map", "0:v:0", "-map", "1:a:0")
	}

	encoder, audioCodec := s.Encoder, "aac"
	if s.Format == "webm" {
		encoder, audioCodec = "libvpx-vp9", "libopus"
	}
	if encoder == "" {
		encoder = "libx264"
	}
	args = append(args, "-c:v", encoder, "-pix_fmt", "yuv420p")
	args = append(args, qualityArgs(encoder, s.Quality)...)

	if audioPath != "" {
		args = append(args, "-c:a", audioCodec, "-b:a", "192k", "-shortest")
	}
	if s.Format != "webm" {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, outPath)
}

func defaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75
	case "libvpx-vp9":
		return 31
	default:
		return 23
	}
}
