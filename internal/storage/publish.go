package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/video"
)

// Publishing wraps a recorder factory so that every successful recording is
// published before completion is reported. A publish failure keeps the local
// artifact and is only logged.
func Publishing(f video.Factory, pub Publisher, qr bool, timeout time.Duration) video.Factory {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return func(audioPath string) (video.Recorder, error) {
		rec, err := f(audioPath)
		if err != nil {
			return nil, err
		}
		return &publishingRecorder{Recorder: rec, pub: pub, qr: qr, timeout: timeout}, nil
	}
}

type publishingRecorder struct {
	video.Recorder
	pub     Publisher
	qr      bool
	timeout time.Duration
}

func (r *publishingRecorder) Stop(done func(video.Artifact, error)) {
	r.Recorder.Stop(func(a video.Artifact, err error) {
		if err != nil {
			done(a, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		link, perr := r.pub.Publish(ctx, a)
		if perr != nil {
			logger.Warn("publish failed, keeping local artifact", logger.String("name", a.Name), logger.ErrorField(perr))
			done(a, nil)
			return
		}
		a.URL = link

		if r.qr && isAbsolute(link) {
			qrPath := strings.TrimSuffix(a.Path, filepath.Ext(a.Path)) + "_qr.png"
			if err := WriteQR(link, qrPath); err != nil {
				logger.Warn("qr code skipped", logger.ErrorField(err))
			} else {
				a.QRPath = qrPath
			}
		}
		logger.Info("artifact published", logger.String("name", a.Name), logger.String("url", link))
		done(a, nil)
	})
}

func isAbsolute(link string) bool {
	return strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://")
}
