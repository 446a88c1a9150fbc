package main

import (
	"context"
	"fmt"

	"github.com/ivlev/slideshow/internal/audio"
	"github.com/ivlev/slideshow/internal/engine"
	"github.com/ivlev/slideshow/internal/focus"
	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/schedule"
	"github.com/ivlev/slideshow/internal/storage"
	"github.com/ivlev/slideshow/internal/suggest"
	"github.com/ivlev/slideshow/internal/system"
	"github.com/ivlev/slideshow/internal/video"
)

// newSession wires a controller on a running loop. audible enables ffplay
// output for the preview. The returned func closes the session and stops
// the loop; the loop outlives ctx so that shutdown can still abort exports.
func newSession(ctx context.Context, audible bool) (*engine.Controller, func(), error) {
	encoder := cfg.VideoEncoder
	if encoder == "" || encoder == "auto" {
		encoder = system.GetBestH264Encoder(cfg.FFmpegPath)
		if encoder != "libx264" {
			fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", encoder)
		}
	}

	factory := video.NewFactory(video.Settings{
		Width:      cfg.Width,
		Height:     cfg.Height,
		FPS:        cfg.FPS,
		Format:     cfg.OutputFormat,
		Encoder:    encoder,
		Quality:    cfg.Quality,
		FFmpegPath: cfg.FFmpegPath,
		OutputDir:  cfg.OutputDir,
		Prefix:     cfg.OutputPrefix,
	}, nil)

	publisher, err := newPublisher(ctx)
	if err != nil {
		return nil, nil, err
	}
	factory = storage.Publishing(factory, publisher, cfg.ShareQR, 0)

	detector, err := focus.NewDetector("contrast")
	if err != nil {
		return nil, nil, err
	}

	var out audio.Output = audio.NopOutput{}
	if audible && cfg.AudioOutput {
		out = audio.NewFFplayOutput(cfg.FFplayPath)
	}

	var suggester suggest.Suggester
	if cfg.Suggest.Enabled && cfg.Suggest.APIKey != "" {
		suggester = suggest.NewClaude(cfg.Suggest)
	} else {
		logger.Info("suggestions disabled")
	}

	loop := schedule.NewLoop(0)
	go loop.Run(context.Background())

	ctrl, err := engine.New(cfg, engine.Deps{
		Scheduler: loop,
		Player:    audio.NewClockPlayer(nil, out),
		Prober:    audio.Chain{audio.WAVProber{}, audio.FFprobeProber{Path: cfg.FFprobePath}},
		Factory:   factory,
		Suggester: suggester,
		Detector:  detector,
		Build:     Build,
	})
	if err != nil {
		loop.Stop()
		return nil, nil, err
	}
	return ctrl, func() {
		ctrl.Close()
		loop.Stop()
	}, nil
}

// newPublisher picks MinIO when an endpoint is configured, local links otherwise.
func newPublisher(ctx context.Context) (storage.Publisher, error) {
	if cfg.Storage.Endpoint == "" {
		return storage.LocalPublisher{BaseURL: publicURL}, nil
	}
	pub, err := storage.NewMinio(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := pub.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", cfg.Storage.Bucket, err)
	}
	fmt.Printf("[*] Результаты публикуются в MinIO: %s/%s\n", cfg.Storage.Endpoint, cfg.Storage.Bucket)
	return pub, nil
}
