package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/slideshow/internal/export"
	"github.com/ivlev/slideshow/internal/source"
	"github.com/ivlev/slideshow/internal/system"
)

var (
	exportInput string
	exportAudio string
	exportDPI   int
)

// probeTimeout bounds the wait for the audio duration before export.
const probeTimeout = 30 * time.Second

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Собрать видео без интерфейса",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath := exportInput
		if inputPath == "" {
			latest, err := system.FindLatestPDF("input/pdf")
			if err != nil {
				return fmt.Errorf("%w. Положите PDF в input/pdf/", err)
			}
			inputPath = latest
			fmt.Printf("[*] Выбран файл: %s\n", inputPath)
		}

		audioPath := exportAudio
		if audioPath == "" {
			latest, err := system.FindLatestAudio("input/audio")
			if err != nil {
				return fmt.Errorf("%w. Положите аудио в input/audio/", err)
			}
			audioPath = latest
			fmt.Printf("[*] Выбрано аудио: %s\n", audioPath)
		}

		images, err := source.OpenImages(inputPath, exportDPI)
		if err != nil {
			return fmt.Errorf("ошибка инициализации источника: %w", err)
		}
		if len(images) == 0 {
			return errors.New("в источнике нет страниц или изображений")
		}
		track, err := source.ReadFile(audioPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl, closeSession, err := newSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeSession()

		updates, cancel := ctrl.Subscribe()
		defer cancel()

		ctrl.AddImages(images)
		if _, err := ctrl.SetAudio(track); err != nil {
			return err
		}
		fmt.Printf("[*] Изображений: %d\n", len(images))

		deadline := time.After(probeTimeout)
	probe:
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return errors.New("сессия закрыта")
				}
				if snap.Duration > 0 {
					fmt.Printf("[*] Длительность видео установлена по аудио: %.2fs (%d кадров)\n", snap.Duration, snap.TotalFrames)
					break probe
				}
			case <-deadline:
				return errors.New("не удалось получить длительность аудио")
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if _, err := ctrl.Export(); err != nil {
			return err
		}

		w := &exportWatch{out: os.Stdout}
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return errors.New("сессия закрыта")
				}
				if done, err := w.observe(snap.Export); done {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportInput, "input", "", "Путь к PDF или папке с изображениями (по умолчанию: самый свежий файл в input/pdf/)")
	f.StringVar(&exportAudio, "audio", "", "Путь к аудио (по умолчанию: самый свежий файл в input/audio/)")
	f.IntVar(&exportDPI, "dpi", 150, "DPI")
}

// exportWatch prints the progress of a started export and recognizes its end
// from coalesced state updates.
type exportWatch struct {
	out    io.Writer
	decile int
	seen   bool
}

// observe reports whether the job has ended and, if so, with which error.
func (w *exportWatch) observe(job export.Job) (bool, error) {
	switch job.Status {
	case export.Recording:
		if d := job.Progress / 10; !w.seen || d > w.decile {
			fmt.Fprintf(w.out, "[*] Экспорт: %d%%\n", job.Progress)
			w.decile = d
		}
		w.seen = true
	case export.Completed:
		fmt.Fprintf(w.out, "[+++] Успех! Результат: %s\n", job.Artifact.Name)
		if job.Artifact.URL != "" {
			fmt.Fprintf(w.out, "[*] Ссылка: %s\n", job.Artifact.URL)
		}
		return true, nil
	case export.Failed:
		return true, fmt.Errorf("ошибка экспорта: %s", job.Error)
	case export.Idle:
		// The export was already running, so idle means it reset unseen.
		return true, errors.New("экспорт завершился без результата")
	}
	return false, nil
}
