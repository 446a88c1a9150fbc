package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivlev/slideshow/internal/config"
	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/system"
)

// Build is set at link time with -ldflags "-X main.Build=...".
var Build = "dev"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "slideshow",
	Short: "Слайдшоу из изображений под музыку: предпросмотр и экспорт в видео",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logger.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		// Увеличиваем лимиты системы (для macOS/Linux)
		system.InitResourceLimits()
		for _, d := range []string{"input/audio", "input/pdf", cfg.OutputDir} {
			os.MkdirAll(d, 0755)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "Путь к YAML-конфигурации")
	f.Int("width", 0, "Ширина")
	f.Int("height", 0, "Высота")
	f.Int("fps", 0, "FPS экспорта")
	f.Int("workers", 0, "Потоки декодирования")
	f.String("transition", "", "Переход: fade, slide, zoom, none")
	f.String("format", "", "Формат видео: mp4, webm")
	f.Int("quality", -1, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	f.String("preset", "", "Пресет формата: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	f.Bool("stats", false, "Печатать отчет о производительности после экспорта")
	f.Bool("qr", false, "Создавать QR-код со ссылкой на результат")

	rootCmd.AddCommand(serveCmd, exportCmd)
}

// applyFlags overrides the loaded configuration with explicitly set flags.
func applyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("width") {
		cfg.Width, _ = f.GetInt("width")
	}
	if f.Changed("height") {
		cfg.Height, _ = f.GetInt("height")
	}
	if f.Changed("fps") {
		cfg.FPS, _ = f.GetInt("fps")
	}
	if f.Changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("transition") {
		cfg.Transition, _ = f.GetString("transition")
	}
	if f.Changed("format") {
		cfg.OutputFormat, _ = f.GetString("format")
	}
	if f.Changed("quality") {
		cfg.Quality, _ = f.GetInt("quality")
	}
	if f.Changed("stats") {
		cfg.ShowStats, _ = f.GetBool("stats")
	}
	if f.Changed("qr") {
		cfg.ShareQR, _ = f.GetBool("qr")
	}

	preset, _ := f.GetString("preset")
	switch preset {
	case "16:9":
		cfg.Width, cfg.Height = 1280, 720
	case "9:16":
		cfg.Width, cfg.Height = 720, 1280
	case "4:5":
		cfg.Width, cfg.Height = 1080, 1350
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка: %v\n", err)
		os.Exit(1)
	}
}
