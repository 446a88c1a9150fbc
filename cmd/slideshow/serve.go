package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/server"
	"github.com/ivlev/slideshow/internal/source"
)

var (
	watchDir  string
	publicURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP-интерфейс с предпросмотром",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Listen = listen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl, closeSession, err := newSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeSession()

		if watchDir != "" {
			fmt.Printf("[*] Слежу за папкой: %s\n", watchDir)
			go func() {
				err := source.Watch(ctx, watchDir, 500*time.Millisecond, func(f source.File) {
					fmt.Printf("[*] Новое изображение: %s\n", f.Name)
					ctrl.AddImages([]source.File{f})
				})
				if err != nil {
					logger.Error("watch failed", logger.String("dir", watchDir), logger.ErrorField(err))
				}
			}()
		}

		fmt.Printf("[*] Интерфейс доступен на %s\n", cfg.Listen)
		return server.New(cfg, ctrl).ListenAndServe(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", "", "Адрес HTTP-сервера (по умолчанию из конфигурации)")
	f.StringVar(&watchDir, "watch", "", "Папка, новые изображения из которой добавляются автоматически")
	f.StringVar(&publicURL, "public-url", "", "Внешний адрес сервера для ссылок на результат")
}
