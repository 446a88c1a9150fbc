package source

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ivlev/slideshow/internal/logger"
)

// Watch reports image files created in dir until ctx is done. Writers often
// create then fill a file, so each file is read after a short settle delay.
func Watch(ctx context.Context, dir string, settle time.Duration, onFile func(File)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		seen := make(map[string]bool)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != fsnotify.Create || !IsImage(event.Name) || seen[event.Name] {
					continue
				}
				seen[event.Name] = true
				name := event.Name
				time.AfterFunc(settle, func() {
					f, err := ReadFile(name)
					if err != nil {
						logger.Warn("watched file unreadable", logger.String("path", name), logger.ErrorField(err))
						return
					}
					onFile(f)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", logger.ErrorField(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
