package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 100 * time.Millisecond

// WatchFunc receives the outcome of every reload. On a failed reload cfg is
// the last good configuration.
type WatchFunc func(cfg *Config, err error)

// Watch reloads the config file whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
func (l *Loader) Watch(ctx context.Context, logger zerolog.Logger, fn WatchFunc) error {
	path := l.Path()
	if path == "" {
		return errors.New("no config file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		var (
			mu    sync.Mutex
			timer *time.Timer
		)
		defer func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, func() {
					if ctx.Err() != nil {
						return
					}
					cfg, err := l.Reload()
					if err != nil {
						logger.Warn().Err(err).Str("path", path).Msg("config reload failed")
					} else {
						logger.Info().Str("path", path).Str("hash", cfg.SourceHash).Msg("config reloaded")
					}
					fn(cfg, err)
				})
				mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
