package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// DefaultDebounce is how long the directory must stay quiet before a watch-triggered rebuild.
const DefaultDebounce = 2 * time.Second

// Watch rebuilds the collection whenever eligible files under the knowledge directory
// change, once changes have settled for debounce. It blocks until ctx is cancelled.
// Failed runs are logged and do not stop the watcher.
func (s *Service) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := s.loader.Dir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := addTree(w, dir); err != nil {
		return err
	}
	s.logger.Info("watching knowledge directory", zap.String("dir", dir), zap.Duration("debounce", debounce))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						s.logger.Warn("watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
					timer.Reset(debounce)
					continue
				}
			}
			if relevant(ev) {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			report, err := s.Run(ctx, Options{Rebuild: true})
			switch {
			case errors.Is(err, domain.ErrIngestInProgress):
				timer.Reset(debounce)
			case errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				s.logger.Warn("watch-triggered ingest failed", zap.Error(err))
			default:
				s.logger.Info("watch-triggered ingest done",
					zap.Int("files", report.Files), zap.Int("chunks", report.Chunks))
			}
		}
	}
}

// relevant reports whether ev touches an eligible, non-hidden document.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	_, ok := domain.FormatFromPath(ev.Name)
	// Removing or renaming a directory drops every document below it.
	return ok || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// addTree watches dir and every directory below it; fsnotify is not recursive.
func addTree(w *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	return nil
}
