package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reforma-ai/ragqa/engine/scraper"
)

// watchDir calls onChange once corpus files in dir stop changing for quiet.
// It returns when ctx is done.
func watchDir(ctx context.Context, dir string, quiet time.Duration, log *slog.Logger, onChange func(context.Context)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("watching corpus", "dir", dir, "debounce", quiet)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !corpusEvent(ev) {
				continue
			}
			log.Debug("corpus changed", "file", filepath.Base(ev.Name), "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(quiet)
			} else {
				timer.Reset(quiet)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)
		case <-fire:
			fire = nil
			onChange(ctx)
		}
	}
}

func corpusEvent(ev fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(ev.Name), scraper.CorpusExt) {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
