package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

func isSupportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".webp", ".tif", ".tiff":
		return true
	}
	return false
}

// listImageFiles returns the supported images directly under dir, sorted.
func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// debounce forwards a path once no event has been seen for it for quiet.
// It closes out when in is closed or ctx is done.
func debounce(ctx context.Context, in <-chan string, quiet time.Duration, out chan<- string) {
	defer close(out)
	pending := map[string]time.Time{}
	ticker := time.NewTicker(quiet / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-in:
			if !ok {
				return
			}
			pending[p] = time.Now()
		case now := <-ticker.C:
			var ready []string
			for p, t := range pending {
				if now.Sub(t) >= quiet {
					ready = append(ready, p)
				}
			}
			sort.Strings(ready)
			for _, p := range ready {
				delete(pending, p)
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// watchDirectory feeds stable new images under dir to handle, one at a
// time, until ctx is done.
func watchDirectory(ctx context.Context, dir string, logger *slog.Logger, handle func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("watching directory", "dir", dir)

	events := make(chan string, 256)
	stable := make(chan string, 256)
	go debounce(ctx, events, 300*time.Millisecond, stable)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
					if !isSupportedExt(ev.Name) {
						continue
					}
					select {
					case events <- ev.Name:
					case <-ctx.Done():
						return
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("watch error", "error", err)
			}
		}
	}()

	// single consumer keeps per-image processing sequential
	for p := range stable {
		handle(p)
	}
	return ctx.Err()
}
