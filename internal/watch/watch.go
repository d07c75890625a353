// Package watch re-runs manifest validation whenever the manifest or any
// file in its include closure changes on disk.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce absorbs editor save storms (truncate+write, rename-over).
const debounce = 200 * time.Millisecond

// ValidateFunc runs one validation pass and returns the files to watch for
// the next round (the manifest's current include closure).
type ValidateFunc func(ctx context.Context) []string

// Run validates once, then watches the returned files until ctx is
// cancelled, re-validating after each debounced change. The watch set is
// recomputed after every pass, so edits that add or remove includes are
// picked up.
func Run(ctx context.Context, logger *slog.Logger, validate ValidateFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := rewatch(w, nil, validate(ctx), logger)
	logger.Info("watch: started", slog.Int("files", len(watched.files)))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watch: stopped")
			return nil

		case <-fire:
			watched = rewatch(w, watched, validate(ctx), logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if _, relevant := watched.files[filepath.Clean(ev.Name)]; !relevant {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				logger.Debug("watch: change detected",
					slog.String("path", ev.Name),
					slog.String("op", ev.Op.String()))
				schedule()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch: watcher error", slog.String("error", err.Error()))
		}
	}
}

type watchSet struct {
	files map[string]struct{}
	dirs  map[string]struct{}
}

// rewatch swaps the watched directory set to cover the new file list.
// Directories are watched rather than files so rename-over saves keep
// producing events.
func rewatch(w *fsnotify.Watcher, old *watchSet, files []string, logger *slog.Logger) *watchSet {
	next := &watchSet{
		files: make(map[string]struct{}, len(files)),
		dirs:  make(map[string]struct{}),
	}
	for _, f := range files {
		f = filepath.Clean(f)
		next.files[f] = struct{}{}
		next.dirs[filepath.Dir(f)] = struct{}{}
	}

	if old != nil {
		for d := range old.dirs {
			if _, keep := next.dirs[d]; !keep {
				_ = w.Remove(d)
			}
		}
	}
	for d := range next.dirs {
		if old != nil {
			if _, had := old.dirs[d]; had {
				continue
			}
		}
		if err := w.Add(d); err != nil {
			logger.Warn("watch: add dir failed",
				slog.String("dir", d),
				slog.String("error", err.Error()))
		}
	}
	return next
}
