// Package watch follows a workspace with fsnotify and fires a callback once
// the directory settles after a burst of changes. The drift watch command
// uses it to auto-commit.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"drift/internal/errors"
	"drift/internal/workspace"
)

var ignoreDirs = map[string]bool{
	workspace.MetaDirName: true,
	".git":                true,
	"node_modules":        true,
	"vendor":              true,
	"dist":                true,
	"build":               true,
}

// Watcher debounces filesystem events into OnSettle calls.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	// OnSettle runs after the workspace has been quiet for the debounce
	// interval. An error stops the watch loop.
	OnSettle func() error
}

func New(root string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.BackingStore("creating file watcher", err)
	}

	w := &Watcher{root: root, watcher: fw, logger: logger, debounce: debounce}
	if err := w.addRecursive(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errors.BackingStore("walking "+path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return errors.BackingStore("watching "+path, err)
		}
		return nil
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if ignoreDirs[part] || (part != "" && part[0] == '.') {
			return true
		}
	}
	return false
}

// Run blocks processing events until ctx is cancelled or OnSettle fails.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watching new directory", zap.Error(err))
					}
				}
			}
			w.logger.Debug("workspace changed",
				zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				settle = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case <-settle:
			timer = nil
			settle = nil
			if w.OnSettle == nil {
				continue
			}
			if err := w.OnSettle(); err != nil {
				return err
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}
