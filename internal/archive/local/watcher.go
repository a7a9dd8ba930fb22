package local

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the tree must stay quiet before a batch of
// changes is delivered.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the archive paths, slash separated and relative to
// the root, that changed since the last call.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches the archive directory tree for markdown changes. fsnotify
// is not recursive, so every subdirectory is added and new ones are picked
// up as they appear.
type Watcher struct {
	root     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

func NewWatcher(src *Source, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		root:     src.Root(),
		debounce: debounce,
		watcher:  fw,
		logger:   slog.Default().With("component", "archive-watcher", "dir", src.Root()),
	}
	if err := w.addTree(w.root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run delivers debounced batches of changed paths to fn until ctx is done,
// then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context, fn ChangeFunc) {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()
	pending := make(map[string]struct{})
	var lastEvent time.Time

	w.logger.Info("archive watcher started")
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if isDir, err := statDir(event.Name); err == nil && isDir {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("watching new directory failed", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !IsMarkdown(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if rel, err := filepath.Rel(w.root, event.Name); err == nil {
					pending[filepath.ToSlash(rel)] = struct{}{}
					lastEvent = time.Now()
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			if len(pending) == 0 || time.Since(lastEvent) < w.debounce {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			w.logger.Debug("archive files changed", "count", len(paths))
			fn(ctx, paths)
		}
	}
}
