// internal/watch/watch.go
package watch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"themesync/internal/pipeline"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// MaxPayloadSize is the largest file buffered into a Content event. Larger files are
// reported as unsupported.
var MaxPayloadSize int64 = 20 << 20

// DefaultIgnoreDirs are never walked or watched.
var DefaultIgnoreDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
}

// EventFor builds the event describing the current state of path.
func EventFor(path string) pipeline.Event {
	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return pipeline.DeletionEvent(path)
		}
		return pipeline.UnsupportedEvent(path)
	}
	if !info.Mode().IsRegular() || info.Size() > MaxPayloadSize {
		return pipeline.UnsupportedEvent(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return pipeline.DeletionEvent(path)
		}
		return pipeline.UnsupportedEvent(path)
	}
	return pipeline.ContentEvent(path, data)
}

// Files lists the regular files under each root in lexical order. A root that is a file
// is listed as is, and so is a root that does not exist, which EventFor reports as a
// deletion.
func Files(roots []string, ignoreDirs map[string]bool) ([]string, error) {
	if ignoreDirs == nil {
		ignoreDirs = DefaultIgnoreDirs
	}

	seen := make(map[string]bool)
	var files []string
	for _, root := range roots {
		if _, err := os.Lstat(root); stderrors.Is(err, fs.ErrNotExist) {
			if !seen[root] {
				seen[root] = true
				files = append(files, root)
			}
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && ignoreDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Feed emits one event per path, reading each file only when its turn comes.
// The returned channel is closed when all paths were sent or ctx is done.
func Feed(ctx context.Context, paths []string) <-chan pipeline.Event {
	out := make(chan pipeline.Event)
	go func() {
		defer close(out)
		for _, p := range paths {
			select {
			case out <- EventFor(p):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Watcher turns filesystem notifications under a root into pipeline events.
type Watcher struct {
	root       string
	fsw        *fsnotify.Watcher
	ignoreDirs map[string]bool
	events     chan pipeline.Event
	errors     chan error
	logger     *zap.Logger

	mu      sync.Mutex
	watched map[string]bool
}

func New(root string, ignoreDirs map[string]bool, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if ignoreDirs == nil {
		ignoreDirs = DefaultIgnoreDirs
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Watcher{
		root:       root,
		fsw:        fsw,
		ignoreDirs: ignoreDirs,
		events:     make(chan pipeline.Event, 64),
		errors:     make(chan error, 8),
		logger:     logger,
		watched:    make(map[string]bool),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("initializing watch: %w", err)
	}
	return w, nil
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan pipeline.Event {
	return w.events
}

func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// WatchedPaths returns the directories currently registered with the OS.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.watched))
	for p := range w.watched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Run processes notifications until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			ev, emit := w.handle(event)
			if !emit {
				continue
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(event fsnotify.Event) (pipeline.Event, bool) {
	if w.ignored(event.Name) {
		return pipeline.Event{}, false
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		wasDir := w.watched[event.Name]
		delete(w.watched, event.Name)
		w.mu.Unlock()
		if wasDir {
			return pipeline.Event{}, false
		}
		return pipeline.DeletionEvent(event.Name), true

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if event.Has(fsnotify.Create) {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Error("adding new directory to watcher", zap.Error(err))
				}
			}
			return pipeline.Event{}, false
		}
		return EventFor(event.Name), true
	}

	return pipeline.Event{}, false
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoreDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		w.mu.Lock()
		w.watched[path] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if w.ignoreDirs[part] {
			return true
		}
	}
	return false
}
