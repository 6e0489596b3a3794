package files

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

const defaultDebounce = 100 * time.Millisecond

// Change is a filesystem change reported by a Watcher. Events for the same
// path that arrive within the debounce window are merged, so Op may carry
// several operations.
type Change struct {
	Path string
	Op   fsnotify.Op
	Time time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for a burst of events to end
// before reporting it. Many editors write a file in several steps.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithOps restricts reported changes to the given operations.
func WithOps(ops fsnotify.Op) WatcherOption {
	return func(w *Watcher) { w.ops = ops }
}

// WithIgnore skips paths with any of the given base names, and everything
// below them.
func WithIgnore(names ...string) WatcherOption {
	return func(w *Watcher) { w.ignore = append(w.ignore, names...) }
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger *logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// Watcher reports changes under a set of directory trees. Directories
// created under a watched root are watched as well.
type Watcher struct {
	roots    []string
	debounce time.Duration
	ops      fsnotify.Op
	ignore   []string
	logger   *logging.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	stopped  bool
	closeErr error
	loop     conc.WaitGroup
}

// NewWatcher creates a Watcher over roots. Nothing is watched until Start.
func NewWatcher(roots []string, opts ...WatcherOption) (*Watcher, error) {
	if len(roots) == 0 {
		return nil, errors.NewValidationError("at least one root is required").WithField("roots")
	}

	w := &Watcher{
		roots:    slices.Clone(roots),
		debounce: defaultDebounce,
		ops:      fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename,
		ignore:   []string{".git"},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debounce <= 0 {
		w.debounce = time.Millisecond
	}
	if w.logger == nil {
		w.logger = logging.NopLogger()
	}
	return w, nil
}

// Start watches the roots and reports changes to emit from a background
// goroutine until ctx is done or Stop is called. It returns once every root
// is being watched. emit calls are never concurrent. The underlying watch
// descriptors are released as soon as the goroutine exits, so canceling ctx
// is enough to clean up.
//
// A Watcher can be started once.
func (w *Watcher) Start(ctx context.Context, emit func(Change) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil || w.stopped {
		return errors.NewValidationError("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	for _, root := range w.roots {
		if err := w.addRecursive(fsw, root); err != nil {
			_ = fsw.Close()
			return errors.Wrapf(err, "watch %s", root)
		}
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.loop.Go(func() { w.watchLoop(ctx, fsw, w.stopCh, emit) })

	w.logger.Info("watcher started", "roots", w.roots, "debounce", w.debounce.String())
	return nil
}

// Stop stops watching and waits for the background goroutine to exit.
// Stop is safe to call more than once and before Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	fsw := w.fsw
	if w.stopCh != nil {
		close(w.stopCh)
	}
	w.mu.Unlock()

	w.loop.Wait()
	if fsw == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeErr
}

func (w *Watcher) close(fsw *fsnotify.Watcher) {
	err := fsw.Close()

	w.mu.Lock()
	w.closeErr = err
	w.mu.Unlock()

	w.logger.Debug("watcher closed")
}

// addRecursive watches dir and every directory below it. fsnotify only
// watches single directories.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	if err := fsw.Add(dir); err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == dir || !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", "path", path, "error", err.Error())
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	return slices.Contains(w.ignore, filepath.Base(path))
}

// ignoredBelow reports whether any element of path is ignored.
func (w *Watcher) ignoredBelow(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if slices.Contains(w.ignore, part) {
			return true
		}
	}
	return false
}

func (w *Watcher) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, stop <-chan struct{}, emit func(Change) error) {
	defer w.close(fsw)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	defer debounceTimer.Stop()

	pending := make(map[string]Change)

	for {
		select {
		case <-ctx.Done():
			return

		case <-stop:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.ignoredBelow(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				w.watchIfDir(fsw, event.Name)
			}
			if event.Op&w.ops == 0 {
				continue
			}

			c := pending[event.Name]
			c.Path = event.Name
			c.Op |= event.Op & w.ops
			c.Time = time.Now()
			pending[event.Name] = c

			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			changes := make([]Change, 0, len(pending))
			for _, c := range pending {
				changes = append(changes, c)
			}
			pending = make(map[string]Change)
			sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

			for _, c := range changes {
				if err := emit(c); err != nil {
					w.logger.Warn("change not delivered", "path", c.Path, "error", err.Error())
				}
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err.Error())
		}
	}
}

func (w *Watcher) watchIfDir(fsw *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addRecursive(fsw, path); err != nil {
		w.logger.Warn("cannot watch new directory", "path", path, "error", err.Error())
	}
}
