// Package autoexec runs the scripts of a directory at startup and whenever
// they change.
//
// Existing *.lua files run once in name order. While the watcher is started,
// files created or written in the directory run again after a quiet period,
// so an editor's burst of writes triggers a single run. Removed or renamed
// scripts are reported to the RemoveFunc set with WithRemove.
package autoexec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDelay is the debounce window used when none is configured.
const DefaultDelay = 200 * time.Millisecond

// ErrWatcherClosed is returned when starting a closed watcher.
var ErrWatcherClosed = errors.New("autoexec watcher is closed")

// RunFunc executes the script at path.
type RunFunc func(ctx context.Context, path string) error

// RemoveFunc is called when the script at path leaves the directory.
type RemoveFunc func(ctx context.Context, path string)

// Watcher runs and watches one autoexec directory.
type Watcher struct {
	dir    string
	run    RunFunc
	remove RemoveFunc
	delay time.Duration
	log   logrus.FieldLogger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	runs    int
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithRemove sets the callback for removed or renamed scripts.
func WithRemove(fn RemoveFunc) Option {
	return func(w *Watcher) {
		w.remove = fn
	}
}

// WithLogger sets the watcher logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// New creates a watcher for dir that executes scripts with run.
func New(dir string, run RunFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dir:     dir,
		run:     run,
		delay:   DefaultDelay,
		log:     logrus.StandardLogger(),
		pending: make(map[string]*time.Timer),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithField("component", "autoexec")
	return w
}

// Scripts returns the *.lua files of dir in name order. A missing directory
// has no scripts.
func Scripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isScript(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func isScript(name string) bool {
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && strings.EqualFold(filepath.Ext(base), ".lua")
}

// RunExisting runs every script currently in the directory. A failing
// script is logged and does not stop the rest. Returns the number of scripts
// that ran without error.
func (w *Watcher) RunExisting(ctx context.Context) (int, error) {
	paths, err := Scripts(w.dir)
	if err != nil {
		return 0, err
	}

	ok := 0
	for _, p := range paths {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if w.execute(ctx, p) {
			ok++
		}
	}
	return ok, nil
}

func (w *Watcher) execute(ctx context.Context, path string) bool {
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()

	log := w.log.WithField("script", filepath.Base(path))
	if err := w.run(ctx, path); err != nil {
		log.WithError(err).Error("autoexec script failed")
		return false
	}
	log.Debug("autoexec script ran")
	return true
}

// Runs returns the number of script executions so far.
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Start begins watching the directory, creating it if needed. Scripts
// triggered by changes run with ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.fsw != nil {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closeCh:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !isScript(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				w.schedule(ctx, ev.Name)
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				w.dropped(ctx, ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

// schedule runs path once the debounce window passes without further
// events for it.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		closed := w.closed
		w.mu.Unlock()

		if closed || ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		w.execute(ctx, path)
	})
}

// dropped cancels a pending run of path and reports the removal.
func (w *Watcher) dropped(ctx context.Context, path string) {
	w.mu.Lock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	closed := w.closed
	w.mu.Unlock()

	if closed || w.remove == nil {
		return
	}
	w.log.WithField("script", filepath.Base(path)).Debug("autoexec script removed")
	w.remove(ctx, path)
}

// Close stops watching and cancels pending runs.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw := w.fsw
	w.mu.Unlock()

	w.wg.Wait()
	if fsw != nil {
		return fsw.Close()
	}
	return nil
}
