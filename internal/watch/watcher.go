// SPDX-License-Identifier: MPL-2.0

// Package watch runs a debounced callback when files matching glob patterns
// appear or change below a directory.
//
// Events inside the debounce window are coalesced, so a whole repository
// tree copied into the watched directory produces one callback listing every
// matching file. Directories created after start are watched too, and files
// already inside them when they appear are reported as changed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 2 * time.Second

// defaultIgnores never trigger callbacks: VCS metadata, editor leftovers and
// the temporary files written while moving repository content.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*~",
	"**/*.stagehand-tmp",
	"**/.*.tmp",
}

var (
	// ErrInvalidPattern is returned by New for malformed glob patterns.
	ErrInvalidPattern = errors.New("invalid watch pattern")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("watcher already running")
)

type (
	// Config configures a Watcher.
	Config struct {
		// Dir is the watched root; it must exist.
		Dir string
		// Patterns select the files, relative to Dir, that trigger the
		// callback (doublestar syntax). Empty matches every file.
		Patterns []string
		// Ignore are extra patterns that never trigger the callback.
		Ignore []string
		// Debounce is the quiet period before the callback fires.
		Debounce time.Duration
		// OnChange receives the changed paths relative to Dir, sorted.
		// Errors are logged and watching continues.
		OnChange func(ctx context.Context, changed []string) error
		// InitialRun fires the callback once at start with the matching files
		// already present.
		InitialRun bool
		Logger     *log.Logger
	}

	// Watcher monitors a directory tree. Run may be called once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		ignores  []string
		debounce time.Duration
		dir      string
		logger   *log.Logger
		started  atomic.Bool

		mu      sync.Mutex
		pending map[string]struct{}
		timer   *time.Timer
		running atomic.Bool
	}
)

// New validates cfg and registers every non-ignored directory below Dir.
func New(cfg Config) (*Watcher, error) {
	for _, pat := range append(slices.Clone(cfg.Patterns), cfg.Ignore...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("%w %q", ErrInvalidPattern, pat)
		}
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(dir); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
		dir:      dir,
		logger:   logger.WithPrefix("watch"),
		pending:  make(map[string]struct{}),
	}
	if _, err := w.addTree(dir, false); err != nil {
		_ = fsw.Close() // best-effort cleanup
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled, which returns nil. Fatal
// watcher errors (resource exhaustion) are returned.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify", "err", err)
		}
	}()

	if w.cfg.InitialRun {
		existing, err := w.matchingFiles(w.dir)
		if err != nil {
			return err
		}
		w.queue(ctx, existing...)
		if len(existing) == 0 && w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, nil); err != nil {
				w.logger.Error("initial run failed", "err", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed unexpectedly")
			}
			w.handle(ctx, evt)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// handle queues matching files for create and write events. Removals and
// renames away never trigger the callback, so moving files out of the tree
// does not schedule another run.
func (w *Watcher) handle(ctx context.Context, evt fsnotify.Event) {
	if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) {
		return
	}
	rel, err := filepath.Rel(w.dir, evt.Name)
	if err != nil || w.isIgnored(rel) {
		return
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			found, err := w.addTree(evt.Name, true)
			if err != nil {
				w.logger.Warn("watch new directory", "path", evt.Name, "err", err)
			}
			w.queue(ctx, found...)
			return
		}
	}
	if w.matches(rel) {
		w.queue(ctx, filepath.ToSlash(rel))
	}
}

func (w *Watcher) queue(ctx context.Context, rels ...string) {
	if len(rels) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range rels {
		w.pending[r] = struct{}{}
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
	} else {
		w.timer.Reset(w.debounce)
	}
}

// fire hands the pending set to OnChange. While a callback runs, further
// fires are postponed by one debounce period instead of running concurrently.
func (w *Watcher) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Debug("callback still running, postponing")
		w.mu.Lock()
		w.timer.Reset(w.debounce)
		w.mu.Unlock()
		return
	}
	defer w.running.Store(false)

	w.mu.Lock()
	changed := slices.Sorted(maps.Keys(w.pending))
	clear(w.pending)
	w.mu.Unlock()
	if len(changed) == 0 || w.cfg.OnChange == nil {
		return
	}
	w.logger.Debug("change detected", "files", len(changed))
	if err := w.cfg.OnChange(ctx, changed); err != nil {
		w.logger.Error("change handler failed", "err", err)
	}
}

// addTree watches root and every non-ignored directory below it. With
// collect set it returns the matching files found on the way.
func (w *Watcher) addTree(root string, collect bool) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return nil //nolint:nilerr // path outside the tree
		}
		if d.IsDir() {
			if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if collect && !w.isIgnored(rel) && w.matches(rel) {
			found = append(found, filepath.ToSlash(rel))
		}
		return nil
	})
	return found, err
}

func (w *Watcher) matchingFiles(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return err
		}
		if !w.isIgnored(rel) && w.matches(rel) {
			found = append(found, filepath.ToSlash(rel))
		}
		return nil
	})
	return found, err
}

func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return len(w.cfg.Patterns) == 0 || matchAny(w.cfg.Patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	name := filepath.ToSlash(rel)
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}
