package photoimport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const (
	ImportedDir = "imported"
	RejectedDir = "rejected"

	DefaultSettle = 500 * time.Millisecond
)

// Watcher imports every image that appears in an inbox directory. Imported
// files move to imported/, files that can never be imported to rejected/.
// Files that failed for a transient reason (quota) stay and are retried on
// the next change or restart.
type Watcher struct {
	dir      string
	imp      *Importer
	defaults services.CaptureInput
	settle   time.Duration
	log      logging.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	ready  chan string
	done   chan struct{}
}

type WatcherOption func(*Watcher)

// WithSettle sets how long a file must stay unchanged before import.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

func WithWatcherLogger(l logging.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

func NewWatcher(dir string, imp *Importer, defaults services.CaptureInput, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		imp:      imp,
		defaults: defaults,
		settle:   DefaultSettle,
		log:      logging.Discard(),
		timers:   map[string]*time.Timer{},
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run imports files already in the inbox, then watches it until ctx is done.
// A Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{"", ImportedDir, RejectedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("prepare inbox: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	defer func() {
		w.stopTimers()
		close(w.done)
	}()

	w.scan(ctx)
	w.log.Info(ctx, "watching photo inbox", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if filepath.Dir(ev.Name) == filepath.Clean(w.dir) && Supported(ev.Name) {
					w.schedule(ev.Name)
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "inbox watcher error", "error", err)
		case path := <-w.ready:
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn(ctx, "inbox scan failed", "error", err)
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && Supported(e.Name()) {
			w.handle(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	p, err := w.imp.ImportFile(ctx, path, w.defaults)
	switch {
	case err == nil:
		w.move(ctx, path, ImportedDir)
		w.log.Debug(ctx, "inbox file imported", "file", path, "id", p.ID)
	case permanent(err):
		w.log.Warn(ctx, "inbox file rejected", "file", path, "error", err)
		w.move(ctx, path, RejectedDir)
	default:
		w.log.Warn(ctx, "inbox file import failed, will retry", "file", path, "error", err)
	}
}

func permanent(err error) bool {
	return errors.Is(err, common.ErrPhotoTooLarge) ||
		errors.Is(err, common.ErrInvalidRecord) ||
		errors.Is(err, services.ErrParentNotFound)
}

func (w *Watcher) move(ctx context.Context, path, sub string) {
	dst := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		w.log.Warn(ctx, "failed to move inbox file", "file", path, "error", err)
	}
}
