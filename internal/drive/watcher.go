package drive

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is the coalescing window for raw fsnotify events.
const DefaultDebounceWindow = 200 * time.Millisecond

// Watcher turns fsnotify traffic on a LocalDrive into debounced drive
// events. New directories are picked up recursively; hidden directories are
// skipped.
type Watcher struct {
	drive     *LocalDrive
	fsw       *fsnotify.Watcher
	debouncer *Debouncer

	errs    chan error
	mu      sync.Mutex
	stopped bool
}

// NewWatcher creates a watcher for the drive. window <= 0 selects the
// default debounce window.
func NewWatcher(d *LocalDrive, window time.Duration) (*Watcher, error) {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		drive:     d,
		fsw:       fsw,
		debouncer: NewDebouncer(window),
		errs:      make(chan error, 16),
	}, nil
}

// Start begins watching the drive root recursively until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.drive.Root()); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Events returns debounced event batches, paths drive-relative.
func (w *Watcher) Events() <-chan []Event {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	err := w.fsw.Close()
	w.debouncer.Stop()
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if name := entry.Name(); name != "." && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				slog.Warn("drive_watcher_error_dropped", "error", err)
			}
		case raw, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(raw)
		}
	}
}

func (w *Watcher) handle(raw fsnotify.Event) {
	rel, err := w.drive.GetRootRelative(raw.Name)
	if err != nil {
		return
	}

	switch {
	case raw.Op.Has(fsnotify.Create):
		if info, err := os.Stat(raw.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(raw.Name); err != nil {
				slog.Warn("drive_watch_add_failed", "path", rel, "error", err)
			}
			return
		}
		w.debouncer.Add(Event{Path: rel, Operation: OpCreate, Timestamp: time.Now()})
	case raw.Op.Has(fsnotify.Write):
		w.debouncer.Add(Event{Path: rel, Operation: OpModify, Timestamp: time.Now()})
	case raw.Op.Has(fsnotify.Remove), raw.Op.Has(fsnotify.Rename):
		// fsnotify reports a rename as Rename on the old path plus Create
		// on the new one; the debouncer's DELETE+CREATE rule resolves the
		// pair when both land inside the window.
		w.debouncer.Add(Event{Path: rel, Operation: OpDelete, Timestamp: time.Now()})
	}
}
