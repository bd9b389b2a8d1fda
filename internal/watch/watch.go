// Package watch uploads files dropped into a directory.
//
// Every create or write event restarts a per-file settle timer. When a file
// has been quiet for the settle delay it is queued and uploaded through the
// console, one upload at a time. Hidden files, directories and files the
// upload policy would reject are ignored.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/neai/internal/guard"
	"github.com/felixgeelhaar/neai/internal/observe"
	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Uploader sends one file to the backend.
type Uploader interface {
	UploadFile(ctx context.Context, path string) error
}

// Options configure a Watcher.
type Options struct {
	// Settle is how long a file must stay unchanged before upload.
	Settle time.Duration
	// Existing uploads files already in the directory at start.
	Existing bool
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// Watcher watches one directory.
type Watcher struct {
	dir    string
	up     Uploader
	guard  *guard.Guard
	obs    *observe.Observer
	opts   Options
	fs     *fsnotify.Watcher
	queue  chan string
	closed chan struct{}

	mu       sync.Mutex
	timers   map[string]*time.Timer
	uploaded map[string]fileStamp
}

// New creates a watcher for dir. Call Run to start it.
func New(dir string, up Uploader, g *guard.Guard, obs *observe.Observer, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if obs == nil {
		obs = observe.Discard()
	}
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		dir:      dir,
		up:       up,
		guard:    g,
		obs:      obs,
		opts:     opts,
		fs:       fw,
		queue:    make(chan string, 64),
		closed:   make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		uploaded: make(map[string]fileStamp),
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	if err := w.fs.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.obs.Log().Info().Str("dir", w.dir).Msg("watching for new files")

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.uploadLoop(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	if w.opts.Existing {
		w.queueExisting()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.touch(event.Name)
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.forget(event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.obs.Log().Warn().Err(err).Msg("filesystem watcher error")
		}
	}
}

func (w *Watcher) shutdown() {
	close(w.closed)
	w.mu.Lock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()
	_ = w.fs.Close()
}

func (w *Watcher) queueExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.obs.Log().Warn().Err(err).Msg("failed to list watch dir")
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.touch(filepath.Join(w.dir, e.Name()))
		}
	}
}

// touch (re)starts the settle timer for path.
func (w *Watcher) touch(path string) {
	if !w.eligible(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.opts.Settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.opts.Settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.queue <- path:
		case <-w.closed:
		}
	})
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.uploaded, path)
}

func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	if v := w.guard.CheckPath(path); v != nil {
		w.obs.Log().Debug().Str("path", path).Str("rule", v.Rule).Msg("ignoring file")
		return false
	}
	return true
}

func (w *Watcher) uploadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.upload(ctx, path)
		}
	}
}

func (w *Watcher) upload(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}

	w.mu.Lock()
	prev, seen := w.uploaded[path]
	w.mu.Unlock()
	if seen && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime) {
		return
	}

	if err := w.up.UploadFile(ctx, path); err != nil {
		w.obs.Log().Warn().Str("path", path).Err(err).Msg("watched file upload failed")
		return
	}
	w.mu.Lock()
	w.uploaded[path] = stamp
	w.mu.Unlock()
	w.obs.Log().Info().Str("path", path).Msg("uploaded watched file")
}
