// Package zonewatcher implements the config watcher (C2): an initial scan of
// the zone-config directory followed by a debounced fsnotify subscription,
// emitting zoneconfig.ConfigUpdate values on a channel until the context is
// cancelled.
//
// Grounded on internal/localzone/watcher.go's fsnotify-based debounced file
// watcher; adapted from a callback model to a typed-event channel, and
// extended with the mandatory startup directory scan.
package zonewatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/polyresolver/polyresolver/internal/zoneconfig"
	"github.com/polyresolver/polyresolver/internal/zoneerrors"
)

// DefaultDebounce is the debounce window applied to filesystem notifications,
// taken from the source implementation; coalesces rapid successive writes to
// the same file into a single ConfigUpdate.
const DefaultDebounce = 1 * time.Second

// Watcher observes a zone-config directory and emits ConfigUpdate events.
type Watcher struct {
	dir      string
	debounce time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a Watcher over dir with the given debounce window.
func New(dir string, debounce time.Duration, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		log:      log,
		timers:   make(map[string]*time.Timer),
	}
}

// Run performs the initial directory scan, emitting one upsert per regular
// file found, then subscribes to filesystem change notifications on dir and
// emits a ConfigUpdate per settled change until ctx is cancelled.
//
// Parse errors, both during the scan and at runtime, are logged and the
// offending file is skipped; they never abort the watcher. Only a failure to
// subscribe to the directory is fatal, returned as zoneerrors.ErrWatcherSubscribe.
func (w *Watcher) Run(ctx context.Context, out chan<- zoneconfig.ConfigUpdate) error {
	if err := w.scan(out); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", zoneerrors.ErrWatcherSubscribe, err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("%w: %w", zoneerrors.ErrWatcherSubscribe, err)
	}

	return w.run(ctx, fsw, out)
}

// Rescan re-enumerates the watched directory and emits one upsert per
// regular file found, exactly like the startup scan. It is the operator
// escape hatch behind POST /api/v1/reload; the automatic fsnotify path
// remains the primary reload mechanism.
func (w *Watcher) Rescan(out chan<- zoneconfig.ConfigUpdate) error {
	return w.scan(out)
}

func (w *Watcher) scan(out chan<- zoneconfig.ConfigUpdate) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", zoneerrors.ErrWatcherSubscribe, err)
	}

	for _, entry := range entries {
		path := filepath.Join(w.dir, entry.Name())

		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}

		cfg, err := zoneconfig.Load(path)
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("skipping unparsable zone config")

			continue
		}

		out <- zoneconfig.ConfigUpdate{ConfigFilename: path, Config: cfg}
	}

	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, out chan<- zoneconfig.ConfigUpdate) error {
	defer w.stopAllTimers()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			w.handleEvent(ctx, event, out)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.log.Warn().Err(err).Msg("zone watcher notification error")

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, out chan<- zoneconfig.ConfigUpdate) {
	if !shouldTrigger(event) {
		return
	}

	// Directory-level events (the watched dir itself) and whether event.Name
	// still denotes a regular file is resolved at settle time, since a
	// Create can race a later Remove within the same debounce window.
	w.debounceEvent(ctx, event.Name, out)
}

// debounceEvent coalesces rapid successive events for the same path into a
// single settle; events for distinct paths debounce independently so one
// busy file can never delay delivery for another.
func (w *Watcher) debounceEvent(ctx context.Context, path string, out chan<- zoneconfig.ConfigUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}

	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.settle(ctx, path, out)
	})
}

func (w *Watcher) settle(ctx context.Context, path string, out chan<- zoneconfig.ConfigUpdate) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	update := zoneconfig.ConfigUpdate{ConfigFilename: path}

	info, err := os.Stat(path)

	switch {
	case err != nil:
		// File is gone: update.Config stays nil, signalling removal.
	case !info.Mode().IsRegular():
		// Directories and other non-regular entries are ignored.
		return
	default:
		cfg, loadErr := zoneconfig.Load(path)
		if loadErr != nil {
			w.log.Warn().Err(loadErr).Str("path", path).Msg("skipping unparsable zone config")

			return
		}

		update.Config = cfg
	}

	select {
	case out <- update:
	case <-ctx.Done():
	}
}

func (w *Watcher) stopAllTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range w.timers {
		t.Stop()
	}
}

func shouldTrigger(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}
