// Package watcher provides file system watching with debouncing for the
// reconfiguration trigger file. Development tooling touches the trigger to
// request a dispose/rebuild cycle; production builds never start a watcher.
package watcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the trigger file for writes and sends notifications.
type Watcher struct {
	fsWatcher   *fsnotify.Watcher
	triggerPath string
	debounce    time.Duration
	onTrigger   chan struct{}
	done        chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	TriggerPath string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(triggerPath string) Config {
	return Config{
		TriggerPath: triggerPath,
		DebounceDur: 250 * time.Millisecond,
	}
}

// New creates a new trigger watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher:   fsw,
		triggerPath: cfg.TriggerPath,
		debounce:    cfg.DebounceDur,
		onTrigger:   make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Start begins watching the directory containing the trigger file.
// Returns a channel that receives a signal when the trigger is touched.
func (w *Watcher) Start() (<-chan struct{}, error) {
	// Watch the directory; the trigger file may not exist yet
	dir := filepath.Dir(w.triggerPath)
	if err := w.fsWatcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	go w.loop()

	return w.onTrigger, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// Only react to writes on the trigger file
			if !w.isRelevantEvent(event) {
				continue
			}

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					// Drain the timer channel if it already fired
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Non-blocking send - drop if channel full
				select {
				case w.onTrigger <- struct{}{}:
				default:
				}
				pending = false
			}

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			// Note: We intentionally don't log here to avoid dependency on a logger.
			// Callers can wrap the watcher if they need error visibility.

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent checks if the event should trigger a reconfiguration.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	// Only care about write or create operations (the trigger may be created fresh)
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}

	return filepath.Base(event.Name) == filepath.Base(w.triggerPath)
}
