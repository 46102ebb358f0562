// Package filewatch watches the backlog file and progress log for
// externally-made edits — a human editing feature-list.json by hand
// while the harness is idle between sessions — and republishes
// backlog.updated / progress.update onto the Event Bus so the
// Telemetry API's SSE clients see the change without polling.
//
// Built on github.com/fsnotify/fsnotify's directory-watch loop.
package filewatch

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Fr3nn3r/ada-harness/internal/eventbus"
)

// debounce coalesces the burst of write/chmod events most editors and
// os.Rename-based atomic writers emit for a single logical save.
const debounce = 200 * time.Millisecond

// Watcher republishes filesystem edits to backlogPath and progressPath
// onto an Event Bus.
type Watcher struct {
	fsw          *fsnotify.Watcher
	bus          *eventbus.Bus
	backlogPath  string
	progressPath string
	done         chan struct{}
}

// New creates a Watcher observing backlogPath and progressPath's parent
// directories (fsnotify watches directories, not bare files, so renames
// and atomic replace-on-save are seen even though the inode changes).
func New(bus *eventbus.Bus, backlogPath, progressPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatch: new watcher: %w", err)
	}
	dirs := map[string]struct{}{
		filepath.Dir(backlogPath):  {},
		filepath.Dir(progressPath): {},
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("filewatch: watch %s: %w", dir, err)
		}
	}
	return &Watcher{
		fsw:          fsw,
		bus:          bus,
		backlogPath:  filepath.Clean(backlogPath),
		progressPath: filepath.Clean(progressPath),
		done:         make(chan struct{}),
	}, nil
}

// Run drives the watch loop until Close is called. Call it in its own
// goroutine.
func (w *Watcher) Run() {
	timers := make(map[string]*time.Timer)
	fire := make(chan string, 8)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(ev.Name)
			if path != w.backlogPath && path != w.progressPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(debounce, func() { fire <- path })

		case path := <-fire:
			switch path {
			case w.backlogPath:
				w.bus.Publish(eventbus.BacklogUpdated, path)
			case w.progressPath:
				w.bus.Publish(eventbus.ProgressUpdate, path)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			_ = err // surfaced only via dropped events; nothing actionable here

		case <-w.done:
			for _, t := range timers {
				t.Stop()
			}
			return
		}
	}
}

// Close stops the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
