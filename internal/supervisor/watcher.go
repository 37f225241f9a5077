package supervisor

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ControlWatcher monitors a control directory for operator signal files.
// Creating a file named "stop" requests shutdown, "pause" suspends the tick
// loop, and "resume" lifts a pause. The supervisor polls the flags each
// tick, so a missing watcher degrades to manual control via the API.
type ControlWatcher struct {
	controlDir string

	mu          sync.RWMutex
	stopSignal  bool
	pauseSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewControlWatcher creates a watcher over the control directory, creating
// it if needed. A failure to start the filesystem watcher is not fatal;
// the returned watcher simply never reports signals.
func NewControlWatcher(controlDir string) (*ControlWatcher, error) {
	if err := os.MkdirAll(controlDir, 0755); err != nil {
		return nil, err
	}

	cw := &ControlWatcher{
		controlDir: controlDir,
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cw, nil
	}
	cw.watcher = watcher

	if err := watcher.Add(controlDir); err != nil {
		watcher.Close()
		cw.watcher = nil
		return cw, nil
	}

	go cw.watchSignals()
	return cw, nil
}

// watchSignals monitors the control directory for signal files.
func (cw *ControlWatcher) watchSignals() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 && event.Op&fsnotify.Write == 0 {
				continue
			}
			cw.mu.Lock()
			switch filepath.Base(event.Name) {
			case "stop":
				cw.stopSignal = true
			case "pause":
				cw.pauseSignal = true
			case "resume":
				cw.pauseSignal = false
			}
			cw.mu.Unlock()
		case <-cw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// StopRequested reports whether a stop signal was observed.
func (cw *ControlWatcher) StopRequested() bool {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.stopSignal
}

// SetPaused sets the pause flag directly, bypassing the filesystem.
func (cw *ControlWatcher) SetPaused(paused bool) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.pauseSignal = paused
}

// Paused reports whether a pause signal is in effect.
func (cw *ControlWatcher) Paused() bool {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.pauseSignal
}

// Close stops the watcher goroutine and removes consumed signal files.
func (cw *ControlWatcher) Close() error {
	close(cw.done)
	if cw.watcher != nil {
		cw.watcher.Close()
	}
	for _, name := range []string{"stop", "pause", "resume"} {
		os.Remove(filepath.Join(cw.controlDir, name))
	}
	return nil
}
