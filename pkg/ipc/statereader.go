package ipc

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// StateReader watches the persisted state document from outside the core
// process. Change detection combines fsnotify on the parent directory
// (atomic renames replace the file's inode, so the file itself cannot be
// watched) with mtime polling as a fallback for filesystems without
// notification support.
type StateReader struct {
	path         string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewStateReader creates a reader for the state document at path.
// pollInterval <= 0 selects 2s.
func NewStateReader(path string, pollInterval time.Duration, logger *slog.Logger) *StateReader {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &StateReader{
		path:         path,
		pollInterval: pollInterval,
		logger:       logger.With("component", "ipc.state"),
	}
}

// Read loads the current document once.
func (r *StateReader) Read() (*state.WorkflowState, error) {
	var st state.WorkflowState
	if err := fsutil.ReadJSON(r.path, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Watch emits a snapshot for the current content (when the file exists) and
// then on every observed change, until ctx is cancelled. The channel is
// closed on cancellation.
func (r *StateReader) Watch(ctx context.Context) (<-chan state.WorkflowState, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan state.WorkflowState, 8)
	go func() {
		defer close(out)
		defer watcher.Close()

		var lastMod time.Time
		emit := func() {
			info, err := os.Stat(r.path)
			if err != nil {
				return
			}
			if !info.ModTime().After(lastMod) {
				return
			}
			st, err := r.Read()
			if err != nil {
				r.logger.Warn("Failed to read state document", "error", err)
				return
			}
			lastMod = info.ModTime()
			select {
			case out <- *st:
			case <-ctx.Done():
			}
		}

		emit()
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					emit()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("State watcher error", "error", werr)
			case <-ticker.C:
				emit()
			}
		}
	}()
	return out, nil
}
