package ipc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

type heartbeatDocument struct {
	Timestamp time.Time `json:"timestamp"`
}

// Heartbeat rewrites a liveness timestamp on a fixed interval so a reader
// in another process can tell whether the core is still running.
type Heartbeat struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// NewHeartbeat creates a heartbeat writer for path. interval <= 0 selects
// 2s.
func NewHeartbeat(path string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Heartbeat{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "ipc.heartbeat"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start writes an immediate beat and then rewrites on every interval tick
// until Stop.
func (h *Heartbeat) Start() {
	h.beat()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.beat()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop halts the writer and waits for it. Idempotent.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

func (h *Heartbeat) beat() {
	doc := heartbeatDocument{Timestamp: h.now().UTC()}
	if err := fsutil.WriteJSONAtomic(h.path, doc); err != nil {
		h.logger.Warn("Failed to write heartbeat", "error", err)
	}
}

// IsAlive reports whether the heartbeat at path is fresher than staleAfter.
// A missing or unreadable heartbeat counts as dead.
func IsAlive(path string, staleAfter time.Duration) bool {
	var doc heartbeatDocument
	if err := fsutil.ReadJSON(path, &doc); err != nil {
		return false
	}
	return time.Since(doc.Timestamp) < staleAfter
}
