package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/NexeraDigital/get-shit-done/pkg/metrics"
)

// seqScanWindow bounds how far back the writer looks for the last persisted
// sequence number when resuming over an existing event log.
const seqScanWindow = 64 * 1024

// recentEventCap bounds the in-memory replay buffer served to new stream
// subscribers.
const recentEventCap = 256

// Event is one record of the append-only event log.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
}

// EventWriter appends events to the NDJSON log with a gap-free monotonic
// sequence. It also keeps a bounded in-memory tail and fans live events out
// to subscribers, which is what the SSE endpoint serves from.
type EventWriter struct {
	logger *slog.Logger

	mu          sync.Mutex
	file        *os.File
	seq         int64
	recent      []Event
	subscribers map[int]func(Event)
	nextSubID   int

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// NewEventWriter opens (or creates) the event log at path. When the file
// already holds events, the sequence continues from the last persisted
// record so `seq` stays gap-free across restarts.
func NewEventWriter(path string, logger *slog.Logger) (*EventWriter, error) {
	seq, err := lastPersistedSeq(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}

	w := &EventWriter{
		logger:      logger.With("component", "ipc.events"),
		file:        file,
		seq:         seq,
		subscribers: make(map[int]func(Event)),
		now:         time.Now,
	}
	if seq > 0 {
		w.logger.Info("Resuming event log", "path", path, "last_seq", seq)
	}
	return w, nil
}

// Emit appends one event. Append failures are logged, not returned: the
// event log is observability, and losing a record must not stop the
// workflow.
func (w *EventWriter) Emit(event string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	e := Event{
		Seq:       w.seq,
		Timestamp: w.now().UTC(),
		Event:     event,
		Data:      data,
	}

	line, err := json.Marshal(e)
	if err != nil {
		w.logger.Error("Failed to encode event", "event", event, "error", err)
		w.seq--
		return
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		w.logger.Error("Failed to append event", "event", event, "seq", e.Seq, "error", err)
	}
	metrics.EventsWritten.Inc()

	w.recent = append(w.recent, e)
	if len(w.recent) > recentEventCap {
		w.recent = w.recent[len(w.recent)-recentEventCap:]
	}
	for _, fn := range w.subscribers {
		fn(e)
	}
}

// CurrentSeq returns the sequence of the most recently emitted event.
func (w *EventWriter) CurrentSeq() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Recent returns up to n of the latest events, oldest first.
func (w *EventWriter) Recent(n int) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n > len(w.recent) {
		n = len(w.recent)
	}
	out := make([]Event, n)
	copy(out, w.recent[len(w.recent)-n:])
	return out
}

// Subscribe registers fn for every future event. fn runs under the writer
// lock and must not block or re-enter the writer. The returned function
// unsubscribes.
func (w *EventWriter) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextSubID
	w.nextSubID++
	w.subscribers[id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subscribers, id)
	}
}

// Close syncs and closes the log file.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.logger.Warn("Failed to sync event log", "error", err)
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// lastPersistedSeq scans the tail of an existing event log for the highest
// sequence number. A missing file means a fresh log. A trailing partial
// line (crash mid-append) is ignored.
func lastPersistedSeq(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() > seqScanWindow {
		if _, err := f.Seek(info.Size()-seqScanWindow, io.SeekStart); err != nil {
			return 0, err
		}
	}

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e struct {
			Seq int64 `json:"seq"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Seq > last {
			last = e.Seq
		}
	}
	return last, nil
}
