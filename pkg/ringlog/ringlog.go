// Package ringlog provides a bounded in-memory buffer of recent log lines
// backed by an unbounded append-only file.
//
// Log is synchronous for the ring and asynchronous for the file: callers
// never wait on disk. The file is opened in append mode, so a crash during
// a flush can only lose queued lines, never truncate what was written.
package ringlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

// DefaultCapacity is the ring size used when the configured capacity is zero.
const DefaultCapacity = 1000

// Log is a ring buffer of the last capacity lines plus an append-only file.
type Log struct {
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	ring    []string
	next    int
	size    int
	pending []string

	// fileMu serializes whole drain passes (take pending + append) between
	// the writer goroutine and Flush, so batches reach the file in ring order.
	fileMu sync.Mutex
	file   *os.File

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New opens (creating if needed) the append-only file at path and starts the
// background writer.
func New(path string, capacity int, logger *slog.Logger) (*Log, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	l := &Log{
		capacity: capacity,
		logger:   logger.With("component", "ringlog"),
		ring:     make([]string, capacity),
		file:     file,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log adds line to the ring synchronously and queues it for the file writer.
// A trailing newline is appended on disk; line itself should not carry one.
func (l *Log) Log(line string) {
	l.mu.Lock()
	l.ring[l.next] = line
	l.next = (l.next + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
	l.pending = append(l.pending, line)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Recent returns up to n of the most recent lines in insertion order.
func (l *Log) Recent(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.size {
		n = l.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	start := (l.next - n + l.capacity) % l.capacity
	for i := 0; i < n; i++ {
		out = append(out, l.ring[(start+i)%l.capacity])
	}
	return out
}

// Size returns the number of lines currently held in the ring.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Flush writes all queued lines and syncs the file. It is idempotent and
// safe to call concurrently with Log.
func (l *Log) Flush() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if err := l.appendPending(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing log file: %w", err)
	}
	return nil
}

// Close stops the writer, flushes remaining lines, and closes the file.
// Subsequent calls are no-ops.
func (l *Log) Close() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.wg.Wait()
		err = l.Flush()
		l.fileMu.Lock()
		closeErr := l.file.Close()
		l.fileMu.Unlock()
		if err == nil {
			err = closeErr
		}
	})
	return err
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.stopCh:
			l.drain()
			return
		}
	}
}

func (l *Log) drain() {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if err := l.appendPending(); err != nil {
		l.logger.Error("log file append failed", "error", err)
	}
}

// appendPending writes every queued line. Callers must hold fileMu: holding
// it across the take and the append keeps concurrent drains from writing
// their batches out of ring order.
func (l *Log) appendPending() error {
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return nil
		}
		for _, line := range batch {
			if _, err := l.file.WriteString(line + "\n"); err != nil {
				return fmt.Errorf("appending log line: %w", err)
			}
		}
	}
}
