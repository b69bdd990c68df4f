package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"
)

// EventTailer is the reader side of the event log: it streams the records a
// (possibly different) process appended, existing lines first, then new
// lines as they appear.
type EventTailer struct {
	path         string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewEventTailer tails the event log at path. pollInterval <= 0 selects
// 500ms.
func NewEventTailer(path string, pollInterval time.Duration, logger *slog.Logger) *EventTailer {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &EventTailer{
		path:         path,
		pollInterval: pollInterval,
		logger:       logger.With("component", "ipc.tailer"),
	}
}

// Tail streams events with seq > fromSeq until ctx is cancelled. The
// channel is closed on cancellation. A missing log file is waited for, so
// the dashboard can attach before the core's first event.
func (t *EventTailer) Tail(ctx context.Context, fromSeq int64) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)

		file, ok := t.waitForFile(ctx)
		if !ok {
			return
		}
		defer file.Close()

		reader := bufio.NewReader(file)
		var pending []byte
		for {
			chunk, err := reader.ReadBytes('\n')
			if len(chunk) > 0 {
				pending = append(pending, chunk...)
			}
			switch err {
			case nil:
				line := pending
				pending = nil
				t.deliver(ctx, out, line, fromSeq)
			case io.EOF:
				select {
				case <-ctx.Done():
					return
				case <-time.After(t.pollInterval):
				}
			default:
				t.logger.Warn("Event log read failed", "error", err)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return out
}

func (t *EventTailer) deliver(ctx context.Context, out chan<- Event, line []byte, fromSeq int64) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		// Partial or torn line; the writer appends without fsync per record.
		return
	}
	if e.Seq <= fromSeq {
		return
	}
	select {
	case out <- e:
	case <-ctx.Done():
	}
}

func (t *EventTailer) waitForFile(ctx context.Context) (*os.File, bool) {
	for {
		file, err := os.Open(t.path)
		if err == nil {
			return file, true
		}
		if !os.IsNotExist(err) {
			t.logger.Warn("Failed to open event log", "path", t.path, "error", err)
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(t.pollInterval):
		}
	}
}
