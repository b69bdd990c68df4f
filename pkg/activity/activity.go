// Package activity maintains the user-facing rolling feed of notable
// workflow moments, distinct from the low-level event stream.
//
// The feed is newest-first, bounded, and persisted atomically after every
// record. Activity is diagnostic rather than load-bearing: persistence
// failures are logged and never propagated.
package activity

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

// Type classifies an activity entry
type Type string

const (
	// TypePhaseStarted marks a phase entering in_progress
	TypePhaseStarted Type = "phase-started"
	// TypePhaseCompleted marks a phase completing
	TypePhaseCompleted Type = "phase-completed"
	// TypePhaseFailed marks a phase failing
	TypePhaseFailed Type = "phase-failed"
	// TypeStepStarted marks a step starting
	TypeStepStarted Type = "step-started"
	// TypeStepCompleted marks a step completing
	TypeStepCompleted Type = "step-completed"
	// TypeQuestionPending marks a question awaiting an answer
	TypeQuestionPending Type = "question-pending"
	// TypeQuestionAnswered marks a question resolved
	TypeQuestionAnswered Type = "question-answered"
	// TypeError marks a recorded failure
	TypeError Type = "error"
	// TypeBuildComplete marks the whole workflow finishing
	TypeBuildComplete Type = "build-complete"
)

// MessageLimit is the target message length; truncation backs up to the
// nearest word boundary at or before it.
const MessageLimit = 60

// DefaultCapacity bounds the persisted feed.
const DefaultCapacity = 200

// Entry is one activity record.
type Entry struct {
	Type      Type           `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// feedDocument is the on-disk shape of the activity file.
type feedDocument struct {
	Activities []Entry `json:"activities"`
}

// Store is the newest-first bounded activity feed.
type Store struct {
	path     string
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	entries []Entry

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// NewStore loads any existing feed from path; a missing or unreadable file
// starts the feed empty.
func NewStore(path string, capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		path:     path,
		capacity: capacity,
		logger:   logger.With("component", "activity"),
		now:      time.Now,
	}

	var doc feedDocument
	if err := fsutil.ReadJSON(path, &doc); err == nil {
		s.entries = doc.Activities
		if len(s.entries) > capacity {
			s.entries = s.entries[:capacity]
		}
	}
	return s
}

// Record prepends an entry with a server-stamped timestamp and persists the
// feed. The message is truncated at a word boundary around MessageLimit.
func (s *Store) Record(typ Type, message string, metadata map[string]any) {
	entry := Entry{
		Type:      typ,
		Message:   TruncateMessage(message),
		Timestamp: s.now().UTC(),
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]Entry{entry}, s.entries...)
	if len(s.entries) > s.capacity {
		s.entries = s.entries[:s.capacity]
	}

	// Persisting under the lock keeps concurrent Records from landing an
	// older snapshot after a newer one.
	doc := feedDocument{Activities: s.entries}
	if err := fsutil.WriteJSONAtomic(s.path, doc); err != nil {
		s.logger.Error("activity persistence failed", "error", err)
	}
}

// Feed returns a newest-first copy of the entries.
func (s *Store) Feed() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// TruncateMessage shortens msg to at most MessageLimit runes, backing up to
// the last word boundary and marking the cut with an ellipsis.
func TruncateMessage(msg string) string {
	if utf8.RuneCountInString(msg) <= MessageLimit {
		return msg
	}
	runes := []rune(msg)
	cut := MessageLimit
	for i := MessageLimit; i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " ") + "..."
}
