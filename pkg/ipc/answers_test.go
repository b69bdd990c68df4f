package ipc

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

type fakeSink struct {
	mu      sync.Mutex
	known   map[string]bool
	submits []AnswerDrop
}

func (s *fakeSink) SubmitAnswer(id string, answers map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits = append(s.submits, AnswerDrop{QuestionID: id, Answers: answers})
	return s.known[id]
}

func (s *fakeSink) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submits)
}

func TestAnswerPollerSubmitsAndDeletes(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{known: map[string]bool{"q1": true}}
	p := NewAnswerPoller(dir, time.Minute, sink, slog.Default())

	answers := map[string]string{"Which database?": "sqlite"}
	require.NoError(t, WriteAnswer(dir, "q1", answers))

	p.drainOnce()

	require.Len(t, sink.submits, 1)
	assert.Equal(t, "q1", sink.submits[0].QuestionID)
	assert.Equal(t, answers, sink.submits[0].Answers)

	_, err := os.Stat(filepath.Join(dir, "q1.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestAnswerPollerDeletesUnknownQuestionDrop(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{known: map[string]bool{}}
	p := NewAnswerPoller(dir, time.Minute, sink, slog.Default())

	require.NoError(t, WriteAnswer(dir, "stale", map[string]string{"q": "a"}))
	p.drainOnce()

	require.Len(t, sink.submits, 1)
	_, err := os.Stat(filepath.Join(dir, "stale.json"))
	assert.True(t, os.IsNotExist(err))

	// Nothing left to re-submit on the next scan.
	p.drainOnce()
	assert.Len(t, sink.submits, 1)
}

func TestAnswerPollerLeavesMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{known: map[string]bool{"q1": true}}
	p := NewAnswerPoller(dir, time.Minute, sink, slog.Default())

	malformed := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(malformed, []byte("{not json"), 0o644))
	missingID := filepath.Join(dir, "noid.json")
	require.NoError(t, os.WriteFile(missingID, []byte(`{"answers":{"a":"b"}}`), 0o644))

	p.drainOnce()
	p.drainOnce()

	assert.Equal(t, 0, sink.submitCount())
	_, err := os.Stat(malformed)
	assert.NoError(t, err)
	_, err = os.Stat(missingID)
	assert.NoError(t, err)
}

func TestAnswerPollerIgnoresNonJSONEntries(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	p := NewAnswerPoller(dir, time.Minute, sink, slog.Default())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.json"), 0o755))

	p.drainOnce()
	assert.Equal(t, 0, sink.submitCount())
}

func TestAnswerPollerMissingDirectory(t *testing.T) {
	sink := &fakeSink{}
	p := NewAnswerPoller(filepath.Join(t.TempDir(), "nope"), time.Minute, sink, slog.Default())
	p.drainOnce()
	assert.Equal(t, 0, sink.submitCount())
}

func TestAnswerPollerLifecycle(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{known: map[string]bool{"q1": true}}
	p := NewAnswerPoller(dir, 10*time.Millisecond, sink, slog.Default())

	p.Start()
	defer p.Stop()

	require.NoError(t, WriteAnswer(dir, "q1", map[string]string{"q": "a"}))

	require.Eventually(t, func() bool { return sink.submitCount() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()
}

func TestWriteAnswerRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "answers")
	require.NoError(t, WriteAnswer(dir, "q9", map[string]string{"Which?": "that one"}))

	var drop AnswerDrop
	require.NoError(t, fsutil.ReadJSON(filepath.Join(dir, "q9.json"), &drop))
	assert.Equal(t, "q9", drop.QuestionID)
	assert.Equal(t, map[string]string{"Which?": "that one"}, drop.Answers)
}
