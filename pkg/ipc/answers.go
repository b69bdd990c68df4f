package ipc

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
	"github.com/NexeraDigital/get-shit-done/pkg/metrics"
)

// AnswerSink accepts answers drained from the drop directory. The broker
// implements it.
type AnswerSink interface {
	SubmitAnswer(id string, answers map[string]string) bool
}

// AnswerDrop is the wire shape of one answer file.
type AnswerDrop struct {
	QuestionID string            `json:"questionId"`
	Answers    map[string]string `json:"answers"`
}

// AnswerPoller scans the answer-drop directory and feeds well-formed drops
// to the sink. Files are deleted once consumed; drops for questions the
// sink no longer knows are deleted too, so a stale file cannot loop
// forever. Malformed files are left in place and logged once each.
type AnswerPoller struct {
	dir      string
	interval time.Duration
	sink     AnswerSink
	logger   *slog.Logger

	warned map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAnswerPoller creates a poller over dir. interval <= 0 selects 500ms.
func NewAnswerPoller(dir string, interval time.Duration, sink AnswerSink, logger *slog.Logger) *AnswerPoller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &AnswerPoller{
		dir:      dir,
		interval: interval,
		sink:     sink,
		logger:   logger.With("component", "ipc.answers"),
		warned:   make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start begins scanning on every interval tick until Stop.
func (p *AnswerPoller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.drainOnce()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop halts the poller and waits for it. Idempotent.
func (p *AnswerPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *AnswerPoller) drainOnce() {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("Failed to scan answer directory", "dir", p.dir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		p.consume(entry.Name())
	}
}

func (p *AnswerPoller) consume(name string) {
	path := filepath.Join(p.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		// The dashboard may remove or replace drops concurrently.
		if !os.IsNotExist(err) {
			p.logger.Warn("Failed to read answer file", "file", name, "error", err)
		}
		return
	}

	var drop AnswerDrop
	if err := json.Unmarshal(data, &drop); err != nil || drop.QuestionID == "" {
		if !p.warned[name] {
			p.warned[name] = true
			p.logger.Warn("Skipping malformed answer file", "file", name, "error", err)
			metrics.AnswerFilesDrained.WithLabelValues("malformed").Inc()
		}
		return
	}

	if p.sink.SubmitAnswer(drop.QuestionID, drop.Answers) {
		metrics.AnswerFilesDrained.WithLabelValues("accepted").Inc()
		metrics.QuestionsAnswered.WithLabelValues("file").Inc()
		p.logger.Info("Answer accepted from file", "question_id", drop.QuestionID, "answers", len(drop.Answers))
	} else {
		metrics.AnswerFilesDrained.WithLabelValues("unknown").Inc()
		p.logger.Warn("Removing answer file for unknown question", "question_id", drop.QuestionID)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to remove answer file", "file", name, "error", err)
		return
	}
	delete(p.warned, name)
}

// WriteAnswer is the dashboard-side drop: an atomic write of the answer
// document for questionID into dir.
func WriteAnswer(dir, questionID string, answers map[string]string) error {
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	drop := AnswerDrop{QuestionID: questionID, Answers: answers}
	return fsutil.WriteJSONAtomic(filepath.Join(dir, questionID+".json"), drop)
}
