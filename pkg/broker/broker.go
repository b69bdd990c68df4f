// Package broker correlates tool-level questions from the agent with answers
// arriving later from the operator.
//
// Each pending question owns a suspension handle: a one-shot barrier the
// asking goroutine blocks on until SubmitAnswer resolves it, the handle is
// rejected, or the command context is cancelled. The broker owns only the
// in-memory handles; the persisted state mirrors the question metadata so a
// restarted process can re-emit pending questions with fresh handles.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// QuestionStore is the narrow slice of the state store the broker writes
// question metadata through.
type QuestionStore interface {
	AddPendingQuestion(q state.Question) error
	ResolveQuestion(id string) error
}

// Events receives question lifecycle emissions. Implementations must not
// block; the broker calls them on the asking or answering goroutine.
type Events interface {
	QuestionPending(q state.Question)
	QuestionAnswered(q state.Question)
}

type entry struct {
	question state.Question
	handle   *handle
}

// Broker holds the id -> suspension handle mapping and the question metadata.
type Broker struct {
	store  QuestionStore
	events Events
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// New constructs a broker. events may be nil.
func New(store QuestionStore, events Events, logger *slog.Logger) *Broker {
	return &Broker{
		store:   store,
		events:  events,
		logger:  logger.With("component", "broker"),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// HandleQuestion mints a question, persists it as pending, emits
// question:pending, and suspends until an answer or rejection arrives.
// Context cancellation (command abort or timeout) unregisters the question
// and removes it from the pending state, since the asking command is gone;
// a shutdown-cause cancel keeps the persisted record (see Await).
func (b *Broker) HandleQuestion(ctx context.Context, phase int, step state.Step, items []state.QuestionItem) (map[string]string, error) {
	q := state.Question{
		ID:        uuid.NewString(),
		Phase:     phase,
		Step:      step,
		Items:     items,
		CreatedAt: b.now().UTC(),
	}
	b.register(q)

	if err := b.store.AddPendingQuestion(q); err != nil {
		b.logger.Error("failed to persist pending question", "question_id", q.ID, "error", err)
	}
	b.emitPending(q)

	b.logger.Info("question suspended",
		"question_id", q.ID,
		"phase", phase,
		"step", step,
		"items", len(items))

	return b.Await(ctx, q.ID)
}

// Reregister installs a fresh suspension handle for a question restored from
// persisted state. The pending record already exists on disk, so nothing is
// persisted or emitted here.
func (b *Broker) Reregister(q state.Question) {
	b.register(q)
	b.logger.Info("question reregistered", "question_id", q.ID, "phase", q.Phase, "step", q.Step)
}

// Await blocks until the question's handle resolves, is rejected, or ctx is
// cancelled. On resolution it returns the answer map exactly as submitted.
//
// Cancellation is disambiguated through context.Cause: a cancel carrying
// ErrShuttingDown releases only the in-memory handle, leaving the persisted
// record for a later resume to re-emit; a plain cancel (command abort or
// timeout) discards the question entirely, since a retried command re-asks.
func (b *Broker) Await(ctx context.Context, id string) (map[string]string, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return nil, ErrNoSuchQuestion
	}

	select {
	case <-e.handle.done:
		answers, err := e.handle.result()
		if err != nil {
			return nil, err
		}
		return answers, nil
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), ErrShuttingDown) {
			b.unregister(id)
			return nil, ErrShuttingDown
		}
		b.discard(id)
		return nil, ctx.Err()
	}
}

// SubmitAnswer resolves the handle for id exactly once. It returns false
// when no such question is pending, including after a prior submission.
// Removal from the persisted pending set happens in the same write that the
// answered record (with answered_at stamped) is emitted from.
func (b *Broker) SubmitAnswer(id string, answers map[string]string) bool {
	b.mu.Lock()
	e, ok := b.entries[id]
	if ok {
		delete(b.entries, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	answeredAt := b.now().UTC()
	answered := e.question.Clone()
	answered.AnsweredAt = &answeredAt
	answered.Answers = answers

	if err := b.store.ResolveQuestion(id); err != nil {
		b.logger.Error("failed to remove answered question from state", "question_id", id, "error", err)
	}
	e.handle.resolve(answers)
	b.emitAnswered(answered)

	b.logger.Info("question answered", "question_id", id, "answers", len(answers))
	return true
}

// Pending returns the questions currently holding handles, oldest first.
func (b *Broker) Pending() []state.Question {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]state.Question, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.question.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingByID returns the metadata for one pending question.
func (b *Broker) PendingByID(id string) (state.Question, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return state.Question{}, false
	}
	return e.question.Clone(), true
}

// RejectAll rejects every outstanding handle with reason and clears the
// mapping. The persisted pending set is left intact so a later resume can
// re-emit the questions.
func (b *Broker) RejectAll(reason error) {
	b.mu.Lock()
	rejected := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		rejected = append(rejected, e)
	}
	b.entries = make(map[string]*entry)
	b.mu.Unlock()

	for _, e := range rejected {
		e.handle.reject(reason)
	}
	if len(rejected) > 0 {
		b.logger.Info("rejected all pending questions", "count", len(rejected), "reason", reason)
	}
}

func (b *Broker) register(q state.Question) {
	b.mu.Lock()
	b.entries[q.ID] = &entry{question: q.Clone(), handle: newHandle()}
	b.mu.Unlock()
}

// unregister drops only the in-memory handle entry. The persisted pending
// record survives, matching RejectAll's contract for shutdown paths.
func (b *Broker) unregister(id string) {
	b.mu.Lock()
	_, ok := b.entries[id]
	if ok {
		delete(b.entries, id)
	}
	b.mu.Unlock()
	if ok {
		b.logger.Info("question handle released", "question_id", id)
	}
}

// discard drops a question whose asking command died: the handle entry and
// the persisted record both go away, since a retried command will re-ask.
func (b *Broker) discard(id string) {
	b.mu.Lock()
	_, ok := b.entries[id]
	if ok {
		delete(b.entries, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	if err := b.store.ResolveQuestion(id); err != nil {
		b.logger.Error("failed to remove discarded question from state", "question_id", id, "error", err)
	}
	b.logger.Info("question discarded", "question_id", id)
}

func (b *Broker) emitPending(q state.Question) {
	if b.events != nil {
		b.events.QuestionPending(q)
	}
}

func (b *Broker) emitAnswered(q state.Question) {
	if b.events != nil {
		b.events.QuestionAnswered(q)
	}
}
