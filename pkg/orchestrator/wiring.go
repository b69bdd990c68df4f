package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/NexeraDigital/get-shit-done/pkg/activity"
	"github.com/NexeraDigital/get-shit-done/pkg/metrics"
	"github.com/NexeraDigital/get-shit-done/pkg/notify"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// Notifier is the slice of the notification manager the orchestrator and the
// question wiring dispatch through. All methods are best-effort.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
	StartReminder(questionID string, n notify.Notification)
	CancelReminder(questionID string)
}

// EventSink receives workflow events for the append-only event log.
type EventSink interface {
	Emit(event string, data any)
}

// ActivityRecorder receives entries for the user-facing activity feed.
type ActivityRecorder interface {
	Record(typ activity.Type, message string, metadata map[string]any)
}

// QuestionEvents connects the broker's question lifecycle to the
// notification manager, the event log, and the activity feed. It is the
// broker's Events implementation; components observe each other through
// these emissions rather than back-pointers.
type QuestionEvents struct {
	notifier    Notifier
	events      EventSink
	activity    ActivityRecorder
	respondBase string
	logger      *slog.Logger
}

// NewQuestionEvents wires question emissions to their consumers. respondBase
// is the URL prefix for answer links, either the loopback surface or the
// tunnel URL.
func NewQuestionEvents(notifier Notifier, events EventSink, recorder ActivityRecorder, respondBase string, logger *slog.Logger) *QuestionEvents {
	return &QuestionEvents{
		notifier:    notifier,
		events:      events,
		activity:    recorder,
		respondBase: strings.TrimSuffix(respondBase, "/"),
		logger:      logger.With("component", "question_events"),
	}
}

// QuestionPending dispatches the question to every adapter, schedules its
// reminder, and records the pending event.
func (e *QuestionEvents) QuestionPending(q state.Question) {
	metrics.QuestionsAsked.Inc()
	metrics.QuestionsPending.Inc()

	e.events.Emit("question-pending", map[string]any{
		"question_id": q.ID,
		"phase":       q.Phase,
		"step":        q.Step,
		"items":       len(q.Items),
	})
	e.activity.Record(activity.TypeQuestionPending, questionSummary(q), map[string]any{
		"question_id": q.ID,
		"phase":       q.Phase,
	})

	n := e.NotificationFor(q)
	ctx := context.Background()
	e.notifier.Notify(ctx, n)
	e.notifier.StartReminder(q.ID, n)
}

// QuestionAnswered cancels the reminder and records the answer.
func (e *QuestionEvents) QuestionAnswered(q state.Question) {
	metrics.QuestionsPending.Dec()
	e.notifier.CancelReminder(q.ID)

	e.events.Emit("question-answered", map[string]any{
		"question_id": q.ID,
		"phase":       q.Phase,
		"step":        q.Step,
		"answers":     q.Answers,
	})
	e.activity.Record(activity.TypeQuestionAnswered, "Answered: "+questionSummary(q), map[string]any{
		"question_id": q.ID,
	})
}

// NotificationFor builds the channel-independent payload for a pending
// question. It is also used on resume to re-dispatch restored questions.
func (e *QuestionEvents) NotificationFor(q state.Question) notify.Notification {
	n := notify.Notification{
		ID:         uuid.NewString(),
		Type:       notify.TypeQuestion,
		Title:      fmt.Sprintf("Phase %d needs your input", q.Phase),
		Body:       questionBody(q),
		Severity:   notify.SeverityInfo,
		RespondURL: fmt.Sprintf("%s/api/questions/%s", e.respondBase, q.ID),
		Phase:      q.Phase,
		Step:       q.Step,
		CreatedAt:  q.CreatedAt,
	}
	if len(q.Items) > 0 {
		for _, opt := range q.Items[0].Options {
			n.Options = append(n.Options, opt.Label)
		}
	}
	if isChoiceQuestion(q) {
		n.Severity = notify.SeverityCritical
		n.ErrorMessage = q.Items[0].Header
	}
	return n
}

func questionSummary(q state.Question) string {
	if len(q.Items) == 0 {
		return fmt.Sprintf("Question in phase %d", q.Phase)
	}
	return activity.TruncateMessage(q.Items[0].Prompt)
}

func questionBody(q state.Question) string {
	var parts []string
	for _, item := range q.Items {
		if item.Header != "" {
			parts = append(parts, item.Header)
		}
		parts = append(parts, item.Prompt)
	}
	return strings.Join(parts, "\n\n")
}

// isChoiceQuestion recognizes the orchestrator's own retry/skip/abort
// questions, which warrant critical severity on outbound channels.
func isChoiceQuestion(q state.Question) bool {
	if len(q.Items) != 1 || len(q.Items[0].Options) != 3 {
		return false
	}
	labels := make(map[string]bool, 3)
	for _, opt := range q.Items[0].Options {
		labels[opt.Label] = true
	}
	return labels[ChoiceRetry] && labels[ChoiceSkip] && labels[ChoiceAbort]
}
