package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NexeraDigital/get-shit-done/pkg/metrics"
)

// DefaultReminderInterval is how long an unanswered question waits before
// its notification is re-dispatched.
const DefaultReminderInterval = 5 * time.Minute

type reminderEntry struct {
	timer *time.Timer
}

// Manager owns the adapter list and the per-question reminder timers.
// Dispatch is best-effort: no Manager method returns an error.
type Manager struct {
	logger           *slog.Logger
	reminderInterval time.Duration

	mu       sync.Mutex
	adapters []Adapter
	timers   map[string]*reminderEntry
	closed   bool
}

// NewManager constructs a manager over adapters. reminderInterval <= 0
// selects DefaultReminderInterval.
func NewManager(adapters []Adapter, reminderInterval time.Duration, logger *slog.Logger) *Manager {
	if reminderInterval <= 0 {
		reminderInterval = DefaultReminderInterval
	}
	return &Manager{
		logger:           logger.With("component", "notify"),
		reminderInterval: reminderInterval,
		adapters:         adapters,
		timers:           make(map[string]*reminderEntry),
	}
}

// Init initializes all adapters in parallel. An adapter whose Init fails is
// removed from the rotation and logged; initialization never kills startup.
func (m *Manager) Init(ctx context.Context) {
	m.mu.Lock()
	adapters := make([]Adapter, len(m.adapters))
	copy(adapters, m.adapters)
	m.mu.Unlock()

	ok := make([]bool, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Init(ctx); err != nil {
				m.logger.Warn("Notification adapter failed to initialize, removing it",
					"adapter", a.Name(),
					"error", err)
				return
			}
			ok[i] = true
		}()
	}
	wg.Wait()

	alive := make([]Adapter, 0, len(adapters))
	names := make([]string, 0, len(adapters))
	for i, a := range adapters {
		if ok[i] {
			alive = append(alive, a)
			names = append(names, a.Name())
		}
	}

	m.mu.Lock()
	m.adapters = alive
	m.mu.Unlock()

	m.logger.Info("Notification manager initialized", "adapters", names)
}

// Notify dispatches n to every adapter in parallel and waits for all of
// them. Failures are logged and dropped.
func (m *Manager) Notify(ctx context.Context, n Notification) {
	m.mu.Lock()
	adapters := make([]Adapter, len(m.adapters))
	copy(adapters, m.adapters)
	m.mu.Unlock()

	if len(adapters) == 0 {
		m.logger.Warn("No notification adapters configured, dropping notification",
			"id", n.ID,
			"type", n.Type)
		return
	}

	failures := make([]bool, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.Notify(ctx, n)
			status := "ok"
			if err != nil {
				status = "error"
				failures[i] = true
				m.logger.Warn("Notification adapter failed",
					"adapter", a.Name(),
					"id", n.ID,
					"error", err)
			}
			metrics.NotificationsTotal.WithLabelValues(a.Name(), status).Inc()
		}()
	}
	wg.Wait()

	failed := 0
	for _, f := range failures {
		if f {
			failed++
		}
	}
	if failed == len(adapters) {
		m.logger.Error("All notification adapters failed, dropping notification",
			"id", n.ID,
			"type", n.Type,
			"adapters", len(adapters))
	}
}

// StartReminder schedules a one-shot re-dispatch of n after the reminder
// interval. A newer reminder for the same question id replaces the pending
// one.
func (m *Manager) StartReminder(questionID string, n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if old, ok := m.timers[questionID]; ok {
		old.timer.Stop()
	}

	entry := &reminderEntry{}
	entry.timer = time.AfterFunc(m.reminderInterval, func() {
		m.mu.Lock()
		current, ok := m.timers[questionID]
		if !ok || current != entry {
			m.mu.Unlock()
			return
		}
		delete(m.timers, questionID)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}

		metrics.RemindersFired.Inc()
		m.logger.Info("Question reminder fired", "question_id", questionID)
		m.Notify(context.Background(), n)
	})
	m.timers[questionID] = entry
}

// CancelReminder clears the pending reminder for questionID, if any.
func (m *Manager) CancelReminder(questionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.timers[questionID]; ok {
		entry.timer.Stop()
		delete(m.timers, questionID)
	}
}

// Close clears every pending reminder and closes all adapters in parallel.
// Idempotent.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, entry := range m.timers {
		entry.timer.Stop()
		delete(m.timers, id)
	}
	adapters := make([]Adapter, len(m.adapters))
	copy(adapters, m.adapters)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Close(ctx); err != nil {
				m.logger.Warn("Notification adapter close failed",
					"adapter", a.Name(),
					"error", err)
			}
		}()
	}
	wg.Wait()
	m.logger.Info("Notification manager closed")
}
