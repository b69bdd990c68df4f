package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name      string
	initErr   error
	notifyErr error

	mu       sync.Mutex
	notified []Notification
	closed   bool
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Init(_ context.Context) error { return a.initErr }

func (a *fakeAdapter) Notify(_ context.Context, n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notified = append(a.notified, n)
	return a.notifyErr
}

func (a *fakeAdapter) Close(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.notified)
}

func (a *fakeAdapter) last() Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notified[len(a.notified)-1]
}

func (a *fakeAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func newTestManager(t *testing.T, interval time.Duration, adapters ...Adapter) *Manager {
	t.Helper()
	m := NewManager(adapters, interval, slog.Default())
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestManagerInitRemovesFailingAdapter(t *testing.T) {
	good := &fakeAdapter{name: "good"}
	bad := &fakeAdapter{name: "bad", initErr: errors.New("no credentials")}
	other := &fakeAdapter{name: "other"}
	m := newTestManager(t, time.Minute, good, bad, other)

	m.Init(context.Background())
	m.Notify(context.Background(), Notification{ID: "n1", Type: TypeProgress})

	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1, other.count())
	assert.Equal(t, 0, bad.count())
}

func TestManagerNotifyReachesAllAdapters(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	b := &fakeAdapter{name: "b"}
	m := newTestManager(t, time.Minute, a, b)
	m.Init(context.Background())

	n := Notification{ID: "n2", Type: TypeQuestion, Title: "Which database?"}
	m.Notify(context.Background(), n)

	// Notify waits for all adapters, so both deliveries are visible here.
	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
	assert.Equal(t, "Which database?", a.last().Title)
}

func TestManagerNotifyWithoutAdaptersDrops(t *testing.T) {
	m := newTestManager(t, time.Minute)
	m.Init(context.Background())

	m.Notify(context.Background(), Notification{ID: "n3", Type: TypeProgress})
}

func TestManagerNotifyAllAdaptersFailing(t *testing.T) {
	a := &fakeAdapter{name: "a", notifyErr: errors.New("boom")}
	b := &fakeAdapter{name: "b", notifyErr: errors.New("boom")}
	m := newTestManager(t, time.Minute, a, b)
	m.Init(context.Background())

	m.Notify(context.Background(), Notification{ID: "n4", Type: TypeError})

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestManagerReminderFiresOnce(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	m := newTestManager(t, 20*time.Millisecond, a)
	m.Init(context.Background())

	m.StartReminder("q1", Notification{ID: "q1", Type: TypeQuestion, Title: "still waiting"})

	require.Eventually(t, func() bool { return a.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "still waiting", a.last().Title)

	// One-shot: no further dispatch after several more intervals.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, a.count())
}

func TestManagerReminderReplacedBySameID(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	m := newTestManager(t, 30*time.Millisecond, a)
	m.Init(context.Background())

	m.StartReminder("q1", Notification{ID: "q1", Title: "first"})
	m.StartReminder("q1", Notification{ID: "q1", Title: "second"})

	require.Eventually(t, func() bool { return a.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "second", a.last().Title)

	time.Sleep(90 * time.Millisecond)
	assert.Equal(t, 1, a.count())
}

func TestManagerCancelReminder(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	m := newTestManager(t, 20*time.Millisecond, a)
	m.Init(context.Background())

	m.StartReminder("q1", Notification{ID: "q1"})
	m.CancelReminder("q1")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, a.count())
}

func TestManagerCloseClearsRemindersAndClosesAdapters(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	m := NewManager([]Adapter{a}, 20*time.Millisecond, slog.Default())
	m.Init(context.Background())

	m.StartReminder("q1", Notification{ID: "q1"})
	m.Close(context.Background())
	m.Close(context.Background())

	assert.True(t, a.isClosed())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, a.count())

	// Reminders scheduled after close are ignored.
	m.StartReminder("q2", Notification{ID: "q2"})
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, a.count())
}

func TestManagerDefaultReminderInterval(t *testing.T) {
	m := NewManager(nil, 0, slog.Default())
	assert.Equal(t, DefaultReminderInterval, m.reminderInterval)
}
