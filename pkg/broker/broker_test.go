package broker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// mockStore records question persistence calls.
type mockStore struct {
	mu       sync.Mutex
	added    []state.Question
	resolved []string
}

func (m *mockStore) AddPendingQuestion(q state.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, q)
	return nil
}

func (m *mockStore) ResolveQuestion(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved = append(m.resolved, id)
	return nil
}

func (m *mockStore) resolvedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resolved...)
}

// mockEvents records emissions.
type mockEvents struct {
	mu       sync.Mutex
	pending  []state.Question
	answered []state.Question
}

func (m *mockEvents) QuestionPending(q state.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, q)
}

func (m *mockEvents) QuestionAnswered(q state.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = append(m.answered, q)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBroker(t *testing.T) (*Broker, *mockStore, *mockEvents) {
	t.Helper()
	store := &mockStore{}
	events := &mockEvents{}
	return New(store, events, testLogger()), store, events
}

func dbItems() []state.QuestionItem {
	return []state.QuestionItem{{
		Prompt:  "DB?",
		Options: []state.Option{{Label: "Postgres"}, {Label: "MySQL"}},
	}}
}

func TestHandleQuestion_RoundTrip(t *testing.T) {
	b, store, events := newTestBroker(t)

	type result struct {
		answers map[string]string
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		answers, err := b.HandleQuestion(context.Background(), 1, state.StepDiscuss, dbItems())
		resultCh <- result{answers, err}
	}()

	// Wait for the question to register and emit pending.
	var pending []state.Question
	require.Eventually(t, func() bool {
		pending = b.Pending()
		return len(pending) == 1
	}, time.Second, 5*time.Millisecond)

	id := pending[0].ID
	assert.Equal(t, 1, pending[0].Phase)
	assert.Equal(t, state.StepDiscuss, pending[0].Step)

	ok := b.SubmitAnswer(id, map[string]string{"DB?": "Postgres"})
	assert.True(t, ok)

	res := <-resultCh
	require.NoError(t, res.err)
	assert.Equal(t, map[string]string{"DB?": "Postgres"}, res.answers)

	// Pending set drained; store saw add then resolve; events saw both.
	assert.Empty(t, b.Pending())
	assert.Equal(t, []string{id}, store.resolvedIDs())
	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.pending, 1)
	require.Len(t, events.answered, 1)
	assert.Equal(t, id, events.answered[0].ID)
	assert.NotNil(t, events.answered[0].AnsweredAt)
	assert.Equal(t, map[string]string{"DB?": "Postgres"}, events.answered[0].Answers)
}

func TestSubmitAnswer_DuplicateReturnsFalse(t *testing.T) {
	b, store, _ := newTestBroker(t)

	q := state.Question{ID: "q1", Phase: 1, Step: state.StepDiscuss, Items: dbItems(), CreatedAt: time.Now().UTC()}
	b.Reregister(q)

	assert.True(t, b.SubmitAnswer("q1", map[string]string{"DB?": "Postgres"}))
	assert.False(t, b.SubmitAnswer("q1", map[string]string{"DB?": "MySQL"}))

	// Only one resolution reached the store.
	assert.Equal(t, []string{"q1"}, store.resolvedIDs())
}

func TestSubmitAnswer_UnknownIDReturnsFalse(t *testing.T) {
	b, store, _ := newTestBroker(t)
	assert.False(t, b.SubmitAnswer("ghost", map[string]string{"a": "b"}))
	assert.Empty(t, store.resolvedIDs())
}

func TestRejectAll_ResumesCallersWithReason(t *testing.T) {
	b, store, _ := newTestBroker(t)

	const callers = 3
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := b.HandleQuestion(context.Background(), 1, state.StepVerify, dbItems())
			errCh <- err
		}()
	}
	require.Eventually(t, func() bool { return len(b.Pending()) == callers }, time.Second, 5*time.Millisecond)

	b.RejectAll(ErrShuttingDown)

	for i := 0; i < callers; i++ {
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrShuttingDown)
		case <-time.After(time.Second):
			t.Fatal("caller not resumed after RejectAll")
		}
	}
	assert.Empty(t, b.Pending())

	// Rejection keeps the persisted records for resume.
	assert.Empty(t, store.resolvedIDs())
}

func TestHandleQuestion_ContextCancelDiscards(t *testing.T) {
	b, store, _ := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.HandleQuestion(ctx, 2, state.StepExecute, dbItems())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(b.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	id := b.Pending()[0].ID

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("caller not resumed after cancel")
	}

	// The dead command's question is gone from both broker and state.
	assert.Empty(t, b.Pending())
	require.Eventually(t, func() bool {
		return len(store.resolvedIDs()) == 1 && store.resolvedIDs()[0] == id
	}, time.Second, 5*time.Millisecond)
}

func TestHandleQuestion_ShutdownCancelKeepsPersistedRecord(t *testing.T) {
	b, store, _ := newTestBroker(t)

	ctx, cancel := context.WithCancelCause(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.HandleQuestion(ctx, 2, state.StepExecute, dbItems())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(b.Pending()) == 1 }, time.Second, 5*time.Millisecond)

	cancel(ErrShuttingDown)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrShuttingDown)
	case <-time.After(time.Second):
		t.Fatal("caller not resumed after shutdown cancel")
	}

	// The handle is gone, but the pending record survives for resume.
	assert.Empty(t, b.Pending())
	assert.Empty(t, store.resolvedIDs())
}

func TestReregister_FreshHandleAnswerable(t *testing.T) {
	b, store, events := newTestBroker(t)

	restored := state.Question{ID: "q-restored", Phase: 2, Step: state.StepDiscuss, Items: dbItems(), CreatedAt: time.Now().UTC().Add(-time.Hour)}
	b.Reregister(restored)

	got, ok := b.PendingByID("q-restored")
	require.True(t, ok)
	assert.Equal(t, "q-restored", got.ID)

	awaitErr := make(chan error, 1)
	go func() {
		_, err := b.Await(context.Background(), "q-restored")
		awaitErr <- err
	}()

	assert.True(t, b.SubmitAnswer("q-restored", map[string]string{"DB?": "Postgres"}))
	require.NoError(t, <-awaitErr)

	// Reregister itself persisted and emitted nothing; the answer did both.
	events.mu.Lock()
	assert.Empty(t, events.pending)
	assert.Len(t, events.answered, 1)
	events.mu.Unlock()
	assert.Equal(t, []string{"q-restored"}, store.resolvedIDs())
}

func TestAwait_UnknownID(t *testing.T) {
	b, _, _ := newTestBroker(t)
	_, err := b.Await(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoSuchQuestion)
}

func TestPending_OldestFirst(t *testing.T) {
	b, _, _ := newTestBroker(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b.Reregister(state.Question{ID: "newer", CreatedAt: base.Add(time.Minute)})
	b.Reregister(state.Question{ID: "older", CreatedAt: base})

	pending := b.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "older", pending[0].ID)
	assert.Equal(t, "newer", pending[1].ID)
}

// TestSubmitAnswer_ExactlyOnceProperty races N submitters for the same id
// and checks exactly one wins regardless of interleaving.
func TestSubmitAnswer_ExactlyOnceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one concurrent submit wins", prop.ForAll(
		func(racers int) bool {
			b, store, _ := newTestBroker(t)
			b.Reregister(state.Question{ID: "q", Items: dbItems(), CreatedAt: time.Now().UTC()})

			var wg sync.WaitGroup
			wins := make(chan bool, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					wins <- b.SubmitAnswer("q", map[string]string{"DB?": "Postgres"})
				}()
			}
			wg.Wait()
			close(wins)

			won := 0
			for w := range wins {
				if w {
					won++
				}
			}
			return won == 1 && len(store.resolvedIDs()) == 1
		},
		gen.IntRange(2, 16),
	))

	properties.TestingRun(t)
}
