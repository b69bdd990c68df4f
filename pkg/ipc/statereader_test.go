package ipc

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

func writeState(t *testing.T, path string, status state.Status) {
	t.Helper()
	st := state.NewWorkflowState(time.Now())
	st.Status = status
	require.NoError(t, fsutil.WriteJSONAtomic(path, st))
}

func TestStateReaderRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot-state.json")
	writeState(t, path, state.StatusRunning)

	r := NewStateReader(path, time.Minute, slog.Default())
	st, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, st.Status)
}

func TestStateReaderReadMissing(t *testing.T) {
	r := NewStateReader(filepath.Join(t.TempDir(), "missing.json"), time.Minute, slog.Default())
	_, err := r.Read()
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestStateReaderWatchEmitsInitialAndChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot-state.json")
	writeState(t, path, state.StatusIdle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewStateReader(path, 50*time.Millisecond, slog.Default())
	stream, err := r.Watch(ctx)
	require.NoError(t, err)

	initial := receiveState(t, stream)
	assert.Equal(t, state.StatusIdle, initial.Status)

	// Atomic replace, as the store does it.
	time.Sleep(10 * time.Millisecond)
	writeState(t, path, state.StatusWaitingForHuman)

	updated := receiveState(t, stream)
	assert.Equal(t, state.StatusWaitingForHuman, updated.Status)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-stream:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestStateReaderWatchPicksUpLateCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autopilot-state.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewStateReader(path, 50*time.Millisecond, slog.Default())
	stream, err := r.Watch(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	writeState(t, path, state.StatusRunning)

	st := receiveState(t, stream)
	assert.Equal(t, state.StatusRunning, st.Status)
}

func receiveState(t *testing.T, stream <-chan state.WorkflowState) state.WorkflowState {
	t.Helper()
	select {
	case st, ok := <-stream:
		require.True(t, ok, "stream closed early")
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state snapshot")
		return state.WorkflowState{}
	}
}
