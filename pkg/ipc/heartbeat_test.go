package ipc

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

func TestHeartbeatWritesImmediatelyAndTicks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	h := NewHeartbeat(path, 10*time.Millisecond, slog.Default())

	h.Start()
	defer h.Stop()

	// The first beat lands before Start returns.
	assert.True(t, IsAlive(path, 10*time.Second))

	var first heartbeatDocument
	require.NoError(t, fsutil.ReadJSON(path, &first))

	require.Eventually(t, func() bool {
		var cur heartbeatDocument
		if err := fsutil.ReadJSON(path, &cur); err != nil {
			return false
		}
		return cur.Timestamp.After(first.Timestamp)
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	h := NewHeartbeat(path, 10*time.Millisecond, slog.Default())
	h.Start()
	h.Stop()
	h.Stop()
}

func TestIsAliveStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	old := heartbeatDocument{Timestamp: time.Now().Add(-time.Hour).UTC()}
	require.NoError(t, fsutil.WriteJSONAtomic(path, old))

	assert.False(t, IsAlive(path, 10*time.Second))
	assert.True(t, IsAlive(path, 2*time.Hour))
}

func TestIsAliveMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, IsAlive(filepath.Join(dir, "missing.json"), time.Minute))

	corrupt := filepath.Join(dir, "heartbeat.json")
	require.NoError(t, fsutil.WriteFileAtomic(corrupt, []byte("{nope"), 0o644))
	assert.False(t, IsAlive(corrupt, time.Minute))
}
