package ringlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLog(t *testing.T, capacity int) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.ndjson")
	l, err := New(path, capacity, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestLog_RecentInsertionOrder(t *testing.T) {
	l, _ := newTestLog(t, 5)

	for i := 1; i <= 3; i++ {
		l.Log(fmt.Sprintf("line-%d", i))
	}
	assert.Equal(t, []string{"line-1", "line-2", "line-3"}, l.Recent(10))
	assert.Equal(t, []string{"line-3"}, l.Recent(1))
}

func TestLog_RingEviction(t *testing.T) {
	l, _ := newTestLog(t, 3)

	for i := 1; i <= 5; i++ {
		l.Log(fmt.Sprintf("line-%d", i))
	}
	assert.Equal(t, 3, l.Size())
	assert.Equal(t, []string{"line-3", "line-4", "line-5"}, l.Recent(3))
}

func TestLog_FlushWritesToFile(t *testing.T) {
	l, path := newTestLog(t, 10)

	l.Log("alpha")
	l.Log("beta")
	require.NoError(t, l.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Equal(t, []string{"alpha", "beta"}, lines)
}

func TestLog_FlushIdempotent(t *testing.T) {
	l, path := newTestLog(t, 10)

	l.Log("only")
	require.NoError(t, l.Flush())
	require.NoError(t, l.Flush())
	require.NoError(t, l.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "only\n", string(data))
}

func TestLog_ConcurrentFlushKeepsFileOrder(t *testing.T) {
	l, path := newTestLog(t, 512)

	const n = 300
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		for i := 0; i < 50; i++ {
			_ = l.Flush()
		}
	}()
	for i := 0; i < n; i++ {
		l.Log(fmt.Sprintf("line-%d", i))
	}
	<-flushDone
	require.NoError(t, l.Flush())

	// The writer goroutine and Flush drained concurrently; the file must
	// still hold every line in ring insertion order.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, n)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("line-%d", i), line)
	}
}

func TestLog_CloseDrainsAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	l, err := New(path, 10, testLogger())
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		l.Log(fmt.Sprintf("line-%d", i))
	}
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Len(t, lines, 100)
	assert.Equal(t, "line-99", lines[99])
}

func TestLog_FileAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")

	l, err := New(path, 10, testLogger())
	require.NoError(t, err)
	l.Log("first-run")
	require.NoError(t, l.Close())

	l, err = New(path, 10, testLogger())
	require.NoError(t, err)
	l.Log("second-run")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first-run\nsecond-run\n", string(data))
}

// TestLog_RecentTailProperty checks that for any sequence of writes, Recent
// returns exactly the tail of the sequence bounded by the ring capacity.
func TestLog_RecentTailProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Recent(n) is the insertion-order tail", prop.ForAll(
		func(lines []string, n int) bool {
			path := filepath.Join(t.TempDir(), "ring.log")
			l, err := New(path, 8, testLogger())
			if err != nil {
				return false
			}
			defer l.Close()

			for _, line := range lines {
				l.Log(line)
			}

			got := l.Recent(n)
			want := lines
			if len(want) > 8 {
				want = want[len(want)-8:]
			}
			if n < len(want) {
				want = want[len(want)-n:]
			}
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
