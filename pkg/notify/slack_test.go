package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSlackBlocksQuestion(t *testing.T) {
	n := Notification{
		ID:         "q1",
		Type:       TypeQuestion,
		Title:      "Question needs an answer",
		Body:       "Which database should phase 2 use?",
		Severity:   SeverityWarning,
		Options:    []string{"postgres", "sqlite"},
		Phase:      2,
		Step:       "plan",
		RespondURL: "http://127.0.0.1:4123/api/questions/q1",
	}

	blocks := BuildSlackBlocks(n)
	require.Len(t, blocks, 4)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, ":question:")
	assert.Contains(t, header.Text.Text, "Question needs an answer")
	assert.Contains(t, header.Text.Text, "phase 2 / plan")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, body.Text.Text, "Which database should phase 2 use?")

	options := blocks[2].(*goslack.SectionBlock)
	assert.Contains(t, options.Text.Text, "• postgres")
	assert.Contains(t, options.Text.Text, "• sqlite")

	action := blocks[3].(*goslack.ActionBlock)
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "Answer", btn.Text.Text)
	assert.Equal(t, "http://127.0.0.1:4123/api/questions/q1", btn.URL)
}

func TestBuildSlackBlocksError(t *testing.T) {
	n := Notification{
		ID:           "e1",
		Type:         TypeError,
		Title:        "Phase 3 failed",
		Severity:     SeverityCritical,
		ErrorMessage: "Command timed out after 600000ms",
	}

	blocks := BuildSlackBlocks(n)
	require.Len(t, blocks, 2)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":x:")
	assert.Contains(t, header.Text.Text, "Phase 3 failed")

	errBlock := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, errBlock.Text.Text, "*Error:*")
	assert.Contains(t, errBlock.Text.Text, "Command timed out after 600000ms")
}

func TestBuildSlackBlocksComplete(t *testing.T) {
	n := Notification{
		ID:       "c1",
		Type:     TypeComplete,
		Title:    "All phases complete",
		Summary:  "Shipped 4 phases, 12 commits.",
		Severity: SeverityInfo,
	}

	blocks := BuildSlackBlocks(n)
	require.Len(t, blocks, 2)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")

	summary := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, summary.Text.Text, "Shipped 4 phases, 12 commits.")
}

func TestSlackNotifyPostsWebhook(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := NewSlackAdapter(srv.URL)
	require.NoError(t, a.Init(context.Background()))

	n := Notification{
		ID:    "n1",
		Type:  TypeProgress,
		Title: "Phase 1 complete",
	}
	require.NoError(t, a.Notify(context.Background(), n))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &msg))
	assert.Equal(t, "Phase 1 complete", msg["text"])

	blocks, ok := msg["blocks"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, blocks)
	first, ok := blocks[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "section", first["type"])
}

func TestSlackNotifyWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewSlackAdapter(srv.URL)
	err := a.Notify(context.Background(), Notification{ID: "n1", Title: "x"})
	assert.Error(t, err)
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxSlackBlockText)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxSlackBlockText+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🔥", maxSlackBlockText+10)
		result := truncateForSlack(text)
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result))
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxSlackBlockText, utf8.RuneCountInString(prefix))
	})
}
