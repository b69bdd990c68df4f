package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteConfigDisablesInteractiveGates(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	rt := NewCLIRuntime("claude", dir, configPath, slog.Default())

	require.NoError(t, rt.writeConfig())

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(data, &cfg))
	perms, ok := cfg["permissions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bypassPermissions", perms["defaultMode"])
	assert.Equal(t, false, cfg["autoUpdates"])
}

func TestWriteConfigNoopWithoutPath(t *testing.T) {
	rt := NewCLIRuntime("claude", t.TempDir(), "", slog.Default())
	require.NoError(t, rt.writeConfig())
}

func TestDecodeControlRequest(t *testing.T) {
	line := []byte(`{
		"type":"control_request","request_id":"req-7",
		"request":{"subtype":"can_use_tool","tool_name":"ask-user-question","input":{"questions":[]}}
	}`)

	req, ok := decodeControlRequest(line)
	require.True(t, ok)
	assert.Equal(t, "req-7", req.RequestID)
	assert.Equal(t, "can_use_tool", req.Request.Subtype)
	assert.Equal(t, "ask-user-question", req.Request.ToolName)
	assert.JSONEq(t, `{"questions":[]}`, string(req.Request.Input))
}

func TestDecodeControlRequestRejectsOtherTypes(t *testing.T) {
	_, ok := decodeControlRequest([]byte(`{"type":"assistant"}`))
	assert.False(t, ok)

	_, ok = decodeControlRequest([]byte(`garbage`))
	assert.False(t, ok)
}

func TestTailBufferKeepsTail(t *testing.T) {
	b := newTailBuffer(8)

	_, err := b.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, "89abcdef", b.String())

	_, err = b.Write([]byte("XY"))
	require.NoError(t, err)
	assert.Equal(t, "abcdefXY", b.String())
}
