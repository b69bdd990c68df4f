package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

const (
	// GateBehaviorAllow permits the tool call, optionally with rewritten input.
	GateBehaviorAllow = "allow"
	// GateBehaviorDeny blocks the tool call with an explanatory message.
	GateBehaviorDeny = "deny"
)

// scanBufferSize bounds a single stream line. Assistant turns with large
// embedded diffs have been observed near 256KB.
const scanBufferSize = 1024 * 1024

// GateDecision is the gate's verdict on one tool call.
type GateDecision struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// ToolGate decides whether the runtime may execute a tool call. It runs on
// its own goroutine and may suspend (human questions); the context is
// canceled when the command ends.
type ToolGate func(ctx context.Context, toolName string, input json.RawMessage) (GateDecision, error)

// RunOptions tune a single command run.
type RunOptions struct {
	// Model overrides the runtime's default model when non-empty.
	Model string
	// ResumeSessionID continues a prior runtime session when non-empty.
	ResumeSessionID string
	// RawWriter receives every raw stream line, if set.
	RawWriter io.Writer
}

// Runtime launches agent commands and streams their output.
//
// The returned channel is closed when the stream completes. Stream-level
// failures are delivered as ErrorMessage values in the channel.
type Runtime interface {
	Run(ctx context.Context, prompt string, opts RunOptions, gate ToolGate) (<-chan Message, error)
}

// CLIRuntime drives the agent CLI as a subprocess speaking newline-delimited
// JSON on stdout, with the prompt and control responses written to stdin.
type CLIRuntime struct {
	command    string
	projectDir string
	configPath string
	logger     *slog.Logger
}

// NewCLIRuntime returns a runtime that executes command (resolved via PATH)
// with projectDir as working directory. When configPath is non-empty, a
// runtime configuration that disables interactive permission gates is
// written there before every run.
func NewCLIRuntime(command, projectDir, configPath string, logger *slog.Logger) *CLIRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRuntime{
		command:    command,
		projectDir: projectDir,
		configPath: configPath,
		logger:     logger.With("component", "agent.runtime"),
	}
}

// runtimeConfig is the on-disk runtime configuration. The controller answers
// every permission decision through the control channel, so interactive
// prompts must stay off.
type runtimeConfig struct {
	Permissions struct {
		DefaultMode string `json:"defaultMode"`
	} `json:"permissions"`
	AutoUpdates bool `json:"autoUpdates"`
}

func (r *CLIRuntime) writeConfig() error {
	if r.configPath == "" {
		return nil
	}
	var cfg runtimeConfig
	cfg.Permissions.DefaultMode = "bypassPermissions"
	cfg.AutoUpdates = false
	return fsutil.WriteJSONAtomic(r.configPath, cfg)
}

// Run starts one command. The stream ends (channel closed) when the process
// exits and all pending gate decisions have been resolved or abandoned.
func (r *CLIRuntime) Run(ctx context.Context, prompt string, opts RunOptions, gate ToolGate) (<-chan Message, error) {
	if err := r.writeConfig(); err != nil {
		return nil, fmt.Errorf("failed to write runtime config: %w", err)
	}

	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	if r.configPath != "" {
		args = append(args, "--settings", r.configPath)
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = r.projectDir
	cmd.Env = os.Environ()
	cmd.WaitDelay = 5 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent runtime %q: %w", r.command, err)
	}
	r.logger.Info("Agent runtime started",
		"command", r.command,
		"pid", cmd.Process.Pid,
		"model", opts.Model,
		"resume", opts.ResumeSessionID != "")

	session := &runSession{
		stdin:  stdin,
		gate:   gate,
		logger: r.logger,
	}
	if err := session.writePrompt(prompt); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)

		// Gate goroutines must stop suspending once the process is gone.
		gateCtx, cancelGates := context.WithCancel(ctx)
		defer cancelGates()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if opts.RawWriter != nil {
				_, _ = opts.RawWriter.Write(append(append([]byte(nil), line...), '\n'))
			}
			if req, ok := decodeControlRequest(line); ok {
				session.dispatchGate(gateCtx, req)
				continue
			}
			out <- ParseLine(line)
		}
		scanErr := scanner.Err()

		_ = stdin.Close()
		waitErr := cmd.Wait()
		cancelGates()
		session.wg.Wait()

		if scanErr != nil {
			out <- &ErrorMessage{Err: fmt.Errorf("agent stream read failed: %w", scanErr)}
			return
		}
		if waitErr != nil && ctx.Err() == nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				out <- &ErrorMessage{Err: fmt.Errorf("agent runtime exited: %w: %s", waitErr, msg)}
			} else {
				out <- &ErrorMessage{Err: fmt.Errorf("agent runtime exited: %w", waitErr)}
			}
		}
	}()

	return out, nil
}

// runSession holds the write side of one running command. Stdin carries the
// initial prompt and later control responses from concurrent gate
// goroutines, so writes are serialized.
type runSession struct {
	stdin   io.WriteCloser
	stdinMu sync.Mutex
	gate    ToolGate
	logger  *slog.Logger
	wg      sync.WaitGroup
}

type wireUserMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string             `json:"role"`
		Content []wireContentBlock `json:"content"`
	} `json:"message"`
}

func (s *runSession) writePrompt(prompt string) error {
	var msg wireUserMessage
	msg.Type = "user"
	msg.Message.Role = "user"
	msg.Message.Content = []wireContentBlock{{Type: "text", Text: prompt}}
	return s.writeLine(msg)
}

func (s *runSession) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

// control channel wire shapes.

type controlRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Request   struct {
		Subtype  string          `json:"subtype"`
		ToolName string          `json:"tool_name"`
		Input    json.RawMessage `json:"input"`
	} `json:"request"`
}

type controlResponse struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string        `json:"subtype"`
	RequestID string        `json:"request_id"`
	Response  *GateDecision `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func decodeControlRequest(line []byte) (*controlRequest, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil || probe.Type != "control_request" {
		return nil, false
	}
	var req controlRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, false
	}
	return &req, true
}

// dispatchGate answers one control request on its own goroutine so the
// reader keeps draining the stream while a question suspends.
func (s *runSession) dispatchGate(ctx context.Context, req *controlRequest) {
	if req.Request.Subtype != "can_use_tool" {
		s.replyError(req.RequestID, fmt.Sprintf("unsupported control request: %s", req.Request.Subtype))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.gate == nil {
			s.reply(req.RequestID, GateDecision{Behavior: GateBehaviorAllow})
			return
		}
		decision, err := s.gate(ctx, req.Request.ToolName, req.Request.Input)
		if err != nil {
			s.replyError(req.RequestID, err.Error())
			return
		}
		s.reply(req.RequestID, decision)
	}()
}

func (s *runSession) reply(requestID string, decision GateDecision) {
	resp := controlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  &decision,
		},
	}
	if err := s.writeLine(resp); err != nil {
		s.logger.Warn("Failed to send control response", "request_id", requestID, "error", err)
	}
}

func (s *runSession) replyError(requestID, message string) {
	resp := controlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "error",
			RequestID: requestID,
			Error:     message,
		},
	}
	if err := s.writeLine(resp); err != nil {
		s.logger.Warn("Failed to send control error", "request_id", requestID, "error", err)
	}
}

// tailBuffer keeps the last max bytes written, for stderr diagnostics.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
