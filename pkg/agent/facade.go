package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NexeraDigital/get-shit-done/pkg/metrics"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// QuestionToolName is the tool the agent uses to ask the human a question.
// Calls to it suspend inside the question broker instead of executing.
const QuestionToolName = "ask-user-question"

// DefaultCommandTimeout bounds a single command run.
const DefaultCommandTimeout = 10 * time.Minute

// QuestionBroker is the slice of the broker the facade's tool gate uses.
type QuestionBroker interface {
	HandleQuestion(ctx context.Context, phase int, step state.Step, items []state.QuestionItem) (map[string]string, error)
}

// Config tunes the facade.
type Config struct {
	// CommandTimeout bounds each run; zero means DefaultCommandTimeout.
	CommandTimeout time.Duration
	// AutoAnswer makes the gate pick the first option of every question
	// instead of suspending.
	AutoAnswer bool
	// RawWriter mirrors the raw runtime stream, typically to sdk-output.log.
	RawWriter io.Writer
}

// CommandOptions shape one RunCommand call.
type CommandOptions struct {
	// Phase and Step tag questions raised during the run.
	Phase int
	Step  state.Step
	// Model overrides the configured model for this run.
	Model string
	// ResumeSessionID continues an existing runtime session.
	ResumeSessionID string
	// Timeout overrides the facade's command timeout when positive.
	Timeout time.Duration
}

// Facade runs workflow commands against the agent runtime one at a time.
//
// It owns the in-flight abort signal and the last observed session id, wires
// the tool gate to the question broker, and re-emits every stream message to
// subscribers in order.
type Facade struct {
	runtime Runtime
	broker  QuestionBroker
	cfg     Config
	logger  *slog.Logger

	mu          sync.Mutex
	running     bool
	abort       context.CancelFunc
	aborted     bool
	sessionID   string
	subscribers []func(Message)
}

// New constructs a facade. broker may be nil only when cfg.AutoAnswer is set.
func New(runtime Runtime, broker QuestionBroker, cfg Config, logger *slog.Logger) *Facade {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Facade{
		runtime: runtime,
		broker:  broker,
		cfg:     cfg,
		logger:  logger.With("component", "agent.facade"),
	}
}

// Subscribe registers fn to receive every stream message, in stream order.
// Subscribers run on the command goroutine and must not block.
func (f *Facade) Subscribe(fn func(Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, fn)
}

// IsRunning reports whether a command currently holds the in-flight slot.
func (f *Facade) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// LastSessionID returns the session id of the most recent run, if any.
func (f *Facade) LastSessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// Abort cancels the in-flight command, if any. The corresponding RunCommand
// returns ErrAborted.
func (f *Facade) Abort() {
	f.mu.Lock()
	abort := f.abort
	if abort != nil {
		f.aborted = true
	}
	f.mu.Unlock()
	if abort != nil {
		f.logger.Info("Aborting in-flight command")
		abort()
	}
}

// RunCommand executes one prompt against the runtime and blocks until the
// stream completes. Only one command runs at a time; concurrent calls fail
// with ErrAlreadyRunning. Timeouts and missing results are reported inside
// the returned Result; unexpected errors (start failure, abort, parent
// cancellation) propagate as errors.
func (f *Facade) RunCommand(ctx context.Context, prompt string, opts CommandOptions) (*Result, error) {
	timeout := f.cfg.CommandTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		cancel()
		return nil, ErrAlreadyRunning
	}
	f.running = true
	f.abort = cancel
	f.aborted = false
	f.mu.Unlock()

	defer func() {
		cancel()
		f.mu.Lock()
		f.running = false
		f.abort = nil
		f.mu.Unlock()
	}()

	f.logger.Info("Running command",
		"phase", opts.Phase,
		"step", opts.Step,
		"model", opts.Model,
		"timeout", timeout,
		"prompt_len", len(prompt))

	start := time.Now()
	stream, err := f.runtime.Run(cmdCtx, prompt, RunOptions{
		Model:           opts.Model,
		ResumeSessionID: opts.ResumeSessionID,
		RawWriter:       f.cfg.RawWriter,
	}, f.gateFor(opts))
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(string(opts.Step), "error").Inc()
		return nil, err
	}

	var (
		resultMsg *ResultMessage
		streamErr error
		sessionID string
	)
	for msg := range stream {
		f.emit(msg)
		switch m := msg.(type) {
		case *InitMessage:
			sessionID = m.SessionID
			f.mu.Lock()
			f.sessionID = m.SessionID
			f.mu.Unlock()
		case *ResultMessage:
			resultMsg = m
		case *ErrorMessage:
			streamErr = m.Err
		}
	}
	durationMS := time.Since(start).Milliseconds()

	res, err := f.classify(ctx, cmdCtx, resultMsg, streamErr, sessionID, durationMS, timeout)
	f.observe(opts.Step, res, err, durationMS)
	return res, err
}

// classify turns the drained stream into the structured outcome.
func (f *Facade) classify(parent, cmdCtx context.Context, resultMsg *ResultMessage, streamErr error, sessionID string, durationMS int64, timeout time.Duration) (*Result, error) {
	if resultMsg != nil {
		res := &Result{
			SessionID:  sessionID,
			DurationMS: durationMS,
			CostUSD:    resultMsg.TotalCostUSD,
			NumTurns:   resultMsg.NumTurns,
		}
		if resultMsg.SessionID != "" {
			res.SessionID = resultMsg.SessionID
		}
		switch {
		case resultMsg.Subtype == "success" && !resultMsg.IsError:
			res.Success = true
			res.ResultText = resultMsg.Result
		case resultMsg.Subtype == "success" && resultMsg.IsError:
			res.ResultText = resultMsg.Result
			res.Error = resultMsg.Result
		default:
			if len(resultMsg.Errors) > 0 {
				res.Error = strings.Join(resultMsg.Errors, "; ")
			} else {
				res.Error = fmt.Sprintf("Command failed: %s", resultMsg.Subtype)
			}
		}
		return res, nil
	}

	f.mu.Lock()
	aborted := f.aborted
	f.mu.Unlock()

	switch {
	case aborted:
		return nil, ErrAborted
	case parent.Err() != nil:
		return nil, parent.Err()
	case cmdCtx.Err() == context.DeadlineExceeded:
		return &Result{
			Error:      fmt.Sprintf("Command timed out after %dms", timeout.Milliseconds()),
			SessionID:  sessionID,
			DurationMS: durationMS,
		}, nil
	case streamErr != nil:
		return nil, streamErr
	default:
		return &Result{
			Error:      "No result message received",
			SessionID:  sessionID,
			DurationMS: durationMS,
		}, nil
	}
}

func (f *Facade) observe(step state.Step, res *Result, err error, durationMS int64) {
	outcome := "failure"
	switch {
	case err != nil:
		outcome = "error"
	case res.Success:
		outcome = "success"
	case strings.HasPrefix(res.Error, "Command timed out"):
		outcome = "timeout"
	}
	metrics.CommandsTotal.WithLabelValues(string(step), outcome).Inc()
	metrics.CommandDuration.WithLabelValues(string(step)).Observe(float64(durationMS) / 1000)
	if res != nil && res.CostUSD > 0 {
		metrics.CommandCostUSD.Add(res.CostUSD)
	}

	if err != nil {
		f.logger.Warn("Command did not complete", "step", step, "error", err)
		return
	}
	f.logger.Info("Command finished",
		"step", step,
		"success", res.Success,
		"duration_ms", durationMS,
		"cost_usd", res.CostUSD,
		"num_turns", res.NumTurns)
}

func (f *Facade) emit(msg Message) {
	f.mu.Lock()
	subs := make([]func(Message), len(f.subscribers))
	copy(subs, f.subscribers)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

// tool gate

type questionToolInput struct {
	Questions []questionToolItem `json:"questions"`
}

type questionToolItem struct {
	Question    string               `json:"question"`
	Header      string               `json:"header"`
	Options     []questionToolOption `json:"options"`
	MultiSelect bool                 `json:"multiSelect"`
}

type questionToolOption struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

func (f *Facade) gateFor(opts CommandOptions) ToolGate {
	return func(ctx context.Context, toolName string, input json.RawMessage) (GateDecision, error) {
		if toolName != QuestionToolName {
			return GateDecision{Behavior: GateBehaviorAllow}, nil
		}

		var parsed questionToolInput
		if err := json.Unmarshal(input, &parsed); err != nil {
			return GateDecision{}, fmt.Errorf("malformed %s input: %w", QuestionToolName, err)
		}

		var answers map[string]string
		if f.cfg.AutoAnswer {
			answers = autoAnswers(parsed)
			metrics.QuestionsAnswered.WithLabelValues("auto").Inc()
			f.logger.Info("Auto-answered question", "items", len(parsed.Questions))
		} else {
			items := toQuestionItems(parsed)
			got, err := f.broker.HandleQuestion(ctx, opts.Phase, opts.Step, items)
			if err != nil {
				return GateDecision{}, err
			}
			answers = got
		}

		updated, err := withAnswers(input, answers)
		if err != nil {
			return GateDecision{}, err
		}
		return GateDecision{Behavior: GateBehaviorAllow, UpdatedInput: updated}, nil
	}
}

func toQuestionItems(in questionToolInput) []state.QuestionItem {
	items := make([]state.QuestionItem, 0, len(in.Questions))
	for _, q := range in.Questions {
		item := state.QuestionItem{
			Prompt:      q.Question,
			Header:      q.Header,
			MultiSelect: q.MultiSelect,
		}
		for _, opt := range q.Options {
			item.Options = append(item.Options, state.Option{
				Label:       opt.Label,
				Description: opt.Description,
			})
		}
		items = append(items, item)
	}
	return items
}

// autoAnswers picks the first option of every question that has options.
func autoAnswers(in questionToolInput) map[string]string {
	answers := make(map[string]string, len(in.Questions))
	for _, q := range in.Questions {
		if len(q.Options) > 0 {
			answers[q.Question] = q.Options[0].Label
		}
	}
	return answers
}

// withAnswers returns the original tool input with the answers map added,
// which is the shape the runtime expects back on an allow verdict.
func withAnswers(input json.RawMessage, answers map[string]string) (json.RawMessage, error) {
	merged := make(map[string]any)
	if err := json.Unmarshal(input, &merged); err != nil {
		return nil, err
	}
	merged["answers"] = answers
	return json.Marshal(merged)
}
