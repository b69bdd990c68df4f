// Package orchestrator drives the workflow state machine: roadmap
// generation, the per-phase discuss/plan/execute/verify loop with gap
// recovery, human choice points, crash resume, and completion.
//
// The orchestrator is the only component that decides how failures are
// handled: sub-components surface structured failures upward, and the
// orchestrator retries, records to the error history, notifies, or aborts.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/NexeraDigital/get-shit-done/pkg/activity"
	"github.com/NexeraDigital/get-shit-done/pkg/agent"
	"github.com/NexeraDigital/get-shit-done/pkg/broker"
	"github.com/NexeraDigital/get-shit-done/pkg/config"
	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
	"github.com/NexeraDigital/get-shit-done/pkg/metrics"
	"github.com/NexeraDigital/get-shit-done/pkg/notify"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// Human choice labels offered when the workflow cannot proceed alone.
const (
	ChoiceRetry = "retry"
	ChoiceSkip  = "skip"
	ChoiceAbort = "abort"
)

// proceedPrompt is the single item of every retry/skip/abort question.
const proceedPrompt = "How should the workflow proceed?"

// errorOutputTail bounds how much command output an error record preserves.
const errorOutputTail = 8 * 1024

// ErrAbortedByOperator means a human chose abort at a choice point.
var ErrAbortedByOperator = errors.New("workflow aborted by operator")

// errSkipPhase flows up from a choice point when a human chose skip.
var errSkipPhase = errors.New("phase skipped by operator")

// CommandRunner is the slice of the agent facade the orchestrator drives.
type CommandRunner interface {
	RunCommand(ctx context.Context, prompt string, opts agent.CommandOptions) (*agent.Result, error)
	Abort()
	LastSessionID() string
}

// QuestionBroker is the slice of the question broker the orchestrator uses.
type QuestionBroker interface {
	HandleQuestion(ctx context.Context, phase int, step state.Step, items []state.QuestionItem) (map[string]string, error)
	Reregister(q state.Question)
	RejectAll(reason error)
}

// Orchestrator sequences the workflow against the agent runtime.
type Orchestrator struct {
	cfg       *config.Config
	store     *state.Store
	runner    CommandRunner
	broker    QuestionBroker
	notifier  Notifier
	events    EventSink
	activity  ActivityRecorder
	questions *QuestionEvents
	logger    *slog.Logger

	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// New constructs the orchestrator. questions is the same wiring instance the
// broker emits through; the orchestrator reuses it to rebuild notifications
// for questions restored on resume.
func New(cfg *config.Config, store *state.Store, runner CommandRunner, qb QuestionBroker, notifier Notifier, events EventSink, recorder ActivityRecorder, questions *QuestionEvents, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		runner:    runner,
		broker:    qb,
		notifier:  notifier,
		events:    events,
		activity:  recorder,
		questions: questions,
		logger:    logger.With("component", "orchestrator"),
		now:       time.Now,
	}
}

// Run executes the whole workflow: initialize (fresh or resumed), the phase
// loop, and completion. It returns nil when the workflow finished, a
// cancellation error on shutdown, or the failure that stopped the run.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.initialize(ctx); err != nil {
		return o.finish(err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ph, ok := o.nextPhase()
		if !ok {
			break
		}
		if err := o.runPhase(ctx, ph); err != nil {
			switch {
			case errors.Is(err, errSkipPhase):
				o.markPhaseSkipped(ph.Number)
			case isShutdownErr(err):
				return err
			default:
				o.markPhaseFailed(ph.Number)
				return o.finish(err)
			}
		}
	}

	return o.finish(o.complete(ctx))
}

// finish stamps the error status for real failures. Shutdown-driven
// cancellation leaves the persisted state untouched so a later resume picks
// up exactly where the run stopped.
func (o *Orchestrator) finish(err error) error {
	if err == nil || isShutdownErr(err) {
		return err
	}
	if serr := o.store.SetStatus(state.StatusError); serr != nil {
		o.logger.Error("Failed to persist error status", "error", serr)
	}
	return err
}

func isShutdownErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, agent.ErrAborted) ||
		errors.Is(err, broker.ErrShuttingDown)
}

// initialize prepares the run: a resumed run re-arms pending questions, a
// fresh run generates and persists the roadmap.
func (o *Orchestrator) initialize(ctx context.Context) error {
	snap := o.store.Snapshot()

	if o.cfg.TunnelURL != "" && snap.TunnelURL != o.cfg.TunnelURL {
		if err := o.store.SetTunnelURL(o.cfg.TunnelURL); err != nil {
			return err
		}
	}

	if len(snap.Phases) > 0 {
		return o.resume(ctx, snap)
	}

	brief, err := os.ReadFile(o.cfg.PRDPath)
	if err != nil {
		return fmt.Errorf("reading product brief %s: %w", o.cfg.PRDPath, err)
	}

	if err := o.store.SetStatus(state.StatusRunning); err != nil {
		return err
	}
	o.events.Emit("workflow-started", map[string]any{"prd": o.cfg.PRDPath, "depth": o.cfg.Depth})

	o.logger.Info("Generating roadmap", "prd", o.cfg.PRDPath, "depth", o.cfg.Depth)
	prompt := roadmapPrompt(string(brief), o.cfg.Depth)
	res, err := o.runAgent(ctx, 0, state.StepIdle, prompt)
	if err != nil {
		return err
	}
	if !res.Success {
		// Same failure policy as every other command: one automatic retry.
		o.logger.Warn("Roadmap command failed, retrying once", "error", res.Error)
		res, err = o.runAgent(ctx, 0, state.StepIdle, prompt)
		if err != nil {
			return err
		}
	}
	if !res.Success {
		o.recordError(0, state.StepIdle, "roadmap generation failed: "+res.Error, res.ResultText)
		return fmt.Errorf("roadmap generation failed: %s", res.Error)
	}

	phases, err := ParseRoadmap(res.ResultText)
	if err != nil {
		o.recordError(0, state.StepIdle, err.Error(), res.ResultText)
		return err
	}
	if err := o.store.SetPhases(phases); err != nil {
		return err
	}
	o.events.Emit("roadmap-generated", map[string]any{"phases": len(phases)})
	o.logger.Info("Roadmap generated", "phases", len(phases))
	return nil
}

// resume re-arms a restored run. Prior in-flight commands are considered
// aborted; pending questions get fresh handles and their notifications are
// re-dispatched with fresh reminders. With no pending questions there are no
// reminders to carry over — timers die with the process.
func (o *Orchestrator) resume(ctx context.Context, snap *state.WorkflowState) error {
	o.logger.Info("Resuming workflow",
		"current_phase", snap.CurrentPhase,
		"current_step", snap.CurrentStep,
		"pending_questions", len(snap.PendingQuestions))

	pending := make([]state.Question, 0, len(snap.PendingQuestions))
	for _, q := range snap.PendingQuestions {
		pending = append(pending, q)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	for _, q := range pending {
		o.broker.Reregister(q)
		n := o.questions.NotificationFor(q)
		o.notifier.Notify(ctx, n)
		o.notifier.StartReminder(q.ID, n)
	}

	status := state.StatusRunning
	if len(pending) > 0 {
		status = state.StatusWaitingForHuman
	}
	if err := o.store.SetStatus(status); err != nil {
		return err
	}
	o.events.Emit("workflow-resumed", map[string]any{
		"current_phase":     snap.CurrentPhase,
		"current_step":      snap.CurrentStep,
		"pending_questions": len(pending),
	})
	return nil
}

// nextPhase returns the first phase inside the selector range that has not
// finished, preserving roadmap order. Completed and skipped phases stay
// untouched across resumes.
func (o *Orchestrator) nextPhase() (state.Phase, bool) {
	snap := o.store.Snapshot()
	for _, ph := range snap.Phases {
		if !o.cfg.Phases.Includes(ph.Number) {
			continue
		}
		if ph.Status == state.PhaseStatusCompleted || ph.Status == state.PhaseStatusSkipped {
			continue
		}
		return ph, true
	}
	return state.Phase{}, false
}

// runPhase executes one phase: discuss (optional), then the plan → execute →
// verify loop with gap recovery, then completion bookkeeping.
func (o *Orchestrator) runPhase(ctx context.Context, ph state.Phase) error {
	if ph.StartedAt == nil {
		t := o.now().UTC()
		ph.StartedAt = &t
	}
	ph.Status = state.PhaseStatusInProgress
	if err := o.store.UpdatePhase(ph); err != nil {
		return err
	}
	o.events.Emit("phase-started", map[string]any{"phase": ph.Number, "name": ph.Name})
	o.activity.Record(activity.TypePhaseStarted, fmt.Sprintf("Phase %d: %s", ph.Number, ph.Name), nil)

	if ph.Steps[state.StepDiscuss] != state.StepStateDone {
		if o.cfg.SkipDiscuss {
			if err := o.writeDefaultContext(ph); err != nil {
				return err
			}
			ph.Steps[state.StepDiscuss] = state.StepStateDone
			if err := o.store.UpdatePhase(ph); err != nil {
				return err
			}
		} else {
			if _, err := o.runStep(ctx, &ph, state.StepDiscuss, discussPrompt(ph)); err != nil {
				return err
			}
		}
	}

	gaps := ""
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if ph.Steps[state.StepPlan] != state.StepStateDone {
			if _, err := o.runStep(ctx, &ph, state.StepPlan, planPrompt(ph, gaps)); err != nil {
				return err
			}
		}
		if ph.Steps[state.StepExecute] != state.StepStateDone {
			res, err := o.runStep(ctx, &ph, state.StepExecute, executePrompt(ph))
			if err != nil {
				return err
			}
			o.recordCommits(&ph, res)
		}

		if o.cfg.SkipVerify {
			ph.Steps[state.StepVerify] = state.StepStateDone
			if err := o.store.UpdatePhase(ph); err != nil {
				return err
			}
			break
		}
		if ph.Steps[state.StepVerify] == state.StepStateDone {
			break
		}

		res, err := o.runStep(ctx, &ph, state.StepVerify, verifyPrompt(ph))
		if err != nil {
			return err
		}

		verdict := ParseVerdict(res.ResultText)
		gapBoundHit := false
		if verdict == VerdictGapsFound {
			if ph.GapIterations >= o.cfg.Agent.MaxGapIterations {
				// The repair budget is spent; a human decides.
				verdict = VerdictHumanNeeded
				gapBoundHit = true
			} else {
				ph.GapIterations++
				metrics.GapIterations.WithLabelValues(strconv.Itoa(ph.Number)).Inc()
				o.events.Emit("gaps-found", map[string]any{"phase": ph.Number, "iteration": ph.GapIterations})
				o.logger.Info("Verification found gaps", "phase", ph.Number, "iteration", ph.GapIterations)

				gaps = res.ResultText
				o.reopenSteps(&ph)
				if err := o.store.UpdatePhase(ph); err != nil {
					return err
				}
				continue
			}
		}

		if verdict == VerdictHumanNeeded {
			header := fmt.Sprintf("Verification of phase %d (%s) needs a human decision.", ph.Number, ph.Name)
			if gapBoundHit {
				header = fmt.Sprintf("Phase %d (%s) still has gaps after %d repair attempts.", ph.Number, ph.Name, o.cfg.Agent.MaxGapIterations)
			}
			choice, err := o.askHuman(ctx, ph.Number, state.StepVerify, header)
			if err != nil {
				return err
			}
			switch choice {
			case ChoiceRetry:
				ph.GapIterations = 0
				o.reopenSteps(&ph)
				if err := o.store.UpdatePhase(ph); err != nil {
					return err
				}
				continue
			case ChoiceSkip:
				return errSkipPhase
			default:
				return ErrAbortedByOperator
			}
		}

		break
	}

	t := o.now().UTC()
	ph.CompletedAt = &t
	ph.Status = state.PhaseStatusCompleted
	if err := o.store.UpdatePhase(ph); err != nil {
		return err
	}
	metrics.PhasesCompleted.WithLabelValues(string(state.PhaseStatusCompleted)).Inc()
	o.events.Emit("phase-completed", map[string]any{"phase": ph.Number, "name": ph.Name})
	o.activity.Record(activity.TypePhaseCompleted, fmt.Sprintf("Phase %d completed: %s", ph.Number, ph.Name), nil)
	o.notifier.Notify(ctx, notify.Notification{
		ID:        newNotificationID(),
		Type:      notify.TypeProgress,
		Title:     fmt.Sprintf("Phase %d completed", ph.Number),
		Body:      ph.Name,
		Severity:  notify.SeverityInfo,
		Phase:     ph.Number,
		CreatedAt: o.now().UTC(),
	})
	return nil
}

// reopenSteps puts plan, execute, and verify back to idle for a gap loop or
// a human-requested retry.
func (o *Orchestrator) reopenSteps(ph *state.Phase) {
	ph.Steps[state.StepPlan] = state.StepStateIdle
	ph.Steps[state.StepExecute] = state.StepStateIdle
	ph.Steps[state.StepVerify] = state.StepStateIdle
}

// runStep runs one workflow command and records the step transitions around
// it: current position first, step-started, the command (with retry and
// human choice on repeated failure), then done plus step-completed.
func (o *Orchestrator) runStep(ctx context.Context, ph *state.Phase, step state.Step, prompt string) (*agent.Result, error) {
	if err := o.store.SetCurrent(ph.Number, step); err != nil {
		return nil, err
	}
	o.events.Emit("step-started", map[string]any{"phase": ph.Number, "step": step})
	o.activity.Record(activity.TypeStepStarted, fmt.Sprintf("Phase %d: %s started", ph.Number, step), nil)

	res, err := o.runStepCommand(ctx, ph.Number, step, prompt)
	if err != nil {
		return nil, err
	}

	ph.Steps[step] = state.StepStateDone
	if err := o.store.UpdatePhase(*ph); err != nil {
		return nil, err
	}
	o.events.Emit("step-completed", map[string]any{"phase": ph.Number, "step": step})
	o.activity.Record(activity.TypeStepCompleted, fmt.Sprintf("Phase %d: %s completed", ph.Number, step), nil)
	return res, nil
}

// runStepCommand applies the failure policy around one command: one
// automatic retry, then an error record plus a retry/skip/abort question.
func (o *Orchestrator) runStepCommand(ctx context.Context, phase int, step state.Step, prompt string) (*agent.Result, error) {
	retried := false
	for {
		res, err := o.runAgent(ctx, phase, step, prompt)
		if err != nil {
			return nil, err
		}
		if res.Success {
			return res, nil
		}

		if !retried {
			retried = true
			o.logger.Warn("Command failed, retrying once", "phase", phase, "step", step, "error", res.Error)
			continue
		}

		o.recordError(phase, step, res.Error, res.ResultText)
		choice, err := o.askHuman(ctx, phase, step, fmt.Sprintf("Phase %d %s failed twice: %s", phase, step, res.Error))
		if err != nil {
			return nil, err
		}
		switch choice {
		case ChoiceRetry:
			retried = false
		case ChoiceSkip:
			return nil, errSkipPhase
		default:
			return nil, ErrAbortedByOperator
		}
	}
}

// runAgent runs one command against the runtime. Shutdown-driven errors
// propagate; unexpected runtime errors are folded into a failed Result so
// the caller's retry policy applies uniformly.
func (o *Orchestrator) runAgent(ctx context.Context, phase int, step state.Step, prompt string) (*agent.Result, error) {
	res, err := o.runner.RunCommand(ctx, prompt, agent.CommandOptions{
		Phase: phase,
		Step:  step,
		Model: o.cfg.Model.AgentModel(),
	})
	if err != nil {
		if isShutdownErr(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return &agent.Result{Error: err.Error()}, nil
	}
	return res, nil
}

// askHuman suspends on a retry/skip/abort question until an answer arrives.
// An unrecognized answer is treated as abort.
func (o *Orchestrator) askHuman(ctx context.Context, phase int, step state.Step, header string) (string, error) {
	items := []state.QuestionItem{{
		Prompt: proceedPrompt,
		Header: header,
		Options: []state.Option{
			{Label: ChoiceRetry, Description: "Run the failing step again"},
			{Label: ChoiceSkip, Description: "Skip this phase and continue"},
			{Label: ChoiceAbort, Description: "Stop the workflow"},
		},
	}}

	answers, err := o.broker.HandleQuestion(ctx, phase, step, items)
	if err != nil {
		return "", err
	}
	choice := answers[proceedPrompt]
	switch choice {
	case ChoiceRetry, ChoiceSkip, ChoiceAbort:
		return choice, nil
	default:
		o.logger.Warn("Unrecognized choice answer, treating as abort", "phase", phase, "answer", choice)
		return ChoiceAbort, nil
	}
}

// recordError appends to the error history and dispatches the error
// notification. The orchestrator is the only writer of error_history.
func (o *Orchestrator) recordError(phase int, step state.Step, message, output string) {
	rec := state.ErrorRecord{
		Timestamp:       o.now().UTC(),
		Phase:           phase,
		Step:            step,
		Message:         message,
		TruncatedOutput: tail(output, errorOutputTail),
	}
	if err := o.store.AppendError(rec); err != nil {
		o.logger.Error("Failed to persist error record", "error", err)
	}
	o.events.Emit("error", map[string]any{"phase": phase, "step": step, "message": message})
	o.activity.Record(activity.TypeError, activity.TruncateMessage(message), map[string]any{"phase": phase, "step": step})
	o.notifier.Notify(context.Background(), notify.Notification{
		ID:           newNotificationID(),
		Type:         notify.TypeError,
		Title:        fmt.Sprintf("Phase %d %s failed", phase, step),
		Body:         message,
		Severity:     notify.SeverityCritical,
		Phase:        phase,
		Step:         step,
		ErrorMessage: message,
		CreatedAt:    o.now().UTC(),
	})
}

// recordCommits folds commits reported by the execute step into the phase.
func (o *Orchestrator) recordCommits(ph *state.Phase, res *agent.Result) {
	commits := parseCommits(res.ResultText)
	if len(commits) == 0 {
		return
	}
	ph.Commits = append(ph.Commits, commits...)
	if err := o.store.UpdatePhase(*ph); err != nil {
		o.logger.Error("Failed to persist commits", "phase", ph.Number, "error", err)
	}
	o.logger.Info("Recorded commits", "phase", ph.Number, "commits", len(commits))
}

func parseCommits(text string) []state.Commit {
	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		var doc struct {
			Commits []state.Commit `json:"commits"`
		}
		if err := json.Unmarshal([]byte(m[1]), &doc); err == nil && len(doc.Commits) > 0 {
			return doc.Commits
		}
	}
	return nil
}

// writeDefaultContext records agent-discretion context when discuss is
// skipped, so the plan step still has a context document to read.
func (o *Orchestrator) writeDefaultContext(ph state.Phase) error {
	path := filepath.Join(o.cfg.ProjectDir, ".planning", fmt.Sprintf("phase-%d-context.md", ph.Number))
	if err := fsutil.WriteFileAtomic(path, []byte(defaultContextText), 0o644); err != nil {
		return fmt.Errorf("writing default phase context: %w", err)
	}
	o.logger.Info("Discuss skipped, wrote default context", "phase", ph.Number, "path", path)
	return nil
}

// complete runs the milestone-completion command and stamps the terminal
// state. A human choosing skip at the choice point finishes the workflow
// without the completion command's output.
func (o *Orchestrator) complete(ctx context.Context) error {
	snap := o.store.Snapshot()
	if snap.Status == state.StatusComplete {
		return nil
	}

	lastPhase := 0
	if n := len(snap.Phases); n > 0 {
		lastPhase = snap.Phases[n-1].Number
	}

	summary := ""
	res, err := o.runStepCommand(ctx, lastPhase, state.StepDone, completePrompt())
	switch {
	case err == nil:
		summary = res.ResultText
	case errors.Is(err, errSkipPhase):
		o.logger.Warn("Completion command skipped by operator")
	default:
		return err
	}

	if err := o.store.SetCurrent(lastPhase, state.StepDone); err != nil {
		return err
	}
	if err := o.store.SetStatus(state.StatusComplete); err != nil {
		return err
	}

	o.events.Emit("build-complete", map[string]any{"phases": len(snap.Phases)})
	o.activity.Record(activity.TypeBuildComplete, "Build complete", nil)
	o.notifier.Notify(ctx, notify.Notification{
		ID:        newNotificationID(),
		Type:      notify.TypeComplete,
		Title:     "Build complete",
		Body:      fmt.Sprintf("All %d phases finished.", len(snap.Phases)),
		Severity:  notify.SeverityInfo,
		Summary:   activity.TruncateMessage(summary),
		CreatedAt: o.now().UTC(),
	})
	o.logger.Info("Workflow complete", "phases", len(snap.Phases))
	return nil
}

func (o *Orchestrator) markPhaseSkipped(number int) {
	o.setPhaseStatus(number, state.PhaseStatusSkipped)
	o.events.Emit("phase-skipped", map[string]any{"phase": number})
	o.activity.Record(activity.TypePhaseCompleted, fmt.Sprintf("Phase %d skipped", number), map[string]any{"skipped": true})
	metrics.PhasesCompleted.WithLabelValues(string(state.PhaseStatusSkipped)).Inc()
}

func (o *Orchestrator) markPhaseFailed(number int) {
	o.setPhaseStatus(number, state.PhaseStatusFailed)
	o.events.Emit("phase-failed", map[string]any{"phase": number})
	o.activity.Record(activity.TypePhaseFailed, fmt.Sprintf("Phase %d failed", number), nil)
	metrics.PhasesCompleted.WithLabelValues(string(state.PhaseStatusFailed)).Inc()
}

func (o *Orchestrator) setPhaseStatus(number int, status state.PhaseStatus) {
	snap := o.store.Snapshot()
	ph := snap.Phase(number)
	if ph == nil {
		return
	}
	ph.Status = status
	if err := o.store.UpdatePhase(*ph); err != nil {
		o.logger.Error("Failed to persist phase status", "phase", number, "status", status, "error", err)
	}
}

func newNotificationID() string {
	return uuid.NewString()
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
