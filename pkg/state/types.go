// Package state owns the persisted workflow state document.
//
// The document is a single JSON file under the project's .planning/ tree,
// written atomically on every mutation and read by the dashboard process.
// Mutations go through Store.Apply (an RFC 7386 merge patch) so concurrent
// writers are serialized and every persisted snapshot carries a monotonic
// last_updated_at stamp.
package state

import (
	"time"
)

// WorkflowState is the full persisted workflow document
type WorkflowState struct {
	Status           Status              `json:"status"`
	CurrentPhase     int                 `json:"current_phase"`
	CurrentStep      Step                `json:"current_step"`
	Phases           []Phase             `json:"phases"`
	PendingQuestions map[string]Question `json:"pending_questions"`
	ErrorHistory     []ErrorRecord       `json:"error_history"`
	StartedAt        time.Time           `json:"started_at"`
	LastUpdatedAt    time.Time           `json:"last_updated_at"`
	TunnelURL        string              `json:"tunnel_url,omitempty"`
}

// Phase is one roadmap milestone executing discuss -> plan -> execute -> verify
type Phase struct {
	Number        int                `json:"number"`
	Name          string             `json:"name"`
	Status        PhaseStatus        `json:"status"`
	Steps         map[Step]StepState `json:"steps"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	Commits       []Commit           `json:"commits,omitempty"`
	GapIterations int                `json:"gap_iterations"`
	Inserted      bool               `json:"inserted,omitempty"`
	DependsOn     []int              `json:"depends_on,omitempty"`
}

// Commit records one commit produced while executing a phase
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// Question is a structured request for a human decision
type Question struct {
	ID         string            `json:"id"`
	Phase      int               `json:"phase"`
	Step       Step              `json:"step"`
	Items      []QuestionItem    `json:"items"`
	CreatedAt  time.Time         `json:"created_at"`
	AnsweredAt *time.Time        `json:"answered_at,omitempty"`
	Answers    map[string]string `json:"answers,omitempty"`
}

// QuestionItem is one prompt within a question, with its selectable options
type QuestionItem struct {
	Prompt      string   `json:"prompt"`
	Header      string   `json:"header,omitempty"`
	Options     []Option `json:"options,omitempty"`
	MultiSelect bool     `json:"multi_select,omitempty"`
}

// Option is one selectable answer for a question item
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ErrorRecord is one append-only entry in the workflow error history
type ErrorRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Phase           int       `json:"phase"`
	Step            Step      `json:"step"`
	Message         string    `json:"message"`
	TruncatedOutput string    `json:"truncated_output,omitempty"`
}

// NewWorkflowState constructs the default fresh state. Nothing is written
// to disk until the first mutation.
func NewWorkflowState(now time.Time) *WorkflowState {
	return &WorkflowState{
		Status:           StatusIdle,
		CurrentPhase:     0,
		CurrentStep:      StepIdle,
		Phases:           []Phase{},
		PendingQuestions: map[string]Question{},
		ErrorHistory:     []ErrorRecord{},
		StartedAt:        now.UTC(),
		LastUpdatedAt:    now.UTC(),
	}
}

// NewPhase constructs a pending phase with all steps idle.
func NewPhase(number int, name string) Phase {
	steps := make(map[Step]StepState, len(PhaseSteps))
	for _, s := range PhaseSteps {
		steps[s] = StepStateIdle
	}
	return Phase{
		Number: number,
		Name:   name,
		Status: PhaseStatusPending,
		Steps:  steps,
	}
}

// Clone returns a deep copy so callers never observe a partial update.
func (w *WorkflowState) Clone() *WorkflowState {
	c := *w
	c.Phases = make([]Phase, len(w.Phases))
	for i, p := range w.Phases {
		c.Phases[i] = p.clone()
	}
	c.PendingQuestions = make(map[string]Question, len(w.PendingQuestions))
	for id, q := range w.PendingQuestions {
		c.PendingQuestions[id] = q.Clone()
	}
	c.ErrorHistory = append([]ErrorRecord(nil), w.ErrorHistory...)
	return &c
}

func (p Phase) clone() Phase {
	c := p
	c.Steps = make(map[Step]StepState, len(p.Steps))
	for k, v := range p.Steps {
		c.Steps[k] = v
	}
	c.Commits = append([]Commit(nil), p.Commits...)
	c.DependsOn = append([]int(nil), p.DependsOn...)
	if p.StartedAt != nil {
		t := *p.StartedAt
		c.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Clone returns a deep copy of the question.
func (q Question) Clone() Question {
	c := q
	c.Items = make([]QuestionItem, len(q.Items))
	for i, item := range q.Items {
		ci := item
		ci.Options = append([]Option(nil), item.Options...)
		c.Items[i] = ci
	}
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		c.AnsweredAt = &t
	}
	if q.Answers != nil {
		c.Answers = make(map[string]string, len(q.Answers))
		for k, v := range q.Answers {
			c.Answers[k] = v
		}
	}
	return c
}

// Phase returns the phase with the given number, or nil when absent.
func (w *WorkflowState) Phase(number int) *Phase {
	for i := range w.Phases {
		if w.Phases[i].Number == number {
			return &w.Phases[i]
		}
	}
	return nil
}

// StepsDone reports whether every given step of the phase is done.
func (p Phase) StepsDone(steps ...Step) bool {
	for _, s := range steps {
		if p.Steps[s] != StepStateDone {
			return false
		}
	}
	return true
}
