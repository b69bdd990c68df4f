package state

// Status defines the top-level workflow status
type Status string

const (
	// StatusIdle means the workflow has not started
	StatusIdle Status = "idle"
	// StatusRunning means a command is executing or phases are advancing
	StatusRunning Status = "running"
	// StatusWaitingForHuman means at least one question is pending an answer
	StatusWaitingForHuman Status = "waiting_for_human"
	// StatusError means the workflow stopped on an unrecovered failure
	StatusError Status = "error"
	// StatusComplete means every selected phase finished
	StatusComplete Status = "complete"
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusWaitingForHuman, StatusError, StatusComplete:
		return true
	default:
		return false
	}
}

// Step defines the workflow step within a phase
type Step string

const (
	// StepIdle means no step is active
	StepIdle Step = "idle"
	// StepDiscuss gathers context and decisions before planning
	StepDiscuss Step = "discuss"
	// StepPlan produces the task plan for the phase
	StepPlan Step = "plan"
	// StepExecute carries out the plan
	StepExecute Step = "execute"
	// StepVerify checks the executed work against the phase goals
	StepVerify Step = "verify"
	// StepDone means the phase finished all steps
	StepDone Step = "done"
)

// IsValid checks if the step is valid
func (s Step) IsValid() bool {
	switch s {
	case StepIdle, StepDiscuss, StepPlan, StepExecute, StepVerify, StepDone:
		return true
	default:
		return false
	}
}

// PhaseSteps lists the steps a phase executes, in order.
var PhaseSteps = []Step{StepDiscuss, StepPlan, StepExecute, StepVerify}

// PhaseStatus defines the lifecycle status of a single phase
type PhaseStatus string

const (
	// PhaseStatusPending means the phase has not started
	PhaseStatusPending PhaseStatus = "pending"
	// PhaseStatusInProgress means the phase is executing
	PhaseStatusInProgress PhaseStatus = "in_progress"
	// PhaseStatusCompleted means the phase finished successfully
	PhaseStatusCompleted PhaseStatus = "completed"
	// PhaseStatusFailed means the phase stopped on an unrecovered failure
	PhaseStatusFailed PhaseStatus = "failed"
	// PhaseStatusSkipped means the operator chose to skip the phase
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// IsValid checks if the phase status is valid
func (s PhaseStatus) IsValid() bool {
	switch s {
	case PhaseStatusPending, PhaseStatusInProgress, PhaseStatusCompleted,
		PhaseStatusFailed, PhaseStatusSkipped:
		return true
	default:
		return false
	}
}

// StepState defines the completion state of one step inside a phase
type StepState string

const (
	// StepStateIdle means the step has not completed
	StepStateIdle StepState = "idle"
	// StepStateDone means the step completed
	StepStateDone StepState = "done"
)

// IsValid checks if the step state is valid
func (s StepState) IsValid() bool {
	return s == StepStateIdle || s == StepStateDone
}
