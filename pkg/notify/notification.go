// Package notify fans workflow notifications out to configured channel
// adapters and owns the question reminder timers.
package notify

import (
	"time"

	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// Type classifies a notification
type Type string

const (
	// TypeQuestion announces a pending question that needs a human answer
	TypeQuestion Type = "question"
	// TypeProgress announces phase or step progress
	TypeProgress Type = "progress"
	// TypeError announces an unrecovered failure
	TypeError Type = "error"
	// TypeComplete announces workflow completion
	TypeComplete Type = "complete"
)

// IsValid checks if the notification type is valid
func (t Type) IsValid() bool {
	switch t {
	case TypeQuestion, TypeProgress, TypeError, TypeComplete:
		return true
	default:
		return false
	}
}

// Severity grades a notification
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// Notification is the channel-independent payload. Adapters translate it
// into their channel's native wire format.
type Notification struct {
	ID       string   `json:"id"`
	Type     Type     `json:"type"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Severity Severity `json:"severity"`

	RespondURL   string     `json:"respond_url,omitempty"`
	Options      []string   `json:"options,omitempty"`
	Phase        int        `json:"phase,omitempty"`
	Step         state.Step `json:"step,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	NextSteps    string     `json:"next_steps,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
