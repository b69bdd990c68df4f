// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CommandsTotal counts workflow commands run against the agent, by step and
// terminal outcome (success, failure, timeout).
var CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autopilot_commands_total",
	Help: "counter of workflow commands run against the agent runtime",
}, []string{"step", "outcome"})

// CommandDuration observes wall-clock duration of agent commands.
var CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "autopilot_command_duration_seconds",
	Help:    "wall-clock duration of agent commands",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
}, []string{"step"})

// CommandCostUSD accumulates the reported cost of agent commands.
var CommandCostUSD = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autopilot_command_cost_usd_total",
	Help: "accumulated agent-reported cost in USD",
})

// QuestionsAsked counts questions suspended for a human answer.
var QuestionsAsked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autopilot_questions_asked_total",
	Help: "counter of questions suspended for a human answer",
})

// QuestionsAnswered counts answers accepted by the broker, by source
// (http, file, auto).
var QuestionsAnswered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autopilot_questions_answered_total",
	Help: "counter of answers accepted by the question broker",
}, []string{"source"})

// QuestionsPending gauges the current pending question count.
var QuestionsPending = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "autopilot_questions_pending",
	Help: "number of questions currently awaiting an answer",
})

// NotificationsTotal counts adapter send attempts by adapter name and status.
var NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autopilot_notifications_total",
	Help: "counter of notification adapter send attempts",
}, []string{"adapter", "status"})

// RemindersFired counts reminder timers that re-dispatched a question.
var RemindersFired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autopilot_reminders_fired_total",
	Help: "counter of question reminder timers that fired",
})

// GapIterations counts verify gap loops entered, by phase.
var GapIterations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autopilot_gap_iterations_total",
	Help: "counter of gap-recovery loops entered after verify",
}, []string{"phase"})

// PhasesCompleted counts phases reaching a terminal status.
var PhasesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autopilot_phases_total",
	Help: "counter of phases reaching a terminal status",
}, []string{"status"})

// EventsWritten counts records appended to the event log.
var EventsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autopilot_events_written_total",
	Help: "counter of records appended to the event log",
})

// AnswerFilesDrained counts answer files consumed by the poller, by result
// (accepted, unknown, malformed).
var AnswerFilesDrained = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autopilot_answer_files_total",
	Help: "counter of answer files scanned by the IPC poller",
}, []string{"result"})
