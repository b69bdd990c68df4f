// Package ipc is the file-based contract between the controller core and a
// dashboard running in a separate process: the state document, the NDJSON
// event log, the heartbeat file, and the answer-drop directory, all under
// the project-local .planning/ tree.
package ipc

import (
	"path/filepath"

	"github.com/NexeraDigital/get-shit-done/pkg/fsutil"
)

// Paths composes every file location under <project>/.planning/.
type Paths struct {
	ProjectDir string
}

// NewPaths returns the path layout for projectDir.
func NewPaths(projectDir string) Paths {
	return Paths{ProjectDir: projectDir}
}

// PlanningDir is the root of all controller-owned files.
func (p Paths) PlanningDir() string {
	return filepath.Join(p.ProjectDir, ".planning")
}

// StateFile is the persisted workflow state document.
func (p Paths) StateFile() string {
	return filepath.Join(p.PlanningDir(), "autopilot-state.json")
}

// ActivityFile is the persisted activity feed.
func (p Paths) ActivityFile() string {
	return filepath.Join(p.PlanningDir(), "autopilot-activity.json")
}

// LogDir holds the event log, raw agent output, and heartbeat.
func (p Paths) LogDir() string {
	return filepath.Join(p.PlanningDir(), "autopilot-log")
}

// EventLog is the append-only NDJSON event stream.
func (p Paths) EventLog() string {
	return filepath.Join(p.LogDir(), "events.ndjson")
}

// SDKOutputLog is the raw agent stream, kept for diagnosis.
func (p Paths) SDKOutputLog() string {
	return filepath.Join(p.LogDir(), "sdk-output.log")
}

// HeartbeatFile is rewritten on every heartbeat tick.
func (p Paths) HeartbeatFile() string {
	return filepath.Join(p.LogDir(), "heartbeat.json")
}

// AnswersDir receives answer drops from the dashboard.
func (p Paths) AnswersDir() string {
	return filepath.Join(p.PlanningDir(), "autopilot-answers")
}

// AnswerFile is the drop location for one question's answer.
func (p Paths) AnswerFile(questionID string) string {
	return filepath.Join(p.AnswersDir(), questionID+".json")
}

// RuntimeConfig is the agent runtime configuration written before each run.
func (p Paths) RuntimeConfig() string {
	return filepath.Join(p.PlanningDir(), "config.json")
}

// PushSubscriptions is the web push subscription registry.
func (p Paths) PushSubscriptions() string {
	return filepath.Join(p.PlanningDir(), "push-subscriptions.json")
}

// ConfigFile is the optional project-local controller configuration.
func (p Paths) ConfigFile() string {
	return filepath.Join(p.PlanningDir(), "autopilot.yaml")
}

// EnsureLayout creates the directory tree the controller writes into.
func (p Paths) EnsureLayout() error {
	for _, dir := range []string{p.PlanningDir(), p.LogDir(), p.AnswersDir()} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}
