package agent

import "errors"

var (
	// ErrAlreadyRunning is returned by RunCommand while another command holds
	// the in-flight slot.
	ErrAlreadyRunning = errors.New("a command is already running")

	// ErrAborted is returned when the in-flight command was cancelled through
	// Abort rather than finishing or timing out.
	ErrAborted = errors.New("command aborted")
)
