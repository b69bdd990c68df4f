package broker

import "errors"

var (
	// ErrNoSuchQuestion indicates the question id is not pending
	ErrNoSuchQuestion = errors.New("no such pending question")

	// ErrShuttingDown is the rejection reason used when the process stops
	ErrShuttingDown = errors.New("shutting down")
)
