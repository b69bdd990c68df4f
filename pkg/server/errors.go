package server

import (
	"errors"
	"fmt"
)

// PortInUseError reports a failed bind on a port another process holds.
type PortInUseError struct {
	Port int
	Err  error
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("Port %d is already in use", e.Port)
}

func (e *PortInUseError) Unwrap() error {
	return e.Err
}

// IsPortInUse reports whether err is a bind failure on an occupied port.
func IsPortInUse(err error) bool {
	var target *PortInUseError
	return errors.As(err, &target)
}
