package sles

import (
	"errors"
	"fmt"
)

// ConfigError reports an inconsistent solver configuration, such as a
// matrix of the wrong type or an unsupported method. It is never retried.
type ConfigError struct {
	System   string
	Expected string
	Provided string
	Reason   string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("system %q: %s", e.System, e.Reason)
	if e.Expected != "" || e.Provided != "" {
		msg += fmt.Sprintf(" (expected %q, provided %q)", e.Expected, e.Provided)
	}
	return msg
}

// ConvergenceError reports a solve that diverged or broke down
type ConvergenceError struct {
	System string
	State  ConvergenceState
}

func (e *ConvergenceError) Error() string {
	var what string
	switch e.State {
	case Diverged:
		what = "divergence"
	case Breakdown:
		what = "breakdown"
	default:
		what = e.State.String()
	}
	return fmt.Sprintf("%s detected while solving the linear system %q", what, e.System)
}

// ErrorHandler decides what happens after a failed solve. A true retry asks
// the caller to solve again with adjusted parameters; a non nil error is
// returned to the caller as is.
type ErrorHandler func(name string, state ConvergenceState) (retry bool, err error)

// DefaultErrorHandler escalates divergence and breakdown and lets every other
// state through without a retry. Reaching the iteration cap is not an error.
func DefaultErrorHandler(name string, state ConvergenceState) (retry bool, err error) {
	if state.Failed() {
		err = &ConvergenceError{System: name, State: state}
		SystemLog(name, LogPerformance).Error(err)
	}
	return
}

// IsConfigError reports whether err wraps a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
