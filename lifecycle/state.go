package lifecycle

import (
	"fmt"
	"os"
)

// State is the lifecycle state of the service process.
//
// Exactly one State value is current at any time; it is owned by the Manager
// and is the single source of truth for readiness and liveness reporting.
type State int

const (
	// StateStarting is the initial state, before the endpoint is bound.
	StateStarting State = iota

	// StateRunning means the endpoint is bound and accepting calls.
	StateRunning

	// StateDraining means shutdown has been requested: no new calls are
	// accepted, in-flight calls are running to completion.
	StateDraining

	// StateStopped is terminal: the endpoint is fully stopped and all
	// listening resources are released.
	StateStopped

	// StateFailed is terminal: a fatal error occurred (bind failure or an
	// internal fault). Reachable from any non-terminal state.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal returns true for StateStopped and StateFailed.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Cause records why a shutdown was requested: an OS termination signal, an
// internally detected fatal error, or a programmatic request. It is carried
// in the final Report for diagnostics.
type Cause struct {
	// Signal is the signal name when the shutdown was signal-initiated
	// (e.g. "terminated", "interrupt"). Empty otherwise.
	Signal string

	// Err is the fatal error when the shutdown was error-initiated.
	// Nil otherwise.
	Err error

	// Reason describes a programmatic shutdown request (e.g. "api").
	// Empty otherwise.
	Reason string
}

// SignalCause builds a Cause from an OS signal.
func SignalCause(sig os.Signal) Cause {
	return Cause{Signal: sig.String()}
}

// ErrorCause builds a Cause from an internal fatal error.
func ErrorCause(err error) Cause {
	return Cause{Err: err}
}

// RequestCause builds a Cause for a programmatic shutdown request.
func RequestCause(reason string) Cause {
	return Cause{Reason: reason}
}

// String implements fmt.Stringer.
func (c Cause) String() string {
	switch {
	case c.Signal != "":
		return "signal:" + c.Signal
	case c.Err != nil:
		return "error:" + c.Err.Error()
	case c.Reason != "":
		return "request:" + c.Reason
	default:
		return "unknown"
	}
}

// IsZero reports whether no cause has been recorded.
func (c Cause) IsZero() bool {
	return c.Signal == "" && c.Err == nil && c.Reason == ""
}

// Report is the final outcome of a lifecycle run, produced once the state
// machine reaches a terminal state.
type Report struct {
	// State is the terminal state: StateStopped or StateFailed.
	State State

	// Cause is the recorded shutdown cause, if any.
	Cause Cause

	// Forced is set when the grace period elapsed (or Kill was called)
	// with in-flight work outstanding, and the endpoint was force stopped.
	Forced bool

	// Err is the fatal error for StateFailed reports.
	Err error
}

// ExitCode maps the report onto a process exit status: 0 for a clean stop,
// 1 for a failed or forced termination.
func (r Report) ExitCode() int {
	if r.State == StateStopped && !r.Forced {
		return 0
	}
	return 1
}
