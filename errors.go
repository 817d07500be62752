package scaffold

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common failure conditions. These can be matched
// with errors.Is().
var (
	// ErrInvalidConfig indicates the provided configuration is invalid or
	// incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyRunning indicates Run was called on an App that is
	// already running.
	ErrAlreadyRunning = errors.New("app already running")

	// ErrStartupFailed indicates the server could not be brought up,
	// typically because the endpoint could not be bound.
	ErrStartupFailed = errors.New("startup failed")
)

// Error kinds categorize errors by their type.
const (
	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindNetwork represents errors related to network operations.
	KindNetwork = "network"

	// KindTimeout represents errors related to operation timeouts.
	KindTimeout = "timeout"

	// KindInternal represents internal errors.
	KindInternal = "internal"
)

// Error is a structured error that wraps an underlying error with the
// operation that failed and a category.
//
// Error supports unwrapping, making it compatible with errors.Is() and
// errors.As().
type Error struct {
	// Op is the operation that failed (e.g., "App.Run", "Server.Start").
	Op string

	// Kind categorizes the error (e.g., KindConfiguration, KindNetwork).
	Kind string

	// Err is the underlying error.
	Err error

	// Context provides additional key-value detail (optional).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scaffold: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("scaffold: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("scaffold: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches either another *Error with the same Kind (and Op, when the
// target sets one) or the underlying error chain.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the provided context
// merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	if newErr.Context == nil {
		newErr.Context = make(map[string]any)
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewValidationError creates an Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewConfigurationError creates an Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewNetworkError creates an Error with KindNetwork.
func NewNetworkError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNetwork, Err: err}
}

// NewTimeoutError creates an Error with KindTimeout.
func NewTimeoutError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTimeout, Err: err}
}

// NewInternalError creates an Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// CloseWithLog closes the resource and logs any error at warning level.
// Intended for defer statements so cleanup errors are not silently
// dropped. If logger is nil, slog.Default() is used.
//
// Example:
//
//	defer scaffold.CloseWithLog(store, logger, "check store")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
