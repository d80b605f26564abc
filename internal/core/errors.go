package core

import (
	"fmt"

	"github.com/giantswarm/clusterenv/internal/sentinel"
)

const (
	// ErrInvalidArgument marks errors caused by malformed caller input. They
	// are returned before any resource is touched.
	ErrInvalidArgument = sentinel.Error("invalid argument")

	// ErrStartup marks failures to bring a local tier to the ready state.
	// Everything the tier created has been torn down when it is returned.
	ErrStartup = sentinel.Error("cluster startup failed")

	// ErrShutdown marks failures during teardown. Every owned resource has
	// had its cleanup attempted when it is returned.
	ErrShutdown = sentinel.Error("cluster shutdown failed")
)

// invalidArgument wraps a formatted message with ErrInvalidArgument.
func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// StartupError describes which instance of which tier failed to start.
// It matches ErrStartup with errors.Is.
type StartupError struct {
	Kind  Kind
	Index int // -1 when the failure is not tied to one instance
	Port  int // requested or bound port; 0 when unknown
	Err   error
}

func (e *StartupError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s tier: %v", ErrStartup, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s-%d (port %d): %v", ErrStartup, e.Kind, e.Index, e.Port, e.Err)
}

// Unwrap exposes both ErrStartup and the underlying cause.
func (e *StartupError) Unwrap() []error {
	return []error{ErrStartup, e.Err}
}
