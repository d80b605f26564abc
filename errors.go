package clusterenv

import (
	"fmt"

	"github.com/giantswarm/clusterenv/internal/core"
	"github.com/giantswarm/clusterenv/internal/process"
)

// Sentinel errors for error inspection with errors.Is.
// These are immutable constants safe for use in wrapped error chain comparison.
const (
	// ErrInvalidArgument is returned for malformed caller input: an empty or
	// malformed connection descriptor, a non-positive instance count, a port
	// outside 0..65535, a missing dependency. It is always returned before
	// any instance is started and before a dependency provider runs.
	ErrInvalidArgument = core.ErrInvalidArgument

	// ErrStartup is matched by every construction failure of a local tier.
	// Everything the failed call created has been torn down by the time it
	// is returned. Use errors.As with *StartupError for the instance details.
	ErrStartup = core.ErrStartup

	// ErrShutdown is returned by Close when stopping an instance or closing
	// an owned dependency failed. Cleanup of every other resource has still
	// been attempted.
	ErrShutdown = core.ErrShutdown

	// ErrProcessExited appears in the chain of a StartupError when a child
	// process exited before it became ready.
	ErrProcessExited = process.ErrProcessExited

	// ErrAlreadyStarted is returned when an instance is started twice.
	ErrAlreadyStarted = process.ErrAlreadyStarted
)

// StartupError identifies the tier, instance index and port that failed
// to start. Index is -1 for failures not tied to one instance.
type StartupError = core.StartupError

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
