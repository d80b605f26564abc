package clusterenv

import (
	"log/slog"

	"github.com/giantswarm/clusterenv/internal/core"
)

// SetLogger replaces the package-level logger used by clusterenv and every
// embedded service it starts. The provided logger should already carry any
// attributes the caller wants; clusterenv adds "kind", "instance" and "id".
//
// If l is nil, the logger resets to slog.Default() with a "component"
// attribute, re-derived on the next use. Call SetLogger(nil) after
// slog.SetDefault() to pick up the change.
//
// SetLogger is safe to call concurrently with other clusterenv operations,
// but tiers started before the call keep the logger they were built with.
// Port reservation messages always go to the current logger.
//
// Example:
//
//	clusterenv.SetLogger(myLogger.With("component", "clusterenv"))
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
