package clusterenv

import (
	"time"

	"github.com/giantswarm/clusterenv/internal/binary"
	"github.com/giantswarm/clusterenv/internal/core"
)

// ConfigSnapshot holds a copy of config fields for test assertions.
// Exported only via export_test.go so that the _test package can verify
// option closures actually mutate the config without accessing internals.
type ConfigSnapshot struct {
	BaseDataDir  string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Host         string
	PortLockDir  string
	Command      *binary.Command
}

// ApplyOptionsForTesting creates a default config, applies the given
// options, and returns a ConfigSnapshot of the result.
func ApplyOptionsForTesting(opts ...Option) ConfigSnapshot {
	cfg := newConfig(opts)
	return ConfigSnapshot{
		BaseDataDir:  cfg.BaseDataDir,
		StartTimeout: cfg.StartTimeout,
		StopTimeout:  cfg.StopTimeout,
		Host:         cfg.host,
		PortLockDir:  cfg.portLockDir(),
		Command:      cfg.command,
	}
}

// StateForTesting returns the lifecycle state name of a tier.
func StateForTesting(c Cluster) string {
	if s, ok := c.(interface{ state() core.State }); ok {
		return s.state().String()
	}
	return ""
}
