package core

import (
	"errors"
	"time"

	"github.com/giantswarm/clusterenv/internal/netutil"
)

// Config holds what a local tier needs beyond its ports and dependency.
// It is immutable once handed to StartLocal.
type Config struct {
	// Launcher builds the instance objects for this tier.
	Launcher Launcher

	// Ports reserves and binds instance ports. Share one registry between
	// all tiers of a process so they never race for the same port.
	Ports *netutil.PortRegistry

	// BaseDataDir is the directory under which the tier creates its own
	// temporary data directory.
	BaseDataDir string

	// StartTimeout bounds parallel startup and readiness of all instances.
	StartTimeout time.Duration

	// StopTimeout bounds the graceful stop of each instance.
	StopTimeout time.Duration
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Launcher == nil {
		errs = append(errs, errors.New("launcher must not be nil"))
	}
	if c.Ports == nil {
		errs = append(errs, errors.New("port registry must not be nil"))
	}
	if c.BaseDataDir == "" {
		errs = append(errs, errors.New("base data directory must not be empty"))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, errors.New("start timeout must be positive"))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop timeout must be positive"))
	}
	return errors.Join(errs...)
}
