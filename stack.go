package clusterenv

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Stack is a coordination tier, a broker tier on it and optionally a
// worker tier on the brokers, each local or external. Every tier borrows
// the one below, so Stack.Close closes them top-down itself.
type Stack struct {
	Coordination *Coordination
	Brokers      *Brokers
	Workers      *Workers // nil when the topology has no workers
}

// StartStack builds the tiers of topo bottom-up. opts apply to every local
// tier and are overridden by the topology's own settings. If a tier fails,
// the tiers already built are closed again and the error is returned.
func StartStack(ctx context.Context, topo Topology, opts ...Option) (_ *Stack, retErr error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	common := append(slices.Clone(opts), topo.options()...)
	tierOpts := func(s TierSpec) []Option {
		return append(slices.Clone(common), s.options()...)
	}

	s := &Stack{}
	defer func() {
		if retErr == nil {
			return
		}
		if err := s.Close(); err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("close partial stack: %w", err))
		}
	}()

	var err error
	if topo.Coordination.IsExternal() {
		s.Coordination, err = NewExternalCoordination(topo.Coordination.External)
	} else {
		s.Coordination, err = NewLocalCoordination(ctx, topo.Coordination.ports(), tierOpts(topo.Coordination)...)
	}
	if err != nil {
		return nil, fmt.Errorf("coordination: %w", err)
	}

	if topo.Brokers.IsExternal() {
		s.Brokers, err = NewExternalBrokers(topo.Brokers.External, s.Coordination)
	} else {
		s.Brokers, err = NewLocalBrokers(ctx, Use(s.Coordination), topo.Brokers.ports(), tierOpts(topo.Brokers)...)
	}
	if err != nil {
		return nil, fmt.Errorf("brokers: %w", err)
	}

	if topo.Workers == nil {
		return s, nil
	}
	if topo.Workers.IsExternal() {
		s.Workers, err = NewExternalWorkers(topo.Workers.External, s.Brokers)
	} else {
		s.Workers, err = NewLocalWorkers(ctx, Use(s.Brokers), topo.Workers.ports(), tierOpts(*topo.Workers)...)
	}
	if err != nil {
		return nil, fmt.Errorf("workers: %w", err)
	}
	return s, nil
}

// Close closes workers, then brokers, then coordination. Every tier is
// closed even if an earlier one fails; the errors are joined.
func (s *Stack) Close() error {
	var errs []error
	if s.Workers != nil {
		if err := s.Workers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("workers: %w", err))
		}
	}
	if s.Brokers != nil {
		if err := s.Brokers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("brokers: %w", err))
		}
	}
	if s.Coordination != nil {
		if err := s.Coordination.Close(); err != nil {
			errs = append(errs, fmt.Errorf("coordination: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Env returns KEY=VALUE entries that make the FromEnv constructors of
// another process attach to this stack.
func (s *Stack) Env() []string {
	var env []string
	if s.Coordination != nil {
		env = append(env, EnvCoordination+"="+s.Coordination.ConnectionProps())
	}
	if s.Brokers != nil {
		env = append(env, EnvBrokers+"="+s.Brokers.ConnectionProps())
	}
	if s.Workers != nil {
		env = append(env, EnvWorkers+"="+s.Workers.ConnectionProps())
	}
	return env
}
