package clusterenv

import (
	"context"

	"github.com/giantswarm/clusterenv/internal/core"
)

// tier implements Cluster for the three public tier types.
type tier struct {
	t *core.Tier
}

// ConnectionProps implements Cluster.
func (c *tier) ConnectionProps() string { return c.t.Descriptor() }

// IsLocal implements Cluster.
func (c *tier) IsLocal() bool { return c.t.IsLocal() }

// InstanceCount implements Cluster.
func (c *tier) InstanceCount() int { return c.t.InstanceCount() }

// Ports returns the bound ports of a local tier in request order; nil for
// an external tier.
func (c *tier) Ports() []int { return c.t.Ports() }

// Close implements Cluster.
func (c *tier) Close() error { return c.t.Close() }

func (c *tier) state() core.State { return c.t.State() }

// prepareLocal validates everything about a NewLocal* call that does not
// involve its dependency and returns the resolved tier configuration.
func prepareLocal(ctx context.Context, kind core.Kind, ports []int, opts []Option) (core.Config, error) {
	if ctx == nil {
		return core.Config{}, invalidArgument("context must not be nil")
	}
	cfg, err := newConfig(opts).toCoreConfig(kind)
	if err != nil {
		return core.Config{}, err
	}
	if err := core.ValidateLocal(kind, cfg, ports); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}

// startWithDependency validates, then resolves dep, then starts the tier.
// The order guarantees a provider never runs for a call that is going to
// be rejected anyway.
func startWithDependency[T clusterRef](ctx context.Context, kind core.Kind, dep Dependency[T], ports []int, opts []Option) (*core.Tier, T, error) {
	var zero T
	cfg, err := prepareLocal(ctx, kind, ports, opts)
	if err != nil {
		return nil, zero, err
	}
	if err := dep.validate(); err != nil {
		return nil, zero, err
	}
	lower, owned, err := dep.resolve()
	if err != nil {
		return nil, zero, err
	}
	t, err := core.StartLocal(ctx, core.LocalParams{
		Kind:       kind,
		Config:     cfg,
		Ports:      ports,
		Dependency: coreDependency(lower, owned),
	})
	if err != nil {
		return nil, zero, err
	}
	return t, lower, nil
}
