package clusterenv

import (
	"context"

	"github.com/giantswarm/clusterenv/internal/core"
)

// Coordination is a coordination service tier, the bottom of the stack.
// Brokers register themselves in it.
type Coordination struct {
	tier
}

var _ Cluster = (*Coordination)(nil)

// NewLocalCoordination starts len(ports) coordination instances and waits
// until all of them serve. Each port is either a fixed port or 0 for any
// free port; zeros are replaced in place with the bound port.
//
// Argument errors match ErrInvalidArgument and are returned before anything
// starts. Any other failure is a *StartupError, returned after every
// instance already started was stopped again.
func NewLocalCoordination(ctx context.Context, ports []int, opts ...Option) (*Coordination, error) {
	cfg, err := prepareLocal(ctx, core.KindCoordination, ports, opts)
	if err != nil {
		return nil, err
	}
	t, err := core.StartLocal(ctx, core.LocalParams{
		Kind:   core.KindCoordination,
		Config: cfg,
		Ports:  ports,
	})
	if err != nil {
		return nil, err
	}
	return &Coordination{tier{t: t}}, nil
}

// NewExternalCoordination attaches to an existing coordination deployment
// reachable at descriptor, a comma-separated host:port list. An empty or
// malformed descriptor matches ErrInvalidArgument.
func NewExternalCoordination(descriptor string) (*Coordination, error) {
	t, err := core.AttachExternal(core.KindCoordination, descriptor, "")
	if err != nil {
		return nil, err
	}
	return &Coordination{tier{t: t}}, nil
}
