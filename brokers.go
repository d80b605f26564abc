package clusterenv

import (
	"context"

	"github.com/giantswarm/clusterenv/internal/core"
)

// Brokers is a broker cluster tier built on a coordination tier.
type Brokers struct {
	tier
	coordination *Coordination
}

var _ Cluster = (*Brokers)(nil)

// NewLocalBrokers starts len(ports) brokers registered in the coordination
// tier given by coordination and waits until all of them serve. Ports
// follow the NewLocalCoordination rules.
//
// When coordination carries a provider, it is invoked after the arguments
// were validated, and the coordination it returns is owned by the brokers:
// it is closed by Close after the brokers, or right away if the brokers
// fail to start.
func NewLocalBrokers(ctx context.Context, coordination Dependency[*Coordination], ports []int, opts ...Option) (*Brokers, error) {
	t, coord, err := startWithDependency(ctx, core.KindBroker, coordination, ports, opts)
	if err != nil {
		return nil, err
	}
	return &Brokers{tier: tier{t: t}, coordination: coord}, nil
}

// NewExternalBrokers attaches to an existing broker deployment. coordination
// may be nil; when given it is kept for reference only and is never closed
// by the returned Brokers.
func NewExternalBrokers(descriptor string, coordination *Coordination) (*Brokers, error) {
	var depDesc string
	if coordination != nil {
		depDesc = coordination.ConnectionProps()
	}
	t, err := core.AttachExternal(core.KindBroker, descriptor, depDesc)
	if err != nil {
		return nil, err
	}
	return &Brokers{tier: tier{t: t}, coordination: coordination}, nil
}

// Coordination returns the coordination tier the brokers were built on, or
// nil for external brokers attached without one.
func (b *Brokers) Coordination() *Coordination {
	return b.coordination
}
