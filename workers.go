package clusterenv

import (
	"context"

	"github.com/giantswarm/clusterenv/internal/core"
)

// Workers is a worker cluster tier built on a broker tier.
type Workers struct {
	tier
	brokers *Brokers
}

var _ Cluster = (*Workers)(nil)

// NewLocalWorkers starts len(ports) workers bootstrapped against the broker
// tier given by brokers. Provider and port rules are those of
// NewLocalBrokers.
func NewLocalWorkers(ctx context.Context, brokers Dependency[*Brokers], ports []int, opts ...Option) (*Workers, error) {
	t, b, err := startWithDependency(ctx, core.KindWorker, brokers, ports, opts)
	if err != nil {
		return nil, err
	}
	return &Workers{tier: tier{t: t}, brokers: b}, nil
}

// NewExternalWorkers attaches to an existing worker deployment. The
// descriptor is kept verbatim, spacing and member order included. brokers
// may be nil and is never closed by the returned Workers.
func NewExternalWorkers(descriptor string, brokers *Brokers) (*Workers, error) {
	var depDesc string
	if brokers != nil {
		depDesc = brokers.ConnectionProps()
	}
	t, err := core.AttachExternal(core.KindWorker, descriptor, depDesc)
	if err != nil {
		return nil, err
	}
	return &Workers{tier: tier{t: t}, brokers: brokers}, nil
}

// Brokers returns the broker tier the workers were built on, or nil for
// external workers attached without one.
func (w *Workers) Brokers() *Brokers {
	return w.brokers
}
