package clusterenv

import (
	"context"
	"os"
)

// CoordinationFromEnv attaches to the deployment named by EnvCoordination
// when it is set and non-empty, and otherwise starts count local instances
// on any free ports.
func CoordinationFromEnv(ctx context.Context, count int, opts ...Option) (*Coordination, error) {
	if desc := os.Getenv(EnvCoordination); desc != "" {
		return NewExternalCoordination(desc)
	}
	return NewLocalCoordination(ctx, AnyPorts(count), opts...)
}

// BrokersFromEnv attaches to the deployment named by EnvBrokers when it is
// set and non-empty, keeping a borrowed coordination from dep as reference
// and never invoking its provider. Otherwise it starts count local brokers
// on dep.
func BrokersFromEnv(ctx context.Context, dep Dependency[*Coordination], count int, opts ...Option) (*Brokers, error) {
	if desc := os.Getenv(EnvBrokers); desc != "" {
		return NewExternalBrokers(desc, dep.Existing())
	}
	return NewLocalBrokers(ctx, dep, AnyPorts(count), opts...)
}

// WorkersFromEnv is BrokersFromEnv for the worker tier, reading EnvWorkers.
func WorkersFromEnv(ctx context.Context, dep Dependency[*Brokers], count int, opts ...Option) (*Workers, error) {
	if desc := os.Getenv(EnvWorkers); desc != "" {
		return NewExternalWorkers(desc, dep.Existing())
	}
	return NewLocalWorkers(ctx, dep, AnyPorts(count), opts...)
}
