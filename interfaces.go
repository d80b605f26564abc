package clusterenv

// Cluster is one tier of the harness: a coordination service, a broker
// cluster or a worker cluster, either started by this process (local) or
// attached to an existing deployment (external).
//
// Lifecycle:
//
//	NewLocal*/NewExternal* → ConnectionProps/IsLocal/InstanceCount (repeatable) → Close
//
// All methods are safe for concurrent use.
type Cluster interface {
	// ConnectionProps returns the comma-separated host:port list clients use
	// to reach the tier. For a local tier the ports are the ones actually
	// bound, in the order they were requested. For an external tier it is
	// the descriptor given to NewExternal*, unchanged.
	ConnectionProps() string

	// IsLocal reports whether the tier was started by this process.
	IsLocal() bool

	// InstanceCount returns the number of instances this tier started; zero
	// for an external tier.
	InstanceCount() int

	// Close tears the tier down. A local tier stops its instances (gracefully,
	// then forcibly after the stop timeout), frees their ports and data,
	// and then closes a dependency it created through a provider. An
	// external tier never contacts the deployment it points at.
	//
	// Close is idempotent: every call after the first returns nil and does
	// nothing. A non-nil error matches ErrShutdown and is returned only
	// after cleanup of every owned resource was attempted.
	Close() error
}

// clusterRef is the constraint of Dependency: a comparable Cluster, in
// practice *Coordination or *Brokers.
type clusterRef interface {
	comparable
	Cluster
}
