package clusterenv

import (
	"fmt"

	"github.com/giantswarm/clusterenv/internal/core"
)

// Dependency is the lower tier a local tier is built on. It either borrows
// an existing cluster, which the caller keeps closing, or holds a provider
// that builds one on demand, in which case the tier that invoked the
// provider owns the result and closes it.
//
// A provider is invoked at most once per NewLocal* call, and only after
// every other argument of that call was validated. It is never invoked when
// an existing cluster is available. A Dependency holds no result between
// calls: passing the same Provide value to two NewLocal* calls builds two
// clusters, each owned by the tier that built it.
//
// The zero Dependency is invalid.
type Dependency[T clusterRef] struct {
	existing T
	provide  func() (T, error)
}

// Use borrows existing. The tier built on it never closes it.
func Use[T clusterRef](existing T) Dependency[T] {
	return Dependency[T]{existing: existing}
}

// Provide builds the dependency with fn when needed. Every tier that calls
// fn owns the cluster it got back.
func Provide[T clusterRef](fn func() (T, error)) Dependency[T] {
	return Dependency[T]{provide: fn}
}

// UseOrProvide borrows existing when it is non-nil and otherwise falls back
// to fn. fn is never invoked when existing is non-nil.
func UseOrProvide[T clusterRef](existing T, fn func() (T, error)) Dependency[T] {
	return Dependency[T]{existing: existing, provide: fn}
}

// AnyPorts returns n port requests that each ask for any free port.
func AnyPorts(n int) []int {
	if n <= 0 {
		return nil
	}
	return make([]int, n)
}

// Existing returns the borrowed cluster, or the zero T when there is none.
func (d Dependency[T]) Existing() T {
	return d.existing
}

// validate checks d without invoking the provider.
func (d Dependency[T]) validate() error {
	var zero T
	if d.existing == zero && d.provide == nil {
		return invalidArgument("dependency: neither an existing cluster nor a provider given")
	}
	if d.existing != zero {
		if s, ok := any(d.existing).(interface{ state() core.State }); ok && s.state() >= core.StateClosing {
			return invalidArgument("dependency %s is closed", d.existing.ConnectionProps())
		}
	}
	return nil
}

// resolve returns the cluster to build on and whether the caller owns it.
func (d Dependency[T]) resolve() (T, bool, error) {
	var zero T
	if d.existing != zero {
		return d.existing, false, nil
	}
	c, err := d.provide()
	if err != nil {
		return zero, false, fmt.Errorf("%w: dependency provider: %w", ErrStartup, err)
	}
	if c == zero {
		return zero, false, invalidArgument("dependency provider returned a nil cluster")
	}
	return c, true, nil
}

// coreDependency converts a resolved dependency for internal/core.
func coreDependency(c Cluster, owned bool) core.Dependency {
	dep := core.Dependency{Descriptor: c.ConnectionProps()}
	if owned {
		dep.Closer = c
	}
	return dep
}
