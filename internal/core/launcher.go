package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/giantswarm/clusterenv/internal/process"
)

// Kind names a tier.
type Kind string

const (
	KindCoordination Kind = "coordination"
	KindBroker       Kind = "broker"
	KindWorker       Kind = "worker"
)

// requiresDependency reports whether a local tier of kind k must be given
// the descriptor of the tier below it.
func (k Kind) requiresDependency() bool {
	return k == KindBroker || k == KindWorker
}

// Instance is one running member of a local tier.
type Instance interface {
	process.Stoppable

	// Start launches the instance. ctx bounds startup only; the instance
	// keeps running after ctx ends until Stop.
	Start(ctx context.Context) error

	// WaitReady blocks until the instance serves requests or timeout elapses.
	WaitReady(ctx context.Context, timeout time.Duration) error
}

// InstanceSpec is everything a Launcher knows about the instance it builds.
type InstanceSpec struct {
	Kind  Kind
	Index int
	ID    string
	Host  string
	Port  int

	// Listener is already bound to Host:Port. The launcher owns it: an
	// in-process service serves on it, a child-process launcher closes it
	// right before exec.
	Listener net.Listener

	DataDir string

	// Dependency is the connection descriptor of the tier below, empty for
	// the coordination tier.
	Dependency string

	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Name returns "<kind>-<index>".
func (s InstanceSpec) Name() string {
	return fmt.Sprintf("%s-%d", s.Kind, s.Index)
}

// Address returns host:port.
func (s InstanceSpec) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Launcher builds instances. Launch must not perform I/O beyond what is
// needed to construct the instance; the work belongs in Instance.Start.
type Launcher interface {
	Launch(spec InstanceSpec) (Instance, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(spec InstanceSpec) (Instance, error)

// Launch calls f.
func (f LauncherFunc) Launch(spec InstanceSpec) (Instance, error) {
	return f(spec)
}
