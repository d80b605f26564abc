package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/clusterenv/internal/descriptor"
	"github.com/giantswarm/clusterenv/internal/fileutil"
	"github.com/giantswarm/clusterenv/internal/netutil"
)

// Mode tells whether a tier owns its instances.
type Mode uint8

const (
	ModeLocal Mode = iota
	ModeExternal
)

// String returns "local" or "external".
func (m Mode) String() string {
	if m == ModeExternal {
		return "external"
	}
	return "local"
}

// State is the lifecycle state of a Tier.
type State uint32

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Dependency is the tier below, as seen by the tier above it.
type Dependency struct {
	// Descriptor is the dependency's connection descriptor.
	Descriptor string

	// Closer is set only when this tier created the dependency and is
	// therefore responsible for closing it.
	Closer io.Closer
}

// Owned reports whether the dependency must be closed by this tier.
func (d Dependency) Owned() bool {
	return d.Closer != nil
}

// LocalParams describes a local tier to start.
type LocalParams struct {
	Kind   Kind
	Config Config

	// Ports holds one requested port per instance; 0 asks for any free
	// port. StartLocal overwrites each 0 with the port actually bound.
	Ports []int

	Dependency Dependency
}

// Tier is one started or attached cluster tier. Its methods are safe for
// concurrent use.
type Tier struct {
	kind       Kind
	mode       Mode
	cfg        Config
	descriptor string
	dep        Dependency
	log        *slog.Logger

	// Local only; fixed once the tier is ready.
	ports        []int
	dataDir      string
	instances    []Instance
	reservations []*netutil.Reservation

	state     atomic.Uint32
	closeOnce sync.Once
}

func (t *Tier) storeState(s State) {
	t.state.Store(uint32(s))
}

// ValidatePorts checks a requested port list: at least one entry, each
// in 0..65535, no explicit port requested twice.
func ValidatePorts(ports []int) error {
	if len(ports) == 0 {
		return invalidArgument("instance count must be positive")
	}
	seen := make(map[int]struct{}, len(ports))
	for i, p := range ports {
		if p < 0 || p > 65535 {
			return invalidArgument("port %d at index %d out of range", p, i)
		}
		if p == 0 {
			continue
		}
		if _, dup := seen[p]; dup {
			return invalidArgument("port %d requested more than once", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// ValidateLocal checks everything about p that can be checked without
// touching the dependency. Callers run it before resolving a lazily created
// dependency so that bad arguments never cause one to be built.
func ValidateLocal(kind Kind, cfg Config, ports []int) error {
	if kind == "" {
		return invalidArgument("tier kind must not be empty")
	}
	if err := ValidatePorts(ports); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %s config: %w", ErrInvalidArgument, kind, err)
	}
	return nil
}

// StartLocal starts len(p.Ports) instances of p.Kind and waits until all of
// them are ready. On success the bound ports are written back into p.Ports;
// on failure p.Ports holds the requested values again.
//
// On any failure every resource acquired so far is released in reverse
// order, an owned dependency included, and the tier ends up closed. Argument
// errors match ErrInvalidArgument; everything else is a *StartupError.
func StartLocal(ctx context.Context, p LocalParams) (_ *Tier, retErr error) {
	t := &Tier{
		kind: p.Kind,
		mode: ModeLocal,
		cfg:  p.Config,
		dep:  p.Dependency,
		log:  Logger().With("kind", string(p.Kind)),
	}

	var (
		undo      undoStack
		requested []int
	)
	if p.Dependency.Owned() {
		undo.push("close owned dependency", p.Dependency.Closer.Close)
	}
	defer func() {
		if retErr == nil {
			return
		}
		t.log.Debug("rolling back partial startup", "steps", undo.len(), "error", retErr)
		if requested != nil {
			copy(p.Ports, requested)
		}
		if err := undo.run(); err != nil {
			t.log.Warn("rollback after startup failure", "error", err)
			retErr = errors.Join(retErr, fmt.Errorf("rollback: %w", err))
		}
		t.storeState(StateClosed)
	}()

	if err := ValidateLocal(p.Kind, p.Config, p.Ports); err != nil {
		return nil, err
	}
	if p.Kind.requiresDependency() {
		if err := descriptor.Validate(p.Dependency.Descriptor); err != nil {
			return nil, invalidArgument("%s dependency descriptor: %v", p.Kind, err)
		}
	}
	if ctx == nil {
		return nil, invalidArgument("context must not be nil")
	}

	requested = slices.Clone(p.Ports)
	t.storeState(StateStarting)
	t.log.Debug("starting local tier", "instances", len(p.Ports))

	dataDir, err := fileutil.CreateTempDir(p.Config.BaseDataDir, string(p.Kind))
	if err != nil {
		return nil, &StartupError{Kind: p.Kind, Index: -1, Err: err}
	}
	t.dataDir = dataDir
	undo.push("remove data dir", func() error { return fileutil.RemoveDir(dataDir) })

	for i, port := range p.Ports {
		res, err := p.Config.Ports.Reserve(port)
		if err != nil {
			return nil, &StartupError{Kind: p.Kind, Index: i, Port: port, Err: err}
		}
		undo.push("release port "+strconv.Itoa(res.Port), func() error {
			res.Release()
			return nil
		})
		t.reservations = append(t.reservations, res)
		p.Ports[i] = res.Port
	}

	host := p.Config.Ports.Host()
	for i, res := range t.reservations {
		spec := InstanceSpec{
			Kind:        p.Kind,
			Index:       i,
			ID:          uuid.NewString(),
			Host:        host,
			Port:        res.Port,
			DataDir:     filepath.Join(dataDir, strconv.Itoa(i)),
			Dependency:  p.Dependency.Descriptor,
			StopTimeout: p.Config.StopTimeout,
		}
		spec.Logger = t.log.With("instance", spec.Name(), "id", spec.ID)
		if err := fileutil.EnsureDir(spec.DataDir); err != nil {
			return nil, &StartupError{Kind: p.Kind, Index: i, Port: res.Port, Err: err}
		}
		spec.Listener = res.TakeListener()

		inst, err := p.Config.Launcher.Launch(spec)
		if err != nil {
			if spec.Listener != nil {
				_ = spec.Listener.Close()
			}
			return nil, &StartupError{Kind: p.Kind, Index: i, Port: res.Port, Err: fmt.Errorf("launch: %w", err)}
		}
		undo.push("stop "+spec.Name(), func() error {
			return stopAndClose(inst, p.Config.StopTimeout)
		})
		t.instances = append(t.instances, inst)
	}

	if err := t.startAll(ctx); err != nil {
		return nil, err
	}

	t.ports = slices.Clone(p.Ports)
	t.descriptor = descriptor.Format(host, t.ports)
	t.storeState(StateReady)
	t.log.Info("local tier ready", "descriptor", t.descriptor)
	return t, nil
}

// startAll starts every instance concurrently. The first failure cancels
// the readiness waits of the others.
func (t *Tier) startAll(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, t.cfg.StartTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(readyCtx)
	for i, inst := range t.instances {
		port := t.reservations[i].Port
		g.Go(func() error {
			if err := inst.Start(gCtx); err != nil {
				return &StartupError{Kind: t.kind, Index: i, Port: port, Err: fmt.Errorf("start: %w", err)}
			}
			if err := inst.WaitReady(gCtx, t.cfg.StartTimeout); err != nil {
				return &StartupError{Kind: t.kind, Index: i, Port: port, Err: fmt.Errorf("wait ready: %w", err)}
			}
			return nil
		})
	}
	return g.Wait()
}

// stopAndClose stops inst and always closes it.
func stopAndClose(inst Instance, timeout time.Duration) error {
	defer inst.Close()
	return inst.Stop(timeout)
}

// AttachExternal wraps an existing deployment of kind reachable at desc.
// desc is validated and then kept verbatim. depDescriptor is informational.
func AttachExternal(kind Kind, desc, depDescriptor string) (*Tier, error) {
	if kind == "" {
		return nil, invalidArgument("tier kind must not be empty")
	}
	if err := descriptor.Validate(desc); err != nil {
		return nil, invalidArgument("%s descriptor %q: %v", kind, desc, err)
	}
	t := &Tier{
		kind:       kind,
		mode:       ModeExternal,
		descriptor: desc,
		dep:        Dependency{Descriptor: depDescriptor},
		log:        Logger().With("kind", string(kind)),
	}
	t.storeState(StateReady)
	t.log.Debug("attached external tier", "descriptor", desc)
	return t, nil
}

// Close tears the tier down exactly once. Later calls return nil without
// doing anything. A local tier stops all instances concurrently, releases
// their ports and data directory, and then closes an owned dependency.
// Errors from all of these steps are joined and wrapped with ErrShutdown.
// An external tier only forgets its descriptor bookkeeping and never
// contacts the remote deployment.
func (t *Tier) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.close()
	})
	return err
}

func (t *Tier) close() error {
	t.storeState(StateClosing)
	defer t.storeState(StateClosed)

	if t.mode == ModeExternal {
		t.log.Debug("detached external tier", "descriptor", t.descriptor)
		return nil
	}

	stopErrs := make([]error, len(t.instances))
	var wg sync.WaitGroup
	for i, inst := range t.instances {
		wg.Go(func() {
			if err := stopAndClose(inst, t.cfg.StopTimeout); err != nil {
				stopErrs[i] = fmt.Errorf("stop %s-%d: %w", t.kind, i, err)
			}
		})
	}
	wg.Wait()

	errs := stopErrs
	for _, res := range t.reservations {
		res.Release()
	}
	if err := fileutil.RemoveDir(t.dataDir); err != nil {
		errs = append(errs, err)
	}
	if t.dep.Owned() {
		if err := t.dep.Closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close owned dependency: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		t.log.Warn("local tier closed with errors", "error", err)
		return fmt.Errorf("%w: %s tier: %w", ErrShutdown, t.kind, err)
	}
	t.log.Info("local tier closed", "descriptor", t.descriptor)
	return nil
}

// Kind returns the tier kind.
func (t *Tier) Kind() Kind { return t.kind }

// Mode returns whether the tier is local or external.
func (t *Tier) Mode() Mode { return t.mode }

// IsLocal reports whether the tier owns its instances.
func (t *Tier) IsLocal() bool { return t.mode == ModeLocal }

// Descriptor returns the connection descriptor. For an external tier it is
// the string the caller supplied, unchanged.
func (t *Tier) Descriptor() string { return t.descriptor }

// DependencyDescriptor returns the descriptor of the tier below, if any.
func (t *Tier) DependencyDescriptor() string { return t.dep.Descriptor }

// InstanceCount returns the number of instances this tier owns; zero when
// external.
func (t *Tier) InstanceCount() int { return len(t.instances) }

// Ports returns a copy of the bound ports; nil when external.
func (t *Tier) Ports() []int { return slices.Clone(t.ports) }

// DataDir returns the tier's data directory; empty when external.
func (t *Tier) DataDir() string { return t.dataDir }

// State returns the current lifecycle state.
func (t *Tier) State() State { return State(t.state.Load()) }
