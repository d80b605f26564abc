package clusterenv

import (
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/giantswarm/clusterenv/internal/binary"
	"github.com/giantswarm/clusterenv/internal/core"
	"github.com/giantswarm/clusterenv/internal/descriptor"
	"github.com/giantswarm/clusterenv/internal/embedded/broker"
	"github.com/giantswarm/clusterenv/internal/embedded/coordination"
	"github.com/giantswarm/clusterenv/internal/embedded/worker"
	"github.com/giantswarm/clusterenv/internal/netutil"
)

// config holds the configuration of one NewLocal* call. This unexported type
// wraps core.Config via embedding, keeping internal/core types out of the
// public API signature while avoiding field-by-field duplication.
type config struct {
	core.Config

	host    string
	lockDir string // empty means <BaseDataDir>/ports
	command *binary.Command
}

// defaultConfig returns a config populated with all default values. The
// constructors and test helpers share it.
func defaultConfig() config {
	return config{
		Config: core.Config{
			BaseDataDir:  filepath.Join(os.TempDir(), DefaultBaseDataDirName),
			StartTimeout: DefaultStartTimeout,
			StopTimeout:  DefaultStopTimeout,
		},
		host: DefaultHost,
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// portLockDir returns the directory of cross-process port lock files.
func (c config) portLockDir() string {
	if c.lockDir != "" {
		return c.lockDir
	}
	return filepath.Join(c.BaseDataDir, DefaultPortLockDirName)
}

// toCoreConfig resolves the launcher and port registry for a tier of kind.
// Only argument errors are returned.
func (c config) toCoreConfig(kind core.Kind) (core.Config, error) {
	if err := descriptor.Validate(net.JoinHostPort(c.host, "1")); err != nil {
		return core.Config{}, invalidArgument("host %q: %v", c.host, err)
	}
	out := c.Config
	out.Ports = sharedRegistry(c.host, c.portLockDir())

	if c.command != nil && c.command.Binary != "" {
		l, err := binary.Launcher(*c.command)
		if err != nil {
			return core.Config{}, invalidArgument("%s command: %v", kind, err)
		}
		out.Launcher = l
		return out, nil
	}
	out.Launcher = embeddedLauncher(kind)
	return out, nil
}

// embeddedLauncher returns the in-process service for kind.
func embeddedLauncher(kind core.Kind) core.Launcher {
	switch kind {
	case core.KindCoordination:
		return coordination.Launcher()
	case core.KindBroker:
		return broker.Launcher()
	case core.KindWorker:
		return worker.Launcher()
	default:
		return nil
	}
}

// Port registries are shared by every tier of the process that binds the
// same host and uses the same lock directory, so concurrent tiers never
// race for a port.
var (
	registriesMu sync.Mutex
	registries   = map[registryKey]*netutil.PortRegistry{}
)

type registryKey struct {
	host    string
	lockDir string
}

func sharedRegistry(host, lockDir string) *netutil.PortRegistry {
	registriesMu.Lock()
	defer registriesMu.Unlock()

	key := registryKey{host: host, lockDir: lockDir}
	if r, ok := registries[key]; ok {
		return r
	}
	r := netutil.NewPortRegistry(host, lockDir, core.Logger)
	registries[key] = r
	return r
}
