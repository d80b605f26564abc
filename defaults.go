package clusterenv

import "time"

// Default configuration values for the NewLocal* constructors.
// These constants are exported so callers can build custom configurations
// relative to them (e.g., 2 * DefaultStartTimeout).
const (
	// DefaultStartTimeout bounds the start and readiness of all instances of
	// one tier. On expiry the tier is rolled back and a StartupError returned.
	DefaultStartTimeout = 60 * time.Second

	// DefaultStopTimeout is the graceful stop time of each instance before
	// it is forcibly terminated.
	DefaultStopTimeout = 10 * time.Second

	// DefaultHost is the address every local instance binds to.
	DefaultHost = "127.0.0.1"

	// DefaultBaseDataDirName is the directory name under the system temp
	// directory where tier data is stored. The full path is computed as
	// filepath.Join(os.TempDir(), DefaultBaseDataDirName).
	DefaultBaseDataDirName = "clusterenv"

	// DefaultPortLockDirName is the directory under the base data directory
	// holding one lock file per reserved port, shared by every test process
	// on the machine.
	DefaultPortLockDirName = "ports"
)

// Environment variables read by the FromEnv constructors. A non-empty value
// is the connection descriptor of an existing deployment to attach to.
const (
	EnvCoordination = "CLUSTERENV_COORDINATION"
	EnvBrokers      = "CLUSTERENV_BROKERS"
	EnvWorkers      = "CLUSTERENV_WORKERS"
)
