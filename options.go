package clusterenv

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/giantswarm/clusterenv/internal/binary"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("clusterenv: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("clusterenv: %s must not be empty", name))
	}
}

// Option configures one NewLocal* call.
//
// Several With* functions panic on invalid input (empty paths, non-positive
// durations). Option values are typically constants, so an invalid value is
// a programmer error; the pattern mirrors [regexp.MustCompile].
type Option func(*config)

// WithStartTimeout bounds the start and readiness of all instances of a
// tier together.
//
// Default: 60 seconds.
//
// Panics if d <= 0.
func WithStartTimeout(d time.Duration) Option {
	requirePositive("start timeout", d)
	return func(c *config) {
		c.StartTimeout = d
	}
}

// WithStopTimeout sets how long each instance may take to stop gracefully
// before it is forcibly terminated.
//
// Default: 10 seconds.
//
// Panics if d <= 0.
func WithStopTimeout(d time.Duration) Option {
	requirePositive("stop timeout", d)
	return func(c *config) {
		c.StopTimeout = d
	}
}

// WithBaseDataDir sets the directory under which each tier creates its
// temporary data directory. Useful in CI where several projects share a
// machine. If not set, defaults to $TMPDIR/clusterenv.
// Panics if dir is empty.
func WithBaseDataDir(dir string) Option {
	requireNonEmpty("base data directory", dir)
	return func(c *config) {
		c.BaseDataDir = dir
	}
}

// WithPortLockDir sets the directory of the cross-process port lock files.
// Every process that should never hand out the same port must use the same
// directory. If not set, defaults to <base data dir>/ports.
// Panics if dir is empty.
func WithPortLockDir(dir string) Option {
	requireNonEmpty("port lock directory", dir)
	return func(c *config) {
		c.lockDir = dir
	}
}

// WithHost sets the address local instances bind to and that appears in
// their connection descriptor.
//
// Default: 127.0.0.1.
//
// Panics if host is empty.
func WithHost(host string) Option {
	requireNonEmpty("host", host)
	return func(c *config) {
		c.host = host
	}
}

// WithCommand runs every instance of the tier as a child process instead of
// the embedded service. Each argument is a text/template rendered per
// instance with the fields .Kind, .ID, .Index, .Host, .Port, .Address,
// .DataDir and .Dependency (the descriptor of the tier below):
//
//	clusterenv.WithCommand("zookeeper-server",
//		"--port={{.Port}}", "--data-dir={{.DataDir}}")
//
// An instance is ready once its port accepts TCP connections.
// Panics if binary is empty.
func WithCommand(binaryPath string, args ...string) Option {
	requireNonEmpty("command binary", binaryPath)
	args = slices.Clone(args)
	return func(c *config) {
		cmd := c.commandOrNew()
		cmd.Binary = binaryPath
		cmd.Args = args
	}
}

// WithEnv adds KEY=VALUE entries, each a template like the WithCommand
// arguments, to the environment of child processes. It has no effect
// without WithCommand.
// Panics if an entry has no '='.
func WithEnv(kv ...string) Option {
	for _, e := range kv {
		if !strings.Contains(e, "=") {
			panic(fmt.Sprintf("clusterenv: environment entry %q must have the form KEY=VALUE", e))
		}
	}
	kv = slices.Clone(kv)
	return func(c *config) {
		cmd := c.commandOrNew()
		cmd.Env = append(cmd.Env, kv...)
	}
}

// WithReadyOnStart treats a child process as ready as soon as it started,
// for binaries that do not listen on the instance port. It has no effect
// without WithCommand.
func WithReadyOnStart() Option {
	return func(c *config) {
		c.commandOrNew().Readiness = binary.ReadyOnStart
	}
}

func (c *config) commandOrNew() *binary.Command {
	if c.command == nil {
		c.command = &binary.Command{}
	}
	return c.command
}
