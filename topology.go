package clusterenv

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/clusterenv/internal/descriptor"
)

var validate = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// Topology describes a whole stack, usually loaded from a YAML file:
//
//	start_timeout: 30s
//	coordination:
//	  count: 1
//	brokers:
//	  ports: [9092, 0, 0]
//	workers:
//	  external: "ci-worker-0:8083"
//
// A tier with external set is attached; any other tier is started locally
// with its ports, or with count instances on any free ports (default 1).
// Workers are optional.
type Topology struct {
	Coordination TierSpec  `yaml:"coordination"`
	Brokers      TierSpec  `yaml:"brokers"`
	Workers      *TierSpec `yaml:"workers,omitempty"`

	StartTimeout time.Duration `yaml:"start_timeout,omitempty" validate:"gte=0"`
	StopTimeout  time.Duration `yaml:"stop_timeout,omitempty" validate:"gte=0"`
	BaseDataDir  string        `yaml:"base_data_dir,omitempty"`
	Host         string        `yaml:"host,omitempty" validate:"omitempty,ip|hostname_rfc1123"`
}

// TierSpec describes one tier of a Topology.
type TierSpec struct {
	// External is the descriptor of an existing deployment.
	External string `yaml:"external,omitempty"`

	Count int   `yaml:"count,omitempty" validate:"gte=0"`
	Ports []int `yaml:"ports,omitempty" validate:"omitempty,dive,gte=0,lte=65535"`

	// Command runs the tier as child processes; see WithCommand.
	Command []string `yaml:"command,omitempty"`
	Env     []string `yaml:"env,omitempty"`
}

// LoadTopology reads and validates a YAML topology file. Unknown keys are
// rejected. Validation failures match ErrInvalidArgument.
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read topology: %w", err)
	}
	topo, err := ParseTopology(data)
	if err != nil {
		return Topology{}, fmt.Errorf("topology %s: %w", path, err)
	}
	return topo, nil
}

// ParseTopology decodes and validates a YAML topology document.
func ParseTopology(data []byte) (Topology, error) {
	var topo Topology
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&topo); err != nil {
		return Topology{}, invalidArgument("decode topology: %v", err)
	}
	if err := topo.Validate(); err != nil {
		return Topology{}, err
	}
	return topo, nil
}

// Validate checks the topology without starting anything.
func (t Topology) Validate() error {
	if err := validate().Struct(t); err != nil {
		return invalidArgument("topology: %v", err)
	}
	tiers := []struct {
		name string
		spec *TierSpec
	}{
		{"coordination", &t.Coordination},
		{"brokers", &t.Brokers},
		{"workers", t.Workers},
	}
	var errs []error
	for _, tier := range tiers {
		if tier.spec == nil {
			continue
		}
		if err := tier.spec.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tier.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: topology: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (s TierSpec) validate() error {
	if s.External != "" {
		if s.Count != 0 || len(s.Ports) > 0 || len(s.Command) > 0 || len(s.Env) > 0 {
			return errors.New("external excludes count, ports, command and env")
		}
		return descriptor.Validate(s.External)
	}
	if s.Count > 0 && len(s.Ports) > 0 && s.Count != len(s.Ports) {
		return fmt.Errorf("count %d does not match %d ports", s.Count, len(s.Ports))
	}
	if len(s.Env) > 0 && len(s.Command) == 0 {
		return errors.New("env requires command")
	}
	for _, e := range s.Env {
		if !strings.Contains(e, "=") {
			return fmt.Errorf("environment entry %q must have the form KEY=VALUE", e)
		}
	}
	if len(s.Command) > 0 && s.Command[0] == "" {
		return errors.New("command binary must not be empty")
	}
	return nil
}

// IsExternal reports whether the tier is attached rather than started.
func (s TierSpec) IsExternal() bool {
	return s.External != ""
}

// ports returns the port requests of a local tier.
func (s TierSpec) ports() []int {
	if len(s.Ports) > 0 {
		return slices.Clone(s.Ports)
	}
	return AnyPorts(max(s.Count, 1))
}

// options returns the tier's own options.
func (s TierSpec) options() []Option {
	if len(s.Command) == 0 {
		return nil
	}
	opts := []Option{WithCommand(s.Command[0], s.Command[1:]...)}
	if len(s.Env) > 0 {
		opts = append(opts, WithEnv(s.Env...))
	}
	return opts
}

// options returns the stack-wide options set in the topology.
func (t Topology) options() []Option {
	var opts []Option
	if t.StartTimeout > 0 {
		opts = append(opts, WithStartTimeout(t.StartTimeout))
	}
	if t.StopTimeout > 0 {
		opts = append(opts, WithStopTimeout(t.StopTimeout))
	}
	if t.BaseDataDir != "" {
		opts = append(opts, WithBaseDataDir(t.BaseDataDir))
	}
	if t.Host != "" {
		opts = append(opts, WithHost(t.Host))
	}
	return opts
}
