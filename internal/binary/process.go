package binary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/giantswarm/clusterenv/internal/core"
	"github.com/giantswarm/clusterenv/internal/process"
)

// readinessPollInterval is the delay between readiness probes.
const readinessPollInterval = 10 * time.Millisecond

// Compile-time interface satisfaction check.
var _ core.Instance = (*Process)(nil)

// Readiness selects how a child process is judged ready.
type Readiness uint8

const (
	// ReadyOnTCP waits until the instance port accepts connections.
	ReadyOnTCP Readiness = iota

	// ReadyOnStart treats a started, still running process as ready.
	ReadyOnStart
)

// TemplateData is available to every argument and environment template.
type TemplateData struct {
	Kind       string
	ID         string
	Index      int
	Host       string
	Port       int
	Address    string
	DataDir    string
	Dependency string
}

func newTemplateData(spec core.InstanceSpec) TemplateData {
	return TemplateData{
		Kind:       string(spec.Kind),
		ID:         spec.ID,
		Index:      spec.Index,
		Host:       spec.Host,
		Port:       spec.Port,
		Address:    spec.Address(),
		DataDir:    spec.DataDir,
		Dependency: spec.Dependency,
	}
}

// Command describes how to run one instance.
type Command struct {
	// Binary is a path or a name looked up in PATH.
	Binary string

	// Args are templates rendered with TemplateData.
	Args []string

	// Env holds KEY=VALUE templates appended to the parent environment.
	Env []string

	Readiness Readiness
}

type compiledCommand struct {
	path      string
	args      []*template.Template
	env       []*template.Template
	readiness Readiness
}

func compile(c Command) (*compiledCommand, error) {
	if c.Binary == "" {
		return nil, errors.New("binary must not be empty")
	}
	path, err := exec.LookPath(c.Binary)
	if err != nil {
		return nil, fmt.Errorf("find binary %q: %w", c.Binary, err)
	}
	cc := &compiledCommand{path: path, readiness: c.Readiness}
	for i, a := range c.Args {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d %q: %w", i, a, err)
		}
		cc.args = append(cc.args, tmpl)
	}
	for i, e := range c.Env {
		if !strings.Contains(e, "=") {
			return nil, fmt.Errorf("environment entry %d %q: missing '='", i, e)
		}
		tmpl, err := template.New(fmt.Sprintf("env%d", i)).Option("missingkey=error").Parse(e)
		if err != nil {
			return nil, fmt.Errorf("environment entry %d %q: %w", i, e, err)
		}
		cc.env = append(cc.env, tmpl)
	}
	return cc, nil
}

func render(tmpls []*template.Template, data TemplateData) ([]string, error) {
	out := make([]string, 0, len(tmpls))
	var buf bytes.Buffer
	for _, t := range tmpls {
		buf.Reset()
		if err := t.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", t.Name(), err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

// Launcher returns a core.Launcher that runs c for every instance. The
// binary is resolved and every template parsed up front.
func Launcher(c Command) (core.Launcher, error) {
	cc, err := compile(c)
	if err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	return core.LauncherFunc(func(spec core.InstanceSpec) (core.Instance, error) {
		return newProcess(cc, spec)
	}), nil
}

// Process is one child-process instance.
type Process struct {
	spec      core.InstanceSpec
	path      string
	args      []string
	env       []string
	readiness Readiness
	base      process.BaseProcess
}

func newProcess(cc *compiledCommand, spec core.InstanceSpec) (*Process, error) {
	if spec.DataDir == "" {
		return nil, process.ErrEmptyDataDir
	}
	data := newTemplateData(spec)
	args, err := render(cc.args, data)
	if err != nil {
		return nil, err
	}
	env, err := render(cc.env, data)
	if err != nil {
		return nil, err
	}
	return &Process{
		spec:      spec,
		path:      cc.path,
		args:      args,
		env:       env,
		readiness: cc.readiness,
		base:      process.NewBaseProcess(spec.Name(), spec.Logger, spec.StopTimeout),
	}, nil
}

// Args returns the rendered arguments.
func (p *Process) Args() []string { return p.args }

// Env returns the rendered extra environment.
func (p *Process) Env() []string { return p.env }

// Start frees the reserved port and execs the child. ctx only bounds the
// launch; the child outlives it until Stop.
func (p *Process) Start(_ context.Context) error {
	if p.base.IsStarted() {
		return process.ErrAlreadyStarted
	}
	p.releaseListener()

	cmd := exec.Command(p.path, p.args...) //nolint:gosec // the binary is chosen by the caller
	cmd.Env = append(os.Environ(), p.env...)
	if err := p.base.SetupAndStart(cmd, p.spec.DataDir); err != nil {
		return fmt.Errorf("setup and start %s: %w", p.spec.Name(), err)
	}
	p.base.Logger().Debug("child process started", "pid", p.base.Pid(), "binary", p.path)
	return nil
}

func (p *Process) releaseListener() {
	if p.spec.Listener == nil {
		return
	}
	if err := p.spec.Listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		p.base.Logger().Debug("close reserved listener", "error", err)
	}
	p.spec.Listener = nil
}

// WaitReady blocks until the child is ready per its Readiness mode.
func (p *Process) WaitReady(ctx context.Context, timeout time.Duration) error {
	check := process.TCPCheck(p.spec.Address(), p.base.Logger())
	if p.readiness == ReadyOnStart {
		check = func(context.Context, int) (bool, error) { return true, nil }
	}
	if err := process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      readinessPollInterval,
		Timeout:       timeout,
		Name:          p.spec.Name(),
		Port:          p.spec.Port,
		Logger:        p.base.Logger(),
		ProcessExited: p.base.Exited(),
	}, check); err != nil {
		return fmt.Errorf("%s not ready: %w", p.spec.Name(), err)
	}
	return nil
}

// Stop terminates the child.
func (p *Process) Stop(timeout time.Duration) error {
	return p.base.Stop(timeout)
}

// Close releases log files and the reserved listener if Start never ran.
func (p *Process) Close() {
	p.releaseListener()
	p.base.Close()
}

// StdoutPath returns the child's stdout log path.
func (p *Process) StdoutPath() string {
	return filepath.Join(p.spec.DataDir, p.spec.Name()+"-stdout.log")
}

// StderrPath returns the child's stderr log path.
func (p *Process) StderrPath() string {
	return filepath.Join(p.spec.DataDir, p.spec.Name()+"-stderr.log")
}
