package binary

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/clusterenv/internal/core"
	"github.com/giantswarm/clusterenv/internal/process"
)

const helperEnv = "CLUSTERENV_WANT_HELPER_PROCESS"

// TestHelperProcess is not a real test. It is the child run by the tests
// below: it listens on the address passed after "--" until killed.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	l, err := net.Listen("tcp", args[1])
	if err != nil {
		os.Exit(3)
	}
	defer l.Close()
	for {
		conn, err := l.Accept()
		if err != nil {
			os.Exit(0)
		}
		_ = conn.Close()
	}
}

func reserve(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return l, l.Addr().(*net.TCPAddr).Port
}

func testSpec(t *testing.T) core.InstanceSpec {
	t.Helper()
	l, port := reserve(t)
	return core.InstanceSpec{
		Kind:        core.KindBroker,
		Index:       1,
		ID:          "id-1",
		Host:        "127.0.0.1",
		Port:        port,
		Listener:    l,
		DataDir:     t.TempDir(),
		Dependency:  "127.0.0.1:2181",
		StopTimeout: 5 * time.Second,
	}
}

func TestProcess_ListensOnReservedPort(t *testing.T) {
	t.Parallel()

	launcher, err := Launcher(Command{
		Binary: os.Args[0],
		Args:   []string{"-test.run=^TestHelperProcess$", "--", "{{.Address}}"},
		Env:    []string{helperEnv + "=1"},
	})
	if err != nil {
		t.Fatalf("Launcher: %v", err)
	}
	spec := testSpec(t)
	inst, err := launcher.Launch(spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer inst.Close()

	ctx := context.Background()
	if err := inst.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inst.Start(ctx); !errors.Is(err, process.ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
	if err := inst.WaitReady(ctx, 10*time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if err := inst.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	p := inst.(*Process)
	for _, path := range []string{p.StdoutPath(), p.StderrPath()} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("log file %s: %v", path, err)
		}
	}
}

func TestProcess_ExitBeforeReady(t *testing.T) {
	t.Parallel()

	launcher, err := Launcher(Command{Binary: "true"})
	if err != nil {
		t.Skipf("true not available: %v", err)
	}
	inst, err := launcher.Launch(testSpec(t))
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer inst.Close()

	if err := inst.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = inst.WaitReady(context.Background(), 10*time.Second)
	if !errors.Is(err, process.ErrProcessExited) {
		t.Fatalf("WaitReady error = %v, want ErrProcessExited", err)
	}
	_ = inst.Stop(time.Second)
}

func TestProcess_ReadyOnStart(t *testing.T) {
	t.Parallel()

	launcher, err := Launcher(Command{Binary: "sleep", Args: []string{"30"}, Readiness: ReadyOnStart})
	if err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	inst, err := launcher.Launch(testSpec(t))
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer inst.Close()

	if err := inst.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inst.WaitReady(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if err := inst.Stop(5 * time.Second); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestProcess_RendersTemplates(t *testing.T) {
	t.Parallel()

	launcher, err := Launcher(Command{
		Binary: os.Args[0],
		Args: []string{
			"--id={{.ID}}",
			"--listen={{.Host}}:{{.Port}}",
			"--index={{.Index}}",
			"--kind={{.Kind}}",
			"--data={{.DataDir}}",
			"--upstream={{.Dependency}}",
		},
		Env: []string{"PORT={{.Port}}"},
	})
	if err != nil {
		t.Fatalf("Launcher: %v", err)
	}
	spec := testSpec(t)
	inst, err := launcher.Launch(spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer inst.Close()

	p := inst.(*Process)
	port := strconv.Itoa(spec.Port)
	want := []string{
		"--id=id-1",
		"--listen=127.0.0.1:" + port,
		"--index=1",
		"--kind=broker",
		"--data=" + spec.DataDir,
		"--upstream=127.0.0.1:2181",
	}
	if got := strings.Join(p.Args(), " "); got != strings.Join(want, " ") {
		t.Errorf("Args = %q, want %q", got, want)
	}
	if got := p.Env(); len(got) != 1 || got[0] != "PORT="+port {
		t.Errorf("Env = %q", got)
	}
}

func TestProcess_CloseWithoutStartReleasesListener(t *testing.T) {
	t.Parallel()

	launcher, err := Launcher(Command{Binary: os.Args[0]})
	if err != nil {
		t.Fatalf("Launcher: %v", err)
	}
	spec := testSpec(t)
	inst, err := launcher.Launch(spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := inst.Stop(time.Second); err != nil {
		t.Errorf("Stop without Start: %v", err)
	}
	inst.Close()

	l, err := net.Listen("tcp", spec.Address())
	if err != nil {
		t.Fatalf("port %d should be free after Close: %v", spec.Port, err)
	}
	_ = l.Close()
}

func TestLauncher_InvalidCommand(t *testing.T) {
	t.Parallel()

	tests := map[string]Command{
		"empty binary":      {},
		"missing binary":    {Binary: "clusterenv-no-such-binary"},
		"bad arg template":  {Binary: os.Args[0], Args: []string{"{{.Port"}},
		"env without equal": {Binary: os.Args[0], Env: []string{"NOEQUALS"}},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Launcher(c); err == nil {
				t.Error("Launcher should fail")
			}
		})
	}
}

func TestLauncher_UnknownField(t *testing.T) {
	t.Parallel()

	launcher, err := Launcher(Command{Binary: os.Args[0], Args: []string{"{{.Nope}}"}})
	if err != nil {
		t.Fatalf("Launcher: %v", err)
	}
	spec := testSpec(t)
	defer spec.Listener.Close()
	if _, err := launcher.Launch(spec); err == nil {
		t.Error("Launch should fail on an unknown template field")
	}
}
