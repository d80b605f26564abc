package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/clusterenv/internal/descriptor"
	"github.com/giantswarm/clusterenv/internal/netutil"
)

// eventLog records lifecycle events across goroutines in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

type fakeInstance struct {
	spec     InstanceSpec
	events   *eventLog
	startErr error
	readyErr error
	stopErr  error
	block    bool // WaitReady blocks until ctx ends

	starts atomic.Int32
	stops  atomic.Int32
	closes atomic.Int32
}

func (f *fakeInstance) Start(_ context.Context) error {
	f.starts.Add(1)
	f.events.add("start " + f.spec.Name())
	return f.startErr
}

func (f *fakeInstance) WaitReady(ctx context.Context, _ time.Duration) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.readyErr
}

func (f *fakeInstance) Stop(_ time.Duration) error {
	f.stops.Add(1)
	f.events.add("stop " + f.spec.Name())
	return f.stopErr
}

func (f *fakeInstance) Close() {
	f.closes.Add(1)
	if f.spec.Listener != nil {
		_ = f.spec.Listener.Close()
	}
}

type fakeLauncher struct {
	events    *eventLog
	configure func(inst *fakeInstance)
	launchErr func(spec InstanceSpec) error

	mu        sync.Mutex
	instances []*fakeInstance
}

func (l *fakeLauncher) Launch(spec InstanceSpec) (Instance, error) {
	if l.launchErr != nil {
		if err := l.launchErr(spec); err != nil {
			return nil, err
		}
	}
	inst := &fakeInstance{spec: spec, events: l.events}
	if l.configure != nil {
		l.configure(inst)
	}
	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.mu.Unlock()
	return inst, nil
}

func (l *fakeLauncher) launched() []*fakeInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.instances)
}

type fakeCloser struct {
	events *eventLog
	err    error
	calls  atomic.Int32
}

func (c *fakeCloser) Close() error {
	c.calls.Add(1)
	c.events.add("close dependency")
	return c.err
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{events: &eventLog{}}
}

func testConfig(t *testing.T, l Launcher) Config {
	t.Helper()
	return Config{
		Launcher:     l,
		Ports:        netutil.NewPortRegistry("127.0.0.1", "", nil),
		BaseDataDir:  t.TempDir(),
		StartTimeout: 5 * time.Second,
		StopTimeout:  time.Second,
	}
}

func TestStartLocal_ResolvesZeroPorts(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher()
	cfg := testConfig(t, l)
	ports := []int{0, 0, 0}

	tier, err := StartLocal(context.Background(), LocalParams{
		Kind:       KindBroker,
		Config:     cfg,
		Ports:      ports,
		Dependency: Dependency{Descriptor: "127.0.0.1:2181"},
	})
	if err != nil {
		t.Fatalf("StartLocal() error: %v", err)
	}

	seen := map[int]bool{}
	for i, p := range ports {
		if p <= 0 {
			t.Fatalf("ports[%d] = %d, want resolved port", i, p)
		}
		if seen[p] {
			t.Fatalf("port %d bound twice", p)
		}
		seen[p] = true
	}
	if !slices.Equal(tier.Ports(), ports) {
		t.Errorf("Ports() = %v, want %v", tier.Ports(), ports)
	}
	if want := descriptor.Format("127.0.0.1", ports); tier.Descriptor() != want {
		t.Errorf("Descriptor() = %q, want %q", tier.Descriptor(), want)
	}
	if tier.InstanceCount() != 3 || !tier.IsLocal() || tier.State() != StateReady {
		t.Errorf("count=%d local=%v state=%v, want 3 true ready",
			tier.InstanceCount(), tier.IsLocal(), tier.State())
	}
	if tier.DependencyDescriptor() != "127.0.0.1:2181" {
		t.Errorf("DependencyDescriptor() = %q", tier.DependencyDescriptor())
	}

	for i, inst := range l.launched() {
		if inst.spec.Index != i || inst.spec.Port != ports[i] {
			t.Errorf("instance %d spec = %+v", i, inst.spec)
		}
		if inst.spec.Dependency != "127.0.0.1:2181" {
			t.Errorf("instance %d dependency = %q", i, inst.spec.Dependency)
		}
		if inst.spec.Listener == nil {
			t.Fatalf("instance %d got no listener", i)
		}
		if got := inst.spec.Listener.Addr().(*net.TCPAddr).Port; got != ports[i] {
			t.Errorf("instance %d listener port = %d, want %d", i, got, ports[i])
		}
		if inst.starts.Load() != 1 {
			t.Errorf("instance %d started %d times", i, inst.starts.Load())
		}
	}

	dataDir := tier.DataDir()
	if err := tier.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if tier.State() != StateClosed {
		t.Errorf("State() = %v, want closed", tier.State())
	}
	for i, inst := range l.launched() {
		if inst.stops.Load() != 1 || inst.closes.Load() != 1 {
			t.Errorf("instance %d stops=%d closes=%d, want 1 1", i, inst.stops.Load(), inst.closes.Load())
		}
	}
	for _, p := range ports {
		if cfg.Ports.Reserved(p) {
			t.Errorf("port %d still reserved after Close", p)
		}
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Errorf("data dir %s still present: %v", dataDir, err)
	}
}

func TestStartLocal_InvalidArguments(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		kind   Kind
		ports  []int
		dep    string
		modify func(c *Config)
	}{
		"no ports":              {kind: KindCoordination, ports: nil},
		"negative port":         {kind: KindCoordination, ports: []int{-1}},
		"port too large":        {kind: KindCoordination, ports: []int{70000}},
		"duplicate port":        {kind: KindCoordination, ports: []int{40000, 40000}},
		"empty kind":            {kind: "", ports: []int{0}},
		"broker without dep":    {kind: KindBroker, ports: []int{0}},
		"worker with bad dep":   {kind: KindWorker, ports: []int{0}, dep: "not a descriptor"},
		"missing launcher":      {kind: KindCoordination, ports: []int{0}, modify: func(c *Config) { c.Launcher = nil }},
		"zero start timeout":    {kind: KindCoordination, ports: []int{0}, modify: func(c *Config) { c.StartTimeout = 0 }},
		"empty base data dir":   {kind: KindCoordination, ports: []int{0}, modify: func(c *Config) { c.BaseDataDir = "" }},
		"missing port registry": {kind: KindCoordination, ports: []int{0}, modify: func(c *Config) { c.Ports = nil }},
		"negative stop timeout": {kind: KindCoordination, ports: []int{0}, modify: func(c *Config) { c.StopTimeout = -time.Second }},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			l := newFakeLauncher()
			cfg := testConfig(t, l)
			if tc.modify != nil {
				tc.modify(&cfg)
			}
			dep := &fakeCloser{events: l.events}

			_, err := StartLocal(context.Background(), LocalParams{
				Kind:       tc.kind,
				Config:     cfg,
				Ports:      tc.ports,
				Dependency: Dependency{Descriptor: tc.dep, Closer: dep},
			})
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("StartLocal() error = %v, want ErrInvalidArgument", err)
			}
			if len(l.launched()) != 0 {
				t.Error("launcher must not be called on invalid arguments")
			}
			if dep.calls.Load() != 1 {
				t.Errorf("owned dependency closed %d times, want 1", dep.calls.Load())
			}
		})
	}
}

func TestStartLocal_RollbackOnStartFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	l := newFakeLauncher()
	l.configure = func(inst *fakeInstance) {
		if inst.spec.Index == 1 {
			inst.startErr = boom
		}
	}
	cfg := testConfig(t, l)
	dep := &fakeCloser{events: l.events}
	ports := []int{0, 0, 0}

	tier, err := StartLocal(context.Background(), LocalParams{
		Kind:       KindWorker,
		Config:     cfg,
		Ports:      ports,
		Dependency: Dependency{Descriptor: "127.0.0.1:9092", Closer: dep},
	})
	if tier != nil {
		t.Fatal("StartLocal() returned a tier on failure")
	}
	if !errors.Is(err, ErrStartup) || !errors.Is(err, boom) {
		t.Fatalf("error = %v, want ErrStartup wrapping boom", err)
	}
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *StartupError", err)
	}
	if se.Kind != KindWorker || se.Index != 1 {
		t.Errorf("StartupError = %+v, want worker index 1", se)
	}

	launched := l.launched()
	if len(launched) != 3 {
		t.Fatalf("launched %d instances, want 3", len(launched))
	}
	for i, inst := range launched {
		if inst.stops.Load() != 1 || inst.closes.Load() != 1 {
			t.Errorf("instance %d stops=%d closes=%d, want 1 1", i, inst.stops.Load(), inst.closes.Load())
		}
		if cfg.Ports.Reserved(inst.spec.Port) {
			t.Errorf("port %d still reserved after rollback", inst.spec.Port)
		}
	}
	if dep.calls.Load() != 1 {
		t.Errorf("owned dependency closed %d times, want 1", dep.calls.Load())
	}
	events := l.events.snapshot()
	if events[len(events)-1] != "close dependency" {
		t.Errorf("dependency must be closed last, events = %v", events)
	}
	if !slices.Equal(ports, []int{0, 0, 0}) {
		t.Errorf("ports = %v, want requested values restored", ports)
	}
	entries, err := os.ReadDir(cfg.BaseDataDir)
	if err != nil {
		t.Fatalf("read base dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("base dir not empty after rollback: %d entries", len(entries))
	}
}

func TestStartLocal_ReadyTimeout(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher()
	l.configure = func(inst *fakeInstance) { inst.block = true }
	cfg := testConfig(t, l)
	cfg.StartTimeout = 50 * time.Millisecond

	_, err := StartLocal(context.Background(), LocalParams{
		Kind:   KindCoordination,
		Config: cfg,
		Ports:  []int{0, 0},
	})
	if !errors.Is(err, ErrStartup) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want ErrStartup wrapping DeadlineExceeded", err)
	}
	for i, inst := range l.launched() {
		if inst.stops.Load() != 1 {
			t.Errorf("instance %d not stopped after timeout", i)
		}
	}
}

func TestStartLocal_LaunchFailure(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher()
	l.launchErr = func(spec InstanceSpec) error {
		if spec.Index == 2 {
			return errors.New("no binary")
		}
		return nil
	}
	cfg := testConfig(t, l)
	ports := []int{0, 0, 0}

	_, err := StartLocal(context.Background(), LocalParams{
		Kind:   KindCoordination,
		Config: cfg,
		Ports:  ports,
	})
	var se *StartupError
	if !errors.As(err, &se) || se.Index != 2 {
		t.Fatalf("error = %v, want *StartupError for index 2", err)
	}
	launched := l.launched()
	if len(launched) != 2 {
		t.Fatalf("launched %d instances, want 2", len(launched))
	}
	for i, inst := range launched {
		if inst.starts.Load() != 0 {
			t.Errorf("instance %d started although launch of a peer failed", i)
		}
		if inst.stops.Load() != 1 || inst.closes.Load() != 1 {
			t.Errorf("instance %d not torn down", i)
		}
	}
}

func TestStartLocal_PortInUse(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	l := newFakeLauncher()
	cfg := testConfig(t, l)
	ports := []int{0, port}

	_, err = StartLocal(context.Background(), LocalParams{
		Kind:   KindCoordination,
		Config: cfg,
		Ports:  ports,
	})
	if !errors.Is(err, ErrStartup) || !errors.Is(err, netutil.ErrPortInUse) {
		t.Fatalf("error = %v, want ErrStartup wrapping ErrPortInUse", err)
	}
	var se *StartupError
	if !errors.As(err, &se) || se.Index != 1 || se.Port != port {
		t.Errorf("StartupError = %+v, want index 1 port %d", se, port)
	}
	if len(l.launched()) != 0 {
		t.Error("nothing may be launched when a port cannot be reserved")
	}
	if ports[0] != 0 {
		t.Errorf("ports[0] = %d, want 0 restored", ports[0])
	}
}

func TestStartLocal_ExplicitPort(t *testing.T) {
	t.Parallel()

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	_ = probe.Close()

	l := newFakeLauncher()
	tier, err := StartLocal(context.Background(), LocalParams{
		Kind:   KindCoordination,
		Config: testConfig(t, l),
		Ports:  []int{port},
	})
	if err != nil {
		t.Fatalf("StartLocal() error: %v", err)
	}
	defer tier.Close()

	if got := tier.Descriptor(); got != fmt.Sprintf("127.0.0.1:%d", port) {
		t.Errorf("Descriptor() = %q", got)
	}
}

func TestTier_CloseIdempotent(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher()
	dep := &fakeCloser{events: l.events}
	tier, err := StartLocal(context.Background(), LocalParams{
		Kind:       KindBroker,
		Config:     testConfig(t, l),
		Ports:      []int{0},
		Dependency: Dependency{Descriptor: "127.0.0.1:2181", Closer: dep},
	})
	if err != nil {
		t.Fatalf("StartLocal() error: %v", err)
	}

	for i := range 3 {
		if err := tier.Close(); err != nil {
			t.Fatalf("Close() #%d error: %v", i+1, err)
		}
	}
	if got := l.launched()[0].stops.Load(); got != 1 {
		t.Errorf("instance stopped %d times, want 1", got)
	}
	if got := dep.calls.Load(); got != 1 {
		t.Errorf("dependency closed %d times, want 1", got)
	}
	want := []string{"start broker-0", "stop broker-0", "close dependency"}
	if got := l.events.snapshot(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestTier_CloseConcurrent(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher()
	tier, err := StartLocal(context.Background(), LocalParams{
		Kind:   KindCoordination,
		Config: testConfig(t, l),
		Ports:  []int{0, 0},
	})
	if err != nil {
		t.Fatalf("StartLocal() error: %v", err)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			if err := tier.Close(); err != nil {
				t.Errorf("Close() error: %v", err)
			}
		})
	}
	wg.Wait()

	for i, inst := range l.launched() {
		if inst.stops.Load() != 1 {
			t.Errorf("instance %d stopped %d times", i, inst.stops.Load())
		}
	}
}

func TestTier_CloseJoinsErrors(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher()
	l.configure = func(inst *fakeInstance) {
		if inst.spec.Index != 1 {
			inst.stopErr = fmt.Errorf("stuck %d", inst.spec.Index)
		}
	}
	cfg := testConfig(t, l)
	dep := &fakeCloser{events: l.events, err: errors.New("dep stuck")}
	tier, err := StartLocal(context.Background(), LocalParams{
		Kind:       KindBroker,
		Config:     cfg,
		Ports:      []int{0, 0, 0},
		Dependency: Dependency{Descriptor: "127.0.0.1:2181", Closer: dep},
	})
	if err != nil {
		t.Fatalf("StartLocal() error: %v", err)
	}
	ports := tier.Ports()

	err = tier.Close()
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("Close() error = %v, want ErrShutdown", err)
	}
	for _, want := range []string{"stuck 0", "stuck 2", "dep stuck"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Close() error %q missing %q", err, want)
		}
	}
	for i, inst := range l.launched() {
		if inst.stops.Load() != 1 || inst.closes.Load() != 1 {
			t.Errorf("instance %d stops=%d closes=%d, want 1 1", i, inst.stops.Load(), inst.closes.Load())
		}
	}
	for _, p := range ports {
		if cfg.Ports.Reserved(p) {
			t.Errorf("port %d still reserved", p)
		}
	}
	if dep.calls.Load() != 1 {
		t.Errorf("dependency closed %d times, want 1", dep.calls.Load())
	}
	if tier.State() != StateClosed {
		t.Errorf("State() = %v, want closed", tier.State())
	}
	if err := tier.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestStartLocal_ConcurrentTiersShareRegistry(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher()
	cfg := testConfig(t, l)

	const tiers = 5
	results := make([][]int, tiers)
	var wg sync.WaitGroup
	for i := range tiers {
		wg.Go(func() {
			ports := []int{0, 0}
			tier, err := StartLocal(context.Background(), LocalParams{
				Kind:   KindCoordination,
				Config: cfg,
				Ports:  ports,
			})
			if err != nil {
				t.Errorf("tier %d: %v", i, err)
				return
			}
			t.Cleanup(func() { _ = tier.Close() })
			results[i] = ports
		})
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, ports := range results {
		for _, p := range ports {
			if seen[p] {
				t.Errorf("port %d handed to two tiers", p)
			}
			seen[p] = true
		}
	}
}

func TestAttachExternal(t *testing.T) {
	t.Parallel()

	t.Run("keeps descriptor verbatim", func(t *testing.T) {
		t.Parallel()

		const desc = "b.example:2, a.example:1"
		tier, err := AttachExternal(KindWorker, desc, "")
		if err != nil {
			t.Fatalf("AttachExternal() error: %v", err)
		}
		if tier.Descriptor() != desc {
			t.Errorf("Descriptor() = %q, want %q", tier.Descriptor(), desc)
		}
		if tier.IsLocal() || tier.InstanceCount() != 0 || tier.Ports() != nil {
			t.Errorf("external tier reports local=%v count=%d ports=%v",
				tier.IsLocal(), tier.InstanceCount(), tier.Ports())
		}
		if tier.State() != StateReady {
			t.Errorf("State() = %v, want ready", tier.State())
		}
		if err := tier.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
		if err := tier.Close(); err != nil {
			t.Fatalf("second Close() error: %v", err)
		}
		if tier.State() != StateClosed {
			t.Errorf("State() = %v, want closed", tier.State())
		}
	})

	t.Run("rejects malformed descriptors", func(t *testing.T) {
		t.Parallel()

		for _, desc := range []string{"", " ", "localhost", "localhost:0", "a:1,,b:2"} {
			if _, err := AttachExternal(KindBroker, desc, ""); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("AttachExternal(%q) error = %v, want ErrInvalidArgument", desc, err)
			}
		}
	})
}

func TestStartupError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	tests := map[string]struct {
		err  *StartupError
		want string
	}{
		"instance": {
			err:  &StartupError{Kind: KindBroker, Index: 2, Port: 9092, Err: cause},
			want: "cluster startup failed: broker-2 (port 9092): connection refused",
		},
		"tier wide": {
			err:  &StartupError{Kind: KindWorker, Index: -1, Err: cause},
			want: "cluster startup failed: worker tier: connection refused",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !errors.Is(wrapped, ErrStartup) || !errors.Is(wrapped, cause) {
				t.Error("StartupError must match ErrStartup and its cause")
			}
		})
	}
}

func TestUndoStack(t *testing.T) {
	t.Parallel()

	var order []string
	var u undoStack
	u.push("a", func() error { order = append(order, "a"); return nil })
	u.push("b", func() error { order = append(order, "b"); return errors.New("b failed") })
	u.push("c", func() error { order = append(order, "c"); return nil })

	err := u.run()
	if !slices.Equal(order, []string{"c", "b", "a"}) {
		t.Errorf("order = %v, want reverse", order)
	}
	if err == nil || err.Error() != "b: b failed" {
		t.Errorf("run() error = %v, want \"b: b failed\"", err)
	}
	if u.len() != 0 {
		t.Error("stack not emptied after run")
	}
	if err := u.run(); err != nil {
		t.Errorf("second run() = %v, want nil", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateUninitialized: "uninitialized",
		StateStarting:      "starting",
		StateReady:         "ready",
		StateClosing:       "closing",
		StateClosed:        "closed",
		State(42):          "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", uint32(s), got, want)
		}
	}
}
