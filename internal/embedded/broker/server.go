package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/giantswarm/clusterenv/internal/core"
	"github.com/giantswarm/clusterenv/internal/embedded/coordination"
	"github.com/giantswarm/clusterenv/internal/process"
	"github.com/giantswarm/clusterenv/internal/sentinel"
)

// RegistrationPrefix is the coordination key prefix brokers register under.
const RegistrationPrefix = "/brokers/ids/"

// ErrNotServing is returned by CheckHealth when a broker answers with any
// status other than SERVING.
const ErrNotServing = sentinel.Error("broker not serving")

const (
	readinessPollInterval = 10 * time.Millisecond
	healthCheckTimeout    = time.Second
)

// Registration is what a broker writes into coordination.
type Registration struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RegistrationKey returns the coordination key of the broker with id. IDs
// are unique per instance, so brokers of different tiers sharing one
// coordination tier never overwrite each other.
func RegistrationKey(id string) string {
	return RegistrationPrefix + id
}

// Config configures one broker.
type Config struct {
	ID       string
	Name     string // e.g. "broker-0"
	Index    int
	Host     string
	Listener net.Listener

	// Coordination is the coordination tier descriptor.
	Coordination string

	Logger *slog.Logger
}

// Server is one broker. It implements core.Instance.
type Server struct {
	cfg   Config
	log   *slog.Logger
	coord *coordination.Client
	port  int

	mu         sync.Mutex
	grpc       *grpc.Server
	health     *health.Server
	serveDone  chan struct{}
	registered bool
	stopped    bool
}

// New builds a broker. Nothing is served until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Listener == nil {
		return nil, errors.New("broker: listener must not be nil")
	}
	coord, err := coordination.NewClient(cfg.Coordination, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "broker-" + strconv.Itoa(cfg.Index)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	port := 0
	if addr, ok := cfg.Listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Server{cfg: cfg, log: log, coord: coord, port: port}, nil
}

// Launcher builds brokers for a local tier; spec.Dependency is the
// coordination descriptor.
func Launcher() core.Launcher {
	return core.LauncherFunc(func(spec core.InstanceSpec) (core.Instance, error) {
		return New(Config{
			ID:           spec.ID,
			Name:         spec.Name(),
			Index:        spec.Index,
			Host:         spec.Host,
			Listener:     spec.Listener,
			Coordination: spec.Dependency,
			Logger:       spec.Logger,
		})
	})
}

// Start begins serving with status NOT_SERVING, registers the broker in
// coordination and then switches to SERVING.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.grpc != nil {
		s.mu.Unlock()
		return process.ErrAlreadyStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("%s: already stopped", s.cfg.Name)
	}
	s.grpc = grpc.NewServer()
	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.serveDone = make(chan struct{})
	srv, done := s.grpc, s.serveDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(s.cfg.Listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Warn("grpc server stopped unexpectedly", "name", s.cfg.Name, "error", err)
		}
	}()

	reg, err := json.Marshal(Registration{ID: s.cfg.ID, Host: s.cfg.Host, Port: s.port})
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	if _, err := s.coord.Put(ctx, RegistrationKey(s.cfg.ID), string(reg)); err != nil {
		return fmt.Errorf("register in coordination: %w", err)
	}
	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.log.Debug("broker serving", "addr", s.Addr(), "key", RegistrationKey(s.cfg.ID))
	return nil
}

// WaitReady polls the broker's own health service until it reports SERVING.
func (s *Server) WaitReady(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	done := s.serveDone
	s.mu.Unlock()
	addr := s.Addr()
	return process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      readinessPollInterval,
		Timeout:       timeout,
		Name:          s.cfg.Name,
		Port:          s.port,
		Logger:        s.log,
		ProcessExited: done,
	}, func(ctx context.Context, attempt int) (bool, error) {
		if err := CheckHealth(ctx, addr); err != nil {
			s.log.Debug("broker health probe", "addr", addr, "attempt", attempt, "error", err)
			return false, nil
		}
		return true, nil
	})
}

// Stop reports NOT_SERVING, removes the registration and stops the gRPC
// server, gracefully at first and forcibly once timeout elapses. A failed
// deregistration is only logged: coordination may already be gone.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	s.stopped = true
	srv, hs, done, registered := s.grpc, s.health, s.serveDone, s.registered
	s.registered = false
	s.mu.Unlock()

	if srv == nil {
		if err := s.cfg.Listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%s: close listener: %w", s.cfg.Name, err)
		}
		return nil
	}

	hs.Shutdown()
	if registered {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := s.coord.Delete(ctx, RegistrationKey(s.cfg.ID))
		cancel()
		if err != nil {
			s.log.Warn("deregister broker", "name", s.cfg.Name, "error", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-stopped:
	case <-t.C:
		s.log.Warn("graceful stop timed out; forcing", "name", s.cfg.Name)
		srv.Stop()
		<-stopped
	}
	<-done
	return nil
}

// Close forcibly stops anything Stop left running.
func (s *Server) Close() {
	s.mu.Lock()
	s.stopped = true
	srv := s.grpc
	s.mu.Unlock()
	if srv != nil {
		srv.Stop()
	}
	_ = s.cfg.Listener.Close()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.cfg.Listener.Addr().String()
}

// CheckHealth asks the broker at addr for its overall health and returns
// nil only when it answers SERVING.
func CheckHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", addr, err)
	}
	defer conn.Close() //nolint:errcheck // nothing to do on close failure

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("check broker %s: %w", addr, err)
	}
	if st := resp.GetStatus(); st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("broker %s status %s: %w", addr, st, ErrNotServing)
	}
	return nil
}

// Registered lists the brokers currently registered in the coordination
// tier at coordDesc.
func Registered(ctx context.Context, coordDesc string) ([]Registration, error) {
	c, err := coordination.NewClient(coordDesc, nil)
	if err != nil {
		return nil, err
	}
	entries, err := c.List(ctx, RegistrationPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(entries))
	for _, e := range entries {
		var r Registration
		if err := json.Unmarshal([]byte(e.Value), &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, r)
	}
	return out, nil
}
