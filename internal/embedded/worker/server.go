package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/giantswarm/clusterenv/internal/core"
	"github.com/giantswarm/clusterenv/internal/descriptor"
	"github.com/giantswarm/clusterenv/internal/embedded/broker"
	"github.com/giantswarm/clusterenv/internal/embedded/httpserve"
)

// Version is reported in Info.
const Version = "clusterenv-worker/1"

// Info is the body of GET /.
type Info struct {
	ID               string `json:"id"`
	Index            int    `json:"index"`
	BootstrapServers string `json:"bootstrap_servers"`
	Version          string `json:"version"`
}

// Config configures one worker.
type Config struct {
	ID       string
	Name     string
	Index    int
	Listener net.Listener

	// Brokers is the broker tier descriptor.
	Brokers string

	Logger *slog.Logger
}

// Server is one worker. It implements core.Instance.
type Server struct {
	cfg     Config
	brokers []string
	log     *slog.Logger
	http    *httpserve.Server
}

// New builds a worker. Nothing is served until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Listener == nil {
		return nil, errors.New("worker: listener must not be nil")
	}
	addrs, err := descriptor.Addresses(cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("worker: brokers: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("worker-%d", cfg.Index)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, brokers: addrs, log: log}
	s.http = httpserve.New(cfg.Name, cfg.Listener, s.routes(), log)
	return s, nil
}

// Launcher builds workers for a local tier; spec.Dependency is the broker
// descriptor.
func Launcher() core.Launcher {
	return core.LauncherFunc(func(spec core.InstanceSpec) (core.Instance, error) {
		return New(Config{
			ID:       spec.ID,
			Name:     spec.Name(),
			Index:    spec.Index,
			Listener: spec.Listener,
			Brokers:  spec.Dependency,
			Logger:   spec.Logger,
		})
	})
}

// Start checks the brokers and begins serving.
func (s *Server) Start(ctx context.Context) error {
	for _, addr := range s.brokers {
		if err := broker.CheckHealth(ctx, addr); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return s.http.Start()
}

// WaitReady waits for the health endpoint.
func (s *Server) WaitReady(ctx context.Context, timeout time.Duration) error {
	return s.http.WaitReady(ctx, timeout)
}

// Stop stops serving.
func (s *Server) Stop(timeout time.Duration) error {
	return s.http.Stop(timeout)
}

// Close releases the listener.
func (s *Server) Close() {
	s.http.Close()
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.http.Addr() }

// Info returns what GET / serves.
func (s *Server) Info() Info {
	return Info{
		ID:               s.cfg.ID,
		Index:            s.cfg.Index,
		BootstrapServers: s.cfg.Brokers,
		Version:          Version,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+httpserve.HealthPath, httpserve.Health(nil))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		httpserve.WriteJSON(w, http.StatusOK, s.Info())
	})
	return mux
}
