package httpserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/giantswarm/clusterenv/internal/process"
)

// HealthPath is the readiness endpoint every embedded HTTP service serves.
const HealthPath = "/healthz"

// readinessPollInterval is the delay between readiness probes.
const readinessPollInterval = 10 * time.Millisecond

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Server serves one handler on one listener.
type Server struct {
	name     string
	listener net.Listener
	srv      *http.Server
	log      *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
	err     error
}

// New wraps l and h. Nothing is served until Start.
func New(name string, l net.Listener, h http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		name:     name,
		listener: l,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		log: log,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return process.ErrAlreadyStarted
	}
	if s.closed {
		return fmt.Errorf("%s: server already closed", s.name)
	}
	s.started = true
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server stopped unexpectedly", "name", s.name, "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the http URL of path on this server.
func (s *Server) URL(path string) string {
	return "http://" + s.Addr() + path
}

// Port returns the listening port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// WaitReady polls HealthPath until it answers 200 OK.
func (s *Server) WaitReady(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	return process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      readinessPollInterval,
		Timeout:       timeout,
		Name:          s.name,
		Port:          s.Port(),
		Logger:        s.log,
		ProcessExited: done,
	}, process.HTTPCheck(nil, s.URL(HealthPath), s.log))
}

// Stop shuts the server down gracefully, forcing open connections closed
// once timeout elapses. Stopping a server that never started only closes
// its listener.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	started, done := s.started, s.done
	s.closed = true
	s.mu.Unlock()

	if !started {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%s: close listener: %w", s.name, err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown timed out; closing connections", "name", s.name, "error", err)
		if err := s.srv.Close(); err != nil {
			return fmt.Errorf("%s: force close: %w", s.name, err)
		}
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("%s: %w", s.name, s.err)
	}
	return nil
}

// Close releases the listener and any open connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.srv.Close()
	_ = s.listener.Close()
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteError writes an ErrorBody with status.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorBody{Error: err.Error()})
}

// Health answers 200 OK while check returns nil and 503 otherwise.
func Health(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				WriteError(w, http.StatusServiceUnavailable, err)
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
