package coordination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/giantswarm/clusterenv/internal/core"
	"github.com/giantswarm/clusterenv/internal/embedded/httpserve"
)

// DBFile is the database file name inside a member's data directory.
const DBFile = "coordination.db"

// maxValueBytes bounds a PUT body.
const maxValueBytes = 1 << 20

// Config configures one coordination member.
type Config struct {
	ID       string
	Name     string // e.g. "coordination-0"
	Listener net.Listener
	DataDir  string
	Logger   *slog.Logger
}

// Server is one coordination member. It implements core.Instance.
type Server struct {
	cfg  Config
	log  *slog.Logger
	http *httpserve.Server

	mu    sync.Mutex
	store *Store
}

// New builds a member. Nothing is opened until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Listener == nil {
		return nil, errors.New("coordination: listener must not be nil")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("coordination: data directory must not be empty")
	}
	if cfg.Name == "" {
		cfg.Name = "coordination"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, log: log}
	s.http = httpserve.New(cfg.Name, cfg.Listener, s.routes(), log)
	return s, nil
}

// Launcher builds coordination members for a local tier.
func Launcher() core.Launcher {
	return core.LauncherFunc(func(spec core.InstanceSpec) (core.Instance, error) {
		return New(Config{
			ID:       spec.ID,
			Name:     spec.Name(),
			Listener: spec.Listener,
			DataDir:  spec.DataDir,
			Logger:   spec.Logger,
		})
	})
}

// Start opens the database and begins serving.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return fmt.Errorf("%s: already started", s.cfg.Name)
	}
	store, err := OpenStore(ctx, filepath.Join(s.cfg.DataDir, DBFile))
	if err != nil {
		return err
	}
	if err := s.http.Start(); err != nil {
		_ = store.Close()
		return err
	}
	s.store = store
	s.log.Debug("coordination member serving", "addr", s.http.Addr(), "db", store.Path())
	return nil
}

// WaitReady waits for the health endpoint.
func (s *Server) WaitReady(ctx context.Context, timeout time.Duration) error {
	return s.http.WaitReady(ctx, timeout)
}

// Stop stops serving and closes the database.
func (s *Server) Stop(timeout time.Duration) error {
	err := s.http.Stop(timeout)
	return errors.Join(err, s.closeStore())
}

// Close releases everything Stop would.
func (s *Server) Close() {
	s.http.Close()
	if err := s.closeStore(); err != nil {
		s.log.Warn("close coordination store", "error", err)
	}
}

func (s *Server) closeStore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	if err != nil {
		return fmt.Errorf("%s: close store: %w", s.cfg.Name, err)
	}
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.http.Addr() }

func (s *Server) currentStore() (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, errors.New("store closed")
	}
	return s.store, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+httpserve.HealthPath, httpserve.Health(func(ctx context.Context) error {
		st, err := s.currentStore()
		if err != nil {
			return err
		}
		return st.Ping(ctx)
	}))
	mux.HandleFunc("GET /v1/keys", s.handleList)
	mux.HandleFunc("GET /v1/keys/{key...}", s.handleGet)
	mux.HandleFunc("PUT /v1/keys/{key...}", s.handlePut)
	mux.HandleFunc("DELETE /v1/keys/{key...}", s.handleDelete)
	return mux
}

// putRequest is the body of PUT /v1/keys/{key}.
type putRequest struct {
	Value string `json:"value"`
}

// listResponse is the body of GET /v1/keys.
type listResponse struct {
	Entries []Entry `json:"entries"`
}

func keyFrom(r *http.Request) string {
	return "/" + r.PathValue("key")
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.currentStore()
	if err != nil {
		httpserve.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	e, err := st.Get(r.Context(), keyFrom(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httpserve.WriteJSON(w, http.StatusOK, e)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	st, err := s.currentStore()
	if err != nil {
		httpserve.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		httpserve.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxValueBytes {
		httpserve.WriteError(w, http.StatusRequestEntityTooLarge, errors.New("value too large"))
		return
	}
	var req putRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpserve.WriteError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	e, err := st.Put(r.Context(), keyFrom(r), req.Value)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httpserve.WriteJSON(w, http.StatusOK, e)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	st, err := s.currentStore()
	if err != nil {
		httpserve.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err := st.Delete(r.Context(), keyFrom(r)); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	st, err := s.currentStore()
	if err != nil {
		httpserve.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	entries, err := st.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httpserve.WriteJSON(w, http.StatusOK, listResponse{Entries: entries})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		httpserve.WriteError(w, http.StatusNotFound, err)
		return
	}
	httpserve.WriteError(w, http.StatusInternalServerError, err)
}
