package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/giantswarm/clusterenv/internal/fileutil"
	"github.com/giantswarm/clusterenv/internal/sentinel"
)

// ErrPortInUse is returned by Reserve when an explicitly requested port is
// held by this process, by another process sharing the lock directory, or by
// any other listener on the host.
const ErrPortInUse = sentinel.Error("port already in use")

// maxPortRetries bounds how many kernel-assigned ports Reserve will discard
// because they are already claimed in the registry or the lock directory.
const maxPortRetries = 20

// PortRegistry hands out TCP ports for cluster instances.
//
// A reservation binds the listener first and records the port second, so the
// port is never observable as free between "picked" and "bound". The
// in-process map guards against two tiers of the same test binary racing for
// the same port. When a lock directory is configured, a per-port flock file
// extends the guarantee to concurrently running test binaries.
type PortRegistry struct {
	mu      sync.Mutex
	ports   map[int]struct{}
	host    string
	lockDir string
	logFn   func() *slog.Logger
}

// NewPortRegistry creates a registry binding on host. An empty lockDir
// disables cross-process locking. logger is called each time the registry
// logs, so a registry shared for the life of the process follows logger
// replacements. If logger is nil or returns nil, slog.Default() is used.
func NewPortRegistry(host, lockDir string, logger func() *slog.Logger) *PortRegistry {
	if host == "" {
		host = "127.0.0.1"
	}
	return &PortRegistry{
		ports:   make(map[int]struct{}),
		host:    host,
		lockDir: lockDir,
		logFn:   logger,
	}
}

func (r *PortRegistry) log() *slog.Logger {
	if r.logFn != nil {
		if l := r.logFn(); l != nil {
			return l
		}
	}
	return slog.Default()
}

// Host returns the address listeners are bound to.
func (r *PortRegistry) Host() string {
	return r.host
}

// reserve records port in the registry. Returns false if it is already taken.
func (r *PortRegistry) reserve(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; ok {
		return false
	}
	r.ports[port] = struct{}{}
	return true
}

// release removes port from the registry.
func (r *PortRegistry) release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, port)
}

// Reserved reports whether port is currently held by a reservation.
func (r *PortRegistry) Reserved(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ports[port]
	return ok
}

// lockPort takes the cross-process lock for port. A nil lock with a nil
// error means locking is disabled. A nil lock with ErrPortInUse means
// another process holds the port.
func (r *PortRegistry) lockPort(port int) (*flock.Flock, error) {
	if r.lockDir == "" {
		return nil, nil
	}
	if err := fileutil.EnsureDir(r.lockDir); err != nil {
		return nil, fmt.Errorf("port lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(r.lockDir, "port-"+strconv.Itoa(port)+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock port %d: %w", port, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock port %d: %w", port, ErrPortInUse)
	}
	return fl, nil
}

// Reserve binds a TCP listener on the registry host and records the port.
// A port of 0 lets the kernel choose; any other value binds exactly that
// port or fails with ErrPortInUse. The returned Reservation holds the
// listener open until the caller takes it or releases the reservation.
func (r *PortRegistry) Reserve(port int) (*Reservation, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("reserve port %d: out of range", port)
	}
	if port == 0 {
		return r.reserveAny()
	}
	return r.reserveExact(port)
}

func (r *PortRegistry) reserveExact(port int) (*Reservation, error) {
	if !r.reserve(port) {
		return nil, fmt.Errorf("reserve port %d: %w", port, ErrPortInUse)
	}
	fl, err := r.lockPort(port)
	if err != nil {
		r.release(port)
		return nil, fmt.Errorf("reserve port %d: %w", port, err)
	}
	l, err := r.listen(port)
	if err != nil {
		unlock(r.log(), fl)
		r.release(port)
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("reserve port %d: %w: %w", port, ErrPortInUse, err)
		}
		return nil, fmt.Errorf("reserve port %d: %w", port, err)
	}
	return &Reservation{Port: port, listener: l, lock: fl, registry: r}, nil
}

// reserveAny asks the kernel for a free port, skipping ports already claimed
// in this registry or in the lock directory.
func (r *PortRegistry) reserveAny() (*Reservation, error) {
	for range maxPortRetries {
		l, err := r.listen(0)
		if err != nil {
			return nil, fmt.Errorf("reserve free port: %w", err)
		}
		tcpAddr, ok := l.Addr().(*net.TCPAddr)
		if !ok {
			_ = l.Close()
			return nil, fmt.Errorf("unexpected address type: %T", l.Addr())
		}
		port := tcpAddr.Port
		if !r.reserve(port) {
			r.log().Debug("port already in registry, retrying", "port", port)
			_ = l.Close()
			continue
		}
		fl, err := r.lockPort(port)
		if err != nil {
			_ = l.Close()
			r.release(port)
			if errors.Is(err, ErrPortInUse) {
				r.log().Debug("port locked by another process, retrying", "port", port)
				continue
			}
			return nil, fmt.Errorf("reserve free port: %w", err)
		}
		return &Reservation{Port: port, listener: l, lock: fl, registry: r}, nil
	}
	return nil, fmt.Errorf("reserve free port: exhausted %d attempts", maxPortRetries)
}

func (r *PortRegistry) listen(port int) (*net.TCPListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(r.host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve tcp address: %w", err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return l, nil
}

func unlock(log *slog.Logger, fl *flock.Flock) {
	if fl == nil {
		return
	}
	if err := fl.Close(); err != nil {
		log.Debug("release port lock", "path", fl.Path(), "error", err)
	}
}

// Reservation is a port held on behalf of one cluster instance.
type Reservation struct {
	// Port is the bound port number. Never zero.
	Port int

	mu       sync.Mutex
	listener *net.TCPListener
	lock     *flock.Flock
	registry *PortRegistry
	released bool
}

// TakeListener transfers ownership of the bound listener to the caller.
// In-process services serve on it directly. Services in a child process close
// it right before exec so the child can bind the same port. The port stays
// recorded in the registry until Release. Later calls return nil.
func (res *Reservation) TakeListener() net.Listener {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.listener == nil {
		return nil
	}
	l := res.listener
	res.listener = nil
	return l
}

// Release closes the listener if it was never taken, drops the cross-process
// lock and frees the port in the registry. Safe to call more than once.
func (res *Reservation) Release() {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.released {
		return
	}
	res.released = true
	// The listener goes first so a concurrent Reserve of the same port
	// cannot bind while we still hold it.
	if res.listener != nil {
		if err := res.listener.Close(); err != nil {
			res.registry.log().Debug("close reserved listener", "port", res.Port, "error", err)
		}
		res.listener = nil
	}
	unlock(res.registry.log(), res.lock)
	res.lock = nil
	res.registry.release(res.Port)
}
