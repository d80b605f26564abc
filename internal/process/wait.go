package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/clusterenv/internal/sentinel"
)

const (
	// ErrIntervalNotPositive indicates a non-positive poll interval.
	ErrIntervalNotPositive = sentinel.Error("interval must be positive")

	// ErrTimeoutNotPositive indicates a non-positive timeout.
	ErrTimeoutNotPositive = sentinel.Error("timeout must be positive")

	// ErrProcessExited indicates the process exited before becoming ready.
	ErrProcessExited = sentinel.Error("process exited before becoming ready")
)

// probeTimeout bounds a single TCP dial or HTTP request issued by a probe.
const probeTimeout = time.Second

// ReadinessCheck reports whether an instance is ready. attempt starts at 1.
// A non-nil error aborts polling.
type ReadinessCheck func(ctx context.Context, attempt int) (ready bool, err error)

// WaitReadyConfig configures WaitReady.
type WaitReadyConfig struct {
	Interval      time.Duration
	Timeout       time.Duration
	Name          string // e.g. "broker-0"
	Port          int
	Logger        *slog.Logger
	ProcessExited <-chan struct{} // abort as soon as this closes
}

// WaitReady polls check every Interval until it reports ready, returns an
// error, the process exits, or Timeout elapses.
func WaitReady(ctx context.Context, cfg WaitReadyConfig, check ReadinessCheck) error {
	if cfg.Name == "" {
		return errors.New("wait ready: name must not be empty")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrIntervalNotPositive)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrTimeoutNotPositive)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// The condition func is never invoked concurrently with itself.
	attempt := 0
	if err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			if cfg.ProcessExited != nil {
				select {
				case <-cfg.ProcessExited:
					return false, fmt.Errorf("process %s: %w", cfg.Name, ErrProcessExited)
				default:
				}
			}

			attempt++
			ready, err := check(pollCtx, attempt)
			if err != nil {
				return false, err
			}
			if ready {
				log.Debug("wait succeeded", "name", cfg.Name, "port", cfg.Port, "attempt", attempt)
			}
			return ready, nil
		}); err != nil {
		return fmt.Errorf("wait for %s readiness on port %d: %w", cfg.Name, cfg.Port, err)
	}
	return nil
}

// TCPCheck is ready once addr accepts a TCP connection.
func TCPCheck(addr string, log *slog.Logger) ReadinessCheck {
	dialer := &net.Dialer{Timeout: probeTimeout}
	return func(ctx context.Context, attempt int) (bool, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if log != nil {
				log.Debug("tcp probe", "addr", addr, "attempt", attempt, "error", err)
			}
			return false, nil
		}
		_ = conn.Close()
		return true, nil
	}
}

// HTTPCheck is ready once a GET of url answers 200 OK.
func HTTPCheck(client *http.Client, url string, log *slog.Logger) ReadinessCheck {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return func(ctx context.Context, attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return false, fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if log != nil {
				log.Debug("http probe", "url", url, "attempt", attempt, "error", err)
			}
			return false, nil
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	}
}
