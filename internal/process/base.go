package process

import (
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/giantswarm/clusterenv/internal/sentinel"
)

// ErrAlreadyStarted is returned when Start is called on a running process.
const ErrAlreadyStarted = sentinel.Error("process already started")

// ErrNilCmd is returned when SetupAndStart receives a nil *exec.Cmd.
const ErrNilCmd = sentinel.Error("cmd must not be nil")

// ErrEmptyCmdPath is returned when SetupAndStart receives a cmd without Path.
const ErrEmptyCmdPath = sentinel.Error("cmd.Path must not be empty")

// ErrEmptyDataDir is returned when SetupAndStart receives an empty data directory.
const ErrEmptyDataDir = sentinel.Error("data directory must not be empty")

// BaseProcess owns one child process: its log files, the single goroutine
// blocked in cmd.Wait, and the SIGTERM/SIGKILL stop sequence. Launchers embed
// it and add their own readiness probe.
//
// BaseProcess is not safe for concurrent use. The tier that owns an instance
// starts it from one goroutine and stops it from one goroutine.
type BaseProcess struct {
	cmd         *exec.Cmd
	waitDone    <-chan error    // cmd.Wait result, consumed once by Stop
	exited      <-chan struct{} // closed when the process exits
	logFiles    LogFiles
	name        string
	log         *slog.Logger
	stopTimeout time.Duration // used by Close when Stop was skipped
}

// NewBaseProcess creates a BaseProcess. name prefixes log files and error
// messages. A nil logger falls back to slog.Default(); a zero stopTimeout
// falls back to DefaultStopTimeout. Panics if name is empty.
func NewBaseProcess(name string, logger *slog.Logger, stopTimeout time.Duration) BaseProcess {
	if name == "" {
		panic("clusterenv: process name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return BaseProcess{name: name, log: logger, stopTimeout: stopTimeout}
}

// Stop terminates the process, waiting at most timeout before escalating.
// IsStarted reports false afterwards even when Stop fails. Stopping a
// process that was never started is a no-op.
func (b *BaseProcess) Stop(timeout time.Duration) error {
	if b.cmd == nil || b.cmd.Process == nil {
		b.reset()
		return nil
	}
	pid := b.cmd.Process.Pid
	err := stopWithDone(b.cmd, b.waitDone, timeout, b.name)
	if err != nil {
		b.log.Warn("process stop failed; process may be orphaned",
			"process", b.name, "pid", pid, "error", err)
	}
	b.reset()
	return err
}

func (b *BaseProcess) reset() {
	b.cmd = nil
	b.waitDone = nil
	b.exited = nil
}

// Close releases the log files. A process still running at this point is
// stopped first with the configured stop timeout and a warning is logged.
func (b *BaseProcess) Close() {
	if b.cmd != nil {
		b.log.Warn("process.Close called without Stop; stopping automatically",
			"process", b.name)
		timeout := b.stopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		if err := b.Stop(timeout); err != nil {
			b.log.Warn("auto-stop during Close failed",
				"process", b.name, "error", err)
		}
	}
	b.logFiles.Close()
}

// Logger returns the logger used by this process.
func (b *BaseProcess) Logger() *slog.Logger {
	return b.log
}

// Name returns the process name.
func (b *BaseProcess) Name() string {
	return b.name
}

// Exited returns a channel closed when the process exits, or nil when the
// process is not running.
func (b *BaseProcess) Exited() <-chan struct{} {
	return b.exited
}

// IsStarted reports whether the process is running under this BaseProcess.
func (b *BaseProcess) IsStarted() bool {
	return b.cmd != nil
}

// Pid returns the OS process id, or 0 when not running.
func (b *BaseProcess) Pid() int {
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// SetupAndStart redirects the command's output into log files under dataDir,
// runs it with dataDir as working directory and starts the single cmd.Wait
// goroutine. cmd must have Path and Args set.
func (b *BaseProcess) SetupAndStart(cmd *exec.Cmd, dataDir string) error {
	if cmd == nil {
		return ErrNilCmd
	}
	if cmd.Path == "" {
		return ErrEmptyCmdPath
	}
	if dataDir == "" {
		return ErrEmptyDataDir
	}
	if b.cmd != nil {
		return ErrAlreadyStarted
	}

	cmd.Dir = dataDir
	configureSysProcAttr(cmd)

	logFiles, err := StartCmd(cmd, dataDir, b.name)
	if err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	b.cmd = cmd
	b.logFiles = logFiles

	// cmd.Wait may only be called once. done carries its result to Stop;
	// exited is the broadcast used by readiness polling.
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- cmd.Wait()
		close(exited)
	}()
	b.waitDone = done
	b.exited = exited

	return nil
}
