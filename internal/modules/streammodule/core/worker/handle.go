package worker

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Process is the supervisor's view of a running worker
type Process interface {
	PID() int
	IsAlive() bool
	Done() <-chan struct{}
	Terminate() error
	ExitReason() string
	Tail(lines int) string
}

// Handle owns one external worker process. A reaper goroutine owns
// cmd.Wait, so exited workers never linger as zombies and liveness is a
// channel poll rather than a signal probe.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	startTime time.Time
	logger    hclog.Logger
	stderr    *ringBuffer

	grace       time.Duration
	killTimeout time.Duration

	done      chan struct{}
	mu        sync.Mutex
	exitErr   error
	exitTime  time.Time
	terminate sync.Once
	termErr   error
}

// StartOptions controls how a process is launched
type StartOptions struct {
	CaptureStderr     bool
	StderrBufferBytes int
	GracePeriod       time.Duration
	KillTimeout       time.Duration
}

// Start launches bin in its own process group. The process is not bound
// to any request context: it lives until Terminate or its own exit.
func Start(bin string, args []string, opts StartOptions, logger hclog.Logger) (*Handle, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	cmd := exec.Command(bin, args...)
	setProcessGroup(cmd)

	h := &Handle{
		cmd:         cmd,
		logger:      logger,
		grace:       opts.GracePeriod,
		killTimeout: opts.KillTimeout,
		done:        make(chan struct{}),
	}
	if h.grace <= 0 {
		h.grace = 3 * time.Second
	}
	if h.killTimeout <= 0 {
		h.killTimeout = 2 * time.Second
	}

	// nil Stdout/Stderr go to the null device
	if opts.CaptureStderr {
		h.stderr = newRingBuffer(opts.StderrBufferBytes)
		cmd.Stderr = h.stderr
		cmd.WaitDelay = h.killTimeout
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", bin, err)
	}

	h.pid = cmd.Process.Pid
	h.startTime = time.Now()
	h.logger = logger.With("pid", h.pid)
	h.logger.Debug("worker process started", "args", redactArgs(args))

	go h.monitor()

	return h, nil
}

// monitor waits for the process and records how it ended
func (h *Handle) monitor() {
	defer close(h.done)

	err := h.cmd.Wait()

	h.mu.Lock()
	h.exitErr = err
	h.exitTime = time.Now()
	h.mu.Unlock()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		h.logger.Info("worker process exited", "duration", time.Since(h.startTime))
	case errors.As(err, &exitErr):
		h.logger.Warn("worker process exited with error",
			"exit_code", exitErr.ExitCode(),
			"duration", time.Since(h.startTime),
			"stderr_tail", h.Tail(5))
	default:
		h.logger.Error("worker process wait failed", "error", err)
	}
}

// PID returns the operating system process id
func (h *Handle) PID() int {
	return h.pid
}

// StartTime returns when the process was launched
func (h *Handle) StartTime() time.Time {
	return h.startTime
}

// ExitTime returns when the process was reaped, or the zero time
func (h *Handle) ExitTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitTime
}

// IsAlive reports whether the process has not yet exited. Never blocks.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitReason describes how the process ended, or "" while it runs
func (h *Handle) ExitReason() string {
	if h.IsAlive() {
		return ""
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exitErr == nil {
		return "exited normally"
	}
	return h.exitErr.Error()
}

// Tail returns the last lines of captured diagnostics
func (h *Handle) Tail(lines int) string {
	if h.stderr == nil {
		return ""
	}
	return h.stderr.Tail(lines)
}

// Terminate asks the process group to stop, escalating to SIGKILL after
// the grace period. Safe to call more than once; later calls return the
// first result.
func (h *Handle) Terminate() error {
	h.terminate.Do(func() {
		h.termErr = h.stop()
	})
	return h.termErr
}

func (h *Handle) stop() error {
	if !h.IsAlive() {
		return nil
	}

	if err := terminateGroup(h.cmd.Process); err != nil {
		h.logger.Debug("failed to signal worker process group", "error", err)
	}

	select {
	case <-h.done:
		h.logger.Debug("worker terminated gracefully")
		return nil
	case <-time.After(h.grace):
	}

	h.logger.Warn("worker did not terminate gracefully, sending SIGKILL", "grace", h.grace)
	if err := killGroup(h.cmd.Process); err != nil {
		h.logger.Debug("failed to kill worker process group", "error", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(h.killTimeout):
		return fmt.Errorf("process %d could not be killed", h.pid)
	}
}
