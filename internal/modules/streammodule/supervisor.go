package streammodule

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/database"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/events"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/preflight"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/session"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/storage"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/worker"
	streamerrors "github.com/mantonx/rtsphls/internal/modules/streammodule/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var errShuttingDown = errors.New("supervisor is shutting down")

// SupervisorConfig holds the policy knobs of the supervisor
type SupervisorConfig struct {
	// SourceScheme is the prefix every source URL must carry
	SourceScheme string
	// MaxSessions caps live workers; zero means unlimited
	MaxSessions int
	// ReadyTimeout bounds the wait for the first playlist; zero skips it
	ReadyTimeout time.Duration
	// ReapGrace is how long an orphaned worker gets after SIGTERM
	ReapGrace time.Duration
}

// Dependencies are the collaborators of the supervisor. Storage and
// Spawner are required; the rest are optional.
type Dependencies struct {
	Storage *storage.Manager
	Spawner worker.Spawner
	Watcher *storage.PlaylistWatcher
	Store   *session.Store
	Prober  preflight.Prober
	Hub     *events.Hub
	Logger  hclog.Logger
}

// Supervisor owns the lifecycle of every live session: validating start
// requests, spawning workers, tracking them in the registry, and stopping
// them. It is safe for concurrent use by any number of request handlers.
type Supervisor struct {
	cfg      SupervisorConfig
	registry *session.Registry
	storage  *storage.Manager
	spawner  worker.Spawner
	watcher  *storage.PlaylistWatcher
	store    *session.Store
	prober   preflight.Prober
	hub      *events.Hub
	slots    *semaphore.Weighted
	logger   hclog.Logger

	// lifecycle is held for reading while a start commits or a stop
	// removes, and for writing while Shutdown snapshots the registry and
	// when it starts draining terminations
	lifecycle    sync.RWMutex
	closed       atomic.Bool
	drained      bool
	starts       sync.WaitGroup
	terminations sync.WaitGroup
}

// NewSupervisor creates a supervisor
func NewSupervisor(cfg SupervisorConfig, deps Dependencies) (*Supervisor, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage manager is required")
	}
	if deps.Spawner == nil {
		return nil, fmt.Errorf("worker spawner is required")
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if cfg.SourceScheme == "" {
		cfg.SourceScheme = "rtsp://"
	}

	s := &Supervisor{
		cfg:      cfg,
		registry: session.NewRegistry(),
		storage:  deps.Storage,
		spawner:  deps.Spawner,
		watcher:  deps.Watcher,
		store:    deps.Store,
		prober:   deps.Prober,
		hub:      deps.Hub,
		logger:   deps.Logger.Named("supervisor"),
	}
	if cfg.MaxSessions > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	return s, nil
}

// newSessionID returns 128 random bits as 32 lowercase hex characters
func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// StartSession validates sourceURL, spawns a worker for it and registers
// the new session as running. ctx bounds the preflight probe and the
// readiness wait only; the worker outlives it.
func (s *Supervisor) StartSession(ctx context.Context, sourceURL string) (session.Info, error) {
	const op = "start_session"

	if !strings.HasPrefix(sourceURL, s.cfg.SourceScheme) {
		return session.Info{}, streamerrors.InvalidSource(op, worker.Redact(sourceURL))
	}
	if !s.beginStart() {
		return session.Info{}, streamerrors.New(streamerrors.ErrorTypeInternal, op, errShuttingDown)
	}
	defer s.starts.Done()

	release, err := s.acquireSlot(op)
	if err != nil {
		return session.Info{}, err
	}
	committed := false
	defer func() {
		if !committed {
			release()
		}
	}()

	if s.prober != nil {
		if _, err := s.prober.Probe(ctx, sourceURL); err != nil {
			s.logger.Warn("source failed preflight", "source", worker.Redact(sourceURL), "error", err)
			return session.Info{}, streamerrors.SourceUnreachable(op, err)
		}
	}

	id, err := newSessionID()
	if err != nil {
		return session.Info{}, streamerrors.New(streamerrors.ErrorTypeInternal, op, err)
	}

	outputDir, err := s.storage.Allocate(id)
	if err != nil {
		return session.Info{}, streamerrors.New(streamerrors.ErrorTypeInternal, op, err).WithSession(id)
	}
	s.watch(id)

	proc, err := s.spawner.Spawn(id, sourceURL, outputDir)
	if err != nil {
		s.rollback(id)
		return session.Info{}, streamerrors.WorkerStart(op, err).WithSession(id)
	}

	sess := session.New(id, sourceURL, outputDir, s.storage.PlaylistURL(id), proc, release)

	if err := s.awaitReady(ctx, sess); err != nil {
		_ = proc.Terminate()
		_ = sess.Transition(session.StateFailed, err.Error())
		s.rollback(id)
		return session.Info{}, streamerrors.WorkerStart(op, err).
			WithSession(id).
			WithDetail("stderr", proc.Tail(20))
	}

	if err := sess.Transition(session.StateRunning, ""); err != nil {
		_ = proc.Terminate()
		s.rollback(id)
		return session.Info{}, streamerrors.New(streamerrors.ErrorTypeInternal, op, err).WithSession(id)
	}

	if err := s.commit(sess); err != nil {
		_ = proc.Terminate()
		_ = sess.Transition(session.StateFailed, err.Error())
		s.rollback(id)
		if errors.Is(err, errShuttingDown) {
			return session.Info{}, streamerrors.New(streamerrors.ErrorTypeInternal, op, err).WithSession(id)
		}
		return session.Info{}, err
	}
	committed = true

	info := sess.Info()
	s.logger.Info("session started",
		"session_id", id,
		"pid", info.PID,
		"source", info.SourceURL,
		"hls_url", info.PlaylistURL)

	s.publish(events.EventSessionStarted, sess, "session started")

	return info, nil
}

// beginStart registers an in-flight start unless Shutdown has begun
func (s *Supervisor) beginStart() bool {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()

	if s.closed.Load() {
		return false
	}
	s.starts.Add(1)
	return true
}

// commit records sess and makes it visible in the registry. It fails once
// Shutdown has taken its snapshot, so no session can outlive it.
func (s *Supervisor) commit(sess *session.Session) error {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()

	if s.closed.Load() {
		if err := sess.Worker().Terminate(); err != nil {
			s.logger.Warn("worker termination incomplete", "session_id", sess.ID, "error", err)
		}
		return errShuttingDown
	}

	// The row exists before the session can be stopped
	if s.store != nil {
		if err := s.store.Record(sess); err != nil {
			s.logger.Warn("failed to record session history", "session_id", sess.ID, "error", err)
		}
	}

	if err := s.registry.Insert(sess); err != nil {
		if s.store != nil {
			if ferr := s.store.MarkFailed(sess.ID, err.Error()); ferr != nil {
				s.logger.Warn("failed to record session failure", "session_id", sess.ID, "error", ferr)
			}
		}
		return err
	}
	return nil
}

// acquireSlot takes an admission slot. The returned release is idempotent.
func (s *Supervisor) acquireSlot(op string) (func(), error) {
	if s.slots == nil {
		return func() {}, nil
	}
	if !s.slots.TryAcquire(1) {
		return nil, streamerrors.CapacityExceeded(op, s.cfg.MaxSessions)
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.slots.Release(1) })
	}, nil
}

func (s *Supervisor) watch(id string) {
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Watch(id); err != nil {
		s.logger.Warn("failed to watch session directory", "session_id", id, "error", err)
	}
}

// rollback undoes the allocation of a session that never went live.
// Artifacts a worker managed to write are kept.
func (s *Supervisor) rollback(id string) {
	if s.watcher != nil {
		s.watcher.Unwatch(id)
	}
	if err := s.storage.Release(id); err != nil {
		s.logger.Warn("failed to release session directory", "session_id", id, "error", err)
	}
}

// awaitReady blocks until the first playlist appears, the worker exits or
// the ready timeout passes. Only an early exit is an error; a slow worker
// that is still alive is accepted.
func (s *Supervisor) awaitReady(ctx context.Context, sess *session.Session) error {
	if s.cfg.ReadyTimeout <= 0 || s.watcher == nil {
		return nil
	}

	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ready := make(chan error, 1)
	go func() {
		ready <- s.watcher.WaitForPlaylist(readyCtx, sess.ID)
	}()

	proc := sess.Worker()
	select {
	case <-proc.Done():
		return fmt.Errorf("worker exited before writing a playlist: %s", proc.ExitReason())
	case err := <-ready:
		if err != nil {
			s.logger.Warn("playlist not ready yet, accepting session",
				"session_id", sess.ID,
				"timeout", s.cfg.ReadyTimeout,
				"error", err)
		}
		return nil
	}
}

// StopSession removes the session and terminates its worker in the
// background. Removal is the point of truth: once this returns the id is
// gone even if the process is still shutting down.
func (s *Supervisor) StopSession(id string) error {
	s.lifecycle.RLock()
	if s.drained {
		s.lifecycle.RUnlock()
		return streamerrors.NotFound("stop_session", id)
	}
	// Counted before removal so Shutdown's wait covers a stop that races it
	s.terminations.Add(1)
	sess, err := s.registry.Remove(id)
	s.lifecycle.RUnlock()
	if err != nil {
		s.terminations.Done()
		return streamerrors.NotFound("stop_session", id)
	}

	sess.Stop()
	sess.ReleaseSlot()
	if s.watcher != nil {
		s.watcher.Unwatch(id)
	}

	go func() {
		defer s.terminations.Done()
		if err := sess.Worker().Terminate(); err != nil {
			s.logger.Warn("worker termination incomplete", "session_id", id, "error", err)
		}
	}()

	if s.store != nil {
		if err := s.store.Finish(sess); err != nil {
			s.logger.Warn("failed to record session stop", "session_id", id, "error", err)
		}
	}

	s.logger.Info("session stopped", "session_id", id, "state", sess.State())
	s.publish(events.EventSessionStopped, sess, "session stopped")
	return nil
}

// QueryStatus polls the worker of id right now
func (s *Supervisor) QueryStatus(id string) (session.Status, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return session.Status{}, streamerrors.NotFound("query_status", id)
	}

	running := s.poll(sess)
	return session.Status{ID: id, Running: running, State: sess.State()}, nil
}

// poll checks liveness and handles a worker found dead
func (s *Supervisor) poll(sess *session.Session) bool {
	running, changed := sess.Poll()
	if changed {
		info := sess.Info()
		s.logger.Warn("worker exited unexpectedly",
			"session_id", sess.ID,
			"reason", info.ExitReason,
			"stderr", sess.Worker().Tail(10))

		if s.store != nil {
			if err := s.store.Finish(sess); err != nil {
				s.logger.Warn("failed to record session failure", "session_id", sess.ID, "error", err)
			}
		}
		s.publish(events.EventSessionFailed, sess, info.ExitReason)
	}
	return running
}

// ListSessions returns every registered session with freshly polled state
func (s *Supervisor) ListSessions() []session.Info {
	sessions := s.registry.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		s.poll(sess)
		infos = append(infos, sess.Info())
	}
	return infos
}

// Inspect returns status plus resource usage, recent worker output and
// segment activity for id
func (s *Supervisor) Inspect(ctx context.Context, id string) (*session.Inspection, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, streamerrors.NotFound("inspect", id)
	}

	running := s.poll(sess)
	in := &session.Inspection{
		Info:       sess.Info(),
		StderrTail: sess.Worker().Tail(20),
	}

	if running {
		stats, err := worker.ProcessStats(ctx, sess.Worker().PID())
		if err != nil {
			s.logger.Debug("failed to sample worker stats", "session_id", id, "error", err)
		} else {
			in.Stats = &stats
		}
	}

	if s.watcher != nil {
		if activity, ok := s.watcher.Activity(id); ok {
			in.Activity = &activity
		}
	}
	return in, nil
}

// Count returns the number of registered sessions
func (s *Supervisor) Count() int {
	return s.registry.Len()
}

// History returns persisted session records, newest first
func (s *Supervisor) History(limit int) ([]database.LiveSession, error) {
	if s.store == nil {
		return nil, streamerrors.ErrHistoryDisabled
	}
	return s.store.List(limit)
}

// Reconcile closes history records left live by a previous run and
// terminates their orphaned workers. It returns how many were closed.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	records, err := s.store.Unfinished()
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, rec := range records {
		if _, err := s.registry.Get(rec.ID); err == nil {
			continue
		}

		reaped, err := worker.ReapOrphan(ctx, rec.WorkerPID, rec.OutputDir, s.cfg.ReapGrace, s.logger)
		if err != nil {
			s.logger.Warn("failed to reap orphaned worker", "session_id", rec.ID, "pid", rec.WorkerPID, "error", err)
		}
		if err := s.store.MarkFailed(rec.ID, "supervisor restarted"); err != nil {
			s.logger.Warn("failed to close stale session record", "session_id", rec.ID, "error", err)
			continue
		}
		closed++
		s.logger.Info("closed stale session", "session_id", rec.ID, "pid", rec.WorkerPID, "reaped", reaped)
	}
	return closed, nil
}

// Shutdown refuses new sessions, stops every registered one and waits for
// their workers to terminate or ctx to end
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.lifecycle.Lock()
	s.closed.Store(true)
	sessions := s.registry.List()
	s.lifecycle.Unlock()

	// Starts past admission either committed before the snapshot or
	// terminate their own worker
	if err := waitGroupCtx(ctx, &s.starts); err != nil {
		return fmt.Errorf("waiting for in-flight starts: %w", err)
	}

	var g errgroup.Group
	for _, sess := range sessions {
		id := sess.ID
		g.Go(func() error {
			err := s.StopSession(id)
			if errors.Is(err, streamerrors.ErrSessionNotFound) {
				// Stopped concurrently by a request
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Every stop that removed a session has been counted by now
	s.lifecycle.Lock()
	s.drained = true
	s.lifecycle.Unlock()

	if err := waitGroupCtx(ctx, &s.terminations); err != nil {
		return fmt.Errorf("waiting for workers to terminate: %w", err)
	}
	s.logger.Info("all workers terminated")
	return nil
}

func waitGroupCtx(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) publish(eventType events.EventType, sess *session.Session, message string) {
	if s.hub == nil {
		return
	}
	e := events.NewEvent(eventType, sess.ID, message)
	info := sess.Info()
	e.Data = map[string]interface{}{
		"state":   info.State,
		"hls_url": info.PlaylistURL,
		"pid":     info.PID,
	}
	s.hub.Publish(e)
}
