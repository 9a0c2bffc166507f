// Package session holds the live session type, the concurrency-safe
// registry that maps ids to sessions, and the database-backed history store.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/storage"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/worker"
)

// State represents the lifecycle state of a session
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transition is allowed
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// transitions lists the allowed moves out of each state
var transitions = map[State][]State{
	StateStarting: {StateRunning, StateFailed},
	StateRunning:  {StateStopped, StateFailed},
}

// TransitionError represents an invalid state transition
type TransitionError struct {
	SessionID string
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for session %s: %s -> %s", e.SessionID, e.From, e.To)
}

// Session is one live source being transcoded by exactly one worker.
// Identity fields are immutable; state is guarded by the session's own lock
// so liveness polls never hold the registry lock.
type Session struct {
	ID          string
	SourceURL   string
	OutputDir   string
	PlaylistURL string
	CreatedAt   time.Time

	worker worker.Process

	mu         sync.Mutex
	state      State
	endedAt    time.Time
	exitReason string

	release     func()
	releaseOnce sync.Once
}

// New creates a session in the starting state. release is called exactly
// once when the session stops holding an admission slot; it may be nil.
func New(id, sourceURL, outputDir, playlistURL string, proc worker.Process, release func()) *Session {
	return &Session{
		ID:          id,
		SourceURL:   sourceURL,
		OutputDir:   outputDir,
		PlaylistURL: playlistURL,
		CreatedAt:   time.Now(),
		worker:      proc,
		state:       StateStarting,
		release:     release,
	}
}

// Worker returns the process owned by this session
func (s *Session) Worker() worker.Process {
	return s.worker
}

// State returns the last recorded state without polling the worker
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to a new state
func (s *Session) Transition(to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to, reason)
}

func (s *Session) transitionLocked(to State, reason string) error {
	allowed := false
	for _, next := range transitions[s.state] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return &TransitionError{SessionID: s.ID, From: s.state, To: to}
	}

	s.state = to
	if to.Terminal() {
		s.endedAt = time.Now()
		s.exitReason = reason
		s.ReleaseSlot()
	}
	return nil
}

// Poll checks the worker right now. A running session whose worker has
// exited moves to failed; changed reports whether that happened on this call.
func (s *Session) Poll() (running bool, changed bool) {
	alive := s.worker != nil && s.worker.IsAlive()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return false, false
	}
	if alive {
		return true, false
	}

	reason := "worker exited"
	if s.worker != nil {
		reason = s.worker.ExitReason()
	}
	if err := s.transitionLocked(StateFailed, reason); err != nil {
		return false, false
	}
	return false, true
}

// Stop marks a running session stopped. It returns false when the session
// had already reached a terminal state.
func (s *Session) Stop() bool {
	return s.Transition(StateStopped, "stopped by request") == nil
}

// ReleaseSlot frees the admission slot held by the session. Safe to call
// more than once.
func (s *Session) ReleaseSlot() {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Info is a point-in-time view of a session
type Info struct {
	ID          string     `json:"id"`
	SourceURL   string     `json:"source_url"`
	OutputDir   string     `json:"output_dir"`
	PlaylistURL string     `json:"hls_url"`
	State       State      `json:"state"`
	Running     bool       `json:"running"`
	PID         int        `json:"pid,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	ExitReason  string     `json:"exit_reason,omitempty"`
}

// Info returns a snapshot of the session. The source URL is redacted.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:          s.ID,
		SourceURL:   worker.Redact(s.SourceURL),
		OutputDir:   s.OutputDir,
		PlaylistURL: s.PlaylistURL,
		State:       s.state,
		Running:     s.state == StateRunning,
		CreatedAt:   s.CreatedAt,
		ExitReason:  s.exitReason,
	}
	if s.worker != nil {
		info.PID = s.worker.PID()
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		info.EndedAt = &ended
	}
	return info
}

// Status is the answer to a status query
type Status struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
	State   State  `json:"state"`
}

// Inspection is a detailed view of one session
type Inspection struct {
	Info
	Stats      *worker.Stats     `json:"stats,omitempty"`
	StderrTail string            `json:"stderr_tail,omitempty"`
	Activity   *storage.Activity `json:"activity,omitempty"`
}
