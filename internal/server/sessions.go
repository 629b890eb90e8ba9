package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/scan"
)

const (
	// DefaultIdleTTL is how long an unused session is kept
	DefaultIdleTTL = 10 * time.Minute
	// DefaultMaxSessions bounds the registry between janitor runs
	DefaultMaxSessions = 256
)

// ErrTooManySessions is returned when the registry is full of active sessions
var ErrTooManySessions = errors.New("too many sessions")

// PipelineFactory builds the pipeline of a new session around its presenter
type PipelineFactory func(presenter scan.Presenter) *scan.Pipeline

// Sessions maps client sessions to independent pipelines
type Sessions struct {
	mu          sync.Mutex
	sessions    map[string]*session
	newPipeline PipelineFactory
	idleTTL     time.Duration
	maxSessions int
	now         func() time.Time
}

type session struct {
	pipeline *scan.Pipeline
	tracker  *phaseTracker
	lastUsed time.Time
}

// NewSessions creates a registry holding at most maxSessions sessions. Zero
// values mean DefaultIdleTTL and DefaultMaxSessions.
func NewSessions(factory PipelineFactory, idleTTL time.Duration, maxSessions int) *Sessions {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Sessions{
		sessions:    make(map[string]*session),
		newPipeline: factory,
		idleTTL:     idleTTL,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// acquire returns the session for id, creating it on first use. A full
// registry is swept for idle sessions before a new one is refused.
func (s *Sessions) acquire(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		if len(s.sessions) >= s.maxSessions && s.evictLocked() == 0 {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, s.maxSessions)
		}
		tracker := &phaseTracker{phase: scan.PhaseReady}
		sess = &session{
			pipeline: s.newPipeline(tracker),
			tracker:  tracker,
		}
		s.sessions[id] = sess
		slog.Debug("Session created", "session", id)
	}
	sess.lastUsed = s.now()
	return sess, nil
}

// Phase returns the current phase of a session
func (s *Sessions) Phase(id string) (scan.Phase, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return sess.tracker.current(), true
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Evict drops sessions idle for longer than the TTL. Sessions with a run in
// flight are kept.
func (s *Sessions) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked()
}

func (s *Sessions) evictLocked() int {
	cutoff := s.now().Add(-s.idleTTL)
	evicted := 0
	for id, sess := range s.sessions {
		if sess.lastUsed.After(cutoff) || sess.tracker.current() != scan.PhaseReady {
			continue
		}
		delete(s.sessions, id)
		evicted++
	}
	return evicted
}

// RunJanitor evicts idle sessions every interval until ctx is done
func (s *Sessions) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				slog.Info("Evicted idle sessions", "count", n, "remaining", s.Len())
			}
		}
	}
}

// phaseTracker is the Presenter of a server session. Results travel back in
// the HTTP response, so only the phase is kept.
type phaseTracker struct {
	mu    sync.Mutex
	phase scan.Phase
}

func (t *phaseTracker) ShowPhase(p scan.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = p
}

func (t *phaseTracker) ShowVerdict(classify.Verdict) {}

func (t *phaseTracker) ShowError(string) {}

func (t *phaseTracker) current() scan.Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}
