// Package verification tracks short-lived ring/answer verification sessions,
// guarding against false-positive "answered" signals before an agent session
// is started for a call.
package verification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"callbridge-server/internal/observability"

	"github.com/google/uuid"
)

// ObservedEvent is one provider status observed during verification.
type ObservedEvent struct {
	Status string
	At     time.Time
}

// Session records the ring/answer events observed for one call within a
// bounded window.
type Session struct {
	ID          string
	CallSID     string
	PhoneNumber string
	StartedAt   time.Time
	Events      []ObservedEvent
	Terminal    bool
}

// Config holds verification timing policy.
type Config struct {
	// Window is how long after start a ring/answer confirmation counts.
	Window time.Duration
	// Retention is the age after which sessions are swept, terminal or not.
	Retention time.Duration
	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:        30 * time.Second,
		Retention:     10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Store holds verification sessions keyed by session ID with a secondary
// index by call SID. It never blocks call sessions beyond map access.
type Store struct {
	config Config
	logger *observability.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	byCall   map[string]string // call SID -> session ID

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStore(config Config, logger *observability.Logger) *Store {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Store{
		config:   config,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		byCall:   make(map[string]string),
	}
}

// Start begins a verification session for a call. Starting twice for the same
// call returns the existing session ID, so duplicate webhook deliveries are
// harmless.
func (s *Store) Start(callSID, phoneNumber string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byCall[callSID]; ok {
		return id
	}

	id := uuid.New().String()
	s.sessions[id] = &Session{
		ID:          id,
		CallSID:     callSID,
		PhoneNumber: phoneNumber,
		StartedAt:   s.now(),
	}
	s.byCall[callSID] = id
	return id
}

// RecordEvent appends a provider status observation to the call's session, if
// one exists. Terminal statuses mark the session terminal.
func (s *Store) RecordEvent(callSID, providerStatus string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCall[callSID]
	if !ok {
		return
	}
	sess := s.sessions[id]
	sess.Events = append(sess.Events, ObservedEvent{Status: providerStatus, At: s.now()})

	switch strings.ToLower(providerStatus) {
	case "completed", "failed", "busy", "no-answer", "no_answer", "canceled":
		sess.Terminal = true
	}
}

// Verified reports whether the call's ring/answer confirmation is still
// fresh: a verification session exists, has not gone terminal, and its latest
// ring or answer observation falls within the window. A session with no such
// observation, or only a stale one, means the answered signal cannot be
// trusted to start an agent session.
func (s *Store) Verified(callSID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCall[callSID]
	if !ok {
		return false
	}
	sess := s.sessions[id]
	if sess.Terminal {
		return false
	}

	cutoff := s.now().Add(-s.config.Window)
	for i := len(sess.Events) - 1; i >= 0; i-- {
		switch strings.ToLower(sess.Events[i].Status) {
		case "ringing", "answered", "in-progress", "in_progress":
			return !sess.Events[i].At.Before(cutoff)
		}
	}
	return false
}

// Get returns the session with the given ID.
func (s *Store) Get(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// GetByCall returns the session associated with a call SID.
func (s *Store) GetByCall(callSID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCall[callSID]
	if !ok {
		return nil, false
	}
	return s.sessions[id].clone(), true
}

// All returns every live verification session.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	return out
}

func (sess *Session) clone() *Session {
	cp := *sess
	cp.Events = make([]ObservedEvent, len(sess.Events))
	copy(cp.Events, sess.Events)
	return &cp
}

// Run starts the periodic sweep until the context is cancelled.
func (s *Store) Run(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				removed := s.Sweep()
				if removed > 0 {
					s.logger.Info(ctx, fmt.Sprintf("swept %d expired verification sessions", removed))
				}
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Sweep removes every session older than the retention window, regardless of
// its terminal flag. Returns the number of sessions removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.config.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.StartedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.byCall, sess.CallSID)
			removed++
		}
	}
	return removed
}
