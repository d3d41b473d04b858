// Package callsession manages live agent sessions for calls: at most one
// session per call, a duplex audio bridge per session, and transcript capture
// flushed to storage on session end.
package callsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callbridge-server/internal/observability"
)

// Manager owns every live session, keyed by call SID. All lifecycle mutation
// for one call is serialized through a per-call lock, so concurrent duplicate
// creates and racing create/end pairs collapse to one well-ordered outcome.
type Manager struct {
	config      BridgeConfig
	providers   ProviderRegistry
	transcripts TranscriptSink
	logger      *observability.Logger

	mu       sync.Mutex
	sessions map[string]*session
	locks    map[string]*sync.Mutex
}

func NewManager(config BridgeConfig, providers ProviderRegistry, transcripts TranscriptSink, logger *observability.Logger) *Manager {
	return &Manager{
		config:      config,
		providers:   providers,
		transcripts: transcripts,
		logger:      logger,
		sessions:    make(map[string]*session),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (m *Manager) callLock(callSID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[callSID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[callSID] = l
	}
	return l
}

// Active reports whether a session exists for the call.
func (m *Manager) Active(callSID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[callSID]
	return ok
}

// ActiveCalls returns the call SIDs with a registered session.
func (m *Manager) ActiveCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sids := make([]string, 0, len(m.sessions))
	for sid := range m.sessions {
		sids = append(sids, sid)
	}
	return sids
}

// Get returns a snapshot of the call's session.
func (m *Manager) Get(callSID string) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callSID]
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return sess.info(), nil
}

// Create registers a session for the call. Creating a session that already
// exists is a no-op, so the answered webhook and the media socket connect can
// both call it without coordination. Invalid configuration is fatal and no
// session is registered.
func (m *Manager) Create(ctx context.Context, callSID string, cfg AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAgentConfig, err)
	}
	if _, err := m.providers.provider(cfg.Provider); err != nil {
		return err
	}

	lock := m.callLock(callSID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callSID]; ok {
		return nil
	}
	m.sessions[callSID] = &session{
		callSID:   callSID,
		cfg:       cfg,
		startedAt: time.Now(),
	}
	m.logger.Info(ctx, fmt.Sprintf("created agent session for call %s (provider=%s)", callSID, cfg.Provider))
	return nil
}

// AttachMedia binds the telephony media socket to the call's session and
// starts the audio bridge. The session must already exist and must not have a
// live bridge.
func (m *Manager) AttachMedia(ctx context.Context, callSID string, media MediaStream) error {
	lock := m.callLock(callSID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[callSID]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if sess.bridge != nil {
		return fmt.Errorf("media already attached for call %s", callSID)
	}

	provider, err := m.providers.provider(sess.cfg.Provider)
	if err != nil {
		return err
	}

	bridge := NewBridge(callSID, m.config, media, provider, func() {
		m.End(context.Background(), callSID)
	}, m.logger)
	if err := bridge.Start(ctx, sess.cfg); err != nil {
		return fmt.Errorf("failed to start audio bridge: %w", err)
	}

	m.mu.Lock()
	sess.bridge = bridge
	m.mu.Unlock()
	m.logger.Info(ctx, fmt.Sprintf("media attached for call %s", callSID))
	return nil
}

// Reconfigure swaps the session's agent configuration in place. With a live
// bridge the agent stream is replaced without dropping the media socket.
func (m *Manager) Reconfigure(ctx context.Context, callSID string, cfg AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAgentConfig, err)
	}
	if _, err := m.providers.provider(cfg.Provider); err != nil {
		return err
	}

	lock := m.callLock(callSID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[callSID]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if sess.bridge != nil && sess.cfg.Provider != cfg.Provider {
		// The bridge's provider is fixed at attach. Swapping providers
		// mid-call would need a new bridge against the same socket.
		return fmt.Errorf("%w: cannot change provider on a live bridge", ErrInvalidAgentConfig)
	}
	if sess.bridge != nil {
		if err := sess.bridge.Reconfigure(ctx, cfg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	sess.cfg = cfg
	m.mu.Unlock()
	return nil
}

// SetMuted toggles the mute flag on the call's live bridge.
func (m *Manager) SetMuted(callSID string, muted bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[callSID]
	m.mu.Unlock()
	if !ok || sess.bridge == nil {
		return ErrSessionNotFound
	}
	sess.bridge.SetMuted(muted)
	return nil
}

// End tears the call's session down: the bridge is stopped, the accumulated
// transcript is flushed to storage, and the session is removed. Ending a call
// with no session is a no-op.
func (m *Manager) End(ctx context.Context, callSID string) {
	lock := m.callLock(callSID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[callSID]
	if ok {
		delete(m.sessions, callSID)
		delete(m.locks, callSID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if sess.bridge != nil {
		sess.bridge.Stop()
		if text := sess.bridge.Transcript(); text != "" && m.transcripts != nil {
			if err := m.transcripts.AppendTranscript(ctx, callSID, text); err != nil {
				m.logger.Error(ctx, fmt.Sprintf("failed to flush transcript for call %s", callSID), err)
			}
		}
	}
	m.logger.Info(ctx, fmt.Sprintf("ended agent session for call %s", callSID))
}

// EndAll tears down every live session, for server shutdown.
func (m *Manager) EndAll(ctx context.Context) {
	m.mu.Lock()
	sids := make([]string, 0, len(m.sessions))
	for sid := range m.sessions {
		sids = append(sids, sid)
	}
	m.mu.Unlock()
	for _, sid := range sids {
		m.End(ctx, sid)
	}
}
