package callsession

import (
	"fmt"
	"time"
)

// ProviderRegistry maps agent config provider names to implementations.
type ProviderRegistry map[string]AgentProvider

func (r ProviderRegistry) provider(name string) (AgentProvider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidAgentConfig, name)
	}
	return p, nil
}

// session is the live state for one call's agent session. The bridge stays
// nil until the media socket attaches.
type session struct {
	callSID   string
	cfg       AgentConfig
	startedAt time.Time
	bridge    *Bridge
}

// SessionInfo is a read-only snapshot of a live session.
type SessionInfo struct {
	CallSID    string
	Provider   string
	TurnMode   TurnMode
	StartedAt  time.Time
	MediaLive  bool
	Muted      bool
	AISpeaking bool
}

func (s *session) info() SessionInfo {
	info := SessionInfo{
		CallSID:   s.callSID,
		Provider:  s.cfg.Provider,
		TurnMode:  s.cfg.TurnMode,
		StartedAt: s.startedAt,
		MediaLive: s.bridge != nil,
	}
	if s.bridge != nil {
		info.Muted = s.bridge.Muted()
		info.AISpeaking = s.bridge.AISpeaking()
	}
	return info
}
