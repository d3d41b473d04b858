package chain

import (
	"context"
	"errors"

	"callbridge-server/internal/callsession"
)

var (
	ErrChainNotFound     = errors.New("chain not found")
	ErrExecutionNotFound = errors.New("chain execution not found")
	ErrExecutionActive   = errors.New("chain execution already running for call")
	ErrCallEnded         = errors.New("call has already ended")
)

// Step is one resolved position in a hand-off chain: the agent configuration
// to apply, plus an optional fallback applied when the primary errors.
type Step struct {
	Position int
	Config   callsession.AgentConfig
	Fallback *callsession.AgentConfig
}

// ConfigSource resolves a chain identifier to its ordered steps. Returns
// ErrChainNotFound for an unknown or empty chain.
type ConfigSource interface {
	Steps(ctx context.Context, chainID string) ([]Step, error)
}

// SessionControl is the slice of the session manager the coordinator drives.
type SessionControl interface {
	Active(callSID string) bool
	Reconfigure(ctx context.Context, callSID string, cfg callsession.AgentConfig) error
	End(ctx context.Context, callSID string)
}
