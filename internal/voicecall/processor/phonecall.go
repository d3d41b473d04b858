package processor

import (
	"context"
	"errors"
	"fmt"

	"callbridge-server/internal/apierrors"
	"callbridge-server/internal/callsession"
	"callbridge-server/internal/callstate"
	"callbridge-server/internal/chain"
	"callbridge-server/internal/observability"
	"callbridge-server/internal/store"
	"callbridge-server/internal/telephony"

	"github.com/google/uuid"
)

// PlaceCall originates an outbound call that will be answered by the given
// agent configuration. The call record is created in pending state; all later
// transitions come from webhook events.
func (v *VoiceCallProcessor) PlaceCall(ctx context.Context, toNumber string, agentConfigID uuid.UUID) (*store.Call, error) {
	if _, err := v.store.GetAgentConfig(ctx, agentConfigID); err != nil {
		return nil, err
	}

	callSID, err := v.dialer.PlaceCall(ctx, toNumber, v.webhookURL(), v.webhookURL())
	if err != nil {
		return nil, err
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "call_sid", Value: callSID})
	call, err := v.store.CreateCall(ctx, callSID, "", toNumber, agentConfigID, string(callstate.StatusPending))
	if err != nil {
		// The call is already ringing; the record is the only thing missing.
		v.logger.Error(ctx, "call placed but record creation failed", err)
		return nil, err
	}
	return call, nil
}

// GetCall returns the persisted record for a call.
func (v *VoiceCallProcessor) GetCall(ctx context.Context, callSID string) (*store.Call, error) {
	call, err := v.store.GetCallBySID(ctx, callSID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierrors.NotFound(apierrors.CodeCallNotFound, "Call not found")
		}
		return nil, err
	}
	return call, nil
}

// HandleStatusEvent applies one webhook delivery to the state machine and
// reports whether the call should now be bridged onto the media stream.
func (v *VoiceCallProcessor) HandleStatusEvent(ctx context.Context, ev callstate.Event) callstate.Status {
	status := v.machine.ApplyEvent(ctx, ev)
	if status.Terminal() {
		v.machine.Forget(ev.CallSID)
	}
	return status
}

// AnswerResponse builds the TwiML returned when the provider asks what to do
// with an answered call. Failure to prepare a session produces an apology
// hangup instead of leaving the caller on a dead stream.
func (v *VoiceCallProcessor) AnswerResponse(ctx context.Context, callSID string) (string, error) {
	cfg, err := v.sessionConfigForCall(ctx, callSID)
	if err != nil {
		v.logger.Error(ctx, "failed to load agent config for answered call", err)
		return telephony.ApologyHangupResponse("")
	}
	if err := v.manager.Create(ctx, callSID, cfg); err != nil {
		v.logger.Error(ctx, "failed to create agent session for answered call", err)
		return telephony.ApologyHangupResponse("")
	}
	return telephony.ConnectStreamResponse(v.mediaStreamURL(), cfg.Greeting)
}

// Active implements callstate.SessionController.
func (v *VoiceCallProcessor) Active(callSID string) bool {
	return v.manager.Active(callSID)
}

// StartSession implements callstate.SessionController: resolve the call's
// agent configuration and register the session.
func (v *VoiceCallProcessor) StartSession(ctx context.Context, callSID string) error {
	cfg, err := v.sessionConfigForCall(ctx, callSID)
	if err != nil {
		return err
	}
	return v.manager.Create(ctx, callSID, cfg)
}

// EndSession implements callstate.SessionController.
func (v *VoiceCallProcessor) EndSession(ctx context.Context, callSID string) {
	v.manager.End(ctx, callSID)
}

// AttachMediaStream binds a started media socket to the call's session,
// creating the session first if the socket beat the in-progress webhook.
func (v *VoiceCallProcessor) AttachMediaStream(ctx context.Context, callSID string, media callsession.MediaStream) error {
	ctx = observability.WithFields(ctx, observability.Field{Key: "call_sid", Value: callSID})

	if !v.manager.Active(callSID) {
		cfg, err := v.sessionConfigForCall(ctx, callSID)
		if err != nil {
			return err
		}
		if err := v.manager.Create(ctx, callSID, cfg); err != nil {
			return err
		}
	}
	return v.manager.AttachMedia(ctx, callSID, media)
}

// SetMuted toggles recognition forwarding for the call's live session.
func (v *VoiceCallProcessor) SetMuted(callSID string, muted bool) error {
	return v.manager.SetMuted(callSID, muted)
}

// ActiveSessions returns the call SIDs with a registered agent session.
func (v *VoiceCallProcessor) ActiveSessions() []string {
	return v.manager.ActiveCalls()
}

// GetSession returns a snapshot of the call's live session.
func (v *VoiceCallProcessor) GetSession(callSID string) (callsession.SessionInfo, error) {
	return v.manager.Get(callSID)
}

func (v *VoiceCallProcessor) sessionConfigForCall(ctx context.Context, callSID string) (callsession.AgentConfig, error) {
	call, err := v.store.GetCallBySID(ctx, callSID)
	if err != nil {
		return callsession.AgentConfig{}, fmt.Errorf("failed to load call record: %w", err)
	}
	if !call.AgentConfigID.Valid {
		return callsession.AgentConfig{}, fmt.Errorf("%w: call %s has no agent config",
			callsession.ErrInvalidAgentConfig, callSID)
	}
	row, err := v.store.GetAgentConfig(ctx, call.AgentConfigID.UUID)
	if err != nil {
		return callsession.AgentConfig{}, fmt.Errorf("failed to load agent config: %w", err)
	}
	return sessionConfigFromRow(row), nil
}

func sessionConfigFromRow(row *store.AgentConfig) callsession.AgentConfig {
	return callsession.AgentConfig{
		Provider:     row.Provider,
		SystemPrompt: row.SystemPrompt,
		Voice:        row.Voice,
		TurnMode:     callsession.TurnMode(row.TurnMode),
		Greeting:     row.Greeting.String,
	}
}

// ListAgentConfigs returns every persisted agent configuration.
func (v *VoiceCallProcessor) ListAgentConfigs(ctx context.Context) ([]store.AgentConfig, error) {
	return v.store.ListAgentConfigs(ctx)
}

// Steps implements chain.ConfigSource: resolve a chain's ordered steps to
// ready-to-apply session configurations.
func (v *VoiceCallProcessor) Steps(ctx context.Context, chainID string) ([]chain.Step, error) {
	id, err := uuid.Parse(chainID)
	if err != nil {
		return nil, chain.ErrChainNotFound
	}

	rows, err := v.store.GetChainSteps(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, chain.ErrChainNotFound
		}
		return nil, err
	}

	steps := make([]chain.Step, 0, len(rows))
	for _, row := range rows {
		cfg, err := v.store.GetAgentConfig(ctx, row.AgentConfigID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config for chain step %d: %w", row.Position, err)
		}
		step := chain.Step{
			Position: row.Position,
			Config:   sessionConfigFromRow(cfg),
		}
		if row.FallbackConfigID.Valid {
			fb, err := v.store.GetAgentConfig(ctx, row.FallbackConfigID.UUID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve fallback for chain step %d: %w", row.Position, err)
			}
			fbCfg := sessionConfigFromRow(fb)
			step.Fallback = &fbCfg
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// StartChain begins a chain execution for a connected call.
func (v *VoiceCallProcessor) StartChain(ctx context.Context, chainID, callSID string) (*chain.Execution, error) {
	return v.coordinator.Start(ctx, chainID, callSID)
}

// AdvanceChain moves a chain execution to its next step.
func (v *VoiceCallProcessor) AdvanceChain(ctx context.Context, executionID string) (*chain.Execution, error) {
	return v.coordinator.Advance(ctx, executionID)
}

// GetChainExecution returns a chain execution snapshot.
func (v *VoiceCallProcessor) GetChainExecution(executionID string) (*chain.Execution, error) {
	return v.coordinator.Get(executionID)
}
