// Package bootstrap wires application dependencies in initialization order.
package bootstrap

import (
	"context"
	"fmt"

	"callbridge-server/internal/callsession"
	"callbridge-server/internal/callstate"
	"callbridge-server/internal/chain"
	"callbridge-server/internal/clients/googleai"
	openaiClient "callbridge-server/internal/clients/openai"
	"callbridge-server/internal/config"
	"callbridge-server/internal/observability"
	"callbridge-server/internal/store"
	"callbridge-server/internal/telephony"
	"callbridge-server/internal/verification"
	voiceCallHandler "callbridge-server/internal/voicecall/handler"
	voiceCallProcessor "callbridge-server/internal/voicecall/processor"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store  store.Store
	Logger *observability.Logger

	// Domain
	Machine     *callstate.Machine
	Manager     *callsession.Manager
	Verifier    *verification.Store
	Coordinator *chain.Coordinator

	// Handlers
	VoiceCallHandler voiceCallHandler.Handler
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	// Initialize database store
	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize verification session store and its sweep task
	deps.Verifier = verification.NewStore(verification.Config{
		Window:        cfg.Session.VerificationWindow,
		Retention:     cfg.Session.VerificationRetention,
		SweepInterval: cfg.Session.SweepInterval,
	}, logger)

	// Initialize agent providers
	providers := callsession.ProviderRegistry{}
	openaiProvider, err := openaiClient.NewProvider(cfg.Services.OpenAIAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai provider: %w", err)
	}
	providers["openai"] = openaiProvider

	googleProvider, err := googleai.NewGoogleAILiveClient(cfg.Services.GoogleAIAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create google ai provider: %w", err)
	}
	providers["google"] = googleProvider

	// Initialize session manager; transcripts flush to the call store
	deps.Manager = callsession.NewManager(callsession.DefaultBridgeConfig(), providers, &deps.Store, logger)

	// Initialize telephony dialer
	dialer := telephony.NewDialer(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber, logger)

	// Initialize voice call processor, state machine and chain coordinator.
	// The processor is the machine's session controller and the chain's
	// config source, so it is created first and wired afterwards.
	voiceProc := voiceCallProcessor.New(&deps.Store, deps.Manager, deps.Verifier, dialer, cfg.Server.PublicHost, logger)

	sink := observability.NewLogSink(logger)
	deps.Machine = callstate.NewMachine(&deps.Store, deps.Verifier, voiceProc, sink, callstate.Pricing{
		PerMinuteRateUSD:   cfg.Billing.PerMinuteRateUSD,
		MinimumBillableUSD: cfg.Billing.MinimumBillableUSD,
	}, logger)
	voiceProc.AttachMachine(deps.Machine)

	deps.Coordinator = chain.NewCoordinator(voiceProc, deps.Manager, logger)
	voiceProc.AttachCoordinator(deps.Coordinator)

	deps.VoiceCallHandler = voiceCallHandler.New(voiceProc, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup(ctx context.Context) {
	if d.Manager != nil {
		d.Manager.EndAll(ctx)
	}
	if d.Verifier != nil {
		d.Verifier.Stop()
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.Error(ctx, "failed to close database connection", err)
	}
}
