// Package processor orchestrates the voice call domain: placing calls,
// applying webhook events to the state machine, and binding media streams to
// agent sessions.
package processor

import (
	"strings"

	"callbridge-server/internal/callsession"
	"callbridge-server/internal/callstate"
	"callbridge-server/internal/chain"
	"callbridge-server/internal/observability"
	"callbridge-server/internal/store"
	"callbridge-server/internal/telephony"
	"callbridge-server/internal/verification"
)

type VoiceCallProcessor struct {
	store       *store.Store
	manager     *callsession.Manager
	verifier    *verification.Store
	dialer      *telephony.Dialer
	publicHost  string
	logger      *observability.Logger
	machine     *callstate.Machine
	coordinator *chain.Coordinator
}

func New(st *store.Store, manager *callsession.Manager, verifier *verification.Store,
	dialer *telephony.Dialer, publicHost string, logger *observability.Logger) *VoiceCallProcessor {
	return &VoiceCallProcessor{
		store:      st,
		manager:    manager,
		verifier:   verifier,
		dialer:     dialer,
		publicHost: strings.TrimRight(publicHost, "/"),
		logger:     logger,
	}
}

// AttachMachine breaks the construction cycle: the state machine needs the
// processor as its session controller, and the processor drives the machine.
func (v *VoiceCallProcessor) AttachMachine(machine *callstate.Machine) {
	v.machine = machine
}

// AttachCoordinator wires the chain coordinator once it exists.
func (v *VoiceCallProcessor) AttachCoordinator(coordinator *chain.Coordinator) {
	v.coordinator = coordinator
}

func (v *VoiceCallProcessor) webhookURL() string {
	return v.publicHost + "/api/webhooks/call-status"
}

// mediaStreamURL is the wss endpoint the TwiML stream verb points at.
func (v *VoiceCallProcessor) mediaStreamURL() string {
	host := v.publicHost
	host = strings.Replace(host, "https://", "wss://", 1)
	host = strings.Replace(host, "http://", "ws://", 1)
	return host + "/api/calls/media-stream"
}
