package callstate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"callbridge-server/internal/observability"
)

// Event is one telephony webhook delivery, already parsed. All fields except
// CallSID and ProviderStatus are optional.
type Event struct {
	CallSID        string
	ProviderStatus string
	ToNumber       string
	DurationSecs   int
	RecordingURL   string
}

// Pricing holds the call cost policy applied when a call reaches a terminal state.
type Pricing struct {
	PerMinuteRateUSD   float64
	MinimumBillableUSD float64
}

// Cost computes the billable cost for a call: duration-based, rounded up at
// four decimal places, never below the minimum billable amount.
func (p Pricing) Cost(durationSecs int) float64 {
	minutes := float64(durationSecs) / 60.0
	cost := math.Ceil(minutes*p.PerMinuteRateUSD*10000) / 10000
	if cost < p.MinimumBillableUSD {
		return p.MinimumBillableUSD
	}
	return cost
}

// Machine ingests telephony webhook events, maps them to canonical statuses,
// persists transitions and drives verification/session side effects.
//
// Events for one call are applied in arrival order under a per-call mutex;
// events for different calls run fully in parallel.
type Machine struct {
	store    CallStore
	verifier Verifier
	sessions SessionController
	sink     observability.ErrorSink
	logger   *observability.Logger
	pricing  Pricing

	mu      sync.Mutex
	entries map[string]*callEntry
}

type callEntry struct {
	mu        sync.Mutex
	status    Status
	finalized bool
}

func NewMachine(store CallStore, verifier Verifier, sessions SessionController,
	sink observability.ErrorSink, pricing Pricing, logger *observability.Logger) *Machine {
	return &Machine{
		store:    store,
		verifier: verifier,
		sessions: sessions,
		sink:     sink,
		pricing:  pricing,
		logger:   logger,
		entries:  make(map[string]*callEntry),
	}
}

func (m *Machine) entry(callSID string) *callEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[callSID]
	if !ok {
		e = &callEntry{status: StatusPending}
		m.entries[callSID] = e
	}
	return e
}

// CurrentStatus returns the in-memory status for a call SID.
func (m *Machine) CurrentStatus(callSID string) Status {
	e := m.entry(callSID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ApplyEvent applies one webhook event and returns the canonical status that
// is now in effect for the call. Regressions and duplicate terminal events are
// ignored; persistence failures never block the in-memory side effects.
func (m *Machine) ApplyEvent(ctx context.Context, ev Event) Status {
	canonical := MapProviderStatus(ev.ProviderStatus)
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_sid", Value: ev.CallSID},
		observability.Field{Key: "provider_status", Value: ev.ProviderStatus},
		observability.Field{Key: "canonical_status", Value: string(canonical)},
	)

	e := m.entry(ev.CallSID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if canonical == StatusUnmapped {
		// Persisted for the record, no side effects.
		m.logger.Warn(ctx, "unmapped provider status, persisting passthrough")
		m.persistStatus(ctx, ev.CallSID, e.status, ev.ProviderStatus, nil)
		return e.status
	}

	if e.finalized {
		m.logger.Info(ctx, "event after terminal status ignored")
		return e.status
	}

	if canonical.rank() < e.status.rank() {
		m.logger.Warn(ctx, fmt.Sprintf("regression transition %s -> %s ignored", e.status, canonical))
		return e.status
	}

	// The verification session opens at the first lifecycle event and every
	// provider status lands in its trail, so Verified always has the ring and
	// answer observations to judge.
	switch {
	case canonical.Terminal():
		m.applyTerminal(ctx, ev, e, canonical)

	case canonical == StatusConnecting:
		now := time.Now().UTC()
		m.persistStatus(ctx, ev.CallSID, canonical, ev.ProviderStatus, &now)
		m.verifier.Start(ev.CallSID, ev.ToNumber)
		m.verifier.RecordEvent(ev.CallSID, ev.ProviderStatus)

	case canonical == StatusInProgress:
		m.persistStatus(ctx, ev.CallSID, canonical, ev.ProviderStatus, nil)
		m.verifier.Start(ev.CallSID, ev.ToNumber)
		m.verifier.RecordEvent(ev.CallSID, ev.ProviderStatus)
		m.startSessionOnce(ctx, ev.CallSID)

	default: // pending, calling
		m.persistStatus(ctx, ev.CallSID, canonical, ev.ProviderStatus, nil)
		m.verifier.Start(ev.CallSID, ev.ToNumber)
		m.verifier.RecordEvent(ev.CallSID, ev.ProviderStatus)
	}

	e.status = canonical
	return e.status
}

func (m *Machine) applyTerminal(ctx context.Context, ev Event, e *callEntry, canonical Status) {
	cost := m.pricing.Cost(ev.DurationSecs)
	err := m.store.FinalizeCall(ctx, ev.CallSID, string(canonical), ev.ProviderStatus,
		ev.DurationSecs, cost, ev.RecordingURL)
	if err != nil {
		m.logger.Error(ctx, "failed to finalize call record", err)
		m.sink.ReportPersistenceFailure(ctx, ev.CallSID, err)
	}

	m.verifier.RecordEvent(ev.CallSID, ev.ProviderStatus)
	m.sessions.EndSession(ctx, ev.CallSID)
	e.finalized = true
}

// startSessionOnce creates the agent session unless one already exists, so
// duplicate webhook deliveries never produce two sessions.
func (m *Machine) startSessionOnce(ctx context.Context, callSID string) {
	if m.sessions.Active(callSID) {
		m.logger.Info(ctx, "session already active, skipping creation")
		return
	}
	if !m.verifier.Verified(callSID) {
		// Provider may skip the answered event entirely; the session is
		// still created and the verifier keeps the anomaly on record.
		m.logger.Warn(ctx, "call in progress without verified ring, creating session anyway")
	}
	if err := m.sessions.StartSession(ctx, callSID); err != nil {
		m.logger.Error(ctx, "failed to start agent session", err)
	}
}

func (m *Machine) persistStatus(ctx context.Context, callSID string, status Status, providerStatus string, answeredAt *time.Time) {
	if err := m.store.UpdateCallStatus(ctx, callSID, string(status), providerStatus, answeredAt); err != nil {
		m.logger.Error(ctx, "failed to persist call status", err)
		m.sink.ReportPersistenceFailure(ctx, callSID, err)
	}
}

// Forget drops the in-memory entry for a call. Called once the terminal
// webhook has been processed and the record is fully finalized.
func (m *Machine) Forget(callSID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, callSID)
}
