package callstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callbridge-server/internal/observability"
	"callbridge-server/internal/verification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCallStore struct {
	mu            sync.Mutex
	statusUpdates []string
	finalizeCalls int
	finalDuration int
	finalCost     float64
	updateErr     error
	finalizeErr   error
}

func (m *mockCallStore) UpdateCallStatus(_ context.Context, _, status, _ string, _ *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusUpdates = append(m.statusUpdates, status)
	return m.updateErr
}

func (m *mockCallStore) FinalizeCall(_ context.Context, _, _, _ string, durationSecs int, costUSD float64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	m.finalDuration = durationSecs
	m.finalCost = costUSD
	return m.finalizeErr
}

type mockVerifier struct {
	mu       sync.Mutex
	started  []string
	events   []string
	verified bool
}

func (m *mockVerifier) Start(callSID, _ string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, started := range m.started {
		if started == callSID {
			return "verification-" + callSID
		}
	}
	m.started = append(m.started, callSID)
	return "verification-" + callSID
}

func (m *mockVerifier) RecordEvent(_, providerStatus string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, providerStatus)
}

func (m *mockVerifier) Verified(string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verified
}

type mockSessions struct {
	mu      sync.Mutex
	active  map[string]bool
	created int
	ended   int
}

func newMockSessions() *mockSessions {
	return &mockSessions{active: make(map[string]bool)}
}

func (m *mockSessions) Active(callSID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[callSID]
}

func (m *mockSessions) StartSession(_ context.Context, callSID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	m.active[callSID] = true
	return nil
}

func (m *mockSessions) EndSession(_ context.Context, callSID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[callSID] {
		m.ended++
		delete(m.active, callSID)
	}
}

type mockSink struct {
	mu      sync.Mutex
	reports int
}

func (m *mockSink) ReportPersistenceFailure(context.Context, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports++
}

func newTestMachine(store *mockCallStore, verifier *mockVerifier, sessions *mockSessions, sink *mockSink) *Machine {
	logger := observability.NewLogger()
	pricing := Pricing{PerMinuteRateUSD: 0.01, MinimumBillableUSD: 0.005}
	return NewMachine(store, verifier, sessions, sink, pricing, logger)
}

func TestApplyEvent_FullLifecycle(t *testing.T) {
	store := &mockCallStore{}
	verifier := &mockVerifier{verified: true}
	sessions := newMockSessions()
	sink := &mockSink{}
	machine := newTestMachine(store, verifier, sessions, sink)
	ctx := context.Background()

	for _, raw := range []string{"queued", "ringing", "answered", "in-progress"} {
		machine.ApplyEvent(ctx, Event{CallSID: "CA1", ProviderStatus: raw})
	}
	require.Equal(t, StatusInProgress, machine.CurrentStatus("CA1"))
	assert.Equal(t, []string{"CA1"}, verifier.started)
	assert.Equal(t, []string{"queued", "ringing", "answered", "in-progress"}, verifier.events)
	assert.Equal(t, 1, sessions.created)
	assert.Equal(t, 0, sessions.ended)

	status := machine.ApplyEvent(ctx, Event{CallSID: "CA1", ProviderStatus: "completed", DurationSecs: 125})
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, 1, store.finalizeCalls)
	assert.Equal(t, 125, store.finalDuration)
	assert.InDelta(t, 0.0209, store.finalCost, 1e-9)
	assert.Equal(t, 1, sessions.ended)
	assert.Equal(t, "completed", verifier.events[len(verifier.events)-1])
}

// The verification session must carry the full ordered status trail, not just
// the terminal event, when the machine is wired to the real store.
func TestApplyEvent_VerificationTrailRecordsLifecycle(t *testing.T) {
	store := &mockCallStore{}
	verifier := verification.NewStore(verification.DefaultConfig(), observability.NewLogger())
	sessions := newMockSessions()
	machine := NewMachine(store, verifier, sessions, &mockSink{},
		Pricing{PerMinuteRateUSD: 0.01, MinimumBillableUSD: 0.005}, observability.NewLogger())
	ctx := context.Background()

	for _, raw := range []string{"queued", "ringing", "answered", "in-progress", "completed"} {
		machine.ApplyEvent(ctx, Event{CallSID: "CA1", ProviderStatus: raw, ToNumber: "+15551234567"})
	}

	sess, ok := verifier.GetByCall("CA1")
	require.True(t, ok, "verification session must exist after the lifecycle")
	statuses := make([]string, 0, len(sess.Events))
	for _, ev := range sess.Events {
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []string{"queued", "ringing", "answered", "in-progress", "completed"}, statuses)
	assert.True(t, sess.Terminal)
	assert.Equal(t, 1, sessions.created)
}

func TestApplyEvent_DuplicateAnsweredCreatesOneSession(t *testing.T) {
	store := &mockCallStore{}
	verifier := &mockVerifier{verified: true}
	sessions := newMockSessions()
	machine := newTestMachine(store, verifier, sessions, &mockSink{})
	ctx := context.Background()

	machine.ApplyEvent(ctx, Event{CallSID: "CA2", ProviderStatus: "answered"})
	machine.ApplyEvent(ctx, Event{CallSID: "CA2", ProviderStatus: "in-progress"})
	machine.ApplyEvent(ctx, Event{CallSID: "CA2", ProviderStatus: "in-progress"})

	assert.Equal(t, 1, sessions.created)
}

func TestApplyEvent_TerminalAfterTerminalIsNoOp(t *testing.T) {
	store := &mockCallStore{}
	sessions := newMockSessions()
	machine := newTestMachine(store, &mockVerifier{verified: true}, sessions, &mockSink{})
	ctx := context.Background()

	machine.ApplyEvent(ctx, Event{CallSID: "CA3", ProviderStatus: "in-progress"})
	machine.ApplyEvent(ctx, Event{CallSID: "CA3", ProviderStatus: "completed", DurationSecs: 60})
	machine.ApplyEvent(ctx, Event{CallSID: "CA3", ProviderStatus: "failed", DurationSecs: 999})

	assert.Equal(t, 1, store.finalizeCalls)
	assert.Equal(t, 60, store.finalDuration)
	assert.Equal(t, StatusCompleted, machine.CurrentStatus("CA3"))
	assert.Equal(t, 1, sessions.ended)
}

func TestApplyEvent_RegressionIgnored(t *testing.T) {
	store := &mockCallStore{}
	machine := newTestMachine(store, &mockVerifier{}, newMockSessions(), &mockSink{})
	ctx := context.Background()

	machine.ApplyEvent(ctx, Event{CallSID: "CA4", ProviderStatus: "in-progress"})
	status := machine.ApplyEvent(ctx, Event{CallSID: "CA4", ProviderStatus: "ringing"})

	assert.Equal(t, StatusInProgress, status)
	// Only the in-progress transition was persisted.
	assert.Equal(t, []string{"in_progress"}, store.statusUpdates)
}

func TestApplyEvent_ForwardJumpFromQueued(t *testing.T) {
	store := &mockCallStore{}
	sessions := newMockSessions()
	machine := newTestMachine(store, &mockVerifier{}, sessions, &mockSink{})
	ctx := context.Background()

	// Provider may skip every intermediate event.
	status := machine.ApplyEvent(ctx, Event{CallSID: "CA5", ProviderStatus: "no-answer"})
	assert.Equal(t, StatusNoAnswer, status)
	assert.Equal(t, 1, store.finalizeCalls)
	assert.Equal(t, 0, sessions.created)
}

func TestApplyEvent_UnmappedStatusNoSideEffects(t *testing.T) {
	store := &mockCallStore{}
	sessions := newMockSessions()
	verifier := &mockVerifier{}
	machine := newTestMachine(store, verifier, sessions, &mockSink{})
	ctx := context.Background()

	status := machine.ApplyEvent(ctx, Event{CallSID: "CA6", ProviderStatus: "weird-vendor-state"})

	assert.Equal(t, StatusPending, status)
	assert.Len(t, store.statusUpdates, 1) // persisted passthrough
	assert.Empty(t, verifier.started)
	assert.Equal(t, 0, sessions.created)
}

func TestApplyEvent_PersistenceFailureDoesNotBlockSideEffects(t *testing.T) {
	store := &mockCallStore{finalizeErr: errors.New("db down")}
	sessions := newMockSessions()
	sink := &mockSink{}
	machine := newTestMachine(store, &mockVerifier{verified: true}, sessions, sink)
	ctx := context.Background()

	machine.ApplyEvent(ctx, Event{CallSID: "CA7", ProviderStatus: "in-progress"})
	machine.ApplyEvent(ctx, Event{CallSID: "CA7", ProviderStatus: "completed", DurationSecs: 30})

	assert.Equal(t, 1, sessions.ended, "session teardown must proceed despite persistence failure")
	assert.Equal(t, 1, sink.reports)
	assert.Equal(t, StatusCompleted, machine.CurrentStatus("CA7"))
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"queued":      StatusPending,
		"QUEUED":      StatusPending,
		"initiated":   StatusPending,
		"Ringing":     StatusCalling,
		"answered":    StatusConnecting,
		"in-progress": StatusInProgress,
		"completed":   StatusCompleted,
		"busy":        StatusBusy,
		"no-answer":   StatusNoAnswer,
		"canceled":    StatusFailed,
		"gibberish":   StatusUnmapped,
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapProviderStatus(raw), "status %q", raw)
	}
}

func TestPricingCost(t *testing.T) {
	p := Pricing{PerMinuteRateUSD: 0.01, MinimumBillableUSD: 0.005}

	assert.InDelta(t, 0.0209, p.Cost(125), 1e-9)
	assert.InDelta(t, 0.01, p.Cost(60), 1e-9)
	// Very short calls are billed at the minimum.
	assert.InDelta(t, 0.005, p.Cost(3), 1e-9)
	assert.InDelta(t, 0.005, p.Cost(0), 1e-9)
}
