package callsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"callbridge-server/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscripts struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeTranscripts() *fakeTranscripts {
	return &fakeTranscripts{entries: make(map[string]string)}
}

func (f *fakeTranscripts) AppendTranscript(ctx context.Context, callSID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[callSID] += text
	return nil
}

func (f *fakeTranscripts) get(callSID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[callSID]
}

func newTestManager() (*Manager, *fakeProvider, *fakeTranscripts) {
	provider := &fakeProvider{}
	transcripts := newFakeTranscripts()
	m := NewManager(testBridgeConfig(), ProviderRegistry{"openai": provider}, transcripts, observability.NewLogger())
	return m, provider, transcripts
}

func TestConcurrentDuplicateCreateYieldsOneSession(t *testing.T) {
	m, provider, _ := newTestManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Create(ctx, "CA1", testAgentConfig())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, m.Active("CA1"))

	// Only the first media attach starts a bridge.
	require.NoError(t, m.AttachMedia(ctx, "CA1", newFakeMedia()))
	assert.Error(t, m.AttachMedia(ctx, "CA1", newFakeMedia()))
	assert.Equal(t, 1, provider.starts())

	m.End(ctx, "CA1")
	assert.False(t, m.Active("CA1"))
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	cfg := testAgentConfig()
	cfg.SystemPrompt = ""
	err := m.Create(ctx, "CA1", cfg)
	assert.ErrorIs(t, err, ErrInvalidAgentConfig)

	cfg = testAgentConfig()
	cfg.Provider = "unknown"
	err = m.Create(ctx, "CA1", cfg)
	assert.ErrorIs(t, err, ErrInvalidAgentConfig)

	assert.False(t, m.Active("CA1"))
}

func TestAttachMediaRequiresSession(t *testing.T) {
	m, _, _ := newTestManager()
	err := m.AttachMedia(context.Background(), "CA-none", newFakeMedia())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	// Ending a call with no session is harmless.
	m.End(ctx, "CA-none")

	require.NoError(t, m.Create(ctx, "CA1", testAgentConfig()))
	m.End(ctx, "CA1")
	m.End(ctx, "CA1")
	assert.False(t, m.Active("CA1"))
}

func TestEndFlushesTranscript(t *testing.T) {
	m, provider, transcripts := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "CA1", testAgentConfig()))
	require.NoError(t, m.AttachMedia(ctx, "CA1", newFakeMedia()))

	stream := provider.latest()
	stream.events <- AgentEvent{UserTranscript: "hello"}
	stream.events <- AgentEvent{AgentTranscript: "hi there"}
	assert.Eventually(t, func() bool {
		return len(stream.events) == 0
	}, time.Second, time.Millisecond)

	m.End(ctx, "CA1")

	text := transcripts.get("CA1")
	assert.Contains(t, text, "[caller] hello")
	assert.Contains(t, text, "[agent] hi there")
}

func TestGetReportsSessionState(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	_, err := m.Get("CA1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.Create(ctx, "CA1", testAgentConfig()))
	info, err := m.Get("CA1")
	require.NoError(t, err)
	assert.Equal(t, "CA1", info.CallSID)
	assert.Equal(t, "openai", info.Provider)
	assert.False(t, info.MediaLive)

	require.NoError(t, m.AttachMedia(ctx, "CA1", newFakeMedia()))
	info, err = m.Get("CA1")
	require.NoError(t, err)
	assert.True(t, info.MediaLive)
	m.End(ctx, "CA1")
}

func TestSetMutedRequiresLiveBridge(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	assert.ErrorIs(t, m.SetMuted("CA1", true), ErrSessionNotFound)

	require.NoError(t, m.Create(ctx, "CA1", testAgentConfig()))
	// Session exists but media has not attached yet.
	assert.ErrorIs(t, m.SetMuted("CA1", true), ErrSessionNotFound)

	require.NoError(t, m.AttachMedia(ctx, "CA1", newFakeMedia()))
	require.NoError(t, m.SetMuted("CA1", true))
	info, err := m.Get("CA1")
	require.NoError(t, err)
	assert.True(t, info.Muted)
	m.End(ctx, "CA1")
}

func TestManagerReconfigure(t *testing.T) {
	m, provider, _ := newTestManager()
	ctx := context.Background()

	assert.ErrorIs(t, m.Reconfigure(ctx, "CA1", testAgentConfig()), ErrSessionNotFound)

	require.NoError(t, m.Create(ctx, "CA1", testAgentConfig()))

	// Before media attaches a reconfigure just replaces the stored config.
	next := testAgentConfig()
	next.SystemPrompt = "You are a billing specialist."
	require.NoError(t, m.Reconfigure(ctx, "CA1", next))
	assert.Zero(t, provider.starts())

	require.NoError(t, m.AttachMedia(ctx, "CA1", newFakeMedia()))
	require.NoError(t, m.Reconfigure(ctx, "CA1", next))
	assert.Equal(t, 2, provider.starts())
	m.End(ctx, "CA1")
}

func TestEndAllTearsDownEverySession(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, "CA1", testAgentConfig()))
	require.NoError(t, m.Create(ctx, "CA2", testAgentConfig()))
	require.NoError(t, m.AttachMedia(ctx, "CA2", newFakeMedia()))
	assert.ElementsMatch(t, []string{"CA1", "CA2"}, m.ActiveCalls())

	m.EndAll(ctx)
	assert.False(t, m.Active("CA1"))
	assert.False(t, m.Active("CA2"))
	assert.Empty(t, m.ActiveCalls())
}
