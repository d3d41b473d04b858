package callsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"callbridge-server/internal/observability"
	"callbridge-server/internal/voice/audio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	audio chan MediaFrame
	marks chan string

	mu     sync.Mutex
	writes []string
	clears int

	closeOnce sync.Once
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		audio: make(chan MediaFrame, 64),
		marks: make(chan string, 8),
	}
}

func (f *fakeMedia) AudioIn() <-chan MediaFrame { return f.audio }
func (f *fakeMedia) Marks() <-chan string       { return f.marks }

func (f *fakeMedia) WriteAudio(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, payload)
	return nil
}

func (f *fakeMedia) SendClear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeMedia) Close() error {
	f.closeOnce.Do(func() { close(f.audio) })
	return nil
}

func (f *fakeMedia) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeMedia) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeMedia) allWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

type fakeStream struct {
	events chan AgentEvent

	mu     sync.Mutex
	sent   [][]byte
	closed bool

	closeOnce sync.Once
}

func (f *fakeStream) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeStream) Events() <-chan AgentEvent { return f.events }

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeProvider struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (p *fakeProvider) Start(ctx context.Context, cfg AgentConfig) (AgentStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeStream{events: make(chan AgentEvent, 64)}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakeProvider) starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (p *fakeProvider) latest() *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[len(p.streams)-1]
}

func testBridgeConfig() BridgeConfig {
	return BridgeConfig{
		FrameBytes:       1024,
		FrameInterval:    2 * time.Millisecond,
		BargeInThreshold: 0.02,
		SilenceDuration:  100 * time.Millisecond,
		QueueSize:        64,
	}
}

func testAgentConfig() AgentConfig {
	return AgentConfig{
		Provider:     "openai",
		SystemPrompt: "You are a scheduling assistant.",
		Voice:        "alloy",
		TurnMode:     TurnModeServerVAD,
	}
}

// tonePayload builds a base64 PCM16 frame of n samples at constant amplitude,
// so its RMS energy equals the amplitude.
func tonePayload(n int, amplitude float64) string {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.EncodePCM16(samples)
}

func startTestBridge(t *testing.T, onFatal func()) (*Bridge, *fakeMedia, *fakeProvider) {
	t.Helper()
	media := newFakeMedia()
	provider := &fakeProvider{}
	if onFatal == nil {
		onFatal = func() {}
	}
	bridge := NewBridge("CA-test", testBridgeConfig(), media, provider, onFatal, observability.NewLogger())
	require.NoError(t, bridge.Start(context.Background(), testAgentConfig()))
	t.Cleanup(bridge.Stop)
	return bridge, media, provider
}

func TestBridgeForwardsCallerAudio(t *testing.T) {
	_, media, provider := startTestBridge(t, nil)

	media.audio <- MediaFrame{Sequence: 1, Payload: tonePayload(160, 0.1)}

	assert.Eventually(t, func() bool {
		return provider.latest().sentCount() == 1
	}, time.Second, time.Millisecond)

	provider.latest().mu.Lock()
	defer provider.latest().mu.Unlock()
	assert.Len(t, provider.latest().sent[0], 320, "160 samples should forward as 320 PCM16 bytes")
}

func TestBridgeDropsUndecodableFrames(t *testing.T) {
	_, media, provider := startTestBridge(t, nil)

	media.audio <- MediaFrame{Sequence: 1, Payload: "not base64!!"}
	media.audio <- MediaFrame{Sequence: 2, Payload: tonePayload(160, 0.1)}

	assert.Eventually(t, func() bool {
		return provider.latest().sentCount() == 1
	}, time.Second, time.Millisecond)
}

func TestMutedAudioIsDrainedNotForwarded(t *testing.T) {
	bridge, media, provider := startTestBridge(t, nil)

	bridge.SetMuted(true)
	media.audio <- MediaFrame{Sequence: 1, Payload: tonePayload(160, 0.1)}
	media.audio <- MediaFrame{Sequence: 2, Payload: tonePayload(160, 0.1)}

	// Both muted frames must be fully processed before unmuting, so the
	// forwarding count below reflects mute semantics, not scheduling.
	require.Eventually(t, func() bool {
		return bridge.InboundFrames() == 2
	}, time.Second, time.Millisecond)
	assert.Zero(t, provider.latest().sentCount())

	bridge.SetMuted(false)
	media.audio <- MediaFrame{Sequence: 3, Payload: tonePayload(160, 0.1)}

	assert.Eventually(t, func() bool {
		return provider.latest().sentCount() == 1
	}, time.Second, time.Millisecond)
	assert.False(t, bridge.Muted())
}

func TestMutedCallerStillAdvancesTurnClock(t *testing.T) {
	bridge, media, provider := startTestBridge(t, nil)

	// A muted caller speaks; the frame is drained but its energy still counts
	// toward server_vad turn tracking.
	bridge.SetMuted(true)
	media.audio <- MediaFrame{Sequence: 1, Payload: tonePayload(160, 0.5)}
	require.Eventually(t, func() bool {
		return bridge.InboundFrames() == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, provider.latest().sentCount())

	// The caller holds the floor, so queued agent audio must wait.
	provider.latest().events <- AgentEvent{Audio: make([]byte, 512)}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, media.writeCount())

	// Once the silence window elapses the turn ends and playback starts,
	// mute notwithstanding.
	assert.Eventually(t, func() bool {
		return media.writeCount() > 0
	}, time.Second, time.Millisecond)
}

func TestOutboundAudioIsChunkedToFrameLimit(t *testing.T) {
	_, media, provider := startTestBridge(t, nil)

	provider.latest().events <- AgentEvent{Audio: make([]byte, 2500)}

	assert.Eventually(t, func() bool {
		return media.writeCount() == 3
	}, time.Second, time.Millisecond)

	total := 0
	for _, payload := range media.allWrites() {
		raw, err := audio.Base64ToBytes(payload)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(raw), 1024)
		total += len(raw)
	}
	assert.Equal(t, 2500, total)
}

func TestBargeInTruncatesPlayback(t *testing.T) {
	bridge, media, provider := startTestBridge(t, nil)

	// Queue a long agent utterance and wait for playback to start.
	provider.latest().events <- AgentEvent{Audio: make([]byte, 64*1024)}
	assert.Eventually(t, func() bool {
		return bridge.AISpeaking() && media.writeCount() > 0
	}, time.Second, time.Millisecond)

	// Caller speaks over the agent.
	media.audio <- MediaFrame{Sequence: 1, Payload: tonePayload(160, 0.5)}

	assert.Eventually(t, func() bool {
		return media.clearCount() >= 1 && !bridge.AISpeaking()
	}, time.Second, time.Millisecond)

	// Playback stays stopped: the queue was drained and the caller holds the
	// floor for the silence window.
	settled := media.writeCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, media.writeCount())
}

func TestProviderInterruptionTruncatesPlayback(t *testing.T) {
	bridge, media, provider := startTestBridge(t, nil)

	provider.latest().events <- AgentEvent{Audio: make([]byte, 64*1024)}
	assert.Eventually(t, func() bool {
		return bridge.AISpeaking()
	}, time.Second, time.Millisecond)

	provider.latest().events <- AgentEvent{Interrupted: true}

	assert.Eventually(t, func() bool {
		return media.clearCount() >= 1 && !bridge.AISpeaking()
	}, time.Second, time.Millisecond)
}

func TestMediaSocketCloseIsFatal(t *testing.T) {
	fatal := make(chan struct{})
	_, media, _ := startTestBridge(t, func() { close(fatal) })

	require.NoError(t, media.Close())

	select {
	case <-fatal:
	case <-time.After(time.Second):
		t.Fatal("expected media socket close to end the session")
	}
}

func TestAgentStreamCloseIsFatal(t *testing.T) {
	fatal := make(chan struct{})
	_, _, provider := startTestBridge(t, func() { close(fatal) })

	require.NoError(t, provider.latest().Close())

	select {
	case <-fatal:
	case <-time.After(time.Second):
		t.Fatal("expected agent stream close to end the session")
	}
}

func TestReconfigureSwapsAgentStreamInPlace(t *testing.T) {
	bridge, media, provider := startTestBridge(t, nil)

	first := provider.latest()
	cfg := testAgentConfig()
	cfg.SystemPrompt = "You are a billing specialist."
	require.NoError(t, bridge.Reconfigure(context.Background(), cfg))

	assert.Equal(t, 2, provider.starts())
	assert.True(t, first.isClosed(), "previous agent stream should be closed after swap")

	// Caller audio now reaches the replacement stream.
	media.audio <- MediaFrame{Sequence: 1, Payload: tonePayload(160, 0.1)}
	assert.Eventually(t, func() bool {
		return provider.latest().sentCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, first.sentCount())
}

func TestTranscriptAccumulatesBothSpeakers(t *testing.T) {
	bridge, _, provider := startTestBridge(t, nil)

	provider.latest().events <- AgentEvent{UserTranscript: "I'd like to reschedule."}
	provider.latest().events <- AgentEvent{AgentTranscript: "Sure, what day works?"}

	assert.Eventually(t, func() bool {
		text := bridge.Transcript()
		return text == "[caller] I'd like to reschedule.\n[agent] Sure, what day works?\n"
	}, time.Second, time.Millisecond)
}

func TestPushToTalkGatesPlaybackOnMarks(t *testing.T) {
	media := newFakeMedia()
	provider := &fakeProvider{}
	cfg := testAgentConfig()
	cfg.TurnMode = TurnModePushToTalk
	bridge := NewBridge("CA-ptt", testBridgeConfig(), media, provider, func() {}, observability.NewLogger())
	require.NoError(t, bridge.Start(context.Background(), cfg))
	t.Cleanup(bridge.Stop)

	media.marks <- "turn_start"
	time.Sleep(10 * time.Millisecond)
	provider.latest().events <- AgentEvent{Audio: make([]byte, 4096)}

	// Caller holds the floor, playback must not start.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, media.writeCount())

	media.marks <- "turn_end"
	assert.Eventually(t, func() bool {
		return media.writeCount() > 0
	}, time.Second, time.Millisecond)
}
