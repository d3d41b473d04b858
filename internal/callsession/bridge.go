package callsession

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callbridge-server/internal/observability"
	"callbridge-server/internal/voice/audio"
)

// Bridge is the duplex relay between the telephony media socket and the
// speech pipeline for one call. It forwards caller audio to recognition,
// relays synthesized speech back to the call, and enforces the turn-taking
// and barge-in policy.
type Bridge struct {
	callSID string
	config  BridgeConfig
	logger  *observability.Logger

	media    MediaStream
	provider AgentProvider

	// The agent stream is swappable mid-call (chain hand-off) while the
	// media socket stays fixed for the bridge lifetime.
	streamMu sync.RWMutex
	stream   AgentStream
	turn     *turnDetector

	muted      atomic.Bool
	aiSpeaking atomic.Bool
	framesIn   atomic.Uint64

	playback chan []byte // pending synthesized audio, raw PCM16 chunks

	transcriptMu sync.Mutex
	transcript   strings.Builder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onFatal   func()
	fatalOnce sync.Once
	stopOnce  sync.Once
}

// NewBridge wires a bridge for one call. onFatal is invoked (once, from its
// own goroutine) when a socket-level close on either side kills the session.
func NewBridge(callSID string, config BridgeConfig, media MediaStream, provider AgentProvider,
	onFatal func(), logger *observability.Logger) *Bridge {
	return &Bridge{
		callSID:  callSID,
		config:   config,
		logger:   logger,
		media:    media,
		provider: provider,
		playback: make(chan []byte, config.QueueSize),
		onFatal:  onFatal,
	}
}

// Start opens the agent stream and runs the inbound and outbound loops.
func (b *Bridge) Start(ctx context.Context, cfg AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAgentConfig, err)
	}

	stream, err := b.provider.Start(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start agent stream: %w", err)
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	b.ctx = bridgeCtx
	b.cancel = cancel
	b.stream = stream
	b.turn = newTurnDetector(cfg.TurnMode, b.config.BargeInThreshold, b.config.SilenceDuration)

	b.wg.Add(2)
	go b.inboundLoop()
	go b.playbackLoop()
	b.wg.Add(1)
	go b.providerLoop(stream)

	return nil
}

// inboundLoop moves caller audio from the media socket to recognition. Frames
// are forwarded in arrival order; resequencing is the provider's problem.
func (b *Bridge) inboundLoop() {
	defer b.wg.Done()

	frames := b.media.AudioIn()
	marks := b.media.Marks()

	for {
		select {
		case <-b.ctx.Done():
			return

		case kind, ok := <-marks:
			if !ok {
				marks = nil
				continue
			}
			b.turn.HandleMark(kind)

		case frame, ok := <-frames:
			if !ok {
				b.logger.Info(b.ctx, "media socket closed, ending session")
				b.fatal()
				return
			}
			b.handleFrame(frame)
			b.framesIn.Add(1)
		}
	}
}

// handleFrame processes one inbound frame. Turn tracking observes every
// decodable frame, muted or not; mute only suppresses forwarding and barge-in.
func (b *Bridge) handleFrame(frame MediaFrame) {
	samples, err := audio.DecodePCM16(frame.Payload)
	if err != nil {
		// A single bad frame is dropped, never fatal.
		b.logger.Warn(b.ctx, fmt.Sprintf("dropping undecodable media frame seq=%d: %v", frame.Sequence, err))
		return
	}

	energy := audio.RMS(samples)
	b.turn.Observe(energy)

	if b.muted.Load() {
		// Socket stays drained while muted; nothing is forwarded.
		return
	}

	if b.aiSpeaking.Load() && energy >= b.config.BargeInThreshold {
		b.truncatePlayback()
	}

	if err := b.currentStream().Send(b.ctx, audio.SamplesToBytes(samples)); err != nil {
		b.logger.Warn(b.ctx, fmt.Sprintf("failed to forward audio to recognition: %v", err))
	}
}

// providerLoop consumes one agent stream until it closes. A close while the
// stream is still current is a provider-side failure and kills the session.
func (b *Bridge) providerLoop(stream AgentStream) {
	defer b.wg.Done()

	for ev := range stream.Events() {
		if ev.Err != nil {
			b.logger.Error(b.ctx, "agent stream error", ev.Err)
			continue
		}
		if ev.Interrupted {
			b.truncatePlayback()
		}
		if ev.UserTranscript != "" {
			b.appendTranscript("caller", ev.UserTranscript)
		}
		if ev.AgentTranscript != "" {
			b.appendTranscript("agent", ev.AgentTranscript)
		}
		if len(ev.Audio) > 0 {
			for _, chunk := range audio.ChunkBytes(ev.Audio, b.config.FrameBytes) {
				select {
				case b.playback <- chunk:
				case <-b.ctx.Done():
					return
				default:
					b.logger.Warn(b.ctx, "playback queue full, dropping audio chunk")
				}
			}
		}
	}

	if b.ctx.Err() == nil && b.currentStream() == stream {
		b.logger.Info(b.ctx, "agent stream closed, ending session")
		b.fatal()
	}
}

// playbackLoop paces synthesized audio back to the call. An utterance only
// starts once the turn policy yields the floor; once speaking, frames keep
// flowing until the queue drains or barge-in truncates it.
func (b *Bridge) playbackLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if !b.aiSpeaking.Load() && !b.turn.CallerTurnEnded() {
				continue
			}
			select {
			case chunk := <-b.playback:
				b.aiSpeaking.Store(true)
				if err := b.media.WriteAudio(audio.BytesToBase64(chunk)); err != nil {
					b.logger.Error(b.ctx, "failed to write media frame, ending session", err)
					b.fatal()
					return
				}
			default:
				b.aiSpeaking.Store(false)
			}
		}
	}
}

// truncatePlayback drops all pending outbound audio and tells the provider to
// discard anything it has buffered. The caller gets the floor immediately.
func (b *Bridge) truncatePlayback() {
	for {
		select {
		case <-b.playback:
			continue
		default:
		}
		break
	}
	if err := b.media.SendClear(); err != nil {
		b.logger.Warn(b.ctx, fmt.Sprintf("failed to send clear to media socket: %v", err))
	}
	b.aiSpeaking.Store(false)
}

// Reconfigure swaps the agent stream in place without touching the media
// socket, so a chain hand-off never drops the call audio.
func (b *Bridge) Reconfigure(ctx context.Context, cfg AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAgentConfig, err)
	}

	newStream, err := b.provider.Start(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start replacement agent stream: %w", err)
	}

	b.streamMu.Lock()
	old := b.stream
	b.stream = newStream
	b.turn = newTurnDetector(cfg.TurnMode, b.config.BargeInThreshold, b.config.SilenceDuration)
	b.streamMu.Unlock()

	b.wg.Add(1)
	go b.providerLoop(newStream)

	if old != nil {
		if err := old.Close(); err != nil {
			b.logger.Warn(ctx, fmt.Sprintf("failed to close previous agent stream: %v", err))
		}
	}
	b.logger.Info(ctx, "agent stream reconfigured in place")
	return nil
}

func (b *Bridge) currentStream() AgentStream {
	b.streamMu.RLock()
	defer b.streamMu.RUnlock()
	return b.stream
}

func (b *Bridge) fatal() {
	b.fatalOnce.Do(func() {
		if b.onFatal != nil {
			go b.onFatal()
		}
	})
}

// Stop cancels both loops and releases both socket handles. Safe to call more
// than once and tolerant of sockets that are already dead.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if stream := b.currentStream(); stream != nil {
			if err := stream.Close(); err != nil {
				b.logger.Warn(context.Background(), fmt.Sprintf("failed to close agent stream: %v", err))
			}
		}
		if err := b.media.Close(); err != nil {
			b.logger.Warn(context.Background(), fmt.Sprintf("failed to close media socket: %v", err))
		}
		b.wg.Wait()
	})
}

// SetMuted toggles the mute flag. Muted inbound frames are still consumed but
// not forwarded to recognition.
func (b *Bridge) SetMuted(muted bool) {
	b.muted.Store(muted)
}

// Muted reports the mute flag.
func (b *Bridge) Muted() bool {
	return b.muted.Load()
}

// InboundFrames reports how many media frames the inbound loop has fully
// processed, counting muted and undecodable frames.
func (b *Bridge) InboundFrames() uint64 {
	return b.framesIn.Load()
}

// AISpeaking reports whether outbound playback is active.
func (b *Bridge) AISpeaking() bool {
	return b.aiSpeaking.Load()
}

func (b *Bridge) appendTranscript(speaker, text string) {
	b.transcriptMu.Lock()
	defer b.transcriptMu.Unlock()
	b.transcript.WriteString(fmt.Sprintf("[%s] %s\n", speaker, text))
}

// Transcript returns the accumulated running transcript.
func (b *Bridge) Transcript() string {
	b.transcriptMu.Lock()
	defer b.transcriptMu.Unlock()
	return b.transcript.String()
}
