package callsession

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidAgentConfig = errors.New("invalid agent config")
	ErrSessionNotFound    = errors.New("session not found")
)

// TurnMode selects the turn-taking policy for a session.
type TurnMode string

const (
	// TurnModeServerVAD infers end-of-turn from a silence-duration threshold
	// on the inbound stream.
	TurnModeServerVAD TurnMode = "server_vad"
	// TurnModePushToTalk takes turn boundaries from explicit control messages.
	TurnModePushToTalk TurnMode = "push_to_talk"
)

// AgentConfig is the configuration a session runs with. Chain steps swap it
// in place mid-call.
type AgentConfig struct {
	Provider     string
	SystemPrompt string
	Voice        string
	TurnMode     TurnMode
	Greeting     string
}

// Validate reports configuration errors, which are fatal to session creation.
func (c AgentConfig) Validate() error {
	if c.SystemPrompt == "" {
		return errors.New("system prompt is required")
	}
	switch c.TurnMode {
	case TurnModeServerVAD, TurnModePushToTalk:
	default:
		return errors.New("unknown turn mode " + string(c.TurnMode))
	}
	return nil
}

// MediaFrame is one inbound telephony media message: a base64 PCM16 payload
// tagged with the provider's sequence number and track.
type MediaFrame struct {
	Sequence int
	Track    string
	Payload  string
}

// MediaStream is the per-call telephony media socket as seen by the bridge.
type MediaStream interface {
	// AudioIn delivers inbound media frames. The channel closes when the
	// socket closes, which is fatal to the session.
	AudioIn() <-chan MediaFrame
	// Marks delivers control marks used for push-to-talk turn boundaries.
	Marks() <-chan string
	// WriteAudio sends one base64 PCM16 frame to the caller.
	WriteAudio(payload string) error
	// SendClear asks the provider to discard any buffered playback.
	SendClear() error
	Close() error
}

// AgentEvent is one event from the speech pipeline provider.
type AgentEvent struct {
	// Audio is synthesized speech as raw PCM16 bytes.
	Audio []byte
	// UserTranscript and AgentTranscript are incremental transcription
	// results for the respective speakers.
	UserTranscript  string
	AgentTranscript string
	// Interrupted signals that the provider detected caller barge-in and
	// truncated its own response.
	Interrupted bool
	Err         error
}

// AgentStream is a live connection to the speech pipeline for one session.
type AgentStream interface {
	// Send forwards caller audio (raw PCM16 bytes) to recognition.
	Send(ctx context.Context, audio []byte) error
	// Events delivers synthesized audio and transcripts. Closed when the
	// provider side shuts down.
	Events() <-chan AgentEvent
	Close() error
}

// AgentProvider opens agent streams. Implementations are opaque async
// contracts; retries and auth live behind them.
type AgentProvider interface {
	Start(ctx context.Context, cfg AgentConfig) (AgentStream, error)
}

// TranscriptSink receives the accumulated transcript when a session ends.
type TranscriptSink interface {
	AppendTranscript(ctx context.Context, callSID, text string) error
}

// BridgeConfig holds tuning knobs for the audio streaming bridge.
type BridgeConfig struct {
	// FrameBytes caps the payload size of one outbound media frame.
	FrameBytes int
	// FrameInterval paces outbound playback.
	FrameInterval time.Duration
	// BargeInThreshold is the normalized RMS energy above which inbound
	// speech interrupts active playback.
	BargeInThreshold float64
	// SilenceDuration is the server_vad end-of-turn threshold.
	SilenceDuration time.Duration
	// QueueSize bounds the pending playback queue.
	QueueSize int
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		FrameBytes:       3200,
		FrameInterval:    20 * time.Millisecond,
		BargeInThreshold: 0.02,
		SilenceDuration:  500 * time.Millisecond,
		QueueSize:        256,
	}
}
