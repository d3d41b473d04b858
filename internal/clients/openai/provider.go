package openai

import (
	"context"
	"fmt"
	"sync"

	"callbridge-server/internal/callsession"
	"callbridge-server/internal/observability"
	"callbridge-server/internal/voice/audio"

	openaisdk "github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"
)

// Telephony audio is 8kHz PCM16; the transcription endpoint and TTS pcm
// output both run at 24kHz.
const (
	inputUpsampleFactor    = 3
	outputDownsampleFactor = 3
)

const transcriptionModel = "gpt-4o-transcribe"

// Provider composes OpenAI's streaming transcription, chat completions and
// speech synthesis into one agent stream per session. Implements
// callsession.AgentProvider.
type Provider struct {
	client    *Client
	sdk       openaisdk.Client
	chatModel openaisdk.ChatModel
	logger    *observability.Logger
}

func NewProvider(apiKey string, logger *observability.Logger) (*Provider, error) {
	client, err := NewClient(apiKey, logger)
	if err != nil {
		return nil, err
	}
	return &Provider{
		client:    client,
		sdk:       openaisdk.NewClient(openaiOption.WithAPIKey(apiKey)),
		chatModel: openaisdk.ChatModelGPT4o,
		logger:    logger,
	}, nil
}

// Start opens a transcription session and returns the composed agent stream.
func (p *Provider) Start(ctx context.Context, cfg callsession.AgentConfig) (callsession.AgentStream, error) {
	session, err := p.client.StartTranscription(ctx, RealtimeTranscriptionConfig{
		Model:    transcriptionModel,
		Language: "en",
		VAD:      cfg.TurnMode == callsession.TurnModeServerVAD,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start transcription session: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &agentStream{
		provider: p,
		cfg:      cfg,
		session:  session,
		events:   make(chan callsession.AgentEvent, 100),
		ctx:      streamCtx,
		cancel:   cancel,
	}
	go stream.run()
	return stream, nil
}

// agentStream drives the transcribe/respond/synthesize cycle for one session.
// The run loop owns the events channel and closes it on exit.
type agentStream struct {
	provider *Provider
	cfg      callsession.AgentConfig
	session  *TranscriptionSession
	events   chan callsession.AgentEvent
	ctx      context.Context
	cancel   context.CancelFunc

	history []openaisdk.ChatCompletionMessageParamUnion

	closeOnce sync.Once
}

func (s *agentStream) Send(ctx context.Context, data []byte) error {
	samples := audio.BytesToSamples(data)
	pcm24k := audio.SamplesToBytes(audio.Upsample(samples, inputUpsampleFactor))
	return s.session.SendAudio(pcm24k)
}

func (s *agentStream) Events() <-chan callsession.AgentEvent { return s.events }

func (s *agentStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.session.Close()
	})
	return nil
}

func (s *agentStream) run() {
	defer close(s.events)

	if s.cfg.Greeting != "" {
		s.speak(s.cfg.Greeting)
		s.history = append(s.history, openaisdk.AssistantMessage(s.cfg.Greeting))
	}

	for result := range s.session.Results() {
		if result.Type != "completed" || result.Transcript == "" {
			continue
		}
		if !s.emit(callsession.AgentEvent{UserTranscript: result.Transcript}) {
			return
		}
		s.respond(result.Transcript)
		if s.ctx.Err() != nil {
			return
		}
	}
}

// respond runs one turn: chat completion over the running history, then
// synthesis of the reply.
func (s *agentStream) respond(userText string) {
	s.history = append(s.history, openaisdk.UserMessage(userText))

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(s.history)+1)
	messages = append(messages, openaisdk.SystemMessage(s.cfg.SystemPrompt))
	messages = append(messages, s.history...)

	resp, err := s.provider.sdk.Chat.Completions.New(s.ctx, openaisdk.ChatCompletionNewParams{
		Model:    s.provider.chatModel,
		Messages: messages,
	})
	if err != nil {
		s.provider.logger.Error(s.ctx, "Chat completion failed", err)
		s.emit(callsession.AgentEvent{Err: fmt.Errorf("openai chat completion failed: %w", err)})
		return
	}
	if len(resp.Choices) == 0 {
		s.emit(callsession.AgentEvent{Err: fmt.Errorf("openai chat completion returned no choices")})
		return
	}

	reply := resp.Choices[0].Message.Content
	s.history = append(s.history, openaisdk.AssistantMessage(reply))
	if !s.emit(callsession.AgentEvent{AgentTranscript: reply}) {
		return
	}
	s.speak(reply)
}

// speak synthesizes text and emits it as 8kHz PCM16.
func (s *agentStream) speak(text string) {
	voice := s.cfg.Voice
	if voice == "" {
		voice = "alloy"
	}

	pcm24k, err := s.provider.client.SynthesizeSpeech(s.ctx, text, voice)
	if err != nil {
		s.provider.logger.Error(s.ctx, "Speech synthesis failed", err)
		s.emit(callsession.AgentEvent{Err: fmt.Errorf("openai speech synthesis failed: %w", err)})
		return
	}

	samples := audio.BytesToSamples(pcm24k)
	pcm8k := audio.SamplesToBytes(audio.Downsample(samples, outputDownsampleFactor))
	s.emit(callsession.AgentEvent{Audio: pcm8k})
}

func (s *agentStream) emit(ev callsession.AgentEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}
