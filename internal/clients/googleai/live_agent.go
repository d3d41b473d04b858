package googleai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"callbridge-server/internal/callsession"
	"callbridge-server/internal/voice/audio"

	"google.golang.org/genai"
)

// The Live API consumes 16kHz PCM and produces 24kHz PCM; the telephony leg
// runs at 8kHz, so audio is resampled in both directions.
const (
	inputUpsampleFactor    = 2
	outputDownsampleFactor = 3
)

// Start opens a Live API session configured for the given agent and returns
// it as an agent stream. Implements callsession.AgentProvider.
func (g *GoogleAILiveClient) Start(ctx context.Context, cfg callsession.AgentConfig) (callsession.AgentStream, error) {
	voice := cfg.Voice
	if voice == "" {
		voice = "Aoede"
	}

	instruction := cfg.SystemPrompt
	if cfg.Greeting != "" {
		instruction = fmt.Sprintf("%s\n\nOpen the call by saying: %q", instruction, cfg.Greeting)
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.Modality("AUDIO")},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: instruction},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voice,
				},
			},
		},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{
				// The model's own VAD stays on only in server_vad mode; in
				// push_to_talk the bridge decides the turn boundaries.
				Disabled: cfg.TurnMode == callsession.TurnModePushToTalk,
			},
		},
	}

	streamCtx, cancel := context.WithCancel(ctx)
	session, err := g.client.Live.Connect(streamCtx, liveModelName, config)
	if err != nil {
		cancel()
		g.logger.Error(ctx, "Failed to connect to Google AI Live API", err)
		return nil, fmt.Errorf("failed to connect to Google AI Live API: %w", err)
	}
	g.logger.Info(ctx, "Connected to Google AI Live API for voice agent")

	stream := &liveStream{
		client:  g,
		session: session,
		events:  make(chan callsession.AgentEvent, 100),
		ctx:     streamCtx,
		cancel:  cancel,
	}
	go stream.receiveLoop()
	return stream, nil
}

// liveStream adapts one Live API session to the agent stream contract. The
// receive loop owns the events channel and closes it on exit.
type liveStream struct {
	client  *GoogleAILiveClient
	session *genai.Session
	events  chan callsession.AgentEvent
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

func (s *liveStream) Send(ctx context.Context, data []byte) error {
	samples := audio.BytesToSamples(data)
	pcm16k := audio.SamplesToBytes(audio.Upsample(samples, inputUpsampleFactor))

	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			Data:     pcm16k,
			MIMEType: "audio/pcm;rate=16000",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio to Google AI: %w", err)
	}
	return nil
}

func (s *liveStream) Events() <-chan callsession.AgentEvent { return s.events }

func (s *liveStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.session.Close()
	})
	return nil
}

func (s *liveStream) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.session.Receive()
		if err != nil {
			if s.ctx.Err() != nil {
				s.client.logger.Info(s.ctx, "Live API receive loop exiting: context cancelled")
				return
			}
			if strings.Contains(err.Error(), "closed") {
				s.client.logger.Info(s.ctx, "Google AI session closed, stopping receive loop")
				return
			}
			s.client.logger.Error(s.ctx, "Unexpected error receiving Live API message", err)
			s.emit(callsession.AgentEvent{Err: err})
			return
		}

		if msg.ServerContent == nil {
			continue
		}
		content := msg.ServerContent

		if content.Interrupted {
			if !s.emit(callsession.AgentEvent{Interrupted: true}) {
				return
			}
		}

		if content.InputTranscription != nil && content.InputTranscription.Text != "" {
			if !s.emit(callsession.AgentEvent{UserTranscript: content.InputTranscription.Text}) {
				return
			}
		}

		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				// 24kHz model audio down to the 8kHz telephony rate.
				samples := audio.BytesToSamples(part.InlineData.Data)
				pcm8k := audio.SamplesToBytes(audio.Downsample(samples, outputDownsampleFactor))
				if !s.emit(callsession.AgentEvent{Audio: pcm8k}) {
					return
				}
			}
		}

		if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
			if !s.emit(callsession.AgentEvent{AgentTranscript: content.OutputTranscription.Text}) {
				return
			}
		}
	}
}

func (s *liveStream) emit(ev callsession.AgentEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}
