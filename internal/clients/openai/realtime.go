// Package openai connects agent sessions to OpenAI: streaming transcription
// over the realtime WebSocket, chat completions for the agent's replies, and
// speech synthesis for the outbound audio.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"callbridge-server/internal/observability"

	"github.com/gorilla/websocket"
)

const (
	openAIRealtimeURL = "wss://api.openai.com/v1/audio/transcriptions/stream"
	openAISpeechURL   = "https://api.openai.com/v1/audio/speech"
)

// RealtimeTranscriptionConfig holds configuration for a transcription session.
type RealtimeTranscriptionConfig struct {
	Model          string // e.g. "gpt-4o-transcribe", "whisper-1"
	Language       string // ISO-639-1 code, e.g. "en"
	Prompt         string
	NoiseReduction string // "near_field", "far_field", or ""
	VAD            bool   // Enable server VAD
}

// TranscriptionResult represents a partial or final transcription from OpenAI.
type TranscriptionResult struct {
	Type       string // "delta" or "completed"
	Delta      string // for delta events
	Transcript string // for completed events
	ItemID     string
}

// Client talks to the OpenAI audio endpoints.
type Client struct {
	apiKey string
	logger *observability.Logger
}

func NewClient(apiKey string, logger *observability.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return &Client{apiKey: apiKey, logger: logger}, nil
}

// TranscriptionSession is one live realtime transcription connection. Audio
// is pushed with SendAudio; results arrive on Results until the session ends.
type TranscriptionSession struct {
	conn    *websocket.Conn
	logger  *observability.Logger
	results chan TranscriptionResult

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// StartTranscription opens a websocket and creates a transcription session.
func (c *Client) StartTranscription(ctx context.Context, cfg RealtimeTranscriptionConfig) (*TranscriptionSession, error) {
	dialer := websocket.Dialer{}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	conn, _, err := dialer.DialContext(ctx, openAIRealtimeURL, headers)
	if err != nil {
		c.logger.Error(ctx, "Failed to connect to OpenAI realtime endpoint", err)
		return nil, fmt.Errorf("failed to connect to OpenAI realtime endpoint: %w", err)
	}

	sessionReq := map[string]interface{}{
		"object":             "realtime.transcription_session",
		"input_audio_format": "pcm16",
		"input_audio_transcription": []map[string]string{
			{
				"model":    cfg.Model,
				"prompt":   cfg.Prompt,
				"language": cfg.Language,
			},
		},
	}
	if cfg.NoiseReduction != "" {
		sessionReq["input_audio_noise_reduction"] = map[string]string{"type": cfg.NoiseReduction}
	}
	if cfg.VAD {
		sessionReq["turn_detection"] = map[string]interface{}{
			"type":                "server_vad",
			"threshold":           0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 500,
		}
	} else {
		sessionReq["turn_detection"] = nil
	}
	if err := conn.WriteJSON(sessionReq); err != nil {
		conn.Close()
		c.logger.Error(ctx, "Failed to send session creation message", err)
		return nil, fmt.Errorf("failed to create transcription session: %w", err)
	}

	s := &TranscriptionSession{
		conn:    conn,
		logger:  c.logger,
		results: make(chan TranscriptionResult, 64),
	}
	go s.readLoop()
	return s, nil
}

func (s *TranscriptionSession) readLoop() {
	defer close(s.results)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var event map[string]interface{}
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		typeStr, _ := event["type"].(string)
		itemID, _ := event["item_id"].(string)
		switch typeStr {
		case "conversation.item.input_audio_transcription.delta":
			delta, _ := event["delta"].(string)
			s.results <- TranscriptionResult{Type: "delta", Delta: delta, ItemID: itemID}
		case "conversation.item.input_audio_transcription.completed":
			transcript, _ := event["transcript"].(string)
			s.results <- TranscriptionResult{Type: "completed", Transcript: transcript, ItemID: itemID}
		}
	}
}

// SendAudio appends one PCM16 chunk to the session's input buffer.
func (s *TranscriptionSession) SendAudio(chunk []byte) error {
	appendEvent := map[string]interface{}{
		"type": "input_audio_buffer.append",
		"data": chunk,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(appendEvent); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

// Results delivers transcription events. Closed when the session ends.
func (s *TranscriptionSession) Results() <-chan TranscriptionResult {
	return s.results
}

func (s *TranscriptionSession) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

// SynthesizeSpeech uses OpenAI's TTS API to synthesize speech from text.
// The pcm response format is 24kHz little-endian PCM16.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string, voice string) ([]byte, error) {
	jsonBody := map[string]interface{}{
		"model":           "tts-1",
		"voice":           voice, // e.g., "alloy", "echo", "fable", "onyx", "nova", "shimmer"
		"input":           text,
		"response_format": "pcm",
	}
	bodyBytes, err := json.Marshal(jsonBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", openAISpeechURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI TTS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI TTS error: %s", string(respBody))
	}

	return io.ReadAll(resp.Body)
}
