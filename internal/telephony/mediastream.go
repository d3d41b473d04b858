// Package telephony adapts the telephony provider's surfaces: the per-call
// media WebSocket, outbound call origination, and TwiML responses.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"callbridge-server/internal/callsession"
	"callbridge-server/internal/observability"

	"github.com/gorilla/websocket"
)

// mediaEvent is one JSON-framed message on the media stream socket.
type mediaEvent struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	Start          struct {
		StreamSid string `json:"streamSid"`
		CallSid   string `json:"callSid"`
	} `json:"start,omitempty"`
	Media struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
	Stop struct {
		StreamSid string `json:"streamSid"`
		CallSid   string `json:"callSid"`
	} `json:"stop,omitempty"`
}

// MediaSocket wraps one provider media WebSocket as a callsession.MediaStream.
// The read loop owns the connection's read side; all writes go through a
// mutex because gorilla connections allow one concurrent writer.
type MediaSocket struct {
	conn   *websocket.Conn
	logger *observability.Logger

	audioIn chan callsession.MediaFrame
	marks   chan string

	mu        sync.Mutex
	streamSID string
	callSID   string

	writeMu   sync.Mutex
	started   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewMediaSocket(conn *websocket.Conn, logger *observability.Logger) *MediaSocket {
	return &MediaSocket{
		conn:    conn,
		logger:  logger,
		audioIn: make(chan callsession.MediaFrame, 4096),
		marks:   make(chan string, 16),
		started: make(chan struct{}),
	}
}

func (m *MediaSocket) AudioIn() <-chan callsession.MediaFrame { return m.audioIn }
func (m *MediaSocket) Marks() <-chan string                   { return m.marks }

// CallSID returns the call SID announced in the start event.
func (m *MediaSocket) CallSID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callSID
}

// WaitStart blocks until the provider's start event arrives and returns the
// call SID it announced.
func (m *MediaSocket) WaitStart(ctx context.Context) (string, error) {
	select {
	case <-m.started:
		return m.CallSID(), nil
	case <-ctx.Done():
		return "", fmt.Errorf("media stream never started: %w", ctx.Err())
	}
}

// Run reads the socket until it stops or errors. It must run in its own
// goroutine; the frame channel closes when it returns.
func (m *MediaSocket) Run(ctx context.Context) {
	defer close(m.audioIn)
	defer close(m.marks)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "media socket read stopped: context cancelled")
			return
		default:
		}

		_, msg, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Info(ctx, "media socket closed normally")
			} else {
				m.logger.Error(ctx, "media socket read error", err)
			}
			return
		}

		var event mediaEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			m.logger.Error(ctx, "failed to parse media stream event", err)
			continue
		}

		switch event.Event {
		case "connected":
			m.logger.Info(ctx, "media stream connected")

		case "start":
			m.mu.Lock()
			m.streamSID = event.Start.StreamSid
			m.callSID = event.Start.CallSid
			m.mu.Unlock()
			m.startOnce.Do(func() { close(m.started) })
			m.logger.Info(ctx, fmt.Sprintf("media stream started: %s (call %s)", event.Start.StreamSid, event.Start.CallSid))

		case "media":
			seq, _ := strconv.Atoi(event.SequenceNumber)
			frame := callsession.MediaFrame{
				Sequence: seq,
				Track:    event.Media.Track,
				Payload:  event.Media.Payload,
			}
			select {
			case m.audioIn <- frame:
			default:
				m.logger.Warn(ctx, "media frame buffer full, dropping frame")
			}

		case "mark":
			select {
			case m.marks <- event.Mark.Name:
			default:
				m.logger.Warn(ctx, "mark buffer full, dropping mark")
			}

		case "stop":
			m.logger.Info(ctx, fmt.Sprintf("media stream stopped: %s", event.Stop.StreamSid))
			return

		default:
			m.logger.Debug(ctx, fmt.Sprintf("unknown media stream event: %s", event.Event))
		}
	}
}

// WriteAudio sends one base64 PCM16 payload to the caller.
func (m *MediaSocket) WriteAudio(payload string) error {
	m.mu.Lock()
	streamSID := m.streamSID
	m.mu.Unlock()
	if streamSID == "" {
		return errors.New("media stream not started")
	}

	msg := map[string]interface{}{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": payload,
		},
	}
	return m.writeJSON(msg)
}

// SendClear tells the provider to discard any buffered outbound audio.
func (m *MediaSocket) SendClear() error {
	m.mu.Lock()
	streamSID := m.streamSID
	m.mu.Unlock()
	if streamSID == "" {
		return errors.New("media stream not started")
	}

	return m.writeJSON(map[string]interface{}{
		"event":     "clear",
		"streamSid": streamSID,
	})
}

func (m *MediaSocket) writeJSON(msg map[string]interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal media message: %w", err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write media message: %w", err)
	}
	return nil
}

// Close sends a close frame and releases the connection. Safe to call more
// than once and on an already-dead socket.
func (m *MediaSocket) Close() error {
	m.closeOnce.Do(func() {
		m.writeMu.Lock()
		m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		m.conn.Close()
	})
	return nil
}
