// Package handler exposes the voice call HTTP surface: the provider webhook,
// the media stream WebSocket, and the call management REST endpoints.
package handler

import (
	"net/http"

	"callbridge-server/internal/observability"
	"callbridge-server/internal/voicecall/processor"

	"github.com/gorilla/websocket"
)

type Handler struct {
	voiceProcessor *processor.VoiceCallProcessor
	logger         *observability.Logger
}

func New(voiceProcessor *processor.VoiceCallProcessor, logger *observability.Logger) Handler {
	return Handler{
		voiceProcessor: voiceProcessor,
		logger:         logger,
	}
}

// upgrader is a shared WebSocket upgrader. The media stream endpoint is hit
// by the telephony provider, not browsers, so origin checks don't apply.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
