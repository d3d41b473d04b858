package handler

import (
	"context"
	"time"

	"callbridge-server/internal/telephony"

	"github.com/gin-gonic/gin"
)

// startEventTimeout bounds how long a fresh media socket may sit silent
// before its start event is considered lost.
const startEventTimeout = 10 * time.Second

// HandleMediaStream upgrades the provider's media connection and binds it to
// the call's agent session. The socket outlives this handler; the session
// manager owns it from attach until session end.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "media stream WebSocket upgrade failed", err)
		return
	}
	h.logger.Info(ctx, "media stream connection established")

	media := telephony.NewMediaSocket(conn, h.logger)
	go media.Run(context.Background())

	startCtx, cancel := context.WithTimeout(context.Background(), startEventTimeout)
	callSID, err := media.WaitStart(startCtx)
	cancel()
	if err != nil {
		h.logger.Error(ctx, "media stream closed before start event", err)
		media.Close()
		return
	}

	if err := h.voiceProcessor.AttachMediaStream(context.Background(), callSID, media); err != nil {
		h.logger.Error(ctx, "failed to attach media stream to session", err)
		media.Close()
		return
	}
}
