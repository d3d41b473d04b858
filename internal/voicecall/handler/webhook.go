package handler

import (
	"net/http"
	"strconv"

	"callbridge-server/internal/callstate"
	"callbridge-server/internal/observability"
	"callbridge-server/internal/telephony"

	"github.com/gin-gonic/gin"
)

// statusWebhookPayload covers both delivery shapes the provider uses:
// form-encoded fields on POST, query parameters on GET, or a JSON body.
type statusWebhookPayload struct {
	CallSid      string `form:"CallSid" json:"CallSid"`
	CallStatus   string `form:"CallStatus" json:"CallStatus"`
	To           string `form:"To" json:"To"`
	CallDuration string `form:"CallDuration" json:"CallDuration"`
	RecordingURL string `form:"RecordingUrl" json:"RecordingUrl"`
}

// HandleStatusWebhook ingests one provider status delivery. Answered calls
// get TwiML bridging them onto the media stream; every other status gets an
// empty acknowledgment. Duplicate and out-of-order deliveries are harmless.
func (h *Handler) HandleStatusWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	var payload statusWebhookPayload
	if c.Request.Method == http.MethodGet {
		if err := c.ShouldBindQuery(&payload); err != nil {
			h.logger.Warn(ctx, "failed to bind webhook query parameters")
		}
	} else if err := c.ShouldBind(&payload); err != nil {
		// Retry with JSON; some provider integrations post JSON bodies.
		if err := c.ShouldBindJSON(&payload); err != nil {
			h.logger.Warn(ctx, "failed to bind webhook payload")
		}
	}

	if payload.CallSid == "" {
		c.String(http.StatusBadRequest, "missing CallSid")
		return
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_sid", Value: payload.CallSid},
		observability.Field{Key: "provider_status", Value: payload.CallStatus},
	)

	duration, _ := strconv.Atoi(payload.CallDuration)
	status := h.voiceProcessor.HandleStatusEvent(ctx, callstate.Event{
		CallSID:        payload.CallSid,
		ProviderStatus: payload.CallStatus,
		ToNumber:       payload.To,
		DurationSecs:   duration,
		RecordingURL:   payload.RecordingURL,
	})

	if status == callstate.StatusInProgress {
		twiml, err := h.voiceProcessor.AnswerResponse(ctx, payload.CallSid)
		if err != nil {
			h.logger.Error(ctx, "failed to build answer response", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Header("Content-Type", "text/xml")
		c.String(http.StatusOK, twiml)
		return
	}

	ack, err := telephony.AcknowledgeResponse()
	if err != nil {
		h.logger.Error(ctx, "failed to build acknowledgment response", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, ack)
}
