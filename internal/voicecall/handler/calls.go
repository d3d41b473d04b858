package handler

import (
	"net/http"
	"time"

	"callbridge-server/internal/apierrors"
	"callbridge-server/internal/observability"
	"callbridge-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type placeCallRequest struct {
	ToNumber      string `json:"to_number" binding:"required"`
	AgentConfigID string `json:"agent_config_id" binding:"required"`
}

type callResponse struct {
	SID            string     `json:"sid"`
	Direction      string     `json:"direction"`
	FromNumber     string     `json:"from_number"`
	ToNumber       string     `json:"to_number"`
	AgentConfigID  string     `json:"agent_config_id,omitempty"`
	Status         string     `json:"status"`
	ProviderStatus string     `json:"provider_status,omitempty"`
	DurationSecs   *int64     `json:"duration_secs,omitempty"`
	CostUSD        *float64   `json:"cost_usd,omitempty"`
	RecordingURL   string     `json:"recording_url,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toCallResponse(call *store.Call) callResponse {
	resp := callResponse{
		SID:            call.ProviderSID,
		Direction:      call.Direction,
		FromNumber:     call.FromNumber,
		ToNumber:       call.ToNumber,
		Status:         call.Status,
		ProviderStatus: call.ProviderStatus.String,
		RecordingURL:   call.RecordingURL.String,
		Transcript:     call.Transcript.String,
		CreatedAt:      call.CreatedAt,
	}
	if call.AgentConfigID.Valid {
		resp.AgentConfigID = call.AgentConfigID.UUID.String()
	}
	if call.DurationSecs.Valid {
		resp.DurationSecs = &call.DurationSecs.Int64
	}
	if call.CostUSD.Valid {
		resp.CostUSD = &call.CostUSD.Float64
	}
	if call.AnsweredAt.Valid {
		resp.AnsweredAt = &call.AnsweredAt.Time
	}
	if call.CompletedAt.Valid {
		resp.CompletedAt = &call.CompletedAt.Time
	}
	return resp
}

// HandlePlaceCall originates an outbound call.
func (h *Handler) HandlePlaceCall(c *gin.Context) {
	ctx := c.Request.Context()

	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest(apierrors.CodeInvalidInput, "to_number and agent_config_id are required"))
		return
	}
	agentConfigID, err := uuid.Parse(req.AgentConfigID)
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest(apierrors.CodeInvalidInput, "agent_config_id must be a UUID"))
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "to_number", Value: req.ToNumber})
	call, err := h.voiceProcessor.PlaceCall(ctx, req.ToNumber, agentConfigID)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCallResponse(call))
}

// HandleGetCall returns the persisted record for one call.
func (h *Handler) HandleGetCall(c *gin.Context) {
	call, err := h.voiceProcessor.GetCall(c.Request.Context(), c.Param("sid"))
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCallResponse(call))
}

// HandleListSessions returns the call SIDs with a live agent session.
func (h *Handler) HandleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"call_sids": h.voiceProcessor.ActiveSessions()})
}

// HandleGetSession returns the live session snapshot for a call.
func (h *Handler) HandleGetSession(c *gin.Context) {
	info, err := h.voiceProcessor.GetSession(c.Param("sid"))
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call_sid":    info.CallSID,
		"provider":    info.Provider,
		"turn_mode":   info.TurnMode,
		"started_at":  info.StartedAt,
		"media_live":  info.MediaLive,
		"muted":       info.Muted,
		"ai_speaking": info.AISpeaking,
	})
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

// HandleMuteCall toggles recognition forwarding for a live session.
func (h *Handler) HandleMuteCall(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest(apierrors.CodeInvalidInput, "muted is required"))
		return
	}
	if err := h.voiceProcessor.SetMuted(c.Param("sid"), *req.Muted); err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}
