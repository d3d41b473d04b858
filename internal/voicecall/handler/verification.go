package handler

import (
	"net/http"

	"callbridge-server/internal/apierrors"
	"callbridge-server/internal/verification"

	"github.com/gin-gonic/gin"
)

type verificationSessionResponse struct {
	ID          string                       `json:"id"`
	CallSID     string                       `json:"call_sid"`
	PhoneNumber string                       `json:"phone_number"`
	StartedAt   string                       `json:"started_at"`
	Terminal    bool                         `json:"terminal"`
	Events      []verification.ObservedEvent `json:"events"`
}

func toVerificationResponse(sess *verification.Session) verificationSessionResponse {
	return verificationSessionResponse{
		ID:          sess.ID,
		CallSID:     sess.CallSID,
		PhoneNumber: sess.PhoneNumber,
		StartedAt:   sess.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		Terminal:    sess.Terminal,
		Events:      sess.Events,
	}
}

// HandleListVerificationSessions returns every live verification session.
func (h *Handler) HandleListVerificationSessions(c *gin.Context) {
	sessions := h.voiceProcessor.VerificationSessions()
	out := make([]verificationSessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toVerificationResponse(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// HandleGetVerificationSession returns one verification session by ID.
func (h *Handler) HandleGetVerificationSession(c *gin.Context) {
	sess, ok := h.voiceProcessor.VerificationSession(c.Param("id"))
	if !ok {
		apierrors.RespondWithError(c, apierrors.NotFound(apierrors.CodeSessionNotFound, "Verification session not found"))
		return
	}
	c.JSON(http.StatusOK, toVerificationResponse(sess))
}
