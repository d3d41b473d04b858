package handler

import (
	"net/http"

	"callbridge-server/internal/apierrors"

	"github.com/gin-gonic/gin"
)

type startChainRequest struct {
	ChainID string `json:"chain_id" binding:"required"`
}

// HandleStartChain begins a chain execution for a connected call.
func (h *Handler) HandleStartChain(c *gin.Context) {
	var req startChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest(apierrors.CodeInvalidInput, "chain_id is required"))
		return
	}

	exec, err := h.voiceProcessor.StartChain(c.Request.Context(), req.ChainID, c.Param("sid"))
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exec)
}

// HandleAdvanceChain moves a chain execution to its next step.
func (h *Handler) HandleAdvanceChain(c *gin.Context) {
	exec, err := h.voiceProcessor.AdvanceChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// HandleGetChainExecution returns a chain execution snapshot.
func (h *Handler) HandleGetChainExecution(c *gin.Context) {
	exec, err := h.voiceProcessor.GetChainExecution(c.Param("id"))
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}
