package handler

import (
	"net/http"

	"callbridge-server/internal/apierrors"

	"github.com/gin-gonic/gin"
)

// HandleListAgentConfigs returns the persisted agent configurations.
func (h *Handler) HandleListAgentConfigs(c *gin.Context) {
	configs, err := h.voiceProcessor.ListAgentConfigs(c.Request.Context())
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}

	type agentConfigResponse struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Provider string `json:"provider"`
		Voice    string `json:"voice,omitempty"`
		TurnMode string `json:"turn_mode"`
	}
	out := make([]agentConfigResponse, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, agentConfigResponse{
			ID:       cfg.ID.String(),
			Name:     cfg.Name,
			Provider: cfg.Provider,
			Voice:    cfg.Voice,
			TurnMode: cfg.TurnMode,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agent_configs": out})
}
