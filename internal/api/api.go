package api

import (
	"net/http"

	voiceCallHandler "callbridge-server/internal/voicecall/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router           *gin.RouterGroup
	voiceCallHandler voiceCallHandler.Handler
}

func New(router *gin.RouterGroup, voiceCallHandler voiceCallHandler.Handler) API {
	return API{
		router:           router,
		voiceCallHandler: voiceCallHandler,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	apiGroup := a.router.Group("/api")
	{
		callsGroup := apiGroup.Group("/calls")
		callsGroup.POST("", a.voiceCallHandler.HandlePlaceCall)
		callsGroup.GET("/media-stream", a.voiceCallHandler.HandleMediaStream)
		callsGroup.GET("/sessions", a.voiceCallHandler.HandleListSessions)
		callsGroup.GET("/:sid", a.voiceCallHandler.HandleGetCall)
		callsGroup.GET("/:sid/session", a.voiceCallHandler.HandleGetSession)
		callsGroup.POST("/:sid/mute", a.voiceCallHandler.HandleMuteCall)
		callsGroup.POST("/:sid/chain", a.voiceCallHandler.HandleStartChain)

		chainsGroup := apiGroup.Group("/chains")
		chainsGroup.GET("/executions/:id", a.voiceCallHandler.HandleGetChainExecution)
		chainsGroup.POST("/executions/:id/advance", a.voiceCallHandler.HandleAdvanceChain)

		verificationGroup := apiGroup.Group("/verification")
		verificationGroup.GET("/sessions", a.voiceCallHandler.HandleListVerificationSessions)
		verificationGroup.GET("/sessions/:id", a.voiceCallHandler.HandleGetVerificationSession)

		apiGroup.GET("/agents", a.voiceCallHandler.HandleListAgentConfigs)

		// The provider delivers status callbacks as POST form data but may
		// retry over GET.
		apiGroup.POST("/webhooks/call-status", a.voiceCallHandler.HandleStatusWebhook)
		apiGroup.GET("/webhooks/call-status", a.voiceCallHandler.HandleStatusWebhook)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
