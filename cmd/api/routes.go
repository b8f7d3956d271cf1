package main

import (
	"github.com/quckchat/call-service/internal/auth"
	"github.com/quckchat/call-service/internal/httpapi"
	"github.com/quckchat/call-service/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// Identity extraction via context, handy for client debugging.
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "workspace_id": wid, "role": role, "device_id": auth.DeviceID(c.Request.Context())})
		})

		// CALLS routes. Guests can answer and participate but may not start
		// huddles; that check lives in the initiate handler since it depends
		// on the request body.
		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireWorkspace())
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleMember, rbac.RoleGuest))
		{
			callsGroup.POST("", h.InitiateCall)
			callsGroup.GET("/:session_id", h.GetSession)
			callsGroup.POST("/:session_id/accept", h.AcceptCall)
			callsGroup.POST("/:session_id/reject", h.RejectCall)
			callsGroup.POST("/:session_id/cancel", h.CancelCall)
			callsGroup.POST("/:session_id/hangup", h.HangupCall)
			callsGroup.POST("/:session_id/reconnect", h.ReconnectCall)
			callsGroup.POST("/:session_id/mute", h.ToggleMute)
			callsGroup.POST("/:session_id/participants", h.AddParticipant)
		}

		// HISTORY routes: the rendered call timeline of a conversation.
		conversations := v1.Group("/conversations")
		conversations.Use(rbac.RequireWorkspace())
		conversations.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleMember, rbac.RoleGuest))
		{
			conversations.GET("/:conversation_id/calls", h.GetConversationCalls)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireWorkspace())
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
			admin.POST("/calls/:session_id/end", h.ForceEndCall)
		}
	}
}
