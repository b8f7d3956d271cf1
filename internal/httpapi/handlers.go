package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/quckchat/call-service/internal/auth"
	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/internal/history"
	"github.com/quckchat/call-service/internal/rbac"
	"github.com/quckchat/call-service/internal/reconnect"
	"github.com/quckchat/call-service/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Sessions *session.Pool
	History  *history.Service

	// Reconnect drives transport resumption when a client reports that its
	// media path dropped. Probe builds the per-session transport prober.
	Reconnect *reconnect.Supervisor
	Probe     func(*session.Session) reconnect.Prober
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
	DeviceID    string `json:"device_id"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role, req.DeviceID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateRequest struct {
	ConversationID string   `json:"conversation_id"`
	TargetIDs      []string `json:"target_ids"`
	Kind           string   `json:"kind"`
	Mode           string   `json:"mode,omitempty"`
}

// InitiateCall starts an outbound call or huddle for the authenticated user.
func (h Handlers) InitiateCall(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	mode := session.Mode(req.Mode)
	if mode == "" {
		mode = session.ModeRegular
	}
	if mode == session.ModeHuddle {
		role, _ := auth.Role(c.Request.Context())
		if !rbac.CanInitiateHuddle(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role may not start huddles"})
			return
		}
	}

	coord := h.Sessions.For(userID)
	if coord == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	sess, err := coord.Initiate(c.Request.Context(), session.InitiateRequest{
		WorkspaceID:    workspaceID,
		ConversationID: req.ConversationID,
		TargetIDs:      req.TargetIDs,
		Kind:           calls.CallType(req.Kind),
		Mode:           mode,
	})
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

// GetSession returns the live snapshot of one session.
func (h Handlers) GetSession(c *gin.Context) {
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h Handlers) AcceptCall(c *gin.Context) {
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	if err := sess.Accept(); err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h Handlers) RejectCall(c *gin.Context) {
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	if err := sess.Reject(); err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h Handlers) CancelCall(c *gin.Context) {
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	if err := sess.Cancel(); err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h Handlers) HangupCall(c *gin.Context) {
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	if err := sess.Hangup(); err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// ForceEndCall tears down any session in the workspace.
// RBAC: admin or owner (enforced in the route chain); this handler searches
// across all coordinators because the caller does not own the session.
func (h Handlers) ForceEndCall(c *gin.Context) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	role, _ := auth.Role(c.Request.Context())
	if !rbac.CanForceEnd(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	workspaceID, _ := auth.WorkspaceID(c.Request.Context())

	sess, ok := h.Sessions.Find(c.Param("session_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if sess.WorkspaceID() != workspaceID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := sess.Hangup(); err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// ReconnectCall starts recovery for an active session whose client reported
// transport loss. Recovery runs in the background with bounded backoff; the
// client polls the session state for the outcome.
func (h Handlers) ReconnectCall(c *gin.Context) {
	if h.Reconnect == nil || h.Probe == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconnect not configured"})
		return
	}
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	if sess.State() != session.StateActive {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session is not active"})
		return
	}
	go func() { _ = h.Reconnect.Recover(context.Background(), sess, h.Probe(sess)) }()
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

func (h Handlers) ToggleMute(c *gin.Context) {
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	muted, err := sess.ToggleLocalMute()
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

type addParticipantRequest struct {
	UserID string `json:"user_id"`
}

func (h Handlers) AddParticipant(c *gin.Context) {
	sess, ok := h.ownSession(c)
	if !ok {
		return
	}
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if err := sess.AddParticipant(req.UserID); err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": sess.Participants()})
}

// --- History ---

// GetConversationCalls returns the conversation's call timeline, classified
// from the viewer's perspective and with long runs collapsed.
func (h Handlers) GetConversationCalls(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	items, err := h.History.FetchTimeline(c.Request.Context(), workspaceID, conversationID, userID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "timeline fetch failed"})
		return
	}
	if items == nil {
		items = []history.TimelineItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// --- helpers ---

// ownSession resolves :session_id within the caller's own coordinator.
func (h Handlers) ownSession(c *gin.Context) (*session.Session, bool) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return nil, false
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return nil, false
	}
	coord := h.Sessions.For(userID)
	if coord == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return nil, false
	}
	sess, ok := coord.Get(c.Param("session_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return sess, true
}

func abortSessionErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conversation has an active call"})
	case errors.Is(err, session.ErrAlreadyParticipant):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already a participant"})
	case errors.Is(err, session.ErrHuddleFull):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "huddle is full"})
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, session.ErrNotHuddle),
		errors.Is(err, session.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call operation failed"})
	}
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
