package api

import (
	"errors"
	"net/http"
	"strings"

	"koi-service/internal/middleware"
	"koi-service/internal/service"
	"koi-service/internal/ws"
	appErr "koi-service/pkg/errors"
	"koi-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Events, services.Flow, services.Lifecycle, services.Reconnect)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/koi/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/guest", handler.GuestLogin)
		}

		matchGroup := v1.Group("/match")
		matchGroup.Use(middleware.AuthRequired())
		{
			matchGroup.POST("/join", handler.MatchJoin)
			matchGroup.POST("/cancel", handler.MatchCancel)
			matchGroup.GET("/status", handler.MatchStatus)
		}

		sessionGroup := v1.Group("/session")
		sessionGroup.Use(middleware.AuthRequired())
		{
			sessionGroup.GET("/:id", handler.SessionSnapshot)
			sessionGroup.POST("/:id/play", handler.PlayHandCard)
			sessionGroup.POST("/:id/select", handler.SelectTarget)
			sessionGroup.POST("/:id/decision", handler.MakeDecision)
			sessionGroup.POST("/:id/confirm", handler.ConfirmContinue)
			sessionGroup.POST("/:id/leave", handler.LeaveSession)
		}
	}

	r.GET("/ws/session/:sessionId", wsHandler.HandleSessionWS)
}

type guestLoginBody struct {
	Nickname string `json:"nickname"`
}

type matchJoinBody struct {
	RoomType string `json:"roomType" binding:"required"`
	VsAI     bool   `json:"vsAi"`
}

type cardBody struct {
	Month int `json:"month" binding:"required,min=1,max=12"`
	Index int `json:"index" binding:"min=0,max=3"`
}

type decisionBody struct {
	Continue *bool `json:"continue" binding:"required"`
}

func (h *Handler) GuestLogin(c *gin.Context) {
	var body guestLoginBody
	// The nickname is optional; an empty or missing body is fine.
	_ = c.ShouldBindJSON(&body)

	guest, err := h.services.User.CreateGuest(c.Request.Context(), strings.TrimSpace(body.Nickname))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, guest)
}

func (h *Handler) MatchJoin(c *gin.Context) {
	var body matchJoinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	playerID, ok := getPlayerID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	nickname := h.nicknameOf(c, playerID)

	sess, err := h.services.Lifecycle.JoinMatch(c.Request.Context(), playerID, nickname, body.RoomType, body.VsAI)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.Success(c, gin.H{
		"sessionId": sess.ID,
		"status":    sess.Status,
	})
}

func (h *Handler) MatchCancel(c *gin.Context) {
	playerID, ok := getPlayerID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.services.Lifecycle.CancelMatch(c.Request.Context(), playerID); err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{"status": "cancelled"}, "")
}

func (h *Handler) MatchStatus(c *gin.Context) {
	playerID, ok := getPlayerID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	state, err := h.services.Lifecycle.MatchStatus(c.Request.Context(), playerID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.Success(c, state)
}

func (h *Handler) SessionSnapshot(c *gin.Context) {
	playerID, sessionID, ok := sessionScope(c)
	if !ok {
		return
	}

	snap, err := h.services.Reconnect.Snapshot(sessionID, playerID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.Success(c, snap)
}

func (h *Handler) PlayHandCard(c *gin.Context) {
	playerID, sessionID, ok := sessionScope(c)
	if !ok {
		return
	}
	var body cardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.services.Flow.PlayHandCard(c.Request.Context(), sessionID, playerID, body.Month, body.Index); err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

func (h *Handler) SelectTarget(c *gin.Context) {
	playerID, sessionID, ok := sessionScope(c)
	if !ok {
		return
	}
	var body cardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.services.Flow.SelectTarget(c.Request.Context(), sessionID, playerID, body.Month, body.Index); err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

func (h *Handler) MakeDecision(c *gin.Context) {
	playerID, sessionID, ok := sessionScope(c)
	if !ok {
		return
	}
	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.services.Flow.MakeDecision(c.Request.Context(), sessionID, playerID, *body.Continue); err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

func (h *Handler) ConfirmContinue(c *gin.Context) {
	playerID, sessionID, ok := sessionScope(c)
	if !ok {
		return
	}

	if err := h.services.Flow.ConfirmContinue(c.Request.Context(), sessionID, playerID); err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

func (h *Handler) LeaveSession(c *gin.Context) {
	playerID, sessionID, ok := sessionScope(c)
	if !ok {
		return
	}

	if err := h.services.Lifecycle.LeaveSession(c.Request.Context(), sessionID, playerID); err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

func (h *Handler) nicknameOf(c *gin.Context, playerID string) string {
	u, err := h.services.User.GetUser(c.Request.Context(), playerID)
	if err != nil {
		return "guest"
	}
	return u.Nickname
}

func (h *Handler) handleSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appErr.ErrSessionNotFound), errors.Is(err, appErr.ErrNotQueued):
		response.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, appErr.ErrPlayerNotInSession), errors.Is(err, appErr.ErrWrongPlayer):
		response.Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, appErr.ErrInvalidSelection), errors.Is(err, appErr.ErrConfirmationNotRequired):
		response.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, appErr.ErrInvalidState), errors.Is(err, appErr.ErrSessionFinished),
		errors.Is(err, appErr.ErrVersionConflict), errors.Is(err, appErr.ErrAlreadyQueued),
		errors.Is(err, appErr.ErrSessionNotWaiting):
		response.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, appErr.ErrQueueProcessing):
		response.Error(c, http.StatusTooManyRequests, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, err.Error())
	}
}

func sessionScope(c *gin.Context) (playerID, sessionID string, ok bool) {
	playerID, ok = getPlayerID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	sessionID = strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, "invalid session id")
		return "", "", false
	}
	return playerID, sessionID, true
}

func getPlayerID(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.ContextPlayerIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
