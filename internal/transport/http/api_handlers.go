package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/core"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

// APIHandlers serves the REST endpoints that complement the WebSocket stream.
type APIHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub: hub,
		log: logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// OnlineResponse lists the caller's online contacts.
type OnlineResponse struct {
	Users []proto.OnlineUser `json:"users"`
}

// HistoryResponse is a page of messages, newest first.
type HistoryResponse struct {
	Messages []proto.MessageReceived `json:"messages"`
}

// Online returns the caller's contacts that are currently connected.
// GET /api/online
func (h *APIHandlers) Online(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	online := h.hub.OnlineContacts(c.Request.Context(), uid)
	c.JSON(http.StatusOK, OnlineResponse{Users: onlineUsers(online)})
}

// History returns stored messages of a direct or group room so a client can
// catch up on what it missed while disconnected.
// GET /api/history?contactId=|conversationId=&limit=&before=
func (h *APIHandlers) History(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	var sel core.RoomSelector
	if raw := c.Query("contactId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid contactId", Code: core.ErrCodeBadRequest})
			return
		}
		sel.ContactID = id
	}
	sel.ConversationID = c.Query("conversationId")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: core.ErrCodeBadRequest})
			return
		}
		limit = n
	}

	var before *int64
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before", Code: core.ErrCodeBadRequest})
			return
		}
		before = &id
	}

	messages, err := h.hub.History(c.Request.Context(), uid, sel, limit, before)
	if err != nil {
		code := core.ErrorCode(err)
		status := http.StatusInternalServerError
		switch code {
		case core.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case core.ErrCodeUnauthorized:
			status = http.StatusForbidden
		case core.ErrCodeNotFound:
			status = http.StatusNotFound
		case core.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Int64("user_id", uid).Msg("history fetch failed")
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	out := make([]proto.MessageReceived, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageFromCore(m))
	}
	c.JSON(http.StatusOK, HistoryResponse{Messages: out})
}

func (h *APIHandlers) userID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		h.log.Error().Msg("user_id not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return 0, false
	}
	uid, ok := userID.(int64)
	if !ok {
		h.log.Error().Msg("invalid user_id type in context")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return 0, false
	}
	return uid, true
}
