// Package chat exposes rooms and message history over HTTP.
package chat

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/service/chat"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/response"
)

// Handler handles chat HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{chatService: chatService}
}

// RegisterRoutes mounts the chat endpoints on the authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rooms := rg.Group("/rooms")
	{
		rooms.POST("", h.CreateRoom)
		rooms.GET("/:id", h.GetRoom)
		rooms.POST("/:id/messages", h.SendMessage)
		rooms.GET("/:id/messages", h.GetHistory)
		rooms.PUT("/:id/messages/:messageId", h.EditMessage)
		rooms.POST("/:id/messages/:messageId/reactions", h.AddReaction)
		rooms.DELETE("/:id/messages/:messageId/reactions", h.RemoveReaction)
	}
}

// CreateRoomRequest represents a room creation request
type CreateRoomRequest struct {
	ParticipantIDs []string            `json:"participant_ids" binding:"required,min=1"`
	Kind           string              `json:"kind" binding:"required,oneof=direct group"`
	Settings       domain.RoomSettings `json:"settings"`
}

// SendMessageRequest represents a message send request
type SendMessageRequest struct {
	Content     string `json:"content" binding:"required"`
	MessageType string `json:"message_type" binding:"required,oneof=text voice file"`
}

// EditMessageRequest represents a message edit request
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ReactionRequest represents an add/remove reaction request
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// CreateRoom handles POST /v1/rooms
func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	participants := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	for _, raw := range req.ParticipantIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+raw)
			return
		}
		participants = append(participants, id)
	}

	room, err := h.chatService.CreateRoom(c.Request.Context(), chat.CreateRoomInput{
		CreatorID:      userID,
		ParticipantIDs: participants,
		Kind:           domain.RoomKind(req.Kind),
		Settings:       req.Settings,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, room)
}

// GetRoom handles GET /v1/rooms/:id
func (h *Handler) GetRoom(c *gin.Context) {
	roomID, userID, ok := roomAndUser(c)
	if !ok {
		return
	}

	room, err := h.chatService.Room(roomID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, room)
}

// SendMessage handles POST /v1/rooms/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	roomID, userID, ok := roomAndUser(c)
	if !ok {
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), roomID, userID,
		req.Content, domain.MessageType(req.MessageType))
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// GetHistory handles GET /v1/rooms/:id/messages?limit=20&before_seq=0
func (h *Handler) GetHistory(c *gin.Context) {
	roomID, userID, ok := roomAndUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	beforeSeq, err := strconv.ParseUint(c.DefaultQuery("before_seq", "0"), 10, 64)
	if err != nil {
		response.ValidationError(c, "Invalid before_seq")
		return
	}

	messages, err := h.chatService.GetHistory(roomID, userID, limit, beforeSeq)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"messages": messages})
}

// EditMessage handles PUT /v1/rooms/:id/messages/:messageId
func (h *Handler) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	roomID, userID, ok := roomAndUser(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	msg, err := h.chatService.EditMessage(c.Request.Context(), roomID, messageID, userID, req.Content)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// AddReaction handles POST /v1/rooms/:id/messages/:messageId/reactions
func (h *Handler) AddReaction(c *gin.Context) {
	h.mutateReaction(c, h.chatService.AddReaction)
}

// RemoveReaction handles DELETE /v1/rooms/:id/messages/:messageId/reactions
func (h *Handler) RemoveReaction(c *gin.Context) {
	h.mutateReaction(c, h.chatService.RemoveReaction)
}

func (h *Handler) mutateReaction(c *gin.Context, apply func(ctx context.Context, roomID, messageID, userID uuid.UUID, emoji string) error) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	roomID, userID, ok := roomAndUser(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	if err := apply(c.Request.Context(), roomID, messageID, userID, req.Emoji); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func roomAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return uuid.Nil, uuid.Nil, false
	}
	return roomID, userID, true
}
