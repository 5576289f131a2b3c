// Package call exposes the call lifecycle over HTTP.
package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/peer"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/service/call"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/pagination"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{callService: callService}
}

// RegisterRoutes mounts the call endpoints on the authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	{
		calls.POST("", h.InitiateCall)
		calls.GET("", h.History)
		calls.GET("/:id", h.GetCall)
		calls.POST("/:id/answer", h.AnswerCall)
		calls.POST("/:id/reject", h.RejectCall)
		calls.POST("/:id/end", h.EndCall)
		calls.POST("/:id/mute", h.ToggleMute)
		calls.POST("/:id/video", h.ToggleVideo)
		calls.POST("/:id/screen-share/start", h.StartScreenShare)
		calls.POST("/:id/screen-share/stop", h.StopScreenShare)
		calls.POST("/:id/candidates", h.AddCandidate)
		calls.POST("/:id/remote-answer", h.AcceptAnswer)
	}
}

// InitiateCallRequest represents a call initiation request
type InitiateCallRequest struct {
	RecipientID string               `json:"recipient_id" binding:"required,uuid"`
	CallType    string               `json:"call_type" binding:"required,oneof=voice video"`
	Settings    *domain.CallSettings `json:"settings,omitempty"`
	Metadata    *domain.CallMetadata `json:"metadata,omitempty"`
}

// AnswerCallRequest carries the offer the callee received via signaling
type AnswerCallRequest struct {
	Offer peer.SessionDescription `json:"offer" binding:"required"`
}

// RejectCallRequest represents a call rejection
type RejectCallRequest struct {
	Reason string `json:"reason"`
}

// CandidateRequest carries one trickled ICE candidate
type CandidateRequest struct {
	Candidate peer.IceCandidate `json:"candidate" binding:"required"`
}

// RemoteAnswerRequest carries the callee's SDP answer for the caller's leg
type RemoteAnswerRequest struct {
	Answer peer.SessionDescription `json:"answer" binding:"required"`
}

// InitiateCall handles POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		response.ValidationError(c, "Invalid recipient ID")
		return
	}

	input := call.InitiateCallInput{
		InitiatorID: userID,
		RecipientID: recipientID,
		Type:        domain.CallType(req.CallType),
		Settings:    req.Settings,
	}
	if req.Metadata != nil {
		input.Metadata = *req.Metadata
	}

	result, err := h.callService.InitiateCall(c.Request.Context(), input)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// History handles GET /v1/calls?page=&limit=
func (h *Handler) History(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.History(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"page":  params.Page,
		"limit": params.Limit,
	})
}

// GetCall handles GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	snapshot, err := h.callService.Snapshot(callID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	if !snapshot.HasParticipant(userID) {
		response.Unauthorized(c, "Not a call participant")
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}

// AnswerCall handles POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	var req AnswerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	result, err := h.callService.AnswerCall(c.Request.Context(), callID, userID, call.AnswerOptions{Offer: req.Offer})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// RejectCall handles POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	var req RejectCallRequest
	_ = c.ShouldBindJSON(&req)

	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.RejectCall(c.Request.Context(), callID, userID, req.Reason); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "rejected"})
}

// EndCall handles POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), callID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "ended"})
}

// ToggleMute handles POST /v1/calls/:id/mute
func (h *Handler) ToggleMute(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	enabled, err := h.callService.ToggleMute(callID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"muted": !enabled})
}

// ToggleVideo handles POST /v1/calls/:id/video
func (h *Handler) ToggleVideo(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	enabled, err := h.callService.ToggleVideo(callID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"video_enabled": enabled})
}

// StartScreenShare handles POST /v1/calls/:id/screen-share/start
func (h *Handler) StartScreenShare(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.StartScreenShare(c.Request.Context(), callID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"screen_sharing": true})
}

// StopScreenShare handles POST /v1/calls/:id/screen-share/stop
func (h *Handler) StopScreenShare(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.StopScreenShare(c.Request.Context(), callID, userID); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"screen_sharing": false})
}

// AddCandidate handles POST /v1/calls/:id/candidates
func (h *Handler) AddCandidate(c *gin.Context) {
	var req CandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.AddRemoteCandidate(callID, userID, req.Candidate); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "accepted"})
}

// AcceptAnswer handles POST /v1/calls/:id/remote-answer
func (h *Handler) AcceptAnswer(c *gin.Context) {
	var req RemoteAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	if err := h.callService.AcceptAnswer(callID, userID, req.Answer); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "accepted"})
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

func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}
	return callID, userID, true
}
