// Package recording exposes the recording lifecycle over HTTP.
package recording

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/service/recording"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/response"
)

// Handler handles recording HTTP requests
type Handler struct {
	recordingService *recording.Service
}

// NewHandler creates a new recording handler
func NewHandler(recordingService *recording.Service) *Handler {
	return &Handler{recordingService: recordingService}
}

// RegisterRoutes mounts the recording endpoints on the authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/calls/:id/recording/start", h.StartRecording)
	rg.POST("/calls/:id/recording/stop", h.StopRecording)
	rg.GET("/calls/:id/recording", h.GetActive)
}

// StartRecording handles POST /v1/calls/:id/recording/start
func (h *Handler) StartRecording(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	rec, err := h.recordingService.StartRecording(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, rec)
}

// StopRecording handles POST /v1/calls/:id/recording/stop
func (h *Handler) StopRecording(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	rec, err := h.recordingService.StopRecording(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, rec)
}

// GetActive handles GET /v1/calls/:id/recording
func (h *Handler) GetActive(c *gin.Context) {
	callID, _, ok := callAndUser(c)
	if !ok {
		return
	}

	rec, active := h.recordingService.Active(callID)
	if !active {
		response.NotFound(c, "No active recording for call")
		return
	}

	response.Success(c, http.StatusOK, rec)
}

func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, uuid.Nil, false
	}
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}
	return callID, userID, true
}
