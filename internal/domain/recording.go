package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus is the lifecycle state of a recording
type RecordingStatus string

const (
	RecordingStatusRecording RecordingStatus = "recording"
	RecordingStatusCompleted RecordingStatus = "completed"
)

// Recording represents a capture of an active call's media.
// At most one recording may be active per call at any time.
type Recording struct {
	RecordingID uuid.UUID       `json:"recording_id"`
	CallID      uuid.UUID       `json:"call_id"`
	StarterID   uuid.UUID       `json:"starter_id"`
	Status      RecordingStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Duration    int             `json:"duration,omitempty"` // in seconds
	Format      string          `json:"format"` // webm
	Quality     QualityTier     `json:"quality"`
	StoragePath string          `json:"storage_path,omitempty"`
}
