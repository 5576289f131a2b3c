// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Call lifecycle constants
const (
	// DefaultRingTimeout is how long an initiated call waits for an answer
	// before it is rejected with reason "timeout"
	DefaultRingTimeout = 45 * time.Second

	// SignalingSendTimeout bounds a single signaling publish
	SignalingSendTimeout = 5 * time.Second

	// MediaAcquireTimeout bounds local device acquisition
	MediaAcquireTimeout = 10 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Recording constants
const (
	// RecordingFinalizeTimeout bounds the artifact upload on StopRecording
	RecordingFinalizeTimeout = 30 * time.Second
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)
