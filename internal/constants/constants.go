// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Event stream constants
const (
	// EventChannelBuffer is the buffer size for listener channels
	EventChannelBuffer = 100

	// RecentEventHistory is how many recognition events are kept for diagnostics
	RecentEventHistory = 50

	// MaxEventSize is the largest single server-sent event payload accepted (1MB)
	MaxEventSize = 1 << 20

	// MaxFrameSize is the largest single MJPEG frame accepted (8MB)
	MaxFrameSize = 8 << 20
)

// Face box constants
const (
	// ReferenceWidth is the frame width face boxes are reported in
	ReferenceWidth = 640

	// ReferenceHeight is the frame height face boxes are reported in
	ReferenceHeight = 480
)

// Capture constants
const (
	// DefaultCaptureSlots is the number of angle slots a registration requires
	DefaultCaptureSlots = 8

	// PreviewMaxSize is the maximum dimension of a captured frame thumbnail
	PreviewMaxSize = 160

	// BoostStepFraction is how much of one slot's worth the encouragement grows per tick
	BoostStepFraction = 0.04

	// BoostMaxFraction caps the encouragement at this share of one slot's worth
	BoostMaxFraction = 0.8
)

// Overlay constants
const (
	// AttendanceLookupLimit is how many recent logs are scanned to enrich a recognition card
	AttendanceLookupLimit = 200

	// UnknownName is the name the backend assigns to unrecognized faces
	UnknownName = "Unknown"
)
